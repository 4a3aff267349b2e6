/*
 * rvemu - Initial guest stack layout: argc/argv/envp/auxv.
 */

package machine

import (
	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/xlen"
)

// auxNull is the single AT_NULL terminator entry written to the
// auxiliary vector; a full auxv (AT_PAGESZ, AT_HWCAP, ...) is out of
// scope for the guest programs spec.md's testable scenarios target.
const auxNull = 0

// setupStack lays out argc, argv, envp, and a minimal auxv at the top
// of the guest stack following the RISC-V Linux calling convention,
// and returns the resulting stack pointer.
func setupStack(mem *memory.Memory, width xlen.Width, top uint64, args, envp []string) (uint64, *faults.Fault) {
	ptrSize := uint64(width.Bytes())
	cur := top

	writeStr := func(s string) (uint64, *faults.Fault) {
		n := uint64(len(s) + 1)
		cur -= n
		for i := 0; i < len(s); i++ {
			if err := mem.WriteByte(cur+uint64(i), s[i]); err != nil {
				return 0, err
			}
		}
		if err := mem.WriteByte(cur+uint64(len(s)), 0); err != nil {
			return 0, err
		}
		return cur, nil
	}

	argvAddrs := make([]uint64, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		addr, err := writeStr(args[i])
		if err != nil {
			return 0, err
		}
		argvAddrs[i] = addr
	}
	envpAddrs := make([]uint64, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		addr, err := writeStr(envp[i])
		if err != nil {
			return 0, err
		}
		envpAddrs[i] = addr
	}

	cur &^= 15 // 16-byte align the pointer region, per the psABI

	writePtr := func(addr, v uint64) *faults.Fault {
		if width == xlen.Width32 {
			return memory.Write[uint32](mem, addr, uint32(v))
		}
		return memory.Write[uint64](mem, addr, v)
	}

	total := ptrSize + // argc
		uint64(len(argvAddrs)+1)*ptrSize +
		uint64(len(envpAddrs)+1)*ptrSize +
		2*ptrSize // single AT_NULL auxv pair
	cur -= total
	cur &^= 15

	sp := cur
	if err := writePtr(cur, uint64(len(args))); err != nil {
		return 0, err
	}
	cur += ptrSize

	for _, a := range argvAddrs {
		if err := writePtr(cur, a); err != nil {
			return 0, err
		}
		cur += ptrSize
	}
	if err := writePtr(cur, 0); err != nil {
		return 0, err
	}
	cur += ptrSize

	for _, a := range envpAddrs {
		if err := writePtr(cur, a); err != nil {
			return 0, err
		}
		cur += ptrSize
	}
	if err := writePtr(cur, 0); err != nil {
		return 0, err
	}
	cur += ptrSize

	if err := writePtr(cur, auxNull); err != nil {
		return 0, err
	}
	cur += ptrSize
	if err := writePtr(cur, auxNull); err != nil {
		return 0, err
	}

	return sp, nil
}
