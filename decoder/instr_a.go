/*
 * rvemu - A extension: load-reserved/store-conditional and AMO ops.
 *
 * Each Memory is driven by one hart only: multiprocess workers run
 * concurrently on their own goroutines, but each against its own
 * copy-on-write forked Memory. That makes LR/SC trivially
 * always-succeed and AMOs trivially atomic, since no other hart can
 * interleave between the read and the write within one handler call.
 */

package decoder

import (
	"fmt"

	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
)

func decodeAmo(w uint32) Instruction {
	f3 := funct3(w)
	funct5 := (w >> 27) & 0x1f
	width := 4
	if f3 == 0x3 {
		width = 8
	} else if f3 != 0x2 {
		return Instruction{}
	}

	switch funct5 {
	case 0x02:
		return amoLR(width)
	case 0x03:
		return amoSC(width)
	case 0x01:
		return amoOp(width, "amoswap.w", "amoswap.d", func(a, b uint64) uint64 { return b })
	case 0x00:
		return amoOp(width, "amoadd.w", "amoadd.d", func(a, b uint64) uint64 { return a + b })
	case 0x04:
		return amoOp(width, "amoxor.w", "amoxor.d", func(a, b uint64) uint64 { return a ^ b })
	case 0x0c:
		return amoOp(width, "amoand.w", "amoand.d", func(a, b uint64) uint64 { return a & b })
	case 0x08:
		return amoOp(width, "amoor.w", "amoor.d", func(a, b uint64) uint64 { return a | b })
	case 0x10:
		return amoOp(width, "amomin.w", "amomin.d", func(a, b uint64) uint64 {
			if int64(a) < int64(b) {
				return a
			}
			return b
		})
	case 0x14:
		return amoOp(width, "amomax.w", "amomax.d", func(a, b uint64) uint64 {
			if int64(a) > int64(b) {
				return a
			}
			return b
		})
	case 0x18:
		return amoOp(width, "amominu.w", "amominu.d", func(a, b uint64) uint64 {
			if a < b {
				return a
			}
			return b
		})
	case 0x1c:
		return amoOp(width, "amomaxu.w", "amomaxu.d", func(a, b uint64) uint64 {
			if a > b {
				return a
			}
			return b
		})
	}
	return Instruction{}
}

func amoLoad(ex Executor, addr uint64, width int) (uint64, *faults.Fault) {
	if width == 8 {
		v, err := memory.Read[uint64](ex.Mem(), addr)
		return v, err
	}
	v, err := memory.Read[uint32](ex.Mem(), addr)
	return uint64(int64(int32(v))), err
}

func amoStore(ex Executor, addr uint64, v uint64, width int) *faults.Fault {
	if width == 8 {
		return memory.Write[uint64](ex.Mem(), addr, v)
	}
	return memory.Write[uint32](ex.Mem(), addr, uint32(v))
}

func amoLR(width int) Instruction {
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			v, err := amoLoad(ex, ex.Regs().GPR(rs1(raw)), width)
			if err != nil {
				return false, err
			}
			ex.Regs().SetGPR(rd(raw), v)
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("lr.%s x%d, (x%d)", amoSuffix(width), rd(raw), rs1(raw))
		},
	}
}

// amoSC always succeeds: no other hart can have invalidated the
// reservation between two instructions this interpreter executes.
func amoSC(width int) Instruction {
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			addr := ex.Regs().GPR(rs1(raw))
			if err := amoStore(ex, addr, ex.Regs().GPR(rs2(raw)), width); err != nil {
				return false, err
			}
			ex.Regs().SetGPR(rd(raw), 0)
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("sc.%s x%d, x%d, (x%d)", amoSuffix(width), rd(raw), rs2(raw), rs1(raw))
		},
	}
}

func amoOp(width int, name32, name64 string, op func(a, b uint64) uint64) Instruction {
	name := name32
	if width == 8 {
		name = name64
	}
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			addr := ex.Regs().GPR(rs1(raw))
			old, err := amoLoad(ex, addr, width)
			if err != nil {
				return false, err
			}
			if err := amoStore(ex, addr, op(old, ex.Regs().GPR(rs2(raw))), width); err != nil {
				return false, err
			}
			ex.Regs().SetGPR(rd(raw), old)
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s x%d, x%d, (x%d)", name, rd(raw), rs2(raw), rs1(raw))
		},
	}
}

func amoSuffix(width int) string {
	if width == 8 {
		return "d"
	}
	return "w"
}
