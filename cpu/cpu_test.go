package cpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvemu/rvemu/decoder"
	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/xlen"
)

func encodeAddi(rd, rs1 int, imm int32) uint32 {
	return (uint32(imm)<<20)&0xfff00000 | uint32(rs1)<<15 | uint32(rd)<<7 | 0x13
}

func newTestCPU(t *testing.T) *CPU {
	t.Helper()
	mem := memory.New()
	mem.SetPageAttr(0, memory.PageSize, memory.Attr{Read: true, Write: true, Exec: true, Cacheable: true})
	return New(mem, xlen.Width64)
}

// selfJump is "jal x0, 0": a branch instruction that always targets its
// own address, giving an infinite loop without needing a second word.
const selfJump = uint32(0x0000006f)

func TestSimulateRunsToInstructionLimit(t *testing.T) {
	c := newTestCPU(t)
	require.Nil(t, memory.Write[uint32](c.Mem(), 0, selfJump))
	c.Regs().SetPC(0)

	_, err := c.Simulate(5)
	require.NotNil(t, err)
	require.Equal(t, faults.MachineTimeout, err.Kind)
	require.Equal(t, uint64(5), c.Regs().Counter)
}

func TestStepAdvancesPCByInstructionLength(t *testing.T) {
	c := newTestCPU(t)
	require.Nil(t, memory.Write[uint32](c.Mem(), 0, encodeAddi(1, 0, 9)))
	c.Regs().SetPC(0)
	require.Nil(t, c.Step())
	require.Equal(t, uint64(9), c.Regs().GPR(1))
	require.Equal(t, uint64(4), c.Regs().PC())
}

func TestEcallTrapsToHandler(t *testing.T) {
	c := newTestCPU(t)
	ecall := uint32(0x73) // ecall: opcode SYSTEM, all other fields zero
	require.Nil(t, memory.Write[uint32](c.Mem(), 0, ecall))
	c.Regs().SetPC(0)

	handled := false
	c.ECallHandler = func(cc *CPU) *faults.Fault {
		handled = true
		cc.Regs().SetGPR(10, 42)
		return nil
	}
	require.Nil(t, c.Step())
	require.True(t, handled)
	require.Equal(t, uint64(42), c.Regs().GPR(10))
}

func TestUnhandledEcallRaisesUnknownSyscall(t *testing.T) {
	c := newTestCPU(t)
	require.Nil(t, memory.Write[uint32](c.Mem(), 0, uint32(0x73)))
	c.Regs().SetPC(0)
	err := c.Step()
	require.NotNil(t, err)
	require.Equal(t, faults.UnknownSyscall, err.Kind)
}

func TestDecodeCacheReusedAcrossIterations(t *testing.T) {
	c := newTestCPU(t)
	require.Nil(t, memory.Write[uint32](c.Mem(), 0, selfJump))
	c.Regs().SetPC(0)
	_, err := c.Simulate(3)
	require.NotNil(t, err)
	require.Len(t, c.decodeCache, 1)
	cached, ok := c.decodeCache[0]
	require.True(t, ok)
	require.Equal(t, 4, cached.Length)
}

func TestInvalidateDecodeCache(t *testing.T) {
	c := newTestCPU(t)
	require.Nil(t, memory.Write[uint32](c.Mem(), 0, selfJump))
	c.Regs().SetPC(0)
	_, _ = c.Simulate(1)
	require.NotEmpty(t, c.decodeCache)
	c.InvalidateDecodeCache()
	require.Empty(t, c.decodeCache)
}

func TestStopRequestHaltsLoop(t *testing.T) {
	c := newTestCPU(t)
	require.Nil(t, memory.Write[uint32](c.Mem(), 0, uint32(0x73)))       // ecall
	require.Nil(t, memory.Write[uint32](c.Mem(), 4, uint32(0x0000006f))) // jal x0, 0 (self-loop)
	c.Regs().SetPC(0)
	c.ECallHandler = func(cc *CPU) *faults.Fault {
		cc.Stop()
		return nil
	}
	_, err := c.Simulate(100)
	require.Nil(t, err)
	require.Equal(t, uint64(1), c.Regs().Counter)
}

func TestExecutorInterfaceSatisfied(t *testing.T) {
	var _ decoder.Executor = (*CPU)(nil)
}
