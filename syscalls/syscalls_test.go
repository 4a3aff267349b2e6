package syscalls

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvemu/rvemu/cpu"
	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/xlen"
)

func newTestCPU(t *testing.T) *cpu.CPU {
	t.Helper()
	mem := memory.New()
	mem.SetPageAttr(0, memory.PageSize, memory.Attr{Read: true, Write: true, Exec: true, Cacheable: true})
	return cpu.New(mem, xlen.Width64)
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	table := NewTable()
	st := NewState(0x1000)
	c := newTestCPU(t)

	called := false
	table.Register(42, func(cc *cpu.CPU, s *State) *faults.Fault {
		called = true
		require.Same(t, st, s)
		setResult(cc, 7)
		return nil
	})

	c.Regs().SetGPR(17, 42) // a7
	require.Nil(t, table.Dispatch(c, st))
	require.True(t, called)
	require.Equal(t, uint64(7), c.Regs().GPR(10))
}

func TestDispatchUnknownSyscallFaults(t *testing.T) {
	table := NewTable()
	st := NewState(0x1000)
	c := newTestCPU(t)
	c.Regs().SetGPR(17, 999)

	err := table.Dispatch(c, st)
	require.NotNil(t, err)
	require.Equal(t, faults.UnknownSyscall, err.Kind)
}

func TestDispatchOnUnknownRecovers(t *testing.T) {
	table := NewTable()
	st := NewState(0x1000)
	c := newTestCPU(t)
	c.Regs().SetGPR(17, 999)

	table.OnUnknown = func(cc *cpu.CPU, s *State, n uint64) bool {
		require.Equal(t, uint64(999), n)
		setResult(cc, 0)
		return true
	}
	require.Nil(t, table.Dispatch(c, st))
	require.Equal(t, uint64(0), c.Regs().GPR(10))
}

func TestRegisterOverwritesPriorHandler(t *testing.T) {
	table := NewTable()
	st := NewState(0x1000)
	c := newTestCPU(t)
	c.Regs().SetGPR(17, 1)

	table.Register(1, func(cc *cpu.CPU, s *State) *faults.Fault {
		setResult(cc, 1)
		return nil
	})
	table.Register(1, func(cc *cpu.CPU, s *State) *faults.Fault {
		setResult(cc, 2)
		return nil
	})

	require.Nil(t, table.Dispatch(c, st))
	require.Equal(t, uint64(2), c.Regs().GPR(10))
}

func TestSetErrnoWritesNegatedValue(t *testing.T) {
	c := newTestCPU(t)
	setErrno(c, 9) // EBADF
	require.Equal(t, uint64(int64(-9)), c.Regs().GPR(10))
}

func TestNewStatePreOpensStandardStreams(t *testing.T) {
	st := NewState(0x1000)
	for _, fd := range []int{0, 1, 2} {
		_, ok := st.lookupFD(fd)
		require.True(t, ok, "fd %d should be pre-opened", fd)
	}
	_, ok := st.lookupFD(3)
	require.False(t, ok)
}

func TestCloneGivesIndependentFDTable(t *testing.T) {
	st := NewState(0x1000)
	guestFD := st.allocFD(42, "/tmp/x")

	child := st.Clone()
	require.True(t, child.closeFD(guestFD))

	// Parent's own table is untouched by the child's close.
	_, ok := st.lookupFD(guestFD)
	require.True(t, ok)
}

func TestCloneCarriesMmapAndBrkCursors(t *testing.T) {
	st := NewState(0x1000)
	st.SetBrkCursor(0x2000)
	st.SetMmapCursor(0x3000)

	child := st.Clone()
	require.Equal(t, uint64(0x2000), child.BrkCursor())
	require.Equal(t, uint64(0x3000), child.MmapCursor())
}
