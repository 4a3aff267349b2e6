/*
 * rvemu - Fork: copy-on-write child Machine construction.
 */

package machine

import (
	"github.com/rvemu/rvemu/cpu"
	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/nativeheap"
)

// Fork produces a child Machine sharing this Machine's owned pages as
// copy-on-write, per spec.md §4.3/§4.7's fork semantics. The child gets
// its own register snapshot (a value copy, so later writes by either
// machine are independent), its own process state (open files are
// shared by host fd, matching POSIX fork; brk/threads/mmap cursor are
// independent), its own syscall table, and — when a native heap is
// enabled — its own arena, so two workers spawned off the same
// Multiprocess call never share mutable allocator state: Mem and State
// are already duplicated this way (Mem.Fork's CoW pages, State.Clone's
// deep copy), and the syscall table/native heap must be too, or
// concurrent guest malloc/free across workers races on the parent's
// shared free list.
func (m *Machine) Fork() *Machine {
	childMem := m.Mem.Fork()
	childCPU := cpu.New(childMem, m.Width)
	childCPU.SetRegs(m.CPU.CloneRegs())
	childCPU.EBreakHandler = m.CPU.EBreakHandler

	childState := m.State.Clone()
	childTable := m.Syscalls.Clone()

	var childArena *nativeheap.Arena
	if m.NativeHeap != nil {
		childArena = m.NativeHeap.Clone()
		nativeheap.InstallArena(childTable, childArena, m.nativeHeapTrusted)
	}

	child := &Machine{
		CPU:               childCPU,
		Mem:               childMem,
		Image:             m.Image,
		Syscalls:          childTable,
		State:             childState,
		Width:             m.Width,
		NativeHeap:        childArena,
		nativeHeapTrusted: m.nativeHeapTrusted,
		stackTop:          m.stackTop,
	}
	child.CPU.ECallHandler = func(cc *cpu.CPU) *faults.Fault { return child.Syscalls.Dispatch(cc, child.State) }
	return child
}
