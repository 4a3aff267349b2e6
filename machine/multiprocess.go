/*
 * rvemu - Multiprocess: N-1 additional vCPUs sharing CoW memory.
 */

package machine

import (
	"sync"

	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
)

// Worker is one additional vCPU spawned by Multiprocess: its own
// Machine (own CPU, own CoW-forked Memory, own process state) running
// in its own stack window of the shared address space.
type Worker struct {
	Machine *Machine
	Fault   *faults.Fault
}

// Multiprocess spawns vcpus-1 additional workers sharing this Machine's
// memory as copy-on-write, per spec.md §4/§5: each worker gets a private
// stack window carved out of [stackBase, stackBase+vcpus*stackSize) and
// runs independently with its own instruction counter. The caller
// (vCPU 0) keeps running on m itself; Multiprocess only prepares and
// returns the other workers, it does not run them — MultiprocessWait on
// the returned slice runs each worker on its own goroutine and joins.
func (m *Machine) Multiprocess(vcpus int, stackBase, stackSize uint64) []*Worker {
	if vcpus < 1 {
		vcpus = 1
	}
	workers := make([]*Worker, 0, vcpus-1)
	for i := 1; i < vcpus; i++ {
		child := m.Fork()
		top := stackBase + uint64(i+1)*stackSize
		child.Mem.SetPageAttr(top-stackSize, int(stackSize), memory.Attr{Read: true, Write: true, Cacheable: true})
		child.CPU.Regs().SetGPR(2, top-16)
		child.stackTop = top
		workers = append(workers, &Worker{Machine: child})
	}
	return workers
}

// Run simulates w's Machine on the calling goroutine, recording the
// fault (if any, including MachineTimeout) it stops with, then marks wg
// done. MultiprocessWait calls it on a fresh goroutine per worker.
func (w *Worker) Run(wg *sync.WaitGroup, maxInstructions uint64) {
	defer wg.Done()
	_, err := w.Machine.Simulate(maxInstructions)
	w.Fault = err
}

// MultiprocessWait runs every worker to completion (or its instruction
// limit) and returns a bitmask, bit i set when worker i stopped on
// MachineTimeout rather than a normal exit, per spec.md's
// "multiprocess_wait joins and returns a bitmask of workers that hit
// the limit."
func MultiprocessWait(workers []*Worker, maxInstructions uint64) uint64 {
	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, w := range workers {
		go w.Run(&wg, maxInstructions)
	}
	wg.Wait()

	var mask uint64
	for i, w := range workers {
		if w.Fault != nil && w.Fault.Kind == faults.MachineTimeout {
			mask |= 1 << uint(i)
		}
	}
	return mask
}
