/*
 * rvemu - vmcall/preempt: host-initiated and nested guest calls.
 */

package machine

import (
	"github.com/rvemu/rvemu/faults"
)

// VMCall invokes a guest function exported by name, per spec.md §4.7:
// arguments go into A0.., RA is set to a sentinel the simulation loop
// stops on, and the stack pointer is restored to its pre-call value on
// normal return.
func (m *Machine) VMCall(name string, maxInstructions uint64, args ...uint64) (uint64, *faults.Fault) {
	addr, ok := m.Image.AddressOf(name)
	if !ok {
		return 0, faults.New(faults.InvalidProgram, "symbol %q not found", name)
	}
	return m.VMCallAddr(addr, maxInstructions, args...)
}

// VMCallAddr is VMCall against an explicit guest address rather than a
// symbol name.
func (m *Machine) VMCallAddr(addr uint64, maxInstructions uint64, args ...uint64) (uint64, *faults.Fault) {
	savedSP := m.CPU.Regs().GPR(2)
	m.setArgs(args)
	m.CPU.Regs().SetGPR(1, exitSentinel) // ra
	m.CPU.Regs().SetPC(addr)

	err := m.runUntilPC(exitSentinel, maxInstructions)
	result := m.CPU.Regs().GPR(10)
	m.CPU.Regs().SetGPR(2, savedSP)
	return result, err
}

// Preempt reentrantly calls a guest function from inside a syscall
// handler, saving and restoring the full register file (and therefore
// PC and SP) around a nested simulation with its own instruction
// budget, per spec.md §4.7. The outer instruction counter keeps
// accumulating across the nested call rather than being rolled back.
func (m *Machine) Preempt(maxInstructions uint64, addr uint64, args ...uint64) (uint64, *faults.Fault) {
	saved := m.CPU.CloneRegs()
	m.setArgs(args)
	m.CPU.Regs().SetGPR(1, exitSentinel)
	m.CPU.Regs().SetPC(addr)

	err := m.runUntilPC(exitSentinel, maxInstructions)
	result := m.CPU.Regs().GPR(10)
	finalCounter := m.CPU.Regs().Counter

	m.CPU.SetRegs(saved)
	m.CPU.Regs().Counter = finalCounter
	return result, err
}

func (m *Machine) setArgs(args []uint64) {
	for i, a := range args {
		if i >= 8 {
			break
		}
		m.CPU.Regs().SetGPR(10+i, a)
	}
}

// runUntilPC single-steps the CPU (decode-cached) until PC equals
// stopPC or maxInstructions have retired, whichever comes first.
func (m *Machine) runUntilPC(stopPC uint64, maxInstructions uint64) *faults.Fault {
	start := m.CPU.Regs().Counter
	for {
		if m.CPU.Regs().PC() == stopPC {
			return nil
		}
		if m.CPU.Regs().Counter-start >= maxInstructions {
			return faults.New(faults.MachineTimeout, "instruction limit reached").WithAddr(m.CPU.Regs().PC())
		}
		if err := m.CPU.StepCached(); err != nil {
			return err
		}
	}
}
