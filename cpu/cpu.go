/*
 * rvemu - CPU: fetch/decode/execute loop, exception delivery.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package cpu drives the fetch/decode/execute loop over one hart's
// register file and memory, in the style of the teacher's emu/cpu
// step-info loop (`table[opcode](&stepInfo)` advancing one instruction
// at a time) retargeted from the S/370 channel architecture to
// RISC-V. CPU implements decoder.Executor so the decoder package never
// has to import cpu.
package cpu

import (
	"github.com/rvemu/rvemu/decoder"
	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/register"
	"github.com/rvemu/rvemu/xlen"
)

// ECallFunc handles a guest ecall trap; it reads A7/A0..A5 from cpu's
// register file and writes a result into A0. Returning a non-nil fault
// aborts the simulation (e.g. an unrecognized syscall number when the
// embedder has not configured UNKNOWN_SYSCALL recovery).
type ECallFunc func(c *CPU) *faults.Fault

// CPU is one RISC-V hart: a register file, the memory it executes
// against, and the active width. It is not goroutine-safe; spec.md's
// multiprocess model runs one CPU per host worker, each with its own
// Memory obtained via Fork.
type CPU struct {
	regs  register.File
	mem   *memory.Memory
	width xlen.Width

	stopRequested bool
	raisedMsg     string

	decodeCache map[uint64]decoder.Instruction

	ECallHandler  ECallFunc
	EBreakHandler ECallFunc
}

// New constructs a CPU over mem at the given address width. Registers
// start zeroed; callers set PC (and SP/argv for a fresh process) before
// the first Simulate.
func New(mem *memory.Memory, width xlen.Width) *CPU {
	return &CPU{
		mem:         mem,
		width:       width,
		decodeCache: make(map[uint64]decoder.Instruction),
	}
}

// Regs returns this hart's register file. Implements decoder.Executor.
func (c *CPU) Regs() *register.File { return &c.regs }

// Mem returns the memory this CPU executes against. Implements
// decoder.Executor.
func (c *CPU) Mem() *memory.Memory { return c.mem }

// Width returns the active address width. Implements decoder.Executor.
func (c *CPU) Width() xlen.Width { return c.width }

// SetMem rebinds the CPU to a different address space, used by fork
// (child CPU shares the parent's register snapshot but gets its own
// CoW Memory) and by deserialize.
func (c *CPU) SetMem(mem *memory.Memory) { c.mem = mem }

// CloneRegs snapshots the register file by value, for preempt's nested
// save/restore and for serialize.
func (c *CPU) CloneRegs() register.File { return c.regs.Clone() }

// SetRegs restores a previously cloned register file, for preempt's
// restore step and for deserialize.
func (c *CPU) SetRegs(r register.File) { c.regs = r }

// Stop requests that the fetch loop exit after the current instruction,
// per spec.md's cancellation contract.
func (c *CPU) Stop() { c.stopRequested = true }

// Reset clears the stop flag, so a CPU can be reused across calls
// after a prior Stop or timeout.
func (c *CPU) Reset() { c.stopRequested = false }

// instructionWidth inspects the low bits of the first fetched byte to
// determine whether the instruction at pc is compressed (2 bytes) or
// a full 32-bit encoding, without fetching the far bytes first.
func instructionWidth(first uint32) int {
	if first&0x3 != 0x3 {
		return 2
	}
	return 4
}

// fetch pulls the instruction word at the current PC, fetching 2 bytes
// first to discriminate compressed vs. full-width encodings, then the
// remainder if needed.
func (c *CPU) fetch() (uint32, int, *faults.Fault) {
	return c.fetchAt(c.regs.PC())
}

// fetchAt is fetch generalized to an arbitrary address, used by
// InstallTranslation to learn the raw bits a translated decode-cache
// slot replaces (so the slot keeps matching on later lookups, the same
// way an ordinary decoded entry does).
func (c *CPU) fetchAt(pc uint64) (uint32, int, *faults.Fault) {
	half, err := c.mem.FetchInstWord(pc, 2)
	if err != nil {
		return 0, 0, err
	}
	width := instructionWidth(half)
	if width == 2 {
		return half, 2, nil
	}
	full, err := c.mem.FetchInstWord(pc, 4)
	if err != nil {
		return 0, 0, err
	}
	return full, 4, nil
}

// Raise lets an external binary-translation handler abort the current
// simulation with a guest-raised exception (the Callbacks.Raise entry
// of spec.md §6's published callback table). The translated slot's
// wrapper surfaces it as that step's fault once the handler returns.
func (c *CPU) Raise(message string) { c.raisedMsg = message }

// InstallTranslation replaces the decode-cache slot at pc with handler,
// per spec.md §6: "the core, on load, matches the image hash and ...
// replaces matching decode slots with translated handlers." handler
// fully owns the retired-instruction counter and the fuel budget for
// the span of guest code it covers; step skips its own bookkeeping for
// a translated slot. A fault fetching the bits currently at pc (e.g. an
// unmapped translation target) is swallowed — the slot is simply left
// alone and ordinary decode proceeds there instead.
func (c *CPU) InstallTranslation(pc uint64, handler func(cc *CPU, counter, maxCounter, instrPC uint64) (newCounter, newMaxCounter uint64)) {
	raw, length, err := c.fetchAt(pc)
	if err != nil {
		return
	}
	c.decodeCache[pc] = decoder.Instruction{
		Handler: func(ex decoder.Executor, rawWord uint32) (bool, *faults.Fault) {
			newCounter, newMax := handler(c, c.regs.Counter, c.regs.MaxCounter, pc)
			c.regs.Counter = newCounter
			c.regs.MaxCounter = newMax
			if c.raisedMsg != "" {
				msg := c.raisedMsg
				c.raisedMsg = ""
				return true, faults.New(faults.MachineException, "%s", msg)
			}
			return true, nil
		},
		Printer:    func(ex decoder.Executor, rawWord uint32) string { return "<translated>" },
		Raw:        raw,
		Length:     length,
		Translated: true,
	}
}

// step executes exactly one instruction. useCache controls whether the
// decoded form is memoized by PC (disabled in precise mode so a
// self-modifying or freshly-translated page is always redecoded).
func (c *CPU) step(useCache bool) *faults.Fault {
	pc := c.regs.PC()
	raw, length, err := c.fetch()
	if err != nil {
		return err
	}

	var inst decoder.Instruction
	if useCache {
		if cached, ok := c.decodeCache[pc]; ok && cached.Raw == raw {
			inst = cached
		} else {
			inst = decoder.Decode(raw)
			c.decodeCache[pc] = inst
		}
	} else {
		inst = decoder.Decode(raw)
	}

	branched, ferr := inst.Handler(c, raw)
	if ferr != nil {
		if trapErr := c.deliverTrap(ferr); trapErr != nil {
			return trapErr
		}
		// ecall/ebreak handled successfully: retire like any other
		// non-branching instruction instead of aborting the loop.
	}
	if inst.Translated {
		// The translated handler already advanced PC and the counters
		// for the span of guest code it covers.
		return nil
	}
	if !branched {
		c.regs.SetPC(pc + uint64(length))
	}
	c.regs.Counter++
	return nil
}

// deliverTrap routes the two synchronous trap sentinels (ecall, ebreak)
// to their configured handlers and lets every other fault propagate to
// the fetch loop unchanged, per spec.md's single-unwinding-point design.
func (c *CPU) deliverTrap(f *faults.Fault) *faults.Fault {
	switch f {
	case decoder.ECallTrap:
		if c.ECallHandler != nil {
			return c.ECallHandler(c)
		}
		return faults.New(faults.UnknownSyscall, "ecall with no syscall handler installed")
	case decoder.EBreakTrap:
		if c.EBreakHandler != nil {
			return c.EBreakHandler(c)
		}
		return nil
	}
	return f
}

// Simulate runs the fetch/decode/execute loop, using the per-PC decode
// cache, until maxInstructions have retired, stop() is observed, or an
// exception is raised. Returns A0 and, on abnormal exit, the fault
// (MachineTimeout when the fuel budget is exhausted).
func (c *CPU) Simulate(maxInstructions uint64) (uint64, *faults.Fault) {
	return c.run(maxInstructions, true)
}

// SimulatePrecise disables decode caching and advances step by step,
// for debuggers and the unimplemented-instruction hook where tests
// require deterministic single-stepping per spec.md.
func (c *CPU) SimulatePrecise(maxInstructions uint64) (uint64, *faults.Fault) {
	return c.run(maxInstructions, false)
}

func (c *CPU) run(maxInstructions uint64, useCache bool) (uint64, *faults.Fault) {
	c.regs.MaxCounter = c.regs.Counter + maxInstructions
	c.stopRequested = false
	for c.regs.Counter < c.regs.MaxCounter {
		if c.stopRequested {
			break
		}
		if err := c.step(useCache); err != nil {
			return c.regs.GPR(10), err
		}
	}
	if c.regs.Counter >= c.regs.MaxCounter && !c.stopRequested {
		return c.regs.GPR(10), faults.New(faults.MachineTimeout, "instruction limit reached").WithAddr(c.regs.PC())
	}
	return c.regs.GPR(10), nil
}

// Step executes a single instruction without cache, for single-step
// debugging; callers drive the loop themselves.
func (c *CPU) Step() *faults.Fault {
	return c.step(false)
}

// StepCached executes a single instruction using the per-PC decode
// cache, for callers (vmcall, preempt) that drive the loop themselves
// but still want cached-decode performance.
func (c *CPU) StepCached() *faults.Fault {
	return c.step(true)
}

// InvalidateDecodeCache drops every cached decode, required after a
// binary-translation registration replaces decode slots or after guest
// code is known to have self-modified.
func (c *CPU) InvalidateDecodeCache() {
	c.decodeCache = make(map[uint64]decoder.Instruction)
}
