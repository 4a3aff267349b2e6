/*
 * rvemu - Syscall dispatch table: Linux RISC-V ABI numbering.
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

// Package syscalls implements the Linux-compatible system call surface
// of spec.md §4.2: a table indexed by RISC-V Linux ABI numbers, mapping
// to handlers of the form (cpu, state) -> fault. golang.org/x/sys/unix
// supplies real errno values so a guest program sees the same negative
// return codes a native Linux binary would, mirroring the way the
// teacher's emu/cpu keeps one indexed table (`table[opcode]`) rather
// than a chain of type switches.
package syscalls

import (
	"github.com/rvemu/rvemu/cpu"
	"github.com/rvemu/rvemu/faults"
)

// Handler services one syscall: it reads arguments out of the cpu's A0-A5
// registers and the guest's memory, and writes its result (or a negated
// errno) into A0. A non-nil fault aborts the simulation outright (used
// only for unrecoverable conditions, not ordinary syscall failure).
type Handler func(c *cpu.CPU, st *State) *faults.Fault

// Table is an indexed syscall dispatch table, keyed by the guest's A7.
type Table struct {
	handlers map[uint64]Handler
	// OnUnknown, when set, recovers an otherwise-fatal unknown syscall
	// number; returning true means it handled the call (and must set A0
	// itself).
	OnUnknown func(c *cpu.CPU, st *State, number uint64) bool
}

// NewTable returns an empty table. Use RegisterDefaults to populate the
// reference handler set described in spec.md §4.2.
func NewTable() *Table {
	return &Table{handlers: make(map[uint64]Handler)}
}

// Clone returns a table with an independent copy of the handler map, so
// a child produced by fork can have its own registrations (e.g. a
// native heap re-wired against its own Arena) layered on top without
// mutating the parent's table. Handler closures themselves are shared
// by reference, matching how Fork shares everything except the state
// each handler closes over.
func (t *Table) Clone() *Table {
	nt := &Table{handlers: make(map[uint64]Handler, len(t.handlers)), OnUnknown: t.OnUnknown}
	for n, h := range t.handlers {
		nt.handlers[n] = h
	}
	return nt
}

// Register installs handler for syscall number n, overwriting any
// previous registration — this is how an embedder both extends the
// reference set and overrides individual numbers (spec.md's "Install
// syscall 1 as stop").
func (t *Table) Register(n uint64, h Handler) {
	t.handlers[n] = h
}

// Dispatch looks up A7 and invokes the registered handler, per the
// RISC-V Linux ABI (number in A7, args A0..A5, result in A0). An
// unregistered number raises UNKNOWN_SYSCALL unless OnUnknown recovers
// it.
func (t *Table) Dispatch(c *cpu.CPU, st *State) *faults.Fault {
	n := c.Regs().GPR(17) // a7
	h, ok := t.handlers[n]
	if !ok {
		if t.OnUnknown != nil && t.OnUnknown(c, st, n) {
			return nil
		}
		return faults.New(faults.UnknownSyscall, "syscall %d not registered", n).WithAddr(c.Regs().PC())
	}
	return h(c, st)
}

// args returns A0..A5 as a fixed-size array for handlers that want
// positional access.
func args(c *cpu.CPU) [6]uint64 {
	r := c.Regs()
	return [6]uint64{r.GPR(10), r.GPR(11), r.GPR(12), r.GPR(13), r.GPR(14), r.GPR(15)}
}

func setResult(c *cpu.CPU, v uint64) {
	c.Regs().SetGPR(10, v)
}

func setErrno(c *cpu.CPU, errno int) {
	c.Regs().SetGPR(10, uint64(int64(-errno)))
}

// RISC-V (and arm64/generic) Linux syscall numbers used by the
// reference handler set.
const (
	SysIoctl       = 29
	SysOpenat      = 56
	SysClose       = 57
	SysRead        = 63
	SysWrite       = 64
	SysReadv       = 65
	SysWritev      = 66
	SysClockGetRes = 114
	SysClockGettime = 113
	SysSchedYield  = 124
	SysGetpid      = 172
	SysGettid      = 178
	SysSocket      = 198
	SysBind        = 200
	SysListen      = 201
	SysAccept      = 202
	SysConnect     = 203
	SysGetsockopt  = 209
	SysSetsockopt  = 208
	SysBrk         = 214
	SysMunmap      = 215
	SysMremap      = 216
	SysClone       = 220
	SysMmap        = 222
	SysMprotect    = 226
	SysMadvise     = 233
	SysExit        = 93
	SysExitGroup   = 94
	SysFutex       = 98

	// Heap syscalls (SYSCALL_MALLOC family) are numbered relative to a
	// base the embedder chooses; nativeheap.Install documents the
	// SYSCALL_REALLOC/SYSCALL_MEMINFO resolution referenced in
	// spec.md §9.
)
