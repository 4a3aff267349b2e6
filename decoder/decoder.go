/*
 * rvemu - Instruction decoder: opcode dispatch table and printers.
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

// Package decoder maps a 16- or 32-bit RISC-V instruction word to a
// handler and a printer, the way the teacher's emu/cpu keeps a
// `table [256]func(*stepInfo) uint16` dispatch table indexed by opcode
// and emu/disassemble turns a decoded instruction back into text. Here
// the dispatch table is keyed by the 7-bit major opcode (spec.md §4.1),
// with handlers for the base integer ISA plus the C/M/A/F/D extensions;
// an on-unimplemented hook lets an embedder substitute a handler for an
// opcode/subfield the core does not know, exactly as spec.md describes.
package decoder

import (
	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/register"
	"github.com/rvemu/rvemu/xlen"
)

// Executor is the minimal state handlers and printers need. cpu.CPU
// implements it; decoder itself never imports cpu, which is what lets
// cpu import decoder without a cycle (spec.md §9's "tagged variant or
// small handle index" dispatch, inverted so the table lives below the
// CPU rather than inside it).
type Executor interface {
	Regs() *register.File
	Mem() *memory.Memory
	Width() xlen.Width
}

// HandlerFunc executes one decoded instruction. branched reports
// whether the handler itself changed PC (a jump/branch/call), in which
// case the fetch loop must not also advance PC by the instruction
// length.
type HandlerFunc func(ex Executor, raw uint32) (branched bool, err *faults.Fault)

// PrinterFunc renders a decoded instruction as assembly text. Printers
// are pure with respect to the register/memory snapshot they are given.
type PrinterFunc func(ex Executor, raw uint32) string

// Instruction is the decoded, cached form of one instruction: a
// handler, a printer, the raw bits, and its length in bytes (2 for
// compressed, 4 otherwise — compressed forms are expanded to the
// equivalent 32-bit encoding at decode time per spec.md §4.1).
type Instruction struct {
	Handler HandlerFunc
	Printer PrinterFunc
	Raw     uint32
	Length  int

	// Translated marks a decode-cache slot installed by a binary
	// translation registration (spec.md §6) rather than produced by
	// Decode. The fetch loop skips its own PC/counter bookkeeping for
	// such a slot: the translated Handler fully owns both.
	Translated bool
}

// illegalHandler and illegalPrinter are the handler and the printer
// installed for any word that fails to decode, per spec.md's totality
// requirement.
func illegalHandler(ex Executor, raw uint32) (bool, *faults.Fault) {
	return false, faults.New(faults.IllegalOpcode, "no decode for word").WithWord(raw)
}

func illegalPrinter(ex Executor, raw uint32) string {
	return "<illegal>"
}

var illegalInstruction = Instruction{Handler: illegalHandler, Printer: illegalPrinter, Length: 4}

// OnUnimplemented is the process-wide hook of spec.md §4.1: when decode
// would otherwise return the illegal-opcode instruction, this callback
// (when set) gets the raw bits and may return a substitute decoded
// instruction. It is expected to be set once during initialization.
var OnUnimplemented func(raw uint32) (Instruction, bool)

// Decode maps a 16- or 32-bit instruction word to a decoded
// instruction. Totality: any word decodes to either a defined handler
// or the illegal-opcode instruction (run through OnUnimplemented first).
func Decode(raw uint32) Instruction {
	if raw&3 != 3 {
		// 16-bit compressed form; expand to the canonical 32-bit
		// encoding and decode that, but keep Length == 2.
		expanded, ok := expandCompressed(uint16(raw))
		if !ok {
			return unimplemented(raw)
		}
		inst := decode32(expanded)
		inst.Raw = raw
		inst.Length = 2
		if inst.Handler == nil {
			return unimplemented(raw)
		}
		return inst
	}
	inst := decode32(raw)
	inst.Raw = raw
	inst.Length = 4
	if inst.Handler == nil {
		return unimplemented(raw)
	}
	return inst
}

func unimplemented(raw uint32) Instruction {
	if OnUnimplemented != nil {
		if inst, ok := OnUnimplemented(raw); ok {
			return inst
		}
	}
	out := illegalInstruction
	out.Raw = raw
	return out
}

// ---- 32-bit field extraction --------------------------------------------

func opcode(w uint32) uint32  { return w & 0x7f }
func rd(w uint32) int         { return int((w >> 7) & 0x1f) }
func funct3(w uint32) uint32  { return (w >> 12) & 0x7 }
func rs1(w uint32) int        { return int((w >> 15) & 0x1f) }
func rs2(w uint32) int        { return int((w >> 20) & 0x1f) }
func rs3(w uint32) int        { return int((w >> 27) & 0x1f) }
func funct7(w uint32) uint32  { return (w >> 25) & 0x7f }
func funct2(w uint32) uint32  { return (w >> 25) & 0x3 }
func rm(w uint32) uint32      { return (w >> 12) & 0x7 }

func immI(w uint32) int64 { return int64(xlen.SignExtend(uint64(w>>20), 12)) }
func immS(w uint32) int64 {
	v := ((w >> 25) << 5) | ((w >> 7) & 0x1f)
	return int64(xlen.SignExtend(uint64(v), 12))
}
func immB(w uint32) int64 {
	v := ((w >> 31) << 12) | (((w >> 7) & 1) << 11) | (((w >> 25) & 0x3f) << 5) | (((w >> 8) & 0xf) << 1)
	return int64(xlen.SignExtend(uint64(v), 13))
}
func immU(w uint32) int64 { return int64(int32(w & 0xfffff000)) }
func immJ(w uint32) int64 {
	v := ((w >> 31) << 20) | (((w >> 12) & 0xff) << 12) | (((w >> 20) & 1) << 11) | (((w >> 21) & 0x3ff) << 1)
	return int64(xlen.SignExtend(uint64(v), 21))
}

// shamt returns the shift amount field, honoring the active width (5
// bits for RV32, 6 for RV64) by masking to 6 bits and letting callers
// that need RV32I semantics mask further.
func shamt(w uint32) uint32 { return (w >> 20) & 0x3f }
