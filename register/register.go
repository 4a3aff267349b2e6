/*
 * rvemu - Register file: integer and floating-point guest state.
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

// Package register holds the RISC-V integer and floating-point register
// files plus the program counter, FCSR, and instruction counter/limit
// pair that ride alongside them. It is deliberately free of any
// dependency on memory or decoding: registers are pure state.
package register

import (
	"fmt"
	"math"
	"strings"

	"github.com/rvemu/rvemu/xlen"
)

const numGPR = 32

// nanBoxUpper is the upper half of a NaN-boxed 32-bit float stored in a
// 64-bit slot: all ones, per the F/D extension convention.
const nanBoxUpper = 0xffffffff00000000

// File is the register file of one hart (one vCPU). It is copied by
// value on fork and on preempt's save/restore, which is why it holds no
// pointers.
type File struct {
	gpr [numGPR]uint64
	fpr [numGPR]uint64 // f64 bit pattern; f32 values are NaN-boxed
	pc  uint64
	fcsr uint32

	Counter   uint64 // instructions retired
	MaxCounter uint64 // fuel budget for the current simulate() call
}

// Reset zeroes every field. x0 is always zero so there is nothing
// special to do for it here; the invariant is enforced on write.
func (f *File) Reset() {
	*f = File{}
}

// Clone returns a deep (here: value) copy suitable for preempt's nested
// save/restore or for snapshotting into a checkpoint.
func (f *File) Clone() File {
	return *f
}

// GPR reads general-purpose register i. x0 always reads as zero.
func (f *File) GPR(i int) uint64 {
	if i == 0 {
		return 0
	}
	return f.gpr[i&31]
}

// SetGPR writes general-purpose register i. Writes to x0 are discarded.
func (f *File) SetGPR(i int, v uint64) {
	if i == 0 {
		return
	}
	f.gpr[i&31] = v
}

// PC returns the program counter.
func (f *File) PC() uint64 { return f.pc }

// SetPC sets the program counter.
func (f *File) SetPC(v uint64) { f.pc = v }

// FCSR returns the floating-point control and status register.
func (f *File) FCSR() uint32 { return f.fcsr }

// SetFCSR sets the floating-point control and status register.
func (f *File) SetFCSR(v uint32) { f.fcsr = v }

// F32 reads floating register i as a 32-bit float, unboxing a NaN-boxed
// value and returning quiet NaN if the box is invalid (per the spec,
// software is not required to check this but returning NaN is the safe
// behavior an unboxed read should have).
func (f *File) F32(i int) float32 {
	bits := f.fpr[i&31]
	if bits&nanBoxUpper != nanBoxUpper {
		return float32(math.NaN())
	}
	return math.Float32frombits(uint32(bits))
}

// SetF32 stores a 32-bit float into floating register i, NaN-boxing the
// upper 32 bits per the F extension convention for values living in a
// 64-bit-wide register file.
func (f *File) SetF32(i int, v float32) {
	f.fpr[i&31] = nanBoxUpper | uint64(math.Float32bits(v))
}

// F64 reads floating register i as a double.
func (f *File) F64(i int) float64 {
	return math.Float64frombits(f.fpr[i&31])
}

// SetF64 stores a double into floating register i.
func (f *File) SetF64(i int, v float64) {
	f.fpr[i&31] = math.Float64bits(v)
}

// FPRBits returns the raw 64-bit pattern of floating register i,
// NaN-boxed or not, for instructions (FMV.X.D, FSD, ...) that move bits
// rather than values.
func (f *File) FPRBits(i int) uint64 { return f.fpr[i&31] }

// SetFPRBits writes the raw 64-bit pattern of floating register i.
func (f *File) SetFPRBits(i int, v uint64) { f.fpr[i&31] = v }

// String renders the register file for tracing and the step debugger,
// masking the displayed width to w so a 32-bit guest doesn't print
// garbage upper bits.
func (f *File) String(w xlen.Width) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pc=%0*x\n", w.Bytes()*2, w.Mask(f.pc))
	for i := 0; i < numGPR; i += 4 {
		fmt.Fprintf(&b, "x%-2d=%0*x x%-2d=%0*x x%-2d=%0*x x%-2d=%0*x\n",
			i, w.Bytes()*2, w.Mask(f.GPR(i)),
			i+1, w.Bytes()*2, w.Mask(f.GPR(i+1)),
			i+2, w.Bytes()*2, w.Mask(f.GPR(i+2)),
			i+3, w.Bytes()*2, w.Mask(f.GPR(i+3)))
	}
	return b.String()
}
