/*
 * rvemu - F/D extensions: single- and double-precision floating point.
 *
 * Rounding mode (the rm field / dynamic FRM in fcsr) is decoded but not
 * applied: Go's math package always rounds to nearest-even, which
 * matches the RISC-V default (RNE) and covers the guest programs
 * spec.md targets (libc startup, straight-line numeric code) without
 * implementing the other three IEEE rounding modes.
 */

package decoder

import (
	"fmt"
	"math"

	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/xlen"
)

const fmtSingle = 0x00
const fmtDouble = 0x01

func decodeLoadFP(w uint32) Instruction {
	f3 := funct3(w)
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			addr := ex.Regs().GPR(rs1(raw)) + uint64(immI(raw))
			if f3 == 0x2 {
				v, err := memory.Read[uint32](ex.Mem(), addr)
				if err != nil {
					return false, err
				}
				ex.Regs().SetF32(rd(raw), math.Float32frombits(v))
				return false, nil
			}
			v, err := memory.Read[uint64](ex.Mem(), addr)
			if err != nil {
				return false, err
			}
			ex.Regs().SetFPRBits(rd(raw), v)
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			mnemonic := "fld"
			if f3 == 0x2 {
				mnemonic = "flw"
			}
			return fmt.Sprintf("%s f%d, %d(x%d)", mnemonic, rd(raw), immI(raw), rs1(raw))
		},
	}
}

func decodeStoreFP(w uint32) Instruction {
	f3 := funct3(w)
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			addr := ex.Regs().GPR(rs1(raw)) + uint64(immS(raw))
			if f3 == 0x2 {
				return false, memory.Write[uint32](ex.Mem(), addr, math.Float32bits(ex.Regs().F32(rs2(raw))))
			}
			return false, memory.Write[uint64](ex.Mem(), addr, ex.Regs().FPRBits(rs2(raw)))
		},
		Printer: func(ex Executor, raw uint32) string {
			mnemonic := "fsd"
			if f3 == 0x2 {
				mnemonic = "fsw"
			}
			return fmt.Sprintf("%s f%d, %d(x%d)", mnemonic, rs2(raw), immS(raw), rs1(raw))
		},
	}
}

func decodeFusedFP(w uint32) Instruction {
	double := funct2(w) == fmtDouble
	var combine func(a, b, c float64) float64
	var name string
	switch opcode(w) {
	case opMadd:
		combine, name = func(a, b, c float64) float64 { return a*b + c }, "fmadd"
	case opMsub:
		combine, name = func(a, b, c float64) float64 { return a*b - c }, "fmsub"
	case opNmsub:
		combine, name = func(a, b, c float64) float64 { return -(a*b - c) }, "fnmsub"
	case opNmadd:
		combine, name = func(a, b, c float64) float64 { return -(a*b + c) }, "fnmadd"
	default:
		return Instruction{}
	}
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			if double {
				r.SetF64(rd(raw), combine(r.F64(rs1(raw)), r.F64(rs2(raw)), r.F64(rs3(raw))))
			} else {
				v := combine(float64(r.F32(rs1(raw))), float64(r.F32(rs2(raw))), float64(r.F32(rs3(raw))))
				r.SetF32(rd(raw), float32(v))
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s f%d, f%d, f%d, f%d", name, rd(raw), rs1(raw), rs2(raw), rs3(raw))
		},
	}
}

func decodeOpFP(w uint32) Instruction {
	funct := funct7(w)
	double := funct&1 != 0

	switch funct >> 2 {
	case 0x00: // FADD
		return fpBinOp(double, "fadd", func(a, b float64) float64 { return a + b })
	case 0x01: // FSUB
		return fpBinOp(double, "fsub", func(a, b float64) float64 { return a - b })
	case 0x02: // FMUL
		return fpBinOp(double, "fmul", func(a, b float64) float64 { return a * b })
	case 0x03: // FDIV
		return fpBinOp(double, "fdiv", func(a, b float64) float64 { return a / b })
	case 0x0b: // FSQRT
		return fpUnOp(double, "fsqrt", math.Sqrt)
	case 0x04: // FSGNJ family
		return decodeFSGNJ(double)
	case 0x05: // FMIN/FMAX
		return decodeFMinMax(double)
	case 0x14: // FLE/FLT/FEQ
		return decodeFCompare(double)
	case 0x18: // FCVT to integer
		return decodeFCvtToInt(w, double)
	case 0x1a: // FCVT from integer
		return decodeFCvtFromInt(w, double)
	case 0x08: // FCVT.S.D / FCVT.D.S
		return decodeFCvtFormat(w)
	case 0x1c: // FMV.X.W/D, FCLASS
		return decodeFMvToInt(w, double)
	case 0x1e: // FMV.W.X/D.X
		return decodeFMvFromInt(double)
	}
	return Instruction{}
}

func fpBinOp(double bool, name string, op func(a, b float64) float64) Instruction {
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			if double {
				r.SetF64(rd(raw), op(r.F64(rs1(raw)), r.F64(rs2(raw))))
			} else {
				r.SetF32(rd(raw), float32(op(float64(r.F32(rs1(raw))), float64(r.F32(rs2(raw))))))
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s%s f%d, f%d, f%d", name, suffix(double), rd(raw), rs1(raw), rs2(raw))
		},
	}
}

func fpUnOp(double bool, name string, op func(float64) float64) Instruction {
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			if double {
				r.SetF64(rd(raw), op(r.F64(rs1(raw))))
			} else {
				r.SetF32(rd(raw), float32(op(float64(r.F32(rs1(raw))))))
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s%s f%d, f%d", name, suffix(double), rd(raw), rs1(raw))
		},
	}
}

func decodeFSGNJ(double bool) Instruction {
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			if double {
				a, b := r.F64(rs1(raw)), r.F64(rs2(raw))
				mag := math.Abs(a)
				var signed float64
				switch funct3(raw) {
				case 0:
					signed = math.Copysign(mag, b)
				case 1:
					signed = math.Copysign(mag, -b)
				case 2:
					signed = math.Copysign(mag, math.Copysign(1, a)*math.Copysign(1, b))
				}
				r.SetF64(rd(raw), signed)
			} else {
				a, b := r.F32(rs1(raw)), r.F32(rs2(raw))
				mag := math.Abs(float64(a))
				var signed float64
				switch funct3(raw) {
				case 0:
					signed = math.Copysign(mag, float64(b))
				case 1:
					signed = math.Copysign(mag, float64(-b))
				case 2:
					signed = math.Copysign(mag, math.Copysign(1, float64(a))*math.Copysign(1, float64(b)))
				}
				r.SetF32(rd(raw), float32(signed))
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("fsgnj%s f%d, f%d, f%d", suffix(double), rd(raw), rs1(raw), rs2(raw))
		},
	}
}

func decodeFMinMax(double bool) Instruction {
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			isMax := funct3(raw) == 1
			if double {
				a, b := r.F64(rs1(raw)), r.F64(rs2(raw))
				r.SetF64(rd(raw), fMinMax(a, b, isMax))
			} else {
				a, b := float64(r.F32(rs1(raw))), float64(r.F32(rs2(raw)))
				r.SetF32(rd(raw), float32(fMinMax(a, b, isMax)))
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			name := "fmin"
			if funct3(raw) == 1 {
				name = "fmax"
			}
			return fmt.Sprintf("%s%s f%d, f%d, f%d", name, suffix(double), rd(raw), rs1(raw), rs2(raw))
		},
	}
}

func fMinMax(a, b float64, isMax bool) float64 {
	if math.IsNaN(a) && math.IsNaN(b) {
		return math.NaN()
	}
	if math.IsNaN(a) {
		return b
	}
	if math.IsNaN(b) {
		return a
	}
	if isMax {
		return math.Max(a, b)
	}
	return math.Min(a, b)
}

func decodeFCompare(double bool) Instruction {
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			var a, b float64
			if double {
				a, b = r.F64(rs1(raw)), r.F64(rs2(raw))
			} else {
				a, b = float64(r.F32(rs1(raw))), float64(r.F32(rs2(raw)))
			}
			var result bool
			switch funct3(raw) {
			case 0: // FLE
				result = a <= b
			case 1: // FLT
				result = a < b
			case 2: // FEQ
				result = a == b
			}
			r.SetGPR(rd(raw), b2u(result))
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			names := map[uint32]string{0: "fle", 1: "flt", 2: "feq"}
			return fmt.Sprintf("%s%s x%d, f%d, f%d", names[funct3(raw)], suffix(double), rd(raw), rs1(raw), rs2(raw))
		},
	}
}

func decodeFCvtToInt(w uint32, double bool) Instruction {
	rs2Field := rs2(w) // selects signed/unsigned and word/dword
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			var v float64
			if double {
				v = r.F64(rs1(raw))
			} else {
				v = float64(r.F32(rs1(raw)))
			}
			r.SetGPR(rd(raw), fcvtToInt(v, rs2Field))
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("fcvt.x%s x%d, f%d", suffix(double), rd(raw), rs1(raw))
		},
	}
}

func fcvtToInt(v float64, kind int) uint64 {
	switch kind {
	case 0: // .w (signed 32)
		return uint64(int64(int32(v)))
	case 1: // .wu (unsigned 32)
		return uint64(uint32(v))
	case 2: // .l (signed 64)
		return uint64(int64(v))
	default: // .lu (unsigned 64)
		return uint64(v)
	}
}

func decodeFCvtFromInt(w uint32, double bool) Instruction {
	rs2Field := rs2(w)
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			x := r.GPR(rs1(raw))
			var v float64
			switch rs2Field {
			case 0:
				v = float64(int32(x))
			case 1:
				v = float64(uint32(x))
			case 2:
				v = float64(int64(x))
			default:
				v = float64(x)
			}
			if double {
				r.SetF64(rd(raw), v)
			} else {
				r.SetF32(rd(raw), float32(v))
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("fcvt%s.x f%d, x%d", suffix(double), rd(raw), rs1(raw))
		},
	}
}

// decodeFCvtFormat covers FCVT.S.D (narrow) and FCVT.D.S (widen).
func decodeFCvtFormat(w uint32) Instruction {
	toSingle := funct2(w) == fmtSingle // rs2 field selects source fmt; D->S when target funct7 lsb says single
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			if toSingle {
				r.SetF32(rd(raw), float32(r.F64(rs1(raw))))
			} else {
				r.SetF64(rd(raw), float64(r.F32(rs1(raw))))
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			if toSingle {
				return fmt.Sprintf("fcvt.s.d f%d, f%d", rd(raw), rs1(raw))
			}
			return fmt.Sprintf("fcvt.d.s f%d, f%d", rd(raw), rs1(raw))
		},
	}
}

func decodeFMvToInt(w uint32, double bool) Instruction {
	isClass := funct3(w) == 1
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			if isClass {
				var v float64
				if double {
					v = r.F64(rs1(raw))
				} else {
					v = float64(r.F32(rs1(raw)))
				}
				r.SetGPR(rd(raw), fclass(v))
				return false, nil
			}
			if double {
				r.SetGPR(rd(raw), r.FPRBits(rs1(raw)))
			} else {
				r.SetGPR(rd(raw), xlen.SignExtend32(math.Float32bits(r.F32(rs1(raw)))))
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			if isClass {
				return fmt.Sprintf("fclass%s x%d, f%d", suffix(double), rd(raw), rs1(raw))
			}
			return fmt.Sprintf("fmv.x%s x%d, f%d", suffix(double), rd(raw), rs1(raw))
		},
	}
}

func decodeFMvFromInt(double bool) Instruction {
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			if double {
				r.SetFPRBits(rd(raw), r.GPR(rs1(raw)))
			} else {
				r.SetF32(rd(raw), math.Float32frombits(uint32(r.GPR(rs1(raw)))))
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("fmv%s.x f%d, x%d", suffix(double), rd(raw), rs1(raw))
		},
	}
}

func fclass(v float64) uint64 {
	switch {
	case math.IsInf(v, -1):
		return 1 << 0
	case v < 0 && !math.IsInf(v, 0):
		return 1 << 1
	case math.IsInf(v, 1):
		return 1 << 7
	case v == 0 && math.Signbit(v):
		return 1 << 3
	case v == 0:
		return 1 << 4
	case math.IsNaN(v):
		return 1 << 9
	default:
		return 1 << 6
	}
}

func suffix(double bool) string {
	if double {
		return ".d"
	}
	return ".s"
}
