/*
 * rvemu - M extension: integer multiply/divide.
 */

package decoder

import (
	"fmt"

	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/xlen"
)

func decodeMUL(w uint32) Instruction {
	f3 := funct3(w)
	var op func(a, b uint64) uint64
	var mnemonic string
	switch f3 {
	case 0x0:
		op, mnemonic = func(a, b uint64) uint64 { return uint64(int64(a) * int64(b)) }, "mul"
	case 0x1:
		op, mnemonic = mulh, "mulh"
	case 0x2:
		op, mnemonic = mulhsu, "mulhsu"
	case 0x3:
		op, mnemonic = mulhu, "mulhu"
	case 0x4:
		op, mnemonic = divSigned, "div"
	case 0x5:
		op, mnemonic = divUnsigned, "divu"
	case 0x6:
		op, mnemonic = remSigned, "rem"
	case 0x7:
		op, mnemonic = remUnsigned, "remu"
	default:
		return Instruction{}
	}
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			ex.Regs().SetGPR(rd(raw), op(ex.Regs().GPR(rs1(raw)), ex.Regs().GPR(rs2(raw))))
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s x%d, x%d, x%d", mnemonic, rd(raw), rs1(raw), rs2(raw))
		},
	}
}

func decodeMUL32(w uint32) Instruction {
	f3 := funct3(w)
	var op func(a, b uint32) uint32
	var mnemonic string
	switch f3 {
	case 0x0:
		op, mnemonic = func(a, b uint32) uint32 { return uint32(int32(a) * int32(b)) }, "mulw"
	case 0x4:
		op, mnemonic = func(a, b uint32) uint32 {
			if b == 0 {
				return 0xffffffff
			}
			if a == 0x80000000 && int32(b) == -1 {
				return a
			}
			return uint32(int32(a) / int32(b))
		}, "divw"
	case 0x5:
		op, mnemonic = func(a, b uint32) uint32 {
			if b == 0 {
				return 0xffffffff
			}
			return a / b
		}, "divuw"
	case 0x6:
		op, mnemonic = func(a, b uint32) uint32 {
			if b == 0 {
				return a
			}
			if a == 0x80000000 && int32(b) == -1 {
				return 0
			}
			return uint32(int32(a) % int32(b))
		}, "remw"
	case 0x7:
		op, mnemonic = func(a, b uint32) uint32 {
			if b == 0 {
				return a
			}
			return a % b
		}, "remuw"
	default:
		return Instruction{}
	}
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			v := op(uint32(ex.Regs().GPR(rs1(raw))), uint32(ex.Regs().GPR(rs2(raw))))
			ex.Regs().SetGPR(rd(raw), xlen.SignExtend32(v))
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s x%d, x%d, x%d", mnemonic, rd(raw), rs1(raw), rs2(raw))
		},
	}
}

func mulh(a, b uint64) uint64 {
	hi, _ := bits64MulSigned(int64(a), int64(b))
	return uint64(hi)
}

func mulhu(a, b uint64) uint64 {
	hi, _ := bits64MulUnsigned(a, b)
	return hi
}

func mulhsu(a, b uint64) uint64 {
	neg := int64(a) < 0
	ua := a
	if neg {
		ua = uint64(-int64(a))
	}
	hi, lo := bits64MulUnsigned(ua, b)
	if neg {
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return hi
}

func bits64MulUnsigned(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xffffffff
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	ll := aLo * bLo
	lh := aLo * bHi
	hl := aHi * bLo
	hh := aHi * bHi

	mid := (ll >> 32) + (lh & mask32) + (hl & mask32)
	hi = hh + (lh >> 32) + (hl >> 32) + (mid >> 32)
	lo = (mid << 32) | (ll & mask32)
	return hi, lo
}

func bits64MulSigned(a, b int64) (hi, lo int64) {
	negResult := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}
	uhi, ulo := bits64MulUnsigned(ua, ub)
	if negResult {
		uhi = ^uhi
		ulo = ^ulo + 1
		if ulo == 0 {
			uhi++
		}
	}
	return int64(uhi), int64(ulo)
}

func divSigned(a, b uint64) uint64 {
	sa, sb := int64(a), int64(b)
	if sb == 0 {
		return ^uint64(0)
	}
	if sa == -1<<63 && sb == -1 {
		return a
	}
	return uint64(sa / sb)
}

func divUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func remSigned(a, b uint64) uint64 {
	sa, sb := int64(a), int64(b)
	if sb == 0 {
		return a
	}
	if sa == -1<<63 && sb == -1 {
		return 0
	}
	return uint64(sa % sb)
}

func remUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}
