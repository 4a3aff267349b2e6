/*
 * rvemu - RISC-V major opcode constants.
 *
 * Ported in spirit from emu/opcodemap's flat opcode-constant block,
 * retargeted from the S/370 instruction set to RISC-V's 7-bit major
 * opcode field.
 */

package decoder

const (
	opLoad     = 0x03
	opLoadFP   = 0x07
	opMiscMem  = 0x0f
	opOpImm    = 0x13
	opAuipc    = 0x17
	opOpImm32  = 0x1b
	opStore    = 0x23
	opStoreFP  = 0x27
	opAmo      = 0x2f
	opOp       = 0x33
	opLui      = 0x37
	opOp32     = 0x3b
	opMadd     = 0x43
	opMsub     = 0x47
	opNmsub    = 0x4b
	opNmadd    = 0x4f
	opOpFP     = 0x53
	opBranch   = 0x63
	opJalr     = 0x67
	opJal      = 0x6f
	opSystem   = 0x73
)

// decode32 is the top-level 32-bit-opcode dispatch, mirroring the
// teacher's table[opcode] pattern (emu/cpu's `table [256]func(*stepInfo)
// uint16`, indexed there by the S/370 opcode byte) but switching on the
// RISC-V major opcode and delegating funct3/funct7 sub-dispatch to each
// instruction family's own file.
func decode32(w uint32) Instruction {
	switch opcode(w) {
	case opLui:
		return Instruction{Handler: execLUI, Printer: printLUI}
	case opAuipc:
		return Instruction{Handler: execAUIPC, Printer: printAUIPC}
	case opJal:
		return Instruction{Handler: execJAL, Printer: printJAL}
	case opJalr:
		if funct3(w) == 0 {
			return Instruction{Handler: execJALR, Printer: printJALR}
		}
	case opBranch:
		return decodeBranch(w)
	case opLoad:
		return decodeLoad(w)
	case opStore:
		return decodeStore(w)
	case opOpImm:
		return decodeOpImm(w)
	case opOpImm32:
		return decodeOpImm32(w)
	case opOp:
		return decodeOp(w)
	case opOp32:
		return decodeOp32(w)
	case opMiscMem:
		return decodeMiscMem(w)
	case opSystem:
		return decodeSystem(w)
	case opAmo:
		return decodeAmo(w)
	case opLoadFP:
		return decodeLoadFP(w)
	case opStoreFP:
		return decodeStoreFP(w)
	case opOpFP:
		return decodeOpFP(w)
	case opMadd, opMsub, opNmsub, opNmadd:
		return decodeFusedFP(w)
	}
	return Instruction{}
}
