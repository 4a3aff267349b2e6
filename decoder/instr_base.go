/*
 * rvemu - RV32I/RV64I base integer instruction handlers.
 */

package decoder

import (
	"fmt"

	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/xlen"
)

func execLUI(ex Executor, raw uint32) (bool, *faults.Fault) {
	ex.Regs().SetGPR(rd(raw), uint64(immU(raw)))
	return false, nil
}

func printLUI(ex Executor, raw uint32) string {
	return fmt.Sprintf("lui x%d, 0x%x", rd(raw), uint32(immU(raw))>>12)
}

func execAUIPC(ex Executor, raw uint32) (bool, *faults.Fault) {
	ex.Regs().SetGPR(rd(raw), ex.Regs().PC()+uint64(immU(raw)))
	return false, nil
}

func printAUIPC(ex Executor, raw uint32) string {
	return fmt.Sprintf("auipc x%d, 0x%x", rd(raw), uint32(immU(raw))>>12)
}

func execJAL(ex Executor, raw uint32) (bool, *faults.Fault) {
	r := ex.Regs()
	ret := r.PC() + 4
	target := r.PC() + uint64(immJ(raw))
	r.SetGPR(rd(raw), ret)
	r.SetPC(target)
	return true, nil
}

func printJAL(ex Executor, raw uint32) string {
	return fmt.Sprintf("jal x%d, %d", rd(raw), immJ(raw))
}

func execJALR(ex Executor, raw uint32) (bool, *faults.Fault) {
	r := ex.Regs()
	base := r.GPR(rs1(raw))
	ret := r.PC() + 4
	target := (base + uint64(immI(raw))) &^ 1
	r.SetGPR(rd(raw), ret)
	r.SetPC(target)
	return true, nil
}

func printJALR(ex Executor, raw uint32) string {
	return fmt.Sprintf("jalr x%d, %d(x%d)", rd(raw), immI(raw), rs1(raw))
}

// ---- branches ------------------------------------------------------------

type branchTest func(a, b uint64) bool

func decodeBranch(w uint32) Instruction {
	var test branchTest
	var mnemonic string
	switch funct3(w) {
	case 0x0:
		test, mnemonic = func(a, b uint64) bool { return int64(a) == int64(b) }, "beq"
	case 0x1:
		test, mnemonic = func(a, b uint64) bool { return int64(a) != int64(b) }, "bne"
	case 0x4:
		test, mnemonic = func(a, b uint64) bool { return int64(a) < int64(b) }, "blt"
	case 0x5:
		test, mnemonic = func(a, b uint64) bool { return int64(a) >= int64(b) }, "bge"
	case 0x6:
		test, mnemonic = func(a, b uint64) bool { return a < b }, "bltu"
	case 0x7:
		test, mnemonic = func(a, b uint64) bool { return a >= b }, "bgeu"
	default:
		return Instruction{}
	}
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			r := ex.Regs()
			if test(r.GPR(rs1(raw)), r.GPR(rs2(raw))) {
				r.SetPC(r.PC() + uint64(immB(raw)))
				return true, nil
			}
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s x%d, x%d, %d", mnemonic, rs1(raw), rs2(raw), immB(raw))
		},
	}
}

// ---- loads/stores ----------------------------------------------------------

func decodeLoad(w uint32) Instruction {
	f3 := funct3(w)
	type loader func(ex Executor, addr uint64) (uint64, *faults.Fault)
	var ld loader
	var mnemonic string
	switch f3 {
	case 0x0:
		ld, mnemonic = func(ex Executor, addr uint64) (uint64, *faults.Fault) {
			v, err := memory.Read[uint8](ex.Mem(), addr)
			return xlen.SignExtend(uint64(v), 8), err
		}, "lb"
	case 0x1:
		ld, mnemonic = func(ex Executor, addr uint64) (uint64, *faults.Fault) {
			v, err := memory.Read[uint16](ex.Mem(), addr)
			return xlen.SignExtend(uint64(v), 16), err
		}, "lh"
	case 0x2:
		ld, mnemonic = func(ex Executor, addr uint64) (uint64, *faults.Fault) {
			v, err := memory.Read[uint32](ex.Mem(), addr)
			return xlen.SignExtend(uint64(v), 32), err
		}, "lw"
	case 0x3:
		ld, mnemonic = func(ex Executor, addr uint64) (uint64, *faults.Fault) {
			v, err := memory.Read[uint64](ex.Mem(), addr)
			return v, err
		}, "ld"
	case 0x4:
		ld, mnemonic = func(ex Executor, addr uint64) (uint64, *faults.Fault) {
			v, err := memory.Read[uint8](ex.Mem(), addr)
			return uint64(v), err
		}, "lbu"
	case 0x5:
		ld, mnemonic = func(ex Executor, addr uint64) (uint64, *faults.Fault) {
			v, err := memory.Read[uint16](ex.Mem(), addr)
			return uint64(v), err
		}, "lhu"
	case 0x6:
		ld, mnemonic = func(ex Executor, addr uint64) (uint64, *faults.Fault) {
			v, err := memory.Read[uint32](ex.Mem(), addr)
			return uint64(v), err
		}, "lwu"
	default:
		return Instruction{}
	}
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			addr := ex.Regs().GPR(rs1(raw)) + uint64(immI(raw))
			v, err := ld(ex, addr)
			if err != nil {
				return false, err
			}
			ex.Regs().SetGPR(rd(raw), v)
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s x%d, %d(x%d)", mnemonic, rd(raw), immI(raw), rs1(raw))
		},
	}
}

func decodeStore(w uint32) Instruction {
	f3 := funct3(w)
	type storer func(ex Executor, addr uint64, v uint64) *faults.Fault
	var st storer
	var mnemonic string
	switch f3 {
	case 0x0:
		st, mnemonic = func(ex Executor, addr, v uint64) *faults.Fault {
			return memory.Write[uint8](ex.Mem(), addr, uint8(v))
		}, "sb"
	case 0x1:
		st, mnemonic = func(ex Executor, addr, v uint64) *faults.Fault {
			return memory.Write[uint16](ex.Mem(), addr, uint16(v))
		}, "sh"
	case 0x2:
		st, mnemonic = func(ex Executor, addr, v uint64) *faults.Fault {
			return memory.Write[uint32](ex.Mem(), addr, uint32(v))
		}, "sw"
	case 0x3:
		st, mnemonic = func(ex Executor, addr, v uint64) *faults.Fault {
			return memory.Write[uint64](ex.Mem(), addr, v)
		}, "sd"
	default:
		return Instruction{}
	}
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			addr := ex.Regs().GPR(rs1(raw)) + uint64(immS(raw))
			return false, st(ex, addr, ex.Regs().GPR(rs2(raw)))
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s x%d, %d(x%d)", mnemonic, rs2(raw), immS(raw), rs1(raw))
		},
	}
}

// ---- register-immediate ALU ops -------------------------------------------

func decodeOpImm(w uint32) Instruction {
	f3 := funct3(w)
	f7 := funct7(w)
	var op func(a uint64, imm int64, w32 bool) uint64
	var mnemonic string
	switch f3 {
	case 0x0:
		op, mnemonic = func(a uint64, imm int64, _ bool) uint64 { return a + uint64(imm) }, "addi"
	case 0x2:
		op, mnemonic = func(a uint64, imm int64, _ bool) uint64 { return b2u(int64(a) < imm) }, "slti"
	case 0x3:
		op, mnemonic = func(a uint64, imm int64, _ bool) uint64 { return b2u(a < uint64(imm)) }, "sltiu"
	case 0x4:
		op, mnemonic = func(a uint64, imm int64, _ bool) uint64 { return a ^ uint64(imm) }, "xori"
	case 0x6:
		op, mnemonic = func(a uint64, imm int64, _ bool) uint64 { return a | uint64(imm) }, "ori"
	case 0x7:
		op, mnemonic = func(a uint64, imm int64, _ bool) uint64 { return a & uint64(imm) }, "andi"
	case 0x1:
		op, mnemonic = func(a uint64, imm int64, _ bool) uint64 { return a << (uint(imm) & 0x3f) }, "slli"
	case 0x5:
		if f7&0x20 != 0 {
			op, mnemonic = func(a uint64, imm int64, _ bool) uint64 { return uint64(int64(a) >> (uint(imm) & 0x3f)) }, "srai"
		} else {
			op, mnemonic = func(a uint64, imm int64, _ bool) uint64 { return a >> (uint(imm) & 0x3f) }, "srli"
		}
	default:
		return Instruction{}
	}
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			imm := immI(raw)
			if f3 == 1 || f3 == 5 {
				imm = int64(shamt(raw))
			}
			ex.Regs().SetGPR(rd(raw), op(ex.Regs().GPR(rs1(raw)), imm, false))
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s x%d, x%d, %d", mnemonic, rd(raw), rs1(raw), immI(raw))
		},
	}
}

func decodeOpImm32(w uint32) Instruction {
	f3 := funct3(w)
	f7 := funct7(w)
	var op func(a uint32, shamt uint32) uint32
	var mnemonic string
	switch f3 {
	case 0x0:
		return Instruction{
			Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
				v := uint32(ex.Regs().GPR(rs1(raw))) + uint32(immI(raw))
				ex.Regs().SetGPR(rd(raw), xlen.SignExtend32(v))
				return false, nil
			},
			Printer: func(ex Executor, raw uint32) string {
				return fmt.Sprintf("addiw x%d, x%d, %d", rd(raw), rs1(raw), immI(raw))
			},
		}
	case 0x1:
		op, mnemonic = func(a, sh uint32) uint32 { return a << (sh & 0x1f) }, "slliw"
	case 0x5:
		if f7&0x20 != 0 {
			op, mnemonic = func(a, sh uint32) uint32 { return uint32(int32(a) >> (sh & 0x1f)) }, "sraiw"
		} else {
			op, mnemonic = func(a, sh uint32) uint32 { return a >> (sh & 0x1f) }, "srliw"
		}
	default:
		return Instruction{}
	}
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) {
			v := op(uint32(ex.Regs().GPR(rs1(raw))), shamt(raw)&0x1f)
			ex.Regs().SetGPR(rd(raw), xlen.SignExtend32(v))
			return false, nil
		},
		Printer: func(ex Executor, raw uint32) string {
			return fmt.Sprintf("%s x%d, x%d, %d", mnemonic, rd(raw), rs1(raw), shamt(raw)&0x1f)
		},
	}
}

// ---- register-register ALU ops --------------------------------------------

func decodeOp(w uint32) Instruction {
	if funct7(w) == 0x01 {
		return decodeMUL(w)
	}
	f3, f7 := funct3(w), funct7(w)
	var op func(a, b uint64) uint64
	var mnemonic string
	switch {
	case f3 == 0x0 && f7 == 0x00:
		op, mnemonic = func(a, b uint64) uint64 { return a + b }, "add"
	case f3 == 0x0 && f7 == 0x20:
		op, mnemonic = func(a, b uint64) uint64 { return a - b }, "sub"
	case f3 == 0x1:
		op, mnemonic = func(a, b uint64) uint64 { return a << (b & 0x3f) }, "sll"
	case f3 == 0x2:
		op, mnemonic = func(a, b uint64) uint64 { return b2u(int64(a) < int64(b)) }, "slt"
	case f3 == 0x3:
		op, mnemonic = func(a, b uint64) uint64 { return b2u(a < b) }, "sltu"
	case f3 == 0x4:
		op, mnemonic = func(a, b uint64) uint64 { return a ^ b }, "xor"
	case f3 == 0x5 && f7 == 0x00:
		op, mnemonic = func(a, b uint64) uint64 { return a >> (b & 0x3f) }, "srl"
	case f3 == 0x5 && f7 == 0x20:
		op, mnemonic = func(a, b uint64) uint64 { return uint64(int64(a) >> (b & 0x3f)) }, "sra"
	case f3 == 0x6:
		op, mnemonic = func(a, b uint64) uint64 { return a | b }, "or"
	case f3 == 0x7:
		op, mnemonic = func(a, b uint64) uint64 { return a & b }, "and"
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

func decodeOp32(w uint32) Instruction {
	if funct7(w) == 0x01 {
		return decodeMUL32(w)
	}
	f3, f7 := funct3(w), funct7(w)
	var op func(a, b uint32) uint32
	var mnemonic string
	switch {
	case f3 == 0x0 && f7 == 0x00:
		op, mnemonic = func(a, b uint32) uint32 { return a + b }, "addw"
	case f3 == 0x0 && f7 == 0x20:
		op, mnemonic = func(a, b uint32) uint32 { return a - b }, "subw"
	case f3 == 0x1:
		op, mnemonic = func(a, b uint32) uint32 { return a << (b & 0x1f) }, "sllw"
	case f3 == 0x5 && f7 == 0x00:
		op, mnemonic = func(a, b uint32) uint32 { return a >> (b & 0x1f) }, "srlw"
	case f3 == 0x5 && f7 == 0x20:
		op, mnemonic = func(a, b uint32) uint32 { return uint32(int32(a) >> (b & 0x1f)) }, "sraw"
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

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// ---- fence / system --------------------------------------------------------

func decodeMiscMem(w uint32) Instruction {
	// FENCE / FENCE.I: no-ops for a single-hart-at-a-time interpreter;
	// acts as a scheduling point only, matching spec.md's "memory
	// accesses are sequentially consistent against that vCPU".
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) { return false, nil },
		Printer: func(ex Executor, raw uint32) string { return "fence" },
	}
}

// ECallTrap and EBreakTrap are sentinel faults the cpu package
// recognizes to route control to the syscall table / debugger rather
// than treating them as fatal.
var ECallTrap = faults.New(faults.MachineException, "ecall")
var EBreakTrap = faults.New(faults.MachineException, "ebreak")

func decodeSystem(w uint32) Instruction {
	if w == 0x00000073 {
		return Instruction{
			Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) { return false, ECallTrap },
			Printer: func(ex Executor, raw uint32) string { return "ecall" },
		}
	}
	if w == 0x00100073 {
		return Instruction{
			Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) { return false, EBreakTrap },
			Printer: func(ex Executor, raw uint32) string { return "ebreak" },
		}
	}
	// CSR instructions and other privileged SYSTEM-opcode forms are out
	// of scope (spec.md Non-goals: no supervisor state); treat as a
	// silent no-op so guest libc startup code that probes CSRs doesn't
	// abort the simulation outright.
	return Instruction{
		Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) { return false, nil },
		Printer: func(ex Executor, raw uint32) string { return "<system>" },
	}
}
