package decoder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/register"
	"github.com/rvemu/rvemu/xlen"
)

// harness is a minimal Executor for exercising handlers directly,
// without building a full cpu.CPU.
type harness struct {
	regs register.File
	mem  *memory.Memory
}

func newHarness() *harness {
	return &harness{mem: memory.New()}
}

func (h *harness) Regs() *register.File   { return &h.regs }
func (h *harness) Mem() *memory.Memory    { return h.mem }
func (h *harness) Width() xlen.Width      { return xlen.Width64 }

// encodeIType builds an I-type word: addi rd, rs1, imm
func encodeIType(opcode uint32, funct3, rd, rs1 int, imm int32) uint32 {
	return (uint32(imm)<<20)&0xfff00000 | uint32(rs1)<<15 | uint32(funct3)<<12 | uint32(rd)<<7 | opcode
}

func TestDecodeAddi(t *testing.T) {
	h := newHarness()
	h.regs.SetGPR(1, 10)
	word := encodeIType(opOpImm, 0, 2, 1, 5) // addi x2, x1, 5
	inst := Decode(word)
	require.Equal(t, 4, inst.Length)
	branched, err := inst.Handler(h, word)
	require.Nil(t, err)
	require.False(t, branched)
	require.Equal(t, uint64(15), h.regs.GPR(2))
}

func TestDecodeLUI(t *testing.T) {
	h := newHarness()
	word := (uint32(0x12345) << 12) | 1<<7 | opLui // lui x1, 0x12345
	inst := Decode(word)
	_, err := inst.Handler(h, word)
	require.Nil(t, err)
	require.Equal(t, uint64(0x12345000), h.regs.GPR(1))
}

func TestDecodeIllegalWord(t *testing.T) {
	inst := Decode(0) // the all-zero compressed word is defined illegal
	_, err := inst.Handler(nil, 0)
	require.NotNil(t, err)
	require.Equal(t, faults.IllegalOpcode, err.Kind)
}

func TestOnUnimplementedHookOverridesIllegal(t *testing.T) {
	defer func() { OnUnimplemented = nil }()
	called := false
	OnUnimplemented = func(raw uint32) (Instruction, bool) {
		called = true
		return Instruction{Handler: func(ex Executor, raw uint32) (bool, *faults.Fault) { return false, nil }, Length: 4}, true
	}
	_ = Decode(0)
	require.True(t, called)
}

func TestCompressedExpansionPreservesRawAndLength(t *testing.T) {
	// c.li x1, 5: quadrant 01, funct3 010
	// funct3(3 bits)=010, imm[5]=0, rd=1, imm[4:0]=5
	c := uint16(0b010_0_00001_00101_01)
	inst := Decode(uint32(c))
	require.Equal(t, 2, inst.Length)
	require.Equal(t, uint32(c), inst.Raw)
}
