package machine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvemu/rvemu/cpu"
	"github.com/rvemu/rvemu/elfloader"
	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/syscalls"
	"github.com/rvemu/rvemu/xlen"
)

const (
	testCodeBase = 0x10000
	testDataBase = 0x20000
	testStackTop = 0x30000
)

// encodeI builds an I-type word (addi/jalr/ecall-shaped encodings).
func encodeI(opcode uint32, funct3, rd, rs1 int, imm int32) uint32 {
	return (uint32(imm)<<20)&0xfff00000 | uint32(rs1)<<15 | uint32(funct3)<<12 | uint32(rd)<<7 | opcode
}

const (
	opOpImm   = 0x13
	opJalr    = 0x67
	wordEcall = 0x73
)

func addi(rd, rs1 int, imm int32) uint32 { return encodeI(opOpImm, 0, rd, rs1, imm) }
func ret() uint32                        { return encodeI(opJalr, 0, 0, 1, 0) } // jalr x0, 0(x1)

// newTestMachine builds a Machine directly over hand-assembled code,
// bypassing elfloader.Load so tests don't depend on a real ELF image.
func newTestMachine(t *testing.T, code []uint32) *Machine {
	t.Helper()
	mem := memory.New()
	mem.SetPageAttr(testDataBase, memory.PageSize, memory.Attr{Read: true, Write: true, Cacheable: true})
	mem.SetPageAttr(testStackTop-memory.PageSize, memory.PageSize, memory.Attr{Read: true, Write: true, Cacheable: true})
	for i, w := range code {
		require.Nil(t, memory.Write[uint32](mem, testCodeBase+uint64(i*4), w))
	}
	mem.SetPageAttr(testCodeBase, memory.PageSize, memory.Attr{Read: true, Exec: true, Cacheable: true})

	c := cpu.New(mem, xlen.Width64)
	c.Regs().SetPC(testCodeBase)
	c.Regs().SetGPR(2, testStackTop-16)

	table := syscalls.NewTable()
	st := syscalls.NewState(testDataBase + memory.PageSize)
	img := &elfloader.Image{
		Entry:   testCodeBase,
		Symbols: elfloader.Symbols{"hello": testCodeBase},
	}

	m := &Machine{
		CPU:      c,
		Mem:      mem,
		Image:    img,
		Syscalls: table,
		State:    st,
		Width:    xlen.Width64,
		stackTop: testStackTop,
	}
	c.ECallHandler = func(cc *cpu.CPU) *faults.Fault { return m.Syscalls.Dispatch(cc, m.State) }
	return m
}

// TestMinimalExit mirrors spec.md §8 scenario 1: li a0,666; li a7,1; ecall
// with syscall 1 installed as stop. simulate(10) must return 666 after
// exactly 3 retired instructions.
func TestMinimalExit(t *testing.T) {
	m := newTestMachine(t, []uint32{
		addi(10, 0, 666), // li a0, 666
		addi(17, 0, 1),   // li a7, 1
		wordEcall,
	})
	m.Syscalls.Register(1, func(c *cpu.CPU, st *syscalls.State) *faults.Fault {
		st.Stopped = true
		st.ExitCode = int(c.Regs().GPR(10))
		c.Stop()
		return nil
	})

	a0, err := m.Simulate(10)
	require.Nil(t, err)
	require.Equal(t, uint64(666), a0)
	require.Equal(t, uint64(3), m.CPU.Regs().Counter)
}

// TestTimeout mirrors spec.md §8 scenario 2: an unconditional self-jump
// must raise MACHINE_TIMEOUT once the fuel budget is exhausted, with the
// instruction counter landing exactly on the limit.
func TestTimeout(t *testing.T) {
	selfJump := uint32(0x0000006f) // jal x0, 0
	m := newTestMachine(t, []uint32{selfJump})

	_, err := m.Simulate(250)
	require.NotNil(t, err)
	require.Equal(t, faults.MachineTimeout, err.Kind)
	require.Equal(t, uint64(250), m.CPU.Regs().Counter)
}

// TestVMCallObservesExactBytes mirrors spec.md §8 scenario 4: vmcall into
// a guest function that issues a write() syscall, and checks the bytes
// the (captured) syscall handler received.
func TestVMCallObservesExactBytes(t *testing.T) {
	m := newTestMachine(t, []uint32{
		addi(17, 0, 64), // li a7, 64 (write) -- a0/a1/a2 come from vmcall's args
		wordEcall,
		ret(),
	})

	message := "Hello World!"
	for i, b := range []byte(message) {
		require.Nil(t, m.Mem.WriteByte(testDataBase+uint64(i), b))
	}

	var captured []byte
	m.Syscalls.Register(64, func(c *cpu.CPU, st *syscalls.State) *faults.Fault {
		addr, length := c.Regs().GPR(11), c.Regs().GPR(12)
		buf, ferr := c.Mem().RVBuffer(addr, int(length), int(length))
		if ferr != nil {
			return ferr
		}
		captured = append([]byte(nil), buf.Bytes()...)
		c.Regs().SetGPR(10, length)
		return nil
	})

	savedSP := m.CPU.Regs().GPR(2)
	result, err := m.VMCall("hello", 100, 1, testDataBase, uint64(len(message)))
	require.Nil(t, err)
	require.Equal(t, uint64(len(message)), result)
	require.Equal(t, message, string(captured))
	require.Equal(t, savedSP, m.CPU.Regs().GPR(2))
}

// TestForkDivergence mirrors spec.md §8 scenario 5: a child's writes must
// not be visible to the parent, and forking again from the original
// parent must still observe the parent's original value.
func TestForkDivergence(t *testing.T) {
	m := newTestMachine(t, []uint32{wordEcall})
	require.Nil(t, m.Mem.WriteByte(testDataBase, 1))

	child1 := m.Fork()
	require.Nil(t, child1.Mem.WriteByte(testDataBase, 0))

	v, err := m.Mem.ReadByte(testDataBase)
	require.Nil(t, err)
	require.Equal(t, byte(1), v)

	child2 := m.Fork()
	v, err = child2.Mem.ReadByte(testDataBase)
	require.Nil(t, err)
	require.Equal(t, byte(1), v)

	v, err = child1.Mem.ReadByte(testDataBase)
	require.Nil(t, err)
	require.Equal(t, byte(0), v)
}

// TestForkIndependentState checks that fork gives the child its own
// register snapshot and process state rather than aliasing the parent's.
func TestForkIndependentState(t *testing.T) {
	m := newTestMachine(t, []uint32{wordEcall})
	m.CPU.Regs().SetGPR(5, 42)

	child := m.Fork()
	child.CPU.Regs().SetGPR(5, 99)

	require.Equal(t, uint64(42), m.CPU.Regs().GPR(5))
	require.Equal(t, uint64(99), child.CPU.Regs().GPR(5))
}

// TestSerializeDeserializeRoundTrip mirrors spec.md §8's round-trip
// invariant: resuming a deserialized checkpoint produces the same A0 and
// instruction-count delta as continuing the original machine uninterrupted.
func TestSerializeDeserializeRoundTrip(t *testing.T) {
	code := []uint32{
		addi(10, 0, 5), // li a0, 5
		addi(10, 10, 1), // addi a0, a0, 1
		addi(10, 10, 1), // addi a0, a0, 1
	}

	m1 := newTestMachine(t, code)
	_, err := m1.Simulate(1)
	require.NotNil(t, err)
	require.Equal(t, faults.MachineTimeout, err.Kind)

	var buf bytes.Buffer
	require.Nil(t, m1.Serialize(&buf))

	m2 := newTestMachine(t, code)
	require.Nil(t, m2.Deserialize(bytes.NewReader(buf.Bytes())))

	a0Live, errLive := m1.Simulate(2)
	require.NotNil(t, errLive)
	require.Equal(t, faults.MachineTimeout, errLive.Kind)
	counterLive := m1.CPU.Regs().Counter

	a0Restored, errRestored := m2.Simulate(2)
	require.NotNil(t, errRestored)
	require.Equal(t, faults.MachineTimeout, errRestored.Kind)
	counterRestored := m2.CPU.Regs().Counter

	require.Equal(t, a0Live, a0Restored)
	require.Equal(t, counterLive, counterRestored)
}

// TestMultiprocessWaitReportsTimeouts checks the bitmask semantics: a
// worker that hits its instruction limit is marked. Both workers spin
// on a self-jump here, so both bits are set.
func TestMultiprocessWaitReportsTimeouts(t *testing.T) {
	selfJump := uint32(0x0000006f) // jal x0, 0 -- never exits
	m := newTestMachine(t, []uint32{selfJump})
	m.Syscalls.Register(1, func(c *cpu.CPU, st *syscalls.State) *faults.Fault {
		st.Stopped = true
		c.Stop()
		return nil
	})

	workers := m.Multiprocess(3, testStackTop, memory.PageSize)
	require.Len(t, workers, 2)

	mask := MultiprocessWait(workers, 10)
	require.Equal(t, uint64(0b11), mask)
}
