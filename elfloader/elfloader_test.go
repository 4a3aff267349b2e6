package elfloader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
)

// elfOpts configures the hand-built ELF64 fixtures below. Every test in
// this file constructs its own raw byte image rather than shipping a
// compiled binary, since nothing in this tree can invoke a RISC-V
// toolchain to produce one.
type elfOpts struct {
	fileType           uint16
	machine            uint16
	noPhdrs            bool
	memSmallerThanFile bool
	vaddr              uint64
	code               []byte
}

const ehdrSize = 64
const phdrSize = 56

// buildELF64 assembles a minimal, single-PT_LOAD-segment ELF64 image:
// a 64-byte Ehdr immediately followed by one 56-byte Phdr, immediately
// followed by the segment's file contents. Good enough to exercise
// Load's header validation and segment-install path without a real
// linker.
func buildELF64(o elfOpts) []byte {
	phoff := uint64(ehdrSize)
	dataOff := phoff + phdrSize

	buf := make([]byte, dataOff+uint64(len(o.code)))

	// e_ident
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], o.fileType)
	le.PutUint16(buf[18:], o.machine)
	le.PutUint32(buf[20:], 1) // e_version
	le.PutUint64(buf[24:], o.vaddr) // e_entry
	le.PutUint64(buf[32:], phoff)   // e_phoff
	le.PutUint64(buf[40:], 0)       // e_shoff (no sections in these fixtures)
	le.PutUint32(buf[48:], 0)       // e_flags
	le.PutUint16(buf[52:], ehdrSize)
	le.PutUint16(buf[54:], phdrSize)
	if o.noPhdrs {
		le.PutUint16(buf[56:], 0) // e_phnum
	} else {
		le.PutUint16(buf[56:], 1)
	}
	le.PutUint16(buf[58:], 0) // e_shentsize
	le.PutUint16(buf[60:], 0) // e_shnum
	le.PutUint16(buf[62:], 0) // e_shstrndx

	if !o.noPhdrs {
		p := buf[phoff:]
		le.PutUint32(p[0:], ptLoad)
		le.PutUint32(p[4:], pfRead|pfExec)
		le.PutUint64(p[8:], dataOff)  // p_offset
		le.PutUint64(p[16:], o.vaddr) // p_vaddr
		le.PutUint64(p[24:], o.vaddr) // p_paddr
		filesz := uint64(len(o.code))
		memsz := filesz
		if o.memSmallerThanFile {
			memsz = filesz / 2
		}
		le.PutUint64(p[32:], filesz)
		le.PutUint64(p[40:], memsz)
		le.PutUint64(p[48:], 0x1000) // p_align
	}

	copy(buf[dataOff:], o.code)
	return buf
}

func validOpts() elfOpts {
	return elfOpts{
		fileType: etExec,
		machine:  emRISCV,
		vaddr:    0x10000,
		code:     []byte{0x13, 0x00, 0x00, 0x00, 0x73, 0x00, 0x00, 0x00}, // nop; ecall
	}
}

func TestLoadValidExecutableInstallsSegmentAndEntry(t *testing.T) {
	raw := buildELF64(validOpts())
	mem := memory.New()

	img, err := Load(raw, mem, false)
	require.Nil(t, err)
	require.Equal(t, uint64(0x10000), img.Entry)
	require.True(t, img.Is64Bit)
	require.Equal(t, uint64(0x10000+8), img.BSSEnd)

	word, rerr := memory.Read[uint32](mem, 0x10000)
	require.Nil(t, rerr)
	require.Equal(t, uint32(0x00000013), word)
}

func TestLoadRejectsWrongMachineType(t *testing.T) {
	o := validOpts()
	o.machine = 0x3e // EM_X86_64
	raw := buildELF64(o)

	_, err := Load(raw, memory.New(), false)
	require.NotNil(t, err)
	require.Equal(t, faults.InvalidProgram, err.Kind)
}

func TestLoadRejectsDynamicByDefault(t *testing.T) {
	o := validOpts()
	o.fileType = etDyn
	raw := buildELF64(o)

	_, err := Load(raw, memory.New(), false)
	require.NotNil(t, err)
	require.Equal(t, faults.InvalidProgram, err.Kind)
}

func TestLoadAllowsDynamicWhenPermitted(t *testing.T) {
	o := validOpts()
	o.fileType = etDyn
	raw := buildELF64(o)

	img, err := Load(raw, memory.New(), true)
	require.Nil(t, err)
	require.Equal(t, uint64(0x10000), img.Entry)
}

func TestLoadRejectsUnsupportedFileType(t *testing.T) {
	o := validOpts()
	o.fileType = 1 // ET_REL
	raw := buildELF64(o)

	_, err := Load(raw, memory.New(), false)
	require.NotNil(t, err)
	require.Equal(t, faults.InvalidProgram, err.Kind)
}

func TestLoadRejectsMissingProgramHeaders(t *testing.T) {
	o := validOpts()
	o.noPhdrs = true
	raw := buildELF64(o)

	_, err := Load(raw, memory.New(), false)
	require.NotNil(t, err)
	require.Equal(t, faults.InvalidProgram, err.Kind)
}

func TestLoadRejectsSegmentMemSizeSmallerThanFileSize(t *testing.T) {
	o := validOpts()
	o.memSmallerThanFile = true
	raw := buildELF64(o)

	_, err := Load(raw, memory.New(), false)
	require.NotNil(t, err)
	require.Equal(t, faults.InvalidProgram, err.Kind)
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	raw := buildELF64(validOpts())
	truncated := raw[:ehdrSize+phdrSize-4]

	_, err := Load(truncated, memory.New(), false)
	require.NotNil(t, err)
	require.Equal(t, faults.InvalidProgram, err.Kind)
}

func TestAddressOfMissesWhenNoSymtab(t *testing.T) {
	raw := buildELF64(validOpts())
	img, err := Load(raw, memory.New(), false)
	require.Nil(t, err)

	_, ok := img.AddressOf("main")
	require.False(t, ok)
}
