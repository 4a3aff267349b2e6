/*
 * rvemu - Serialize/deserialize: compact binary checkpoints.
 */

package machine

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
)

// checkpointMagic identifies the on-disk format version, per spec.md §6.
const checkpointMagic = 0x9c36ab9301aed873

// checkpointHeader mirrors spec.md §6's fixed header, written in a
// stable binary encoding so a checkpoint taken by one build can be read
// by another of the same header layout.
type checkpointHeader struct {
	Magic       uint64
	PageCount   uint64
	RegSize     uint64
	PageSize    uint64
	AttrSize    uint64
	Reserved    uint64
	Counter     uint64
	StartAddr   uint64
	StackAddr   uint64
	MmapAddr    uint64
	HeapAddr    uint64
	ExitAddr    uint64
	GPR         [32]uint64
	FPR         [32]uint64
	PC          uint64
	FCSR        uint32
	_           uint32 // padding to keep the header a multiple of 8 bytes
}

// attrBits packs memory.Attr into a single byte for the checkpoint.
func attrBits(a memory.Attr) byte {
	var b byte
	if a.Read {
		b |= 1 << 0
	}
	if a.Write {
		b |= 1 << 1
	}
	if a.Exec {
		b |= 1 << 2
	}
	if a.DontFork {
		b |= 1 << 3
	}
	if a.Cacheable {
		b |= 1 << 4
	}
	return b
}

func attrFromBits(b byte) memory.Attr {
	return memory.Attr{
		Read:      b&(1<<0) != 0,
		Write:     b&(1<<1) != 0,
		Exec:      b&(1<<2) != 0,
		DontFork:  b&(1<<3) != 0,
		Cacheable: b&(1<<4) != 0,
	}
}

// Serialize writes a checkpoint of this Machine's registers and owned
// pages to w, per spec.md §6. It is incompatible with the flat arena:
// an arena-backed Memory has no per-page ownership to walk.
func (m *Machine) Serialize(w io.Writer) *faults.Fault {
	if m.Mem.Arena() != nil {
		return faults.New(faults.FeatureDisabled, "serialize is incompatible with the flat arena")
	}

	var pageCount uint64
	m.Mem.EachOwnedPage(func(uint64, *memory.Page) { pageCount++ })

	regs := m.CPU.CloneRegs()
	hdr := checkpointHeader{
		Magic:     checkpointMagic,
		PageCount: pageCount,
		RegSize:   8 * (32 + 32 + 1),
		PageSize:  memory.PageSize,
		AttrSize:  1,
		Counter:   regs.Counter,
		StartAddr: m.Image.Entry,
		StackAddr: m.stackTop,
		MmapAddr:  m.State.MmapCursor(),
		HeapAddr:  m.State.BrkCursor(),
		ExitAddr:  exitSentinel,
		PC:        regs.PC(),
		FCSR:      regs.FCSR(),
	}
	for i := 0; i < 32; i++ {
		hdr.GPR[i] = regs.GPR(i)
		hdr.FPR[i] = regs.FPRBits(i)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &hdr); err != nil {
		return faults.New(faults.GeneralException, "serialize header: %v", err)
	}

	var writeErr error
	m.Mem.EachOwnedPage(func(pageno uint64, p *memory.Page) {
		if writeErr != nil {
			return
		}
		addr := pageno * memory.PageSize
		if err := binary.Write(bw, binary.LittleEndian, addr); err != nil {
			writeErr = err
			return
		}
		if _, err := bw.Write([]byte{attrBits(p.Attr)}); err != nil {
			writeErr = err
			return
		}
		if _, err := bw.Write(p.Data[:]); err != nil {
			writeErr = err
			return
		}
	})
	if writeErr != nil {
		return faults.New(faults.GeneralException, "serialize pages: %v", writeErr)
	}
	if err := bw.Flush(); err != nil {
		return faults.New(faults.GeneralException, "serialize flush: %v", err)
	}
	return nil
}

// Deserialize restores registers and the page map from a checkpoint
// produced by Serialize, against this Machine's already-loaded ELF
// image (the checkpoint carries every page the address space owns,
// code pages loaded from the ELF included, plus the register snapshot;
// shared and CoW pages are not in it).
func (m *Machine) Deserialize(r io.Reader) *faults.Fault {
	if m.Mem.Arena() != nil {
		return faults.New(faults.FeatureDisabled, "deserialize is incompatible with the flat arena")
	}

	var hdr checkpointHeader
	br := bufio.NewReader(r)
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return faults.New(faults.GeneralException, "deserialize header: %v", err)
	}
	if hdr.Magic != checkpointMagic {
		return faults.New(faults.InvalidProgram, "checkpoint magic mismatch")
	}
	if hdr.PageSize != memory.PageSize {
		return faults.New(faults.InvalidProgram, "checkpoint page size mismatch")
	}

	var regs = m.CPU.CloneRegs()
	for i := 0; i < 32; i++ {
		regs.SetGPR(i, hdr.GPR[i])
		regs.SetFPRBits(i, hdr.FPR[i])
	}
	regs.SetPC(hdr.PC)
	regs.SetFCSR(hdr.FCSR)
	regs.Counter = hdr.Counter
	m.CPU.SetRegs(regs)
	m.stackTop = hdr.StackAddr
	m.State.SetMmapCursor(hdr.MmapAddr)
	m.State.SetBrkCursor(hdr.HeapAddr)

	for i := uint64(0); i < hdr.PageCount; i++ {
		var addr uint64
		if err := binary.Read(br, binary.LittleEndian, &addr); err != nil {
			return faults.New(faults.GeneralException, "deserialize page addr: %v", err)
		}
		attrByte, err := br.ReadByte()
		if err != nil {
			return faults.New(faults.GeneralException, "deserialize page attr: %v", err)
		}
		var data [memory.PageSize]byte
		if _, err := io.ReadFull(br, data[:]); err != nil {
			return faults.New(faults.GeneralException, "deserialize page data: %v", err)
		}
		m.Mem.InstallPage(addr/memory.PageSize, attrFromBits(attrByte), data)
	}
	m.Mem.InvalidateResetCache()
	return nil
}
