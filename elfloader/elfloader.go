/*
 * rvemu - ELF loader: header validation, PT_LOAD mapping, symbol table.
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

// Package elfloader maps a statically linked RISC-V ELF image into a
// memory.Memory. It wraps github.com/yalue/elf_reader narrowly: every
// call into the library is confined to this file, so the rest of the
// tree never sees its types directly, in the same spirit the teacher
// keeps device-specific wire formats out of emu/core.
package elfloader

import (
	"github.com/yalue/elf_reader"

	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
)

// Symbols maps exported names to their guest virtual address, serving
// Machine.AddressOf / vmcall's by-name lookup.
type Symbols map[string]uint64

// Image is a loaded ELF program: its entry point and resolved symbols.
// Memory is populated as a side effect of Load; Image itself holds no
// reference to the backing Memory so it stays valid across Fork.
type Image struct {
	Entry   uint64
	BSSEnd  uint64
	Symbols Symbols
	Is64Bit bool
}

const (
	etExec = 2
	etDyn  = 3

	emRISCV = 243

	ptLoad = 1

	pfExec  = 1
	pfWrite = 2
	pfRead  = 4

	shtSymtab = 2
)

// Load validates raw as a RISC-V ELF image, installs its PT_LOAD
// segments into mem, and returns the entry point plus resolved symbol
// table. allowDynamic permits ET_DYN images (position-independent);
// spec.md requires this be explicit since the ABI does not model a
// dynamic linker.
func Load(raw []byte, mem *memory.Memory, allowDynamic bool) (*Image, *faults.Fault) {
	ef, err := elf_reader.ParseELFFile(raw)
	if err != nil {
		return nil, faults.New(faults.InvalidProgram, "parse ELF: %v", err)
	}

	fileType, ftErr := ef.GetFileType()
	if ftErr != nil {
		return nil, faults.New(faults.InvalidProgram, "ELF file type: %v", ftErr)
	}
	if uint16(fileType) == etDyn && !allowDynamic {
		return nil, faults.New(faults.InvalidProgram, "dynamic/PIE ELF rejected (allowDynamic=false)")
	}
	if uint16(fileType) != etExec && uint16(fileType) != etDyn {
		return nil, faults.New(faults.InvalidProgram, "unsupported ELF file type %d", fileType)
	}

	arch, archErr := ef.GetArchitecture()
	if archErr != nil {
		return nil, faults.New(faults.InvalidProgram, "ELF architecture: %v", archErr)
	}
	if uint16(arch) != emRISCV {
		return nil, faults.New(faults.InvalidProgram, "ELF machine type %d is not RISC-V", arch)
	}

	img := &Image{
		Entry:   ef.GetEntryPoint(),
		Is64Bit: ef.Is64Bit(),
		Symbols: Symbols{},
	}

	if err := loadSegments(ef, mem, img); err != nil {
		return nil, err
	}
	if err := loadSymbols(ef, img); err != nil {
		return nil, err
	}
	return img, nil
}

func loadSegments(ef elf_reader.ELFFile, mem *memory.Memory, img *Image) *faults.Fault {
	count := ef.GetProgramHeaderCount()
	if count == 0 {
		return faults.New(faults.InvalidProgram, "ELF has no program headers")
	}
	loaded := false
	for i := uint16(0); i < count; i++ {
		kind, err := ef.GetProgramHeaderType(i)
		if err != nil {
			return faults.New(faults.InvalidProgram, "program header %d type: %v", i, err)
		}
		if uint32(kind) != ptLoad {
			continue
		}
		info, err := ef.GetProgramHeaderInfo(i)
		if err != nil {
			return faults.New(faults.InvalidProgram, "program header %d info: %v", i, err)
		}
		data, err := ef.GetProgramHeaderContent(i)
		if err != nil {
			return faults.New(faults.InvalidProgram, "program header %d content: %v", i, err)
		}
		if info.MemSize < uint64(len(data)) {
			return faults.New(faults.InvalidProgram, "segment %d: memsz smaller than filesz", i)
		}
		attr := memory.Attr{
			Read:      info.Flags&pfRead != 0,
			Write:     info.Flags&pfWrite != 0,
			Exec:      info.Flags&pfExec != 0,
			Cacheable: true,
		}
		if ferr := mem.InstallELFSegment(info.VAddr, data, int(info.MemSize), attr); ferr != nil {
			return ferr
		}
		if end := info.VAddr + info.MemSize; end > img.BSSEnd {
			img.BSSEnd = end
		}
		loaded = true
	}
	if !loaded {
		return faults.New(faults.InvalidProgram, "ELF has no PT_LOAD segments")
	}
	return nil
}

// loadSymbols consults SHT_SYMTAB sections for address_of support, per
// spec.md §4.6. A binary with no symbol table is still a valid load
// (AddressOf simply never resolves anything); only a malformed symbol
// table section is an error.
func loadSymbols(ef elf_reader.ELFFile, img *Image) *faults.Fault {
	count := ef.GetSectionCount()
	for i := uint16(0); i < count; i++ {
		kind, err := ef.GetSectionType(i)
		if err != nil {
			continue
		}
		if uint32(kind) != shtSymtab {
			continue
		}
		syms, err := ef.GetSymbols(i)
		if err != nil {
			return faults.New(faults.InvalidProgram, "symbol table section %d: %v", i, err)
		}
		for _, s := range syms {
			if s.Name == "" || s.Value == 0 {
				continue
			}
			img.Symbols[s.Name] = s.Value
		}
	}
	return nil
}

// AddressOf resolves a symbol name to its guest virtual address, the
// lookup half of spec.md's "records ... symbol table (for
// address_of(name))".
func (img *Image) AddressOf(name string) (uint64, bool) {
	addr, ok := img.Symbols[name]
	return addr, ok
}
