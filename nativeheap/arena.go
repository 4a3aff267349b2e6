/*
 * rvemu - In-guest arena: host-side free-list metadata over a guest region.
 */

// Package nativeheap implements the free-list allocator spec.md §4.8
// calls the "in-guest arena": a malloc/calloc/realloc/free/meminfo
// family exposed to guest code via syscalls, with metadata kept
// host-side (so it costs nothing in guest memory) and chunk recycling
// on free, grounded on the original implementation's sas_alloc::Arena
// (original_source/emulator/include/native_heap.hpp) and wired the way
// the teacher's emu/device handler table dispatches by index.
package nativeheap

import "sort"

// chunk describes one allocated or free region of the arena, keyed by
// its base address. Free chunks are coalesced with adjacent neighbors
// on free; allocated chunks are split from a larger free chunk when one
// is bigger than requested.
type chunk struct {
	base uint64
	size uint64
	free bool
}

// Arena is a free-list allocator over [base, base+size) of guest
// address space. It never touches guest memory itself — callers
// (syscall handlers) use the addresses it returns to read/write/zero
// through memory.Memory.
type Arena struct {
	base   uint64
	end    uint64
	chunks []*chunk // kept sorted by base
}

// NewArena creates an allocator covering [base, base+size).
func NewArena(base, size uint64) *Arena {
	return &Arena{
		base:  base,
		end:   base + size,
		chunks: []*chunk{{base: base, size: size, free: true}},
	}
}

func (a *Arena) find(base uint64) int {
	return sort.Search(len(a.chunks), func(i int) bool { return a.chunks[i].base >= base })
}

// Malloc returns the base address of a free region of at least n
// bytes, or 0 if the arena has no sufficiently large free chunk. The
// chunk is split if larger than needed, leaving the remainder free.
func (a *Arena) Malloc(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	n = alignUp(n, 16)
	for i, c := range a.chunks {
		if !c.free || c.size < n {
			continue
		}
		if c.size > n {
			rem := &chunk{base: c.base + n, size: c.size - n, free: true}
			c.size = n
			a.chunks = append(a.chunks, nil)
			copy(a.chunks[i+2:], a.chunks[i+1:])
			a.chunks[i+1] = rem
		}
		c.free = false
		return c.base
	}
	return 0
}

// Size returns the size of the allocated chunk at base, or 0 if base
// is not a currently-allocated chunk.
func (a *Arena) Size(base uint64) uint64 {
	i := a.find(base)
	if i < len(a.chunks) && a.chunks[i].base == base && !a.chunks[i].free {
		return a.chunks[i].size
	}
	return 0
}

// Free releases the chunk at base, coalescing with free neighbors.
// Returns false if base was not an allocated chunk.
func (a *Arena) Free(base uint64) bool {
	i := a.find(base)
	if i >= len(a.chunks) || a.chunks[i].base != base || a.chunks[i].free {
		return false
	}
	a.chunks[i].free = true

	if i+1 < len(a.chunks) && a.chunks[i+1].free {
		a.chunks[i].size += a.chunks[i+1].size
		a.chunks = append(a.chunks[:i+1], a.chunks[i+2:]...)
	}
	if i > 0 && a.chunks[i-1].free {
		a.chunks[i-1].size += a.chunks[i].size
		a.chunks = append(a.chunks[:i], a.chunks[i+1:]...)
	}
	return true
}

// BytesFree, BytesUsed, and ChunksUsed report allocator statistics for
// the meminfo syscall.
func (a *Arena) BytesFree() uint64 {
	var n uint64
	for _, c := range a.chunks {
		if c.free {
			n += c.size
		}
	}
	return n
}

func (a *Arena) BytesUsed() uint64 {
	var n uint64
	for _, c := range a.chunks {
		if !c.free {
			n += c.size
		}
	}
	return n
}

func (a *Arena) ChunksUsed() int {
	n := 0
	for _, c := range a.chunks {
		if !c.free {
			n++
		}
	}
	return n
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Clone deep-copies the arena's free-list bookkeeping. Fork duplicates a
// Machine's native heap the same way Mem.Fork() duplicates pages and
// State.Clone() duplicates process state: the parent and child must be
// able to malloc/free independently afterward without touching each
// other's chunk list, even though the underlying guest bytes are still
// shared copy-on-write.
func (a *Arena) Clone() *Arena {
	c := &Arena{base: a.base, end: a.end, chunks: make([]*chunk, len(a.chunks))}
	for i, ch := range a.chunks {
		cp := *ch
		c.chunks[i] = &cp
	}
	return c
}
