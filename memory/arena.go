/*
 * rvemu - Flat arena: contiguous-backing fast path for Memory.
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

package memory

import "github.com/rvemu/rvemu/faults"

// guardSize is the size of the unmapped guard region at address 0, per
// spec.md §4.3 ("Guard page at address 0").
const guardSize = 0x1000

// Arena is the alternative contiguous backing described in spec.md
// §4.3: a single byte buffer with three fixed regions. Ported from
// original_source/lib/libriscv/memory_helpers_flat.hpp, which lays the
// same three regions out over one allocation rather than a page map.
type Arena struct {
	buf   []byte
	roEnd uint64 // [guardSize, roEnd) is writable data; [roEnd, len(buf)) is read-only code
}

// NewArena allocates a flat arena of size bytes with the read-only
// region starting at roEnd.
func NewArena(size, roEnd uint64) *Arena {
	return &Arena{buf: make([]byte, size), roEnd: roEnd}
}

// End returns the size of the arena (the end of its address range).
func (a *Arena) End() uint64 { return uint64(len(a.buf)) }

func (a *Arena) inBounds(addr uint64, width int) bool {
	return addr >= guardSize && addr+uint64(width) <= uint64(len(a.buf))
}

func (a *Arena) writable(addr uint64, width int) bool {
	return a.inBounds(addr, width) && addr+uint64(width) <= a.roEnd
}

func (a *Arena) executable(addr uint64, width int) bool {
	return a.inBounds(addr, width) && addr >= a.roEnd
}

func (a *Arena) ReadByte(addr uint64) (byte, *faults.Fault) {
	if !a.inBounds(addr, 1) {
		return 0, faults.New(faults.ProtectionFault, "arena read out of bounds").WithAddr(addr)
	}
	return a.buf[addr], nil
}

func (a *Arena) WriteByte(addr uint64, v byte) *faults.Fault {
	if !a.writable(addr, 1) {
		return faults.New(faults.ProtectionFault, "arena write outside writable region").WithAddr(addr)
	}
	a.buf[addr] = v
	return nil
}

func (a *Arena) FetchByte(addr uint64) (byte, *faults.Fault) {
	if !a.executable(addr, 1) {
		return 0, faults.New(faults.ExecutionSpaceProtectionFault, "arena fetch outside code region").WithAddr(addr)
	}
	return a.buf[addr], nil
}

func (a *Arena) Memset(addr uint64, val byte, length int) *faults.Fault {
	if !a.writable(addr, length) {
		return faults.New(faults.ProtectionFault, "arena memset outside writable region").WithAddr(addr)
	}
	region := a.buf[addr : addr+uint64(length)]
	for i := range region {
		region[i] = val
	}
	return nil
}

// Raw exposes the backing slice for [addr, addr+length), when it lies
// within the arena's bounds, for zero-copy consumers. Region
// permissions are not checked. Returns nil when the range is out of
// bounds.
func (a *Arena) Raw(addr uint64, length int) []byte {
	if !a.inBounds(addr, length) {
		return nil
	}
	return a.buf[addr : addr+uint64(length)]
}
