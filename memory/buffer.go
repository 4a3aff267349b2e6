/*
 * rvemu - Guest memory views: rvbuffer and iovec-style gather/scatter.
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

// Ported from original_source/lib/libriscv/util/buffer.hpp: a possibly
// non-contiguous view over guest memory that exposes whether it could
// be satisfied with zero copies, for syscalls (write, readv...) that
// would rather hand a host function one []byte than walk pages.
package memory

import "github.com/rvemu/rvemu/faults"

// Segment is one contiguous run of a Buffer, aliasing a page's backing
// array directly when possible.
type Segment struct {
	Data []byte
}

// Buffer is a possibly-non-contiguous view over [addr, addr+len) of
// guest memory.
type Buffer struct {
	Segments []Segment
}

// IsSequential reports whether the view is backed by a single
// contiguous run (so a zero-copy consumer can use Segments[0].Data
// directly).
func (b *Buffer) IsSequential() bool { return len(b.Segments) == 1 }

// Bytes materializes the view into a single contiguous slice, copying
// when it spans more than one segment.
func (b *Buffer) Bytes() []byte {
	if b.IsSequential() {
		return b.Segments[0].Data
	}
	total := 0
	for _, s := range b.Segments {
		total += len(s.Data)
	}
	out := make([]byte, 0, total)
	for _, s := range b.Segments {
		out = append(out, s.Data...)
	}
	return out
}

// RVBuffer constructs a view over [addr, addr+length) honoring maxLen
// as an upper bound (callers pass the syscall's own size limit so a
// guest can't force an unbounded gather). Read-only: it does not
// materialize unmapped pages.
func (m *Memory) RVBuffer(addr uint64, length, maxLen int) (*Buffer, *faults.Fault) {
	if length > maxLen {
		length = maxLen
	}
	if m.arena != nil {
		if raw := m.arena.Raw(addr, length); raw != nil {
			return &Buffer{Segments: []Segment{{Data: raw}}}, nil
		}
		return nil, faults.New(faults.ProtectionFault, "arena rvbuffer out of bounds").WithAddr(addr)
	}

	var segs []Segment
	remaining := length
	cur := addr
	for remaining > 0 {
		pageno := pageNumber(cur)
		off := pageOffset(cur)
		n := PageSize - off
		if n > remaining {
			n = remaining
		}
		p := m.lookup(pageno)
		if err := m.checkFault(cur, p.Attr, false); err != nil {
			return nil, err
		}
		segs = append(segs, Segment{Data: p.Data[off : off+n]})
		cur += uint64(n)
		remaining -= n
	}
	return &Buffer{Segments: segs}, nil
}

// GatherBuffers builds the iovec-like list of (host slice, length)
// pairs that syscalls with scatter/gather semantics (writev, readv)
// hand to the host.
func (m *Memory) GatherBuffers(addr uint64, length int) ([]Segment, *faults.Fault) {
	buf, err := m.RVBuffer(addr, length, length)
	if err != nil {
		return nil, err
	}
	return buf.Segments, nil
}
