/*
 * rvemu - Paged memory: page frames and attributes.
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

// Package memory implements the sparse paged guest address space: page
// frames with per-page attributes, copy-on-write sharing across forks,
// a direct-mapped read cache, and an optional flat-arena fast path. It
// mirrors the teacher's access-bit-per-page bookkeeping in emu/memory
// (there: a single flat array with a parallel key byte per 2KB frame)
// generalized into a page map keyed by page number, since a sparse
// 64-bit guest address space cannot be a flat array the way a 16MB
// mainframe's can.
package memory

const (
	// PageSize is the frame size in bytes.
	PageSize = 4096
	pageShift = 12
)

// Attr holds the protection and behavioral bits of one page.
type Attr struct {
	Read   bool
	Write  bool
	Exec   bool

	IsCoW      bool // shared, writer must copy out
	NonOwning  bool // data slice is externally managed; never freed here
	DontFork   bool // dropped from the child on fork
	Cacheable  bool // eligible for the read cache
}

// TrapFunc is invoked on an access to a trap page. mode is "r" or "w".
type TrapFunc func(mode byte, offset int, value uint64)

// Page is one 4096-byte frame plus its attributes and optional trap
// callback.
type Page struct {
	Data [PageSize]byte
	Attr Attr
	Trap TrapFunc
}

// refPage wraps a *Page together with the sharing bookkeeping a CoW
// fork needs: multiple address spaces may point at the same *Page while
// it is marked IsCoW; the owned flag records whether this address space
// allocated it.
type refPage struct {
	page  *Page
	owned bool // this address space allocated the page (vs. installed shared/non-owning)
}

var guardPage = &Page{Attr: Attr{}} // never readable/writable/executable

// cowZeroPage is the shared, read-only page of zeros returned for any
// unmapped read. Writing through it (via createWritable) materializes a
// private copy; the shared page itself is never mutated.
var cowZeroPage = &Page{Attr: Attr{Read: true, IsCoW: true, Cacheable: true}}

func newPage(attr Attr) *Page {
	return &Page{Attr: attr}
}

// clone deep-copies a page's bytes for CoW materialization.
func (p *Page) clone() *Page {
	np := &Page{Attr: p.Attr}
	np.Attr.IsCoW = false
	np.Data = p.Data
	return np
}
