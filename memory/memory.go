/*
 * rvemu - Paged memory: address space, CoW fork, read cache.
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

import (
	"github.com/rvemu/rvemu/faults"
)

// cacheSize is the number of direct-mapped slots in the read cache.
const cacheSize = 256

type cacheLine struct {
	valid  bool
	pageno uint64
	page   *Page
}

// Memory is one guest's paged address space. It is not goroutine-safe;
// a Machine's CPU and the Machine itself are expected to serialize
// access to it, per spec.md §5.
type Memory struct {
	pages map[uint64]*refPage
	cache [cacheSize]cacheLine

	arena *Arena // non-nil when the flat-arena backing is enabled

	trapPages map[uint64]bool // pageno -> has trap, defeats the read cache
}

// New returns an empty paged address space with the guard page (spec.md
// §3's "shared sentinel that is never readable/writable/executable")
// installed at page 0, so a null-pointer-style guest dereference faults
// instead of silently reading the CoW zero page.
func New() *Memory {
	m := &Memory{
		pages:     make(map[uint64]*refPage),
		trapPages: make(map[uint64]bool),
	}
	m.InstallSharedPage(0, guardPage)
	return m
}

func pageNumber(addr uint64) uint64 { return addr >> pageShift }
func pageOffset(addr uint64) int    { return int(addr & (PageSize - 1)) }

// EnableArena switches this address space to the flat-arena fast path.
// Per spec.md, trap pages and serialization are then unavailable.
func (m *Memory) EnableArena(size, roEnd uint64) {
	m.arena = NewArena(size, roEnd)
}

// Arena returns the flat arena backing, or nil if disabled.
func (m *Memory) Arena() *Arena { return m.arena }

// ---- page lookup -----------------------------------------------------

// lookup returns the page covering addr, or the CoW zero page if
// unmapped (read path) — callers that need write semantics must use
// createWritable instead.
func (m *Memory) lookup(pageno uint64) *Page {
	if line := &m.cache[pageno%cacheSize]; line.valid && line.pageno == pageno {
		return line.page
	}
	rp, ok := m.pages[pageno]
	var p *Page
	if !ok {
		p = cowZeroPage
	} else {
		p = rp.page
	}
	if p.Attr.Cacheable && !m.trapPages[pageno] {
		m.cache[pageno%cacheSize] = cacheLine{valid: true, pageno: pageno, page: p}
	}
	return p
}

// invalidateLine drops any cache entry for pageno; called whenever a
// page's identity or attributes change.
func (m *Memory) invalidateLine(pageno uint64) {
	if line := &m.cache[pageno%cacheSize]; line.valid && line.pageno == pageno {
		line.valid = false
	}
}

// InvalidateResetCache clears the entire read cache. Required after any
// bulk attribute change per spec.md §4.3.
func (m *Memory) InvalidateResetCache() {
	for i := range m.cache {
		m.cache[i].valid = false
	}
}

// createWritable returns a page at pageno guaranteed writable by this
// address space, materializing a private copy if the current page is
// CoW, or allocating a fresh page (inheriting attr) if unmapped.
func (m *Memory) createWritable(pageno uint64, attr Attr) *Page {
	rp, ok := m.pages[pageno]
	if !ok {
		p := newPage(attr)
		p.Attr.Write = true
		m.pages[pageno] = &refPage{page: p, owned: true}
		m.invalidateLine(pageno)
		return p
	}
	if rp.page.Attr.IsCoW {
		np := rp.page.clone()
		np.Attr.Write = true
		m.pages[pageno] = &refPage{page: np, owned: true}
		m.invalidateLine(pageno)
		return np
	}
	return rp.page
}

// CreateWritablePageno is the public form of createWritable used by
// syscalls (e.g. mmap) that must guarantee a writable page exists
// before the guest touches it.
func (m *Memory) CreateWritablePageno(pageno uint64) *Page {
	return m.createWritable(pageno, Attr{Read: true, Write: true, Cacheable: true})
}

// ---- byte-level access -------------------------------------------------

func (m *Memory) checkFault(addr uint64, attr Attr, write bool) *faults.Fault {
	if write {
		// A CoW page is writable by copy-out: createWritable materializes
		// the private copy.
		if !attr.Write && !attr.IsCoW {
			return faults.New(faults.ProtectionFault, "write without write permission").WithAddr(addr)
		}
		return nil
	}
	if !attr.Read {
		return faults.New(faults.ProtectionFault, "read without read permission").WithAddr(addr)
	}
	return nil
}

// ReadByte reads a single byte, materializing nothing (unmapped reads
// see the CoW zero page).
func (m *Memory) ReadByte(addr uint64) (byte, *faults.Fault) {
	if m.arena != nil {
		return m.arena.ReadByte(addr)
	}
	pageno := pageNumber(addr)
	p := m.lookup(pageno)
	if err := m.checkFault(addr, p.Attr, false); err != nil {
		return 0, err
	}
	v := p.Data[pageOffset(addr)]
	if p.Trap != nil {
		p.Trap('r', pageOffset(addr), uint64(v))
	}
	return v, nil
}

// WriteByte writes a single byte, materializing a private page if the
// current page is CoW or unmapped.
func (m *Memory) WriteByte(addr uint64, v byte) *faults.Fault {
	if m.arena != nil {
		return m.arena.WriteByte(addr, v)
	}
	pageno := pageNumber(addr)
	existing := m.lookup(pageno)
	if existing != cowZeroPage {
		if err := m.checkFault(addr, existing.Attr, true); err != nil {
			return err
		}
	}
	p := m.createWritable(pageno, Attr{Read: true, Write: true, Cacheable: true})
	p.Data[pageOffset(addr)] = v
	if p.Trap != nil {
		p.Trap('w', pageOffset(addr), uint64(v))
	}
	return nil
}

// fetchByte is ReadByte with exec-permission checking, used by the CPU
// to pull instruction bytes.
func (m *Memory) fetchByte(addr uint64) (byte, *faults.Fault) {
	if m.arena != nil {
		return m.arena.FetchByte(addr)
	}
	pageno := pageNumber(addr)
	p := m.lookup(pageno)
	if !p.Attr.Exec {
		return 0, faults.New(faults.ExecutionSpaceProtectionFault, "fetch from non-executable page").WithAddr(addr)
	}
	return p.Data[pageOffset(addr)], nil
}

// Read reads an N-byte little-endian value (N ∈ {1,2,4,8}). A
// misaligned access that crosses a page boundary falls back to the
// byte-wise path; one that stays within a page is read directly.
func Read[T uint8 | uint16 | uint32 | uint64](m *Memory, addr uint64) (T, *faults.Fault) {
	var width = sizeOf[T]()
	if m.arena == nil && fitsInPage(addr, width) {
		pageno := pageNumber(addr)
		p := m.lookup(pageno)
		if err := m.checkFault(addr, p.Attr, false); err != nil {
			return 0, err
		}
		off := pageOffset(addr)
		v := decodeLE[T](p.Data[off : off+width])
		if p.Trap != nil {
			p.Trap('r', off, uint64(v))
		}
		return v, nil
	}
	var buf [16]byte
	for i := 0; i < width; i++ {
		b, err := m.ReadByte(addr + uint64(i))
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	return decodeLE[T](buf[:width]), nil
}

// Write writes an N-byte little-endian value.
func Write[T uint8 | uint16 | uint32 | uint64](m *Memory, addr uint64, v T) *faults.Fault {
	width := sizeOf[T]()
	if m.arena == nil && fitsInPage(addr, width) {
		pageno := pageNumber(addr)
		existing := m.lookup(pageno)
		if existing != cowZeroPage {
			if err := m.checkFault(addr, existing.Attr, true); err != nil {
				return err
			}
		}
		p := m.createWritable(pageno, Attr{Read: true, Write: true, Cacheable: true})
		off := pageOffset(addr)
		encodeLE(p.Data[off:off+width], v)
		if p.Trap != nil {
			p.Trap('w', off, uint64(v))
		}
		return nil
	}
	var buf [16]byte
	encodeLE(buf[:width], v)
	for i := 0; i < width; i++ {
		if err := m.WriteByte(addr+uint64(i), buf[i]); err != nil {
			return err
		}
	}
	return nil
}

func fitsInPage(addr uint64, width int) bool {
	return pageOffset(addr)+width <= PageSize
}

func sizeOf[T uint8 | uint16 | uint32 | uint64]() int {
	var z T
	switch any(z).(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	case uint32:
		return 4
	default:
		return 8
	}
}

func decodeLE[T uint8 | uint16 | uint32 | uint64](b []byte) T {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}
	return T(v)
}

func encodeLE[T uint8 | uint16 | uint32 | uint64](b []byte, v T) {
	u := uint64(v)
	for i := range b {
		b[i] = byte(u)
		u >>= 8
	}
}

// FetchInstWord reads a 32-bit or 16-bit instruction word for decode,
// checking exec permission rather than read permission.
func (m *Memory) FetchInstWord(addr uint64, width int) (uint32, *faults.Fault) {
	var v uint32
	for i := 0; i < width; i++ {
		b, err := m.fetchByte(addr + uint64(i))
		if err != nil {
			return 0, err
		}
		v |= uint32(b) << (8 * i)
	}
	return v, nil
}

// ---- bulk operations ---------------------------------------------------

// Memset writes len copies of val starting at addr, page by page,
// materializing CoW pages as needed.
func (m *Memory) Memset(addr uint64, val byte, length int) *faults.Fault {
	if m.arena != nil {
		return m.arena.Memset(addr, val, length)
	}
	for length > 0 {
		pageno := pageNumber(addr)
		off := pageOffset(addr)
		n := PageSize - off
		if n > length {
			n = length
		}
		existing := m.lookup(pageno)
		if existing != cowZeroPage {
			if err := m.checkFault(addr, existing.Attr, true); err != nil {
				return err
			}
		}
		p := m.createWritable(pageno, Attr{Read: true, Write: true, Cacheable: true})
		for i := 0; i < n; i++ {
			p.Data[off+i] = val
		}
		addr += uint64(n)
		length -= n
	}
	return nil
}

// Memzero is Memset(addr, 0, len).
func (m *Memory) Memzero(addr uint64, length int) *faults.Fault {
	return m.Memset(addr, 0, length)
}

// Memcpy copies length bytes from src to dst within this address space,
// gathering/scattering across pages as needed.
func (m *Memory) Memcpy(dst, src uint64, length int) *faults.Fault {
	return m.MemcpyFrom(m, dst, src, length)
}

// MemcpyFrom copies length bytes from src (in another Machine's address
// space) into dst in this one — used by preempt/vmcall plumbing and by
// cross-machine syscalls.
func (m *Memory) MemcpyFrom(srcMem *Memory, dst, src uint64, length int) *faults.Fault {
	buf := make([]byte, length)
	for i := 0; i < length; i++ {
		b, err := srcMem.ReadByte(src + uint64(i))
		if err != nil {
			return err
		}
		buf[i] = b
	}
	for i, b := range buf {
		if err := m.WriteByte(dst+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

// Memstring reads a NUL-terminated string starting at addr, up to
// maxLen bytes. A string with no NUL within maxLen bytes is returned
// truncated to maxLen bytes without a fault. A fault is returned only
// when a byte before the terminator cannot be read; unmapped addresses
// read as zero and so end the string.
func (m *Memory) Memstring(addr uint64, maxLen int) (string, *faults.Fault) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		b, err := m.ReadByte(addr + uint64(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}

// ---- attributes / sharing ----------------------------------------------

// SetPageAttr changes the attributes of every page overlapping
// [addr, addr+length). Pages not yet mapped are created with the new
// attributes so that a subsequent read/write observes them immediately.
// A page this address space does not own outright (shared/non-owning,
// including the global guard and CoW zero pages) is replaced with a
// private copy rather than mutated in place, so the attribute change is
// visible only here and never leaks into another address space sharing
// the same underlying Page. Invalidates the read cache over the
// affected range per spec.md.
func (m *Memory) SetPageAttr(addr uint64, length int, attr Attr) {
	start := pageNumber(addr)
	end := pageNumber(addr + uint64(length) - 1)
	for pn := start; pn <= end; pn++ {
		rp, ok := m.pages[pn]
		switch {
		case !ok:
			p := newPage(attr)
			m.pages[pn] = &refPage{page: p, owned: true}
		case rp.owned && !rp.page.Attr.NonOwning && !rp.page.Attr.IsCoW:
			rp.page.Attr = attr
		default:
			np := rp.page.clone()
			np.Attr = attr
			m.pages[pn] = &refPage{page: np, owned: true}
		}
		m.invalidateLine(pn)
	}
}

// InstallSharedPage installs a non-owning page (e.g. ROdata shared
// across forks) at pageno.
func (m *Memory) InstallSharedPage(pageno uint64, page *Page) {
	page.Attr.NonOwning = true
	m.pages[pageno] = &refPage{page: page, owned: false}
	m.invalidateLine(pageno)
}

// InstallTrapPage installs fn as the trap callback for the page at
// pageno, defeating the read cache for it. fn is recorded only when a
// page is already mapped at pageno. With the flat arena enabled,
// accesses go to the arena and the callback is not invoked.
func (m *Memory) InstallTrapPage(pageno uint64, fn TrapFunc) {
	if rp, ok := m.pages[pageno]; ok {
		rp.page.Trap = fn
	}
	m.trapPages[pageno] = true
	m.invalidateLine(pageno)
}

// FreePages unmaps every page overlapping [addr, addr+length).
func (m *Memory) FreePages(addr uint64, length int) {
	start := pageNumber(addr)
	end := pageNumber(addr + uint64(length) - 1)
	for pn := start; pn <= end; pn++ {
		delete(m.pages, pn)
		delete(m.trapPages, pn)
		m.invalidateLine(pn)
	}
}

// Fork returns a child address space sharing this one's owned, writable
// pages as copy-on-write. Pages marked DontFork are dropped from the
// child. Both parent and child are flipped to IsCoW/non-writable so a
// write by either materializes a private copy (spec.md §4.3).
func (m *Memory) Fork() *Memory {
	child := New()
	for pn, rp := range m.pages {
		if rp.page.Attr.DontFork {
			continue
		}
		if rp.owned && rp.page.Attr.Write && !rp.page.Attr.NonOwning {
			rp.page.Attr.IsCoW = true
			rp.page.Attr.Write = false
		}
		child.pages[pn] = &refPage{page: rp.page, owned: rp.owned}
	}
	return child
}

// EachOwnedPage calls fn for every page this address space owns
// outright — excluding shared (non-owning) and copy-on-write pages,
// which spec.md's checkpoint format leaves unserialized since they are
// either externally managed or reconstructible from the parent/ELF
// image they were shared from.
func (m *Memory) EachOwnedPage(fn func(pageno uint64, p *Page)) {
	for pn, rp := range m.pages {
		if !rp.owned || rp.page.Attr.IsCoW || rp.page.Attr.NonOwning {
			continue
		}
		fn(pn, rp.page)
	}
}

// InstallPage installs an owned page with the given data and
// attributes at pageno, for deserialize's page-by-page restore.
func (m *Memory) InstallPage(pageno uint64, attr Attr, data [PageSize]byte) {
	p := &Page{Attr: attr, Data: data}
	m.pages[pageno] = &refPage{page: p, owned: true}
	m.invalidateLine(pageno)
}

// InstallELFSegment copies data into [vaddr, vaddr+len(data)) and zeros
// [vaddr+len(data), vaddr+memSize), applying attr to every page
// touched. Used by elfloader for PT_LOAD segments.
func (m *Memory) InstallELFSegment(vaddr uint64, data []byte, memSize int, attr Attr) *faults.Fault {
	if memSize < len(data) {
		memSize = len(data)
	}
	m.SetPageAttr(vaddr, memSize, Attr{Read: true, Write: true, Cacheable: attr.Cacheable})
	for i, b := range data {
		if err := m.WriteByte(vaddr+uint64(i), b); err != nil {
			return err
		}
	}
	if memSize > len(data) {
		if err := m.Memzero(vaddr+uint64(len(data)), memSize-len(data)); err != nil {
			return err
		}
	}
	m.SetPageAttr(vaddr, memSize, attr)
	return nil
}
