package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmappedReadSeesZeroPage(t *testing.T) {
	m := New()
	b, err := m.ReadByte(0x1000)
	require.Nil(t, err)
	require.Equal(t, byte(0), b)
}

func TestWriteMaterializesPrivatePage(t *testing.T) {
	m := New()
	require.Nil(t, m.WriteByte(0x1000, 42))
	b, err := m.ReadByte(0x1000)
	require.Nil(t, err)
	require.Equal(t, byte(42), b)
}

func TestReadWriteGeneric(t *testing.T) {
	m := New()
	m.SetPageAttr(0x2000, PageSize, Attr{Read: true, Write: true, Cacheable: true})
	require.Nil(t, Write[uint64](m, 0x2000, 0x0102030405060708))
	v, err := Read[uint64](m, 0x2000)
	require.Nil(t, err)
	require.Equal(t, uint64(0x0102030405060708), v)
}

func TestProtectionFaultOnWriteToReadOnly(t *testing.T) {
	m := New()
	m.SetPageAttr(0x3000, PageSize, Attr{Read: true, Cacheable: true})
	err := m.WriteByte(0x3000, 1)
	require.NotNil(t, err)
}

func TestForkSharesCoWUntilWrite(t *testing.T) {
	parent := New()
	require.Nil(t, parent.WriteByte(0x4000, 7))
	child := parent.Fork()

	// Both see the same byte immediately after fork.
	pv, _ := parent.ReadByte(0x4000)
	cv, _ := child.ReadByte(0x4000)
	require.Equal(t, pv, cv)

	// A write in the child must not perturb the parent's page.
	require.Nil(t, child.WriteByte(0x4000, 99))
	pv, _ = parent.ReadByte(0x4000)
	cv, _ = child.ReadByte(0x4000)
	require.Equal(t, byte(7), pv)
	require.Equal(t, byte(99), cv)
}

func TestFreePagesUnmaps(t *testing.T) {
	m := New()
	require.Nil(t, m.WriteByte(0x5000, 1))
	m.FreePages(0x5000, PageSize)
	b, err := m.ReadByte(0x5000)
	require.Nil(t, err)
	require.Equal(t, byte(0), b) // back to the CoW zero page
}

func TestMemsetAndMemcpy(t *testing.T) {
	m := New()
	require.Nil(t, m.Memset(0x6000, 0xAB, 64))
	require.Nil(t, m.Memcpy(0x7000, 0x6000, 64))
	for i := uint64(0); i < 64; i++ {
		b, err := m.ReadByte(0x7000 + i)
		require.Nil(t, err)
		require.Equal(t, byte(0xAB), b)
	}
}

func TestMemstringStopsAtNUL(t *testing.T) {
	m := New()
	for i, c := range []byte("hi\x00garbage") {
		require.Nil(t, m.WriteByte(0x8000+uint64(i), c))
	}
	s, err := m.Memstring(0x8000, 64)
	require.Nil(t, err)
	require.Equal(t, "hi", s)
}

func TestEachOwnedPageSkipsCoWAndNonOwning(t *testing.T) {
	m := New()
	require.Nil(t, m.WriteByte(0x9000, 1)) // owned
	shared := newPage(Attr{Read: true, Cacheable: true})
	m.InstallSharedPage(pageNumber(0xA000), shared) // non-owning

	var seen []uint64
	m.EachOwnedPage(func(pn uint64, p *Page) { seen = append(seen, pn) })
	require.Equal(t, []uint64{pageNumber(0x9000)}, seen)
}

func TestInstallPageRoundTrip(t *testing.T) {
	m := New()
	var data [PageSize]byte
	data[0] = 0xFE
	m.InstallPage(pageNumber(0xB000), Attr{Read: true, Write: true, Cacheable: true}, data)
	b, err := m.ReadByte(0xB000)
	require.Nil(t, err)
	require.Equal(t, byte(0xFE), b)
}
