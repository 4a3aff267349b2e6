package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaGuardPageUnreadable(t *testing.T) {
	a := NewArena(0x10000, 0x8000)
	_, err := a.ReadByte(0)
	require.NotNil(t, err)
}

func TestArenaWritableRegion(t *testing.T) {
	a := NewArena(0x10000, 0x8000)
	require.Nil(t, a.WriteByte(guardSize, 0x55))
	b, err := a.ReadByte(guardSize)
	require.Nil(t, err)
	require.Equal(t, byte(0x55), b)
}

func TestArenaCodeRegionNotWritable(t *testing.T) {
	a := NewArena(0x10000, 0x8000)
	err := a.WriteByte(0x9000, 1)
	require.NotNil(t, err)
}

func TestArenaFetchOnlyFromCodeRegion(t *testing.T) {
	a := NewArena(0x10000, 0x8000)
	_, err := a.FetchByte(guardSize)
	require.NotNil(t, err, "data region is not executable")

	a.buf[0x9000] = 0x13
	b, err := a.FetchByte(0x9000)
	require.Nil(t, err)
	require.Equal(t, byte(0x13), b)
}

func TestMemoryEnableArenaRoutesThrough(t *testing.T) {
	m := New()
	m.EnableArena(0x10000, 0x8000)
	require.Nil(t, m.WriteByte(guardSize, 9))
	b, err := m.ReadByte(guardSize)
	require.Nil(t, err)
	require.Equal(t, byte(9), b)
}
