package nativeheap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMallocSplitsAndTracksUsage(t *testing.T) {
	a := NewArena(0x1000, 0x100)

	p1 := a.Malloc(16)
	require.Equal(t, uint64(0x1000), p1)
	require.Equal(t, uint64(16), a.Size(p1))
	require.Equal(t, uint64(16), a.BytesUsed())
	require.Equal(t, uint64(0x100-16), a.BytesFree())
	require.Equal(t, 1, a.ChunksUsed())

	p2 := a.Malloc(32)
	require.NotEqual(t, p1, p2)
	require.Equal(t, uint64(32), a.Size(p2))
}

func TestMallocZeroReturnsZero(t *testing.T) {
	a := NewArena(0x1000, 0x100)
	require.Equal(t, uint64(0), a.Malloc(0))
}

func TestMallocExhaustionReturnsZero(t *testing.T) {
	a := NewArena(0x1000, 0x10)
	require.NotEqual(t, uint64(0), a.Malloc(16))
	require.Equal(t, uint64(0), a.Malloc(16))
}

func TestFreeCoalescesNeighbors(t *testing.T) {
	a := NewArena(0x1000, 0x40)
	p1 := a.Malloc(16)
	p2 := a.Malloc(16)
	p3 := a.Malloc(16)

	require.True(t, a.Free(p2))
	require.True(t, a.Free(p1))
	require.True(t, a.Free(p3))

	// Every chunk free and coalesced back into one region.
	require.Equal(t, uint64(0x40), a.BytesFree())
	require.Equal(t, uint64(0), a.BytesUsed())
	require.Equal(t, 0, a.ChunksUsed())

	whole := a.Malloc(0x40)
	require.Equal(t, uint64(0x1000), whole)
}

func TestFreeUnknownBaseReturnsFalse(t *testing.T) {
	a := NewArena(0x1000, 0x100)
	require.False(t, a.Free(0x2000))
}

func TestFreeDoubleFreeReturnsFalse(t *testing.T) {
	a := NewArena(0x1000, 0x100)
	p := a.Malloc(16)
	require.True(t, a.Free(p))
	require.False(t, a.Free(p))
}

func TestSizeOfFreeChunkIsZero(t *testing.T) {
	a := NewArena(0x1000, 0x100)
	p := a.Malloc(16)
	require.True(t, a.Free(p))
	require.Equal(t, uint64(0), a.Size(p))
}
