package translation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvemu/rvemu/cpu"
)

func TestMatchForImageReturnsMappingsAndRunsInit(t *testing.T) {
	var reg Registry
	initialized := false

	reg.Register(Registration{
		ImageHash: 0xcafe,
		Mappings: []Mapping{{
			PC: 0x1000,
			Handler: func(c *cpu.CPU, counter, maxCounter, pc uint64) (uint64, uint64) {
				return counter + 1, maxCounter
			},
		}},
		Init: func(cb Callbacks) { initialized = true },
	})

	got := reg.MatchForImage(0xcafe, Callbacks{})
	require.True(t, initialized)
	require.Len(t, got, 1)
	require.Equal(t, uint64(0x1000), got[0].PC)

	newCounter, newMax := got[0].Handler(nil, 10, 100, 0x1000)
	require.Equal(t, uint64(11), newCounter)
	require.Equal(t, uint64(100), newMax)
}

func TestMatchForImageMissReturnsNil(t *testing.T) {
	var reg Registry
	reg.Register(Registration{ImageHash: 1})
	require.Nil(t, reg.MatchForImage(2, Callbacks{}))
}

func TestRegistryMatchesFirstRegisteredForHash(t *testing.T) {
	var reg Registry
	reg.Register(Registration{ImageHash: 5, Mappings: []Mapping{{PC: 1}}})
	reg.Register(Registration{ImageHash: 5, Mappings: []Mapping{{PC: 2}}})

	got := reg.MatchForImage(5, Callbacks{})
	require.Equal(t, uint64(1), got[0].PC)
}

func TestInitNotCalledWhenNil(t *testing.T) {
	var reg Registry
	reg.Register(Registration{ImageHash: 9, Mappings: []Mapping{{PC: 7}}})
	// Must not panic when Init is nil.
	got := reg.MatchForImage(9, Callbacks{})
	require.Equal(t, uint64(7), got[0].PC)
}
