package register

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvemu/rvemu/xlen"
)

func TestGPRZeroHardwired(t *testing.T) {
	var f File
	f.SetGPR(0, 0xdeadbeef)
	require.Equal(t, uint64(0), f.GPR(0))
}

func TestGPRReadWrite(t *testing.T) {
	var f File
	f.SetGPR(5, 0x1234)
	require.Equal(t, uint64(0x1234), f.GPR(5))
	f.SetGPR(31, 0xffffffffffffffff)
	require.Equal(t, uint64(0xffffffffffffffff), f.GPR(31))
}

func TestF32NaNBoxing(t *testing.T) {
	var f File
	f.SetF32(1, 3.5)
	require.Equal(t, float32(3.5), f.F32(1))

	// An un-boxed 64-bit write corrupts the box; a subsequent F32 read
	// must report NaN rather than reinterpreting garbage bits.
	f.SetF64(2, 1.0)
	require.True(t, f.F32(2) != f.F32(2)) // NaN != NaN
}

func TestCloneIsIndependent(t *testing.T) {
	var f File
	f.SetGPR(1, 10)
	clone := f.Clone()
	f.SetGPR(1, 20)
	require.Equal(t, uint64(10), clone.GPR(1))
	require.Equal(t, uint64(20), f.GPR(1))
}

func TestMask32(t *testing.T) {
	require.Equal(t, uint64(0xffffffff), xlen.Width32.Mask(0xffffffffffffffff))
	require.Equal(t, uint64(0xffffffffffffffff), xlen.Width64.Mask(0xffffffffffffffff))
}
