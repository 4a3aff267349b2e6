package xlen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	require.Equal(t, 4, Width32.Bytes())
	require.Equal(t, 8, Width64.Bytes())
	require.Equal(t, 16, Width128.Bytes())
}

func TestString(t *testing.T) {
	require.Equal(t, "rv32", Width32.String())
	require.Equal(t, "rv64", Width64.String())
	require.Equal(t, "rv128", Width128.String())
	require.Equal(t, "rv?", Width(7).String())
}

func TestMaskTruncatesTo32Bits(t *testing.T) {
	require.Equal(t, uint64(0xffffffff), Width32.Mask(0xdeadbeefffffffff))
	require.Equal(t, uint64(0xdeadbeefffffffff), Width64.Mask(0xdeadbeefffffffff))
}

func TestSignExtend(t *testing.T) {
	// 12-bit immediate 0xfff is -1.
	require.Equal(t, uint64(0xffffffffffffffff), SignExtend(0xfff, 12))
	// 12-bit immediate 0x001 is 1.
	require.Equal(t, uint64(1), SignExtend(0x001, 12))
	require.Equal(t, uint64(0x1234), SignExtend(0x1234, 64))
}

func TestSignExtend32(t *testing.T) {
	require.Equal(t, uint64(0xffffffffffffffff), SignExtend32(0xffffffff))
	require.Equal(t, uint64(1), SignExtend32(1))
}
