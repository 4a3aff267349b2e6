package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvemu/rvemu/xlen"
)

func TestDefaultIsRV64WithSaneInstructionBudget(t *testing.T) {
	cfg := Default()
	require.Equal(t, xlen.Width64, cfg.XLen())
	require.NotZero(t, cfg.DefaultMaxInstr)
	require.NotZero(t, cfg.StackSize)
	require.False(t, cfg.AllowNetwork)
	require.False(t, cfg.UseFlatArena)
}

func TestXLenResolvesRecognizedWidths(t *testing.T) {
	require.Equal(t, xlen.Width32, MachineConfig{Width: 32}.XLen())
	require.Equal(t, xlen.Width64, MachineConfig{Width: 64}.XLen())
	require.Equal(t, xlen.Width128, MachineConfig{Width: 128}.XLen())
	require.Equal(t, xlen.Width64, MachineConfig{Width: 0}.XLen())
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machine.toml")
	body := `
width = 32
stack_size = 65536
allow_network = true
allowed_open_paths = ["/tmp/guest"]
`
	require.Nil(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, xlen.Width32, cfg.XLen())
	require.Equal(t, uint64(65536), cfg.StackSize)
	require.True(t, cfg.AllowNetwork)
	require.Equal(t, []string{"/tmp/guest"}, cfg.AllowedOpenPaths)
	// Fields the file omits keep their Default() value.
	require.Equal(t, Default().DefaultMaxInstr, cfg.DefaultMaxInstr)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
