/*
 * rvemu - Optional TOML configuration for a Machine.
 */

// Package config loads optional machine tunables from a TOML file, in
// the spirit of the teacher's config/configparser but replacing its
// hand-rolled line grammar with github.com/BurntSushi/toml since the
// CLI that grammar served is out of scope here. A zero-value
// MachineConfig is a valid, fully-functional default; nothing in the
// library requires a config file to exist.
package config

import (
	"github.com/BurntSushi/toml"

	"github.com/rvemu/rvemu/xlen"
)

// MachineConfig is the set of tunables an embedder may want to control
// without recompiling: instruction fuel, address width, memory backing
// strategy, and the syscall layer's host-visibility gates.
type MachineConfig struct {
	Width            int    `toml:"width"`              // 32, 64, or 128
	DefaultMaxInstr  uint64 `toml:"default_max_instructions"`
	StackSize        uint64 `toml:"stack_size"`
	UseFlatArena     bool   `toml:"use_flat_arena"`
	ArenaSize        uint64 `toml:"arena_size"`
	ArenaROEnd       uint64 `toml:"arena_ro_end"`
	AllowDynamicELF  bool   `toml:"allow_dynamic_elf"`
	AllowNetwork     bool   `toml:"allow_network"`
	AllowedOpenPaths []string `toml:"allowed_open_paths"`
}

// Default returns the configuration a Machine is built with when no
// file is loaded.
func Default() MachineConfig {
	return MachineConfig{
		Width:           int(xlen.Width64),
		DefaultMaxInstr: 1 << 30,
		StackSize:       2 * 1024 * 1024,
	}
}

// Load reads and decodes a TOML configuration file, starting from
// Default so an incomplete file still yields sane values for the
// fields it omits.
func Load(path string) (MachineConfig, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return MachineConfig{}, err
	}
	return cfg, nil
}

// XLen returns the configured address width, defaulting to 64-bit
// for an unrecognized or zero value.
func (c MachineConfig) XLen() xlen.Width {
	switch c.Width {
	case 32:
		return xlen.Width32
	case 128:
		return xlen.Width128
	default:
		return xlen.Width64
	}
}
