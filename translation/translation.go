/*
 * rvemu - Binary translation registration interface.
 */

// Package translation defines the plug point spec.md §6 describes for
// an external binary-translation accelerator: a compiled shared object
// may publish a mapping from guest program-counter values to native
// handler functions, and the core, on load, matches the image hash and
// swaps matching decode slots for the translated handler. This package
// is the registration surface only; no JIT backend lives here, per
// spec.md's explicit "out of scope: the optional binary-translation
// backend (treated as a black-box accelerator)."
package translation

import (
	"github.com/rvemu/rvemu/cpu"
)

// Handler is a translated implementation of one or more guest
// instructions starting at PC. It receives the running counter and the
// fuel budget and returns updated values, mirroring spec.md §6's
// `(cpu, counter, max_counter, pc) -> (counter, max_counter)` contract;
// a handler that wants to stop early returns counter >= maxCounter.
type Handler func(c *cpu.CPU, counter, maxCounter uint64, pc uint64) (newCounter, newMaxCounter uint64)

// Mapping associates one guest PC with a translated Handler.
type Mapping struct {
	PC      uint64
	Handler Handler
}

// Callbacks is the published table a Handler may call back through
// rather than duplicating core logic: memory load/store, syscall
// dispatch, exception delivery, and sqrt (the one F/D operation worth
// accelerating natively per the original implementation).
type Callbacks struct {
	LoadWord  func(c *cpu.CPU, addr uint64) (uint32, error)
	StoreWord func(c *cpu.CPU, addr uint64, v uint32) error
	Syscall   func(c *cpu.CPU) error
	Raise     func(c *cpu.CPU, message string)
	Sqrt      func(float64) float64
}

// Registration is what an external translation unit hands to the core
// at load time: a hash identifying the guest image it was compiled
// against, the PC->handler mappings valid for that image, and an
// optional one-time init hook.
type Registration struct {
	ImageHash uint64
	Mappings  []Mapping
	Init      func(Callbacks)
}

// Registry collects translation units registered for possible use
// against a loaded image; spec.md models this as process-global state
// set once, "expected to be set once during initialization," like the
// decoder's unimplemented-instruction hook.
type Registry struct {
	units []Registration
}

// Register adds r to the registry. It does not validate the image hash
// against anything loaded yet; matching happens in MatchForImage.
func (reg *Registry) Register(r Registration) {
	reg.units = append(reg.units, r)
}

// MatchForImage returns the mappings (if any) registered against
// imageHash, invoking the unit's Init hook with cb the first time it is
// matched.
func (reg *Registry) MatchForImage(imageHash uint64, cb Callbacks) []Mapping {
	for _, u := range reg.units {
		if u.ImageHash == imageHash {
			if u.Init != nil {
				u.Init(cb)
			}
			return u.Mappings
		}
	}
	return nil
}

// DefaultRegistry is the process-wide registry machine.New consults
// when loading an image, mirroring decoder.OnUnimplemented: a hook
// "expected to be set once during initialization," here by whatever
// external translation unit links itself in via Register before any
// Machine is constructed.
var DefaultRegistry = &Registry{}
