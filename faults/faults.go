// Package faults defines the structured error taxonomy shared by
// memory, cpu, syscalls, and machine. Spec.md §7 calls for "a single
// unwinding point" at the fetch loop; that only works if every
// subsystem raises the same typed error rather than inventing its own,
// so the kind lives in its own leaf package that the others depend on
// instead of on each other.
package faults

import "fmt"

// Kind enumerates the error taxonomy of §7.
type Kind int

const (
	IllegalOpcode Kind = iota
	MisalignedInstruction
	UnimplementedInstruction
	ProtectionFault
	ExecutionSpaceProtectionFault
	OutOfMemory
	InvalidProgram
	FeatureDisabled
	MachineTimeout
	MachineException
	GeneralException
	UnknownSyscall
)

func (k Kind) String() string {
	switch k {
	case IllegalOpcode:
		return "ILLEGAL_OPCODE"
	case MisalignedInstruction:
		return "MISALIGNED_INSTRUCTION"
	case UnimplementedInstruction:
		return "UNIMPLEMENTED_INSTRUCTION"
	case ProtectionFault:
		return "PROTECTION_FAULT"
	case ExecutionSpaceProtectionFault:
		return "EXECUTION_SPACE_PROTECTION_FAULT"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case InvalidProgram:
		return "INVALID_PROGRAM"
	case FeatureDisabled:
		return "FEATURE_DISABLED"
	case MachineTimeout:
		return "MACHINE_TIMEOUT"
	case MachineException:
		return "MACHINE_EXCEPTION"
	case GeneralException:
		return "GENERAL_EXCEPTION"
	case UnknownSyscall:
		return "UNKNOWN_SYSCALL"
	default:
		return "UNKNOWN_FAULT"
	}
}

// Fault is the structured error raised by instruction handlers, memory
// operations, and the syscall layer. It carries enough context
// (address/word, plus a free-form message) for an error callback at
// the C-ABI boundary to report something actionable.
type Fault struct {
	Kind    Kind
	Addr    uint64 // faulting address, when applicable
	Word    uint32 // faulting instruction word, when applicable
	Message string
}

func (e *Fault) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

// New builds a Fault with a formatted message.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithAddr attaches a faulting address.
func (e *Fault) WithAddr(addr uint64) *Fault {
	e.Addr = addr
	return e
}

// WithWord attaches a faulting instruction word.
func (e *Fault) WithWord(word uint32) *Fault {
	e.Word = word
	return e
}
