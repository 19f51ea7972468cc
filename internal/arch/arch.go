// Package arch contains architecture-specific definitions for the
// breakpoint-placement pipeline. Only 32/64-bit x86 is supported; other
// architectures are out of scope (spec.md §1 Non-goals).
package arch

// MaxBreakpointSize bounds the length of BreakpointInstr across every
// supported architecture.
const MaxBreakpointSize = 1

// Architecture holds the architecture-specific constants the controller and
// agent need to agree on: the trap instruction used for a breakpoint and its
// length.
type Architecture struct {
	// Name identifies the architecture for diagnostics.
	Name string
	// BreakpointSize is the length in bytes of BreakpointInstr.
	BreakpointSize int
	// BreakpointInstr is the opcode written in place of the original
	// instruction byte(s) to trap execution.
	BreakpointInstr [MaxBreakpointSize]byte
}

// X86_64 is the int3-based breakpoint used on amd64.
var X86_64 = Architecture{
	Name:            "x86_64",
	BreakpointSize:  1,
	BreakpointInstr: [MaxBreakpointSize]byte{0xCC},
}

// X86 is the int3-based breakpoint used on 32-bit x86.
var X86 = Architecture{
	Name:            "x86",
	BreakpointSize:  1,
	BreakpointInstr: [MaxBreakpointSize]byte{0xCC},
}

// Instr returns the breakpoint opcode sized to BreakpointSize.
func (a *Architecture) Instr() []byte {
	return a.BreakpointInstr[:a.BreakpointSize]
}
