package controller

import "syscall"

// RegisterSet is the tagged register-set variant spec.md §9 asks for
// ("Abstract as a tagged variant {I386(regs), X86_64(regs)}; the OS
// returns the active variant based on the size written into the request
// descriptor. Callers branch on the tag."), grounded on
// original_source/ruskcov/src/ptrace_x86.rs. This build only ever
// populates the X86_64 arm, since 32-bit tracees under an amd64 kernel
// still report the full 64-bit register set via PTRACE_GETREGS.
type RegisterSet struct {
	Arch   string
	X86_64 syscall.PtraceRegs
}

// getRegisterSet reads the stopped tracee's general-purpose registers.
func getRegisterSet(pid int) (RegisterSet, error) {
	var regs syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(pid, &regs); err != nil {
		return RegisterSet{}, err
	}
	return RegisterSet{Arch: "x86_64", X86_64: regs}, nil
}

// PC returns the program counter recorded in the register set.
func (r RegisterSet) PC() uint64 { return r.X86_64.Rip }
