package main

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"go.rustkcov.dev/rustkcov/internal/arch"
	"go.rustkcov.dev/rustkcov/internal/span"
	"go.rustkcov.dev/rustkcov/internal/wire"
)

// breakpointArch is fixed: the agent is only ever built for the
// architecture it is preloaded into, and this module targets
// linux/amd64 exclusively (spec.md §1 Non-goals).
var breakpointArch = arch.X86_64

// setBreakpoints patches every address with the architecture's trap
// instruction, one mprotect call per coalesced span rather than per
// address (spec.md §4.1, Design Notes §9 "Span"), and reports the bytes
// it replaced in the same order as addrs.
//
// A span whose mprotect(w) fails is skipped entirely and logged; every
// span that was made writable has its executability restored before
// setBreakpoints returns, on every path, since leaving code
// writable-but-not-executable is a hazard for the tracee's own next call
// into that page (spec.md §4.1 "Failure semantics"). The patch window
// grants write-only permission, never execute, so the page is never both
// writable and executable at once; x86_64 has no write-without-read PTE
// restriction, so patchOne's read-modify-write of the original bytes is
// unaffected.
func setBreakpoints(addrs []uint64) wire.SetBreakpointsResp {
	replaced := make(map[uint64]wire.BreakpointInstruction, len(addrs))

	for _, sp := range span.Coalesce(addrs) {
		page := addressRange(sp.Start, sp.Len)

		if err := unix.Mprotect(page, unix.PROT_WRITE); err != nil {
			logger.Printf("mprotect(w) %#x+%#x: %v", sp.Start, sp.Len, err)
			continue
		}

		for _, addr := range sp.Addrs {
			replaced[addr] = patchOne(addr)
		}

		if err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_EXEC); err != nil {
			logger.Printf("mprotect(restore exec) %#x+%#x: %v", sp.Start, sp.Len, err)
		}
	}

	resp := wire.SetBreakpointsResp{Set: make([]wire.BreakpointSet, 0, len(addrs))}
	for _, addr := range addrs {
		if orig, ok := replaced[addr]; ok {
			resp.Set = append(resp.Set, wire.BreakpointSet{Addr: addr, Replaced: orig})
		}
	}
	return resp
}

// patchOne overwrites the breakpoint opcode at addr and returns the bytes
// it replaced.
func patchOne(addr uint64) wire.BreakpointInstruction {
	mem := addressRange(addr, uint64(breakpointArch.BreakpointSize))
	orig := append(wire.BreakpointInstruction(nil), mem...)
	copy(mem, breakpointArch.Instr())
	return orig
}

// addressRange views length bytes starting at addr, an absolute address
// in this process's own memory, as a byte slice. The agent patches its
// own address space directly; it has no need for ptrace peek/poke, unlike
// the controller's read of a traced process's memory.
func addressRange(addr, length uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(length))
}
