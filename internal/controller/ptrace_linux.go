package controller

import (
	"syscall"
	"unsafe"
)

// ptraceGetEventMsgRequest is PTRACE_GETEVENTMSG. The stdlib syscall
// package wraps the common ptrace requests (PtraceCont, PtraceGetRegs,
// PtraceSetOptions, ...) but not this one, so it is issued directly via
// SYS_PTRACE, the same escape hatch program/server/ptrace.go reaches for
// whenever the wrapped API falls short.
const ptraceGetEventMsgRequest = 0x4201

// ptraceGetEventMsg retrieves the new child pid that accompanies a
// PTRACE_EVENT_CLONE/FORK/VFORK stop (spec.md §4.2 "ptrace-event stop on
// clone/fork/vfork: register the new kernel id").
func ptraceGetEventMsg(pid int) (uint64, error) {
	var msg uint64
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, uintptr(ptraceGetEventMsgRequest), uintptr(pid), 0, uintptr(unsafe.Pointer(&msg)), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return msg, nil
}
