package controller

import (
	"syscall"

	"go.rustkcov.dev/rustkcov/internal/addrspace"
)

// superviseLoop is the dedicated supervisor goroutine: it blocks in
// wait4(-1, ...) and dispatches every status change to handleWaitStatus,
// independently of the acceptor goroutine servicing the rendezvous
// listener (spec.md §4.2 "Supervision loop", §5). It returns once the root
// tracee has exited, or earlier if no tracee remains to wait for.
func (c *Controller) superviseLoop() error {
	for {
		var status syscall.WaitStatus
		var pid int
		err := c.do(func() error {
			var werr error
			pid, werr = syscall.Wait4(-1, &status, 0, nil)
			return werr
		})
		if err != nil {
			if err == syscall.ECHILD {
				return nil
			}
			return err
		}
		if done := c.handleWaitStatus(pid, status); done {
			return nil
		}
	}
}

// handleWaitStatus applies one wait-status event to the process table and
// reinjects or consumes the pending signal as appropriate. It reports
// whether the whole session is over (the root tracee exited).
func (c *Controller) handleWaitStatus(pid int, status syscall.WaitStatus) (sessionDone bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case status.Exited(), status.Signaled():
		delete(c.processes, pid)
		if pid == c.rootPid {
			return true
		}
		return false

	case status.Stopped():
		sig := status.StopSignal()
		cause := status.TrapCause()

		switch {
		case sig == syscall.SIGTRAP && (cause == syscall.PTRACE_EVENT_CLONE || cause == syscall.PTRACE_EVENT_FORK || cause == syscall.PTRACE_EVENT_VFORK):
			c.handleCloneEvent(pid, cause)

		case sig == syscall.SIGTRAP && cause == syscall.PTRACE_EVENT_EXEC:
			if p, ok := c.processes[pid]; ok {
				// The agent's post-exec initializer re-reports the new
				// object list over a fresh rendezvous connection, which
				// repopulates segments; Exec just drops the stale ones
				// and every breakpoint along with them (spec.md §4.4).
				p.Exec(nil)
			}
			c.continueTracee(pid, 0)

		case sig == syscall.SIGTRAP:
			// Breakpoint trap (or, absent one installed here, a stray
			// SIGTRAP): consumed rather than redelivered. The
			// post-breakpoint single-step/resume dance is out of scope
			// (spec.md §9 Open Question ii); the tracee is simply
			// allowed to continue.
			c.continueTracee(pid, 0)

		default:
			// Any other signal-delivery stop is re-injected so normal
			// signal semantics (SIGSEGV, SIGCHLD, ...) are preserved.
			c.continueTracee(pid, int(sig))
		}
		return false
	}

	return false
}

// handleCloneEvent registers the new kernel id a CLONE/FORK/VFORK
// ptrace-event stop reports, sharing the AddressSpace for a thread
// (CLONE) or copying it for a new process (FORK/VFORK), then resumes the
// parent (spec.md §4.2).
func (c *Controller) handleCloneEvent(parentPid int, cause int) {
	var msg uint64
	err := c.do(func() error {
		var gerr error
		msg, gerr = ptraceGetEventMsg(parentPid)
		return gerr
	})
	if err != nil {
		c.log.Printf("ptraceGetEventMsg(%d): %v", parentPid, err)
		c.continueTracee(parentPid, 0)
		return
	}
	newPid := int(msg)

	parent, ok := c.processes[parentPid]
	if !ok {
		c.continueTracee(parentPid, 0)
		return
	}

	if cause == syscall.PTRACE_EVENT_CLONE {
		c.processes[newPid] = addrspace.ForkThread(parent, newPid)
	} else {
		c.processes[newPid] = addrspace.ForkProcess(parent, newPid)
	}

	c.continueTracee(parentPid, 0)
}

func (c *Controller) continueTracee(pid int, signal int) {
	if err := c.do(func() error { return syscall.PtraceCont(pid, signal) }); err != nil {
		c.log.Printf("ptraceCont(%d): %v", pid, err)
	}
}
