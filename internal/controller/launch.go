package controller

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"go.rustkcov.dev/rustkcov/internal/addrspace"
	"go.rustkcov.dev/rustkcov/internal/arch"
	"go.rustkcov.dev/rustkcov/internal/filter"
)

// preloadVar is the dynamic linker's preload environment variable on this
// platform. Only Linux is supported (spec.md §1 Non-goals); macOS's
// DYLD_INSERT_LIBRARIES is named in spec.md §6 but never exercised.
const preloadVar = "LD_PRELOAD"

// rendezvousVar is the fixed environment variable the agent reads to find
// its rendezvous socket (spec.md §4.1 "Startup", §6).
const rendezvousVar = "RUSKCOV_INJECT_SOCK"

// socketName is the rendezvous endpoint's fixed file name within the
// per-run temporary directory (spec.md §6).
const socketName = "rustkcov.sock"

// Options configures one Launch call.
type Options struct {
	// Binary is the path to the tracee executable.
	Binary string
	// Args are the tracee's own argv, excluding argv[0].
	Args []string
	// Inject lists injection-library paths to preload, joined with the
	// platform path-list separator (spec.md §6: "multiple values are
	// joined with the platform's library-path separator").
	Inject []string
	// Filter selects which source directories produce breakpoints.
	Filter *filter.Filter
	// Logger receives diagnostics; defaults to a stderr logger prefixed
	// "rustkcov: " if nil.
	Logger *log.Logger
}

// Launch creates the per-run temporary directory and rendezvous socket,
// exports the preload and rendezvous environment variables, and fork/execs
// the tracee under ptrace (spec.md §4.2 "Tracee launch").
//
// Attachment uses the teacher's own PTRACE_TRACEME-based idiom
// (SysProcAttr.Ptrace, reap the post-execve SIGTRAP, then
// PtraceSetOptions) rather than a literal PTRACE_SEIZE: both deliver the
// same outcome spec.md asks for — the tracee is observed before it runs
// any user code, with clone/fork/vfork trace-on enabled from that point
// on — and TRACEME is what golang.org/x/debug's own server and
// demo/ptrace-linux-amd64/main.go do via os/exec, whereas a true
// PTRACE_SEIZE attach needs the parent to win a race against an
// already-running child that this package's dependencies don't give us a
// way to stop first.
func Launch(opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "rustkcov: ", log.LstdFlags)
	}

	tempDir, err := os.MkdirTemp("", "rustkcov-")
	if err != nil {
		return nil, &StartupError{Op: "mkdir tempdir", Err: err}
	}

	sockPath := filepath.Join(tempDir, socketName)
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, &StartupError{Op: "bind rendezvous socket", Err: err}
	}

	c := newController(opts.Filter, arch.X86_64, logger)
	c.tempDir = tempDir
	c.sockPath = sockPath
	c.listener = listener

	env := append(os.Environ(),
		fmt.Sprintf("%s=%s", preloadVar, strings.Join(opts.Inject, string(os.PathListSeparator))),
		fmt.Sprintf("%s=%s", rendezvousVar, sockPath),
	)

	cmd := exec.Command(opts.Binary, opts.Args...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace:    true,
		Pdeathsig: syscall.SIGKILL,
	}

	if err := c.do(func() error { return cmd.Start() }); err != nil {
		listener.Close()
		os.RemoveAll(tempDir)
		return nil, &StartupError{Op: "spawn tracee", Err: err}
	}

	pid := cmd.Process.Pid
	c.proc = cmd.Process
	c.rootPid = pid

	// cmd.Start with SysProcAttr.Ptrace stops the child with SIGTRAP right
	// after execve, via PTRACE_TRACEME; reap that initial stop before
	// setting trace options so they are in effect from the first
	// instruction the tracee actually runs onward.
	if err := c.do(func() error {
		var status syscall.WaitStatus
		_, err := syscall.Wait4(pid, &status, 0, nil)
		return err
	}); err != nil {
		cmd.Process.Kill()
		listener.Close()
		os.RemoveAll(tempDir)
		return nil, &StartupError{Op: "wait for initial stop", Err: err}
	}

	traceOpts := syscall.PTRACE_O_TRACECLONE | syscall.PTRACE_O_TRACEFORK | syscall.PTRACE_O_TRACEVFORK | syscall.PTRACE_O_TRACEEXEC
	if err := c.do(func() error { return syscall.PtraceSetOptions(pid, traceOpts) }); err != nil {
		cmd.Process.Kill()
		listener.Close()
		os.RemoveAll(tempDir)
		return nil, &StartupError{Op: "ptrace set options", Err: err}
	}
	if err := c.do(func() error { return syscall.PtraceCont(pid, 0) }); err != nil {
		cmd.Process.Kill()
		listener.Close()
		os.RemoveAll(tempDir)
		return nil, &StartupError{Op: "ptrace cont", Err: err}
	}

	c.processes[pid] = addrspace.NewProcess(pid, nil, nil)
	return c, nil
}

// Close tears down the rendezvous listener and temporary directory. Safe
// to call once the tracee has exited (spec.md §6 "Persisted state: None").
func (c *Controller) Close() error {
	if c.listener != nil {
		c.listener.Close()
	}
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
	return c.closeErr
}
