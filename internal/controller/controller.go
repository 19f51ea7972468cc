// Package controller implements the supervising half of the
// breakpoint-placement pipeline: it spawns the tracee with the agent
// preloaded, accepts the agent's rendezvous connection, turns object
// reports into filtered breakpoint address lists via internal/dwarfinfo,
// drives internal/wire against the agent, and tracks every traced
// process's internal/addrspace.AddressSpace from ptrace wait-status events
// (spec.md §4.2).
//
// The concurrency shape is the teacher's: a dedicated OS thread owns every
// ptrace syscall, reached only through an unbuffered chan func() error
// (program/server/ptrace.go's ptraceRun), while a second, independent
// goroutine blocks in wait4 and feeds events back through the mutex-
// protected process table (spec.md §5).
package controller

import (
	"log"
	"net"
	"os"
	"runtime"
	"sync"

	"go.rustkcov.dev/rustkcov/internal/addrspace"
	"go.rustkcov.dev/rustkcov/internal/arch"
	"go.rustkcov.dev/rustkcov/internal/dwarfinfo"
	"go.rustkcov.dev/rustkcov/internal/filter"
)

// seenKey identifies one (tracee, object file) pair already parsed for
// debug info, per spec.md §4.2 "Deduplication".
type seenKey struct {
	pid  int
	path string
}

// Controller owns one tracing session: the spawned tracee, its rendezvous
// listener, and the shared state table the acceptor and supervisor
// goroutines both touch under mu.
type Controller struct {
	arch   arch.Architecture
	filter *filter.Filter
	log    *log.Logger

	fc chan func() error
	ec chan error

	mu        sync.Mutex
	processes map[int]*addrspace.Process
	seen      map[seenKey]bool
	objects   map[string]*dwarfinfo.Object

	tempDir  string
	sockPath string
	listener *net.UnixListener

	proc     *os.Process
	rootPid  int
	closeErr error
}

// newController allocates the shared state; Launch fills in the process
// and listener once both exist.
func newController(f *filter.Filter, a arch.Architecture, logger *log.Logger) *Controller {
	c := &Controller{
		arch:      a,
		filter:    f,
		log:       logger,
		fc:        make(chan func() error),
		ec:        make(chan error),
		processes: make(map[int]*addrspace.Process),
		seen:      make(map[seenKey]bool),
		objects:   make(map[string]*dwarfinfo.Object),
	}
	go ptraceRun(c.fc, c.ec)
	return c
}

// ptraceRun serializes every ptrace syscall onto one locked OS thread, per
// program/server/ptrace.go: Linux ptrace calls must be issued from the
// thread that attached, so every ptrace operation the controller performs
// is a closure sent over fc and its result received over ec.
func ptraceRun(fc chan func() error, ec chan error) {
	if cap(fc) != 0 || cap(ec) != 0 {
		panic("ptraceRun requires unbuffered channels")
	}
	runtime.LockOSThread()
	for f := range fc {
		ec <- f()
	}
}

// do runs f on the dedicated ptrace thread and returns its error.
func (c *Controller) do(f func() error) error {
	c.fc <- f
	return <-c.ec
}

// Run drives the session to completion: the acceptor loop and the
// supervisor loop run concurrently until the supervisor reports the root
// tracee has exited, at which point the listener is closed so the
// acceptor unwinds too. It returns the first error either loop reported.
func (c *Controller) Run() error {
	acceptErrc := make(chan error, 1)
	go func() { acceptErrc <- c.acceptLoop() }()

	superviseErr := c.superviseLoop()
	c.listener.Close()

	if acceptErr := <-acceptErrc; acceptErr != nil && superviseErr == nil {
		return acceptErr
	}
	return superviseErr
}

// debugInfoFor returns the cached *dwarfinfo.Object for path, opening and
// parsing it on first use (spec.md §4.2 "Deduplication": "the interned
// source-path table ensures no duplicate heap allocations").
func (c *Controller) debugInfoFor(path string, bias uint64) (*dwarfinfo.Object, error) {
	if obj, ok := c.objects[path]; ok {
		return obj, nil
	}
	obj, err := dwarfinfo.Open(path, bias)
	if err != nil {
		return nil, &DebugInfoError{Path: path, Err: err}
	}
	c.objects[path] = obj
	return obj, nil
}
