// Command agent is built with -buildmode=c-shared and preloaded into the
// tracee via LD_PRELOAD (spec.md §4.1). It has no executable entry point of
// its own; everything it does runs from init() (the startup report) and
// from the exported dlopen interposer (the re-report after a dynamic
// load), exactly mirroring original_source/inject/src/lib.rs's
// #[ctor::ctor] init_send_phdrs and #[no_mangle] extern "C" fn dlopen.
//
// A buildmode=c-shared main package still requires a main function; it is
// never called; the real work happens before it would be.
package main

// #cgo LDFLAGS: -ldl
// #define _GNU_SOURCE
// #include <stdlib.h>
// #include <dlfcn.h>
//
// typedef void *(*dlopen_fn)(const char *, int);
//
// static void *call_real_dlopen(const char *filename, int flag) {
//   static dlopen_fn real;
//   if (!real) {
//     real = (dlopen_fn)dlsym(RTLD_NEXT, "dlopen");
//   }
//   if (!real) {
//     return NULL;
//   }
//   return real(filename, flag);
// }
import "C"

import (
	"bufio"
	"log"
	"net"
	"os"
	"sync"
	"unsafe"

	"go.rustkcov.dev/rustkcov/internal/wire"
)

const rendezvousVar = "RUSKCOV_INJECT_SOCK"

var logger = log.New(os.Stderr, "rustkcov-agent: ", 0)

// dialogMu serializes the agent's own channel use: the dlopen interposer
// may run on any user thread concurrently with a dialog already in
// flight on another, and each dialog dials its own fresh connection, so
// the only shared state to protect is "one dialog at a time" (spec.md §5
// "the agent must serialize its own channel use").
var dialogMu sync.Mutex

func init() {
	sendPhdrs()
}

// dlopen replaces the dynamic linker's dlopen entry point for the
// lifetime of the process. It always calls through to the real symbol
// first; only a successful load triggers a re-report (spec.md §4.1
// "Dynamic-load interception").
//
//export dlopen
func dlopen(filename *C.char, flag C.int) unsafe.Pointer {
	ret := C.call_real_dlopen(filename, flag)
	if ret != nil {
		sendPhdrs()
	}
	return ret
}

// sendPhdrs runs one full dialog: connect, send the current object
// snapshot, then service SetBreakpointsReq batches until the terminating
// empty one, exactly as original_source/inject/src/lib.rs's send_phdrs
// does synchronously on every call. Any rendezvous failure silently
// disables this call only; the agent does not retry on its own (spec.md
// §4.1 "Startup", §4.5 "Cancellation and timeouts").
func sendPhdrs() {
	dialogMu.Lock()
	defer dialogMu.Unlock()

	sockPath := os.Getenv(rendezvousVar)
	if sockPath == "" {
		return
	}

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	objs, err := gatherObjects()
	if err != nil {
		logger.Printf("gathering loaded objects: %v", err)
		return
	}

	if err := wire.WriteObjectInfos(w, objs); err != nil {
		logger.Printf("sending object snapshot: %v", err)
		return
	}

	for {
		req, err := wire.ReadSetBreakpointsReq(r)
		if err != nil {
			logger.Printf("reading breakpoint request: %v", err)
			return
		}
		if len(req.Addrs) == 0 {
			return
		}

		resp := setBreakpoints(req.Addrs)
		if err := wire.WriteSetBreakpointsResp(w, resp); err != nil {
			logger.Printf("sending breakpoint response: %v", err)
			return
		}
	}
}

func main() {}
