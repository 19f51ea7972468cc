package main

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mustAnonPages maps n pages of anonymous, read-write-executable memory,
// standing in for the tracee's own loaded code segments so setBreakpoints
// can be exercised without a real ELF image.
func mustAnonPages(t *testing.T, n int) ([]byte, uintptr) {
	t.Helper()
	size := n * 4096
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	t.Cleanup(func() { _ = unix.Munmap(b) })
	return b, uintptr(unsafe.Pointer(&b[0]))
}

func TestSetBreakpointsPatchesAndReportsOriginalBytes(t *testing.T) {
	page, base := mustAnonPages(t, 1)
	page[0x10] = 0x90
	page[0x20] = 0x91

	addrs := []uint64{uint64(base) + 0x10, uint64(base) + 0x20}
	resp := setBreakpoints(addrs)

	if len(resp.Set) != 2 {
		t.Fatalf("expected 2 breakpoints set, got %d", len(resp.Set))
	}
	want := map[uint64]byte{addrs[0]: 0x90, addrs[1]: 0x91}
	for _, s := range resp.Set {
		if len(s.Replaced) != 1 || s.Replaced[0] != want[s.Addr] {
			t.Fatalf("addr %#x: replaced = %v, want [%#x]", s.Addr, s.Replaced, want[s.Addr])
		}
	}

	if page[0x10] != 0xCC || page[0x20] != 0xCC {
		t.Fatalf("expected both addresses patched with int3, got %#x %#x", page[0x10], page[0x20])
	}
}

func TestSetBreakpointsSpansMultiplePages(t *testing.T) {
	pages, base := mustAnonPages(t, 3)

	addrs := []uint64{uint64(base) + 1, uint64(base) + 4096 + 1, uint64(base) + 2*4096 + 1}
	resp := setBreakpoints(addrs)

	if len(resp.Set) != 3 {
		t.Fatalf("expected 3 breakpoints set across pages, got %d", len(resp.Set))
	}
	if pages[1] != 0xCC || pages[4096+1] != 0xCC || pages[2*4096+1] != 0xCC {
		t.Fatalf("expected every page's address patched")
	}
}

func TestSetBreakpointsEmptyBatch(t *testing.T) {
	resp := setBreakpoints(nil)
	if len(resp.Set) != 0 {
		t.Fatalf("expected no breakpoints for an empty batch, got %d", len(resp.Set))
	}
}
