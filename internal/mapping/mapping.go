// Package mapping provides zero-copy, reference-counted views over a
// memory-mapped object file, used by internal/dwarfinfo to expose DWARF
// sections as subslices of a single underlying mapping without copying
// section data (spec.md §4.3 "Zero-copy mapping", Design Notes §9).
//
// The design is grounded in original_source/ruskcov/src/mapped_slice.rs,
// which wraps memmap::Mmap in an Arc and hands out (start, end) views that
// keep the mapping alive for as long as any view survives. Here the
// reference count is Go's own garbage collector, driven by each View
// holding a pointer back to the shared holder; the holder's finalizer
// unmaps only once nothing references it.
package mapping

import (
	"os"
	"runtime"

	"github.com/edsrzf/mmap-go"
)

// holder owns the mmap.MMap handle. It is shared by every View derived
// from it and unmapped via a finalizer once no View keeps it alive.
type holder struct {
	m mmap.MMap
}

func newHolder(m mmap.MMap) *holder {
	h := &holder{m: m}
	runtime.SetFinalizer(h, func(h *holder) {
		_ = h.m.Unmap()
	})
	return h
}

// Mapping is a whole memory-mapped file. View carves out zero-copy
// subslices from it.
type Mapping struct {
	h *holder
}

// Open memory-maps f read-only and returns a Mapping covering the whole
// file.
func Open(f *os.File) (Mapping, error) {
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return Mapping{}, err
	}
	return Mapping{h: newHolder(m)}, nil
}

// Bytes returns the whole mapped file as a byte slice. The slice is only
// valid for as long as the Mapping (or any View derived from it) is
// reachable.
func (m Mapping) Bytes() []byte { return m.h.m }

// View is a zero-copy subslice of a Mapping. It clones the Mapping's
// holder so the backing mmap outlives every derived View, per Design
// Notes §9.
type View struct {
	h          *holder
	start, end int
}

// Sub returns the View [start:end) of m. It panics if the range is out of
// bounds, matching the panic-on-bad-bounds contract of the original
// MappedSlice::subslice.
func (m Mapping) Sub(start, end int) View {
	if start < 0 || end > len(m.h.m) || end < start {
		panic("mapping: bad bounds")
	}
	return View{h: m.h, start: start, end: end}
}

// Sub returns a nested zero-copy subslice of v, relative to v's own
// bounds.
func (v View) Sub(start, end int) View {
	if start < 0 || v.start+end > v.end || end < start {
		panic("mapping: bad bounds")
	}
	return View{h: v.h, start: v.start + start, end: v.start + end}
}

// Bytes returns the view's bytes. The returned slice shares storage with
// the underlying mapping and must not outlive it.
func (v View) Bytes() []byte {
	if v.h == nil {
		return nil
	}
	return v.h.m[v.start:v.end]
}

// Len reports the view's length in bytes.
func (v View) Len() int { return v.end - v.start }
