package addrspace

import "go.rustkcov.dev/rustkcov/internal/srcpath"

// Location is the symbolic identity of a breakpoint: the source line it
// corresponds to, plus the original instruction byte(s) it replaced once a
// breakpoint has actually been set there (spec.md §3 "Location"). Multiple
// Locations may share an address, since line-program rows can collide; the
// address is the key the AddressSpace maps on, not a field of Location
// itself.
type Location struct {
	Path srcpath.SrcPath
	Line uint32

	// Replaced holds the byte(s) the breakpoint opcode overwrote, filled
	// in once the controller has consumed the matching
	// SetBreakpointsResp entry. Empty until then.
	Replaced []byte
}

// NewLocation constructs a Location with no replaced byte recorded yet.
func NewLocation(path srcpath.SrcPath, line uint32) Location {
	return Location{Path: path, Line: line}
}
