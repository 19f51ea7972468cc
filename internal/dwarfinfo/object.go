// Package dwarfinfo reads the DWARF debug information of a loaded shared
// object or executable and turns it into the two products the controller
// needs: the set of (address, Location) pairs line-program rows resolve to
// after the configured Filter is applied, and a per-function interval
// index for frame lookups (spec.md §4.3 "Debug-info reader").
//
// Every compilation unit's heavy work — decoding its line program, walking
// its DIE tree — is deferred until first use and its result, success or
// failure, is cached (see lazy.go), since a process may load many shared
// objects whose debug info is never actually probed.
package dwarfinfo

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"os"
	"sort"

	"go.rustkcov.dev/rustkcov/internal/addrspace"
	"go.rustkcov.dev/rustkcov/internal/filter"
	"go.rustkcov.dev/rustkcov/internal/mapping"
)

// unitRange is one compilation unit's disjoint address range, used to
// dispatch a probe address to its owning unit without scanning every unit
// in the object (original_source/ruskcov/src/symtab.rs "unit_ranges").
type unitRange struct {
	begin, end uint64
	u          *unit
}

// Object is the debug info for one loaded object (an executable or shared
// library), addressed in the tracee's own virtual address space via Bias
// (spec.md §4.1 "Bias").
type Object struct {
	Path string
	Bias uint64

	elfFile *elf.File
	dwarf   *dwarf.Data

	// mappings keeps every memory mapping this Object's DWARF/line data
	// was read from (the primary object, and a separate debug-link file
	// when one was used) reachable for as long as the Object is, so their
	// finalizers never unmap memory still referenced by elfFile or dwarf.
	mappings []mapping.Mapping

	units  []*unit
	ranges []unitRange // never populated; unitRanges caches the list in ranged
	ranged lazy[[]unitRange]
}

// Open maps path, resolves its DWARF data (following a .gnu_debuglink to a
// separate debug file when present and CRC-valid; falling back silently to
// the primary object's own sections otherwise, per spec.md §4.3
// "Debug-link resolution"), and returns an Object ready for line/function
// queries. The returned Object keeps its memory mapping(s) alive for as
// long as it is reachable.
func Open(path string, bias uint64) (*Object, error) {
	primary, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dwarfinfo: open %s: %w", path, err)
	}
	defer primary.Close()

	primaryMap, err := mapping.Open(primary)
	if err != nil {
		return nil, fmt.Errorf("dwarfinfo: mmap %s: %w", path, err)
	}

	ef, err := elf.NewFile(newReaderAt(primaryMap.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("dwarfinfo: parse ELF %s: %w", path, err)
	}

	dw, debugMap, derr := loadDebugInfo(ef, path)
	if derr != nil {
		return nil, fmt.Errorf("dwarfinfo: %s: %w", path, derr)
	}

	obj := &Object{
		Path:     path,
		Bias:     bias,
		elfFile:  ef,
		dwarf:    dw,
		mappings: []mapping.Mapping{primaryMap},
	}
	if debugMap != (mapping.Mapping{}) {
		obj.mappings = append(obj.mappings, debugMap)
	}

	r := dw.Reader()
	for {
		die, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("dwarfinfo: %s: walking compile units: %w", path, err)
		}
		if die == nil {
			break
		}
		if die.Tag == dwarf.TagCompileUnit {
			obj.units = append(obj.units, newUnit(die))
			r.SkipChildren()
		}
	}

	return obj, nil
}

// loadDebugInfo resolves the compilation units' debug data, preferring a
// separate debug-link file over the primary object's own sections whenever
// the link is present and its CRC32 matches (spec.md §4.3). When a
// debug-link file was actually used, its mapping is returned so the caller
// can keep it reachable for as long as dw is in use. elf.File.DWARF already
// threads the object's .debug_line section into the returned dwarf.Data, so
// callers read line programs straight off dw via dwarf.Data.LineReader.
func loadDebugInfo(primary *elf.File, primaryPath string) (dw *dwarf.Data, debugMap mapping.Mapping, err error) {
	candidate := primary
	if name, crc, ok := debugLink(primary); ok {
		if f, ok := resolveDebugLink(primaryPath, name, crc); ok {
			m, merr := mapping.Open(f)
			f.Close()
			if merr == nil {
				if ef, eerr := elf.NewFile(newReaderAt(m.Bytes())); eerr == nil {
					candidate = ef
					debugMap = m
				}
			}
		}
	}

	dw, err = candidate.DWARF()
	if err != nil {
		if candidate != primary {
			// Separate debug file turned out unusable; fall back to the
			// primary object's own sections rather than failing outright.
			dw, err = primary.DWARF()
			debugMap = mapping.Mapping{}
		}
		if err != nil {
			return nil, mapping.Mapping{}, fmt.Errorf("no usable DWARF data: %w", err)
		}
	}

	return dw, debugMap, nil
}

// Locations returns every (runtime address, Location) pair this object's
// line programs resolve to once f has been applied, across every
// compilation unit (spec.md §4.3).
func (o *Object) Locations(f *filter.Filter) (map[uint64]addrspace.Location, error) {
	out := make(map[uint64]addrspace.Location)
	for _, u := range o.units {
		rows, err := u.parseLines(o.dwarf, o.Bias, f)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out[row.Addr] = row.Loc
		}
	}
	return out, nil
}

// unitRanges builds and caches the sorted, disjoint list of compilation
// unit address ranges used by FindFrames, clamping any range whose begin
// falls before the previous range's end forward so the list never
// overlaps, exactly mirroring the construction in
// original_source/ruskcov/src/symtab.rs.
func (o *Object) unitRanges() ([]unitRange, error) {
	return o.ranged.get(func() ([]unitRange, error) {
		var rs []unitRange
		for _, u := range o.units {
			if u.highpc == 0 || u.highpc <= u.lowpc {
				continue
			}
			rs = append(rs, unitRange{begin: u.lowpc + o.Bias, end: u.highpc + o.Bias, u: u})
		}
		sort.Slice(rs, func(i, j int) bool { return rs[i].begin < rs[j].begin })
		for i := 1; i < len(rs); i++ {
			if rs[i].begin < rs[i-1].end {
				rs[i].begin = rs[i-1].end
			}
		}
		return rs, nil
	})
}

// FindFrames returns the functions (spanning DW_TAG_subprogram and
// DW_TAG_inlined_subroutine DIEs) whose range contains probe, ordered
// innermost-first (spec.md §4.3). The placement pipeline itself does not
// consume this — it exists because the debug-info reader's original
// counterpart exposes it and a future caller may need frame context for a
// hit.
func (o *Object) FindFrames(probe uint64) ([]dwarf.Offset, error) {
	ranges, err := o.unitRanges()
	if err != nil {
		return nil, err
	}
	idx := sort.Search(len(ranges), func(i int) bool { return ranges[i].end > probe })
	if idx == len(ranges) || probe < ranges[idx].begin {
		return nil, nil
	}
	u := ranges[idx].u
	entries, err := u.parseFunctions(o.dwarf)
	if err != nil {
		return nil, err
	}
	hits := queryPoint(entries, probe-o.Bias)
	offs := make([]dwarf.Offset, len(hits))
	for i, h := range hits {
		offs[i] = h.Offset
	}
	return offs, nil
}

// readerAt adapts a []byte to io.ReaderAt without copying, for handing
// mapping-backed bytes to debug/elf.
type readerAt struct {
	b []byte
}

func newReaderAt(b []byte) *readerAt { return &readerAt{b: b} }

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.b)) {
		return 0, fmt.Errorf("readerAt: offset %d out of range", off)
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, fmt.Errorf("readerAt: short read at offset %d", off)
	}
	return n, nil
}
