package dwarfinfo

import (
	"debug/dwarf"
	"fmt"
	"io"
	"path"
	"sort"

	"go.rustkcov.dev/rustkcov/internal/addrspace"
	"go.rustkcov.dev/rustkcov/internal/filter"
	"go.rustkcov.dev/rustkcov/internal/srcpath"
)

// located pairs a (bias-adjusted) runtime address with the Location it
// should install a breakpoint at.
type located struct {
	Addr uint64
	Loc  addrspace.Location
}

// funcEntry is one entry in a compilation unit's function interval index:
// the address range of a DW_TAG_subprogram or DW_TAG_inlined_subroutine,
// tagged with its DIE offset and DFS depth (spec.md §4.3 "Function
// index").
type funcEntry struct {
	Low, High uint64
	Offset    dwarf.Offset
	Depth     int
}

// unit is one compilation unit: its raw DIE-derived metadata plus the
// lazily computed, cached line-program rows and function index.
type unit struct {
	die     *dwarf.Entry
	compDir string
	name    string
	lowpc   uint64
	highpc  uint64 // 0 means "unknown"; falls back to per-range dispatch only via funcs

	lines lazy[[]located]
	funcs lazy[[]funcEntry]
}

func attrString(e *dwarf.Entry, a dwarf.Attr) string {
	v, _ := e.Val(a).(string)
	return v
}

// attrUint64 normalizes the several integer encodings debug/dwarf may
// return for an attribute (int64, uint64, or Offset) into a uint64.
func attrUint64(e *dwarf.Entry, a dwarf.Attr) (uint64, bool) {
	switch v := e.Val(a).(type) {
	case uint64:
		return v, true
	case int64:
		return uint64(v), true
	case dwarf.Offset:
		return uint64(v), true
	default:
		return 0, false
	}
}

func newUnit(die *dwarf.Entry) *unit {
	lowpc, _ := attrUint64(die, dwarf.AttrLowpc)
	highpc, ok := attrUint64(die, dwarf.AttrHighpc)
	if ok && highpc < lowpc {
		// DWARF4 class-constant form: HighPC is an offset from LowPC.
		highpc += lowpc
	}
	compDir := attrString(die, dwarf.AttrCompDir)
	if compDir == "" {
		compDir = "."
	}
	return &unit{
		die:     die,
		compDir: compDir,
		name:    attrString(die, dwarf.AttrName),
		lowpc:   lowpc,
		highpc:  highpc,
	}
}

// parseLines computes and caches the filtered (address, Location) pairs
// for every is_stmt row of this unit's line program whose directory the
// Filter includes (spec.md §4.3 "Line-program interpretation"). The
// program itself is decoded by debug/dwarf's own LineReader, which
// already folds DWARF2-5's directory and file tables into each
// LineEntry's fully resolved File.Name.
func (u *unit) parseLines(d *dwarf.Data, bias uint64, f *filter.Filter) ([]located, error) {
	return u.lines.get(func() ([]located, error) {
		r, err := d.LineReader(u.die)
		if err != nil {
			return nil, fmt.Errorf("unit %q: %w", u.name, err)
		}
		if r == nil {
			return nil, nil
		}

		included := make(map[string]bool)

		var out []located
		var entry dwarf.LineEntry
		for {
			err := r.Next(&entry)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("unit %q: %w", u.name, err)
			}
			if entry.EndSequence || !entry.IsStmt || entry.File == nil {
				continue
			}

			dir := path.Dir(entry.File.Name)
			inc, ok := included[dir]
			if !ok {
				inc = f.Included(dir)
				included[dir] = inc
			}
			if !inc {
				continue
			}

			loc := srcpath.Intern(dir, path.Base(entry.File.Name))
			out = append(out, located{
				Addr: entry.Address + bias,
				Loc:  addrspace.NewLocation(loc, uint32(entry.Line)),
			})
		}
		return out, nil
	})
}

// parseFunctions walks this unit's DIE tree and caches the function
// interval index (spec.md §4.3 "Function index").
func (u *unit) parseFunctions(d *dwarf.Data) ([]funcEntry, error) {
	return u.funcs.get(func() ([]funcEntry, error) {
		r := d.Reader()
		r.Seek(u.die.Offset)
		root, err := r.Next()
		if err != nil {
			return nil, err
		}
		if root == nil {
			return nil, fmt.Errorf("unit %q: missing root DIE", u.name)
		}

		var entries []funcEntry
		depth := 0
		for {
			e, err := r.Next()
			if err != nil {
				return nil, err
			}
			if e == nil {
				break
			}
			if e.Tag == 0 {
				depth--
				if depth < 0 {
					break
				}
				continue
			}
			if e.Tag == dwarf.TagSubprogram || e.Tag == dwarf.TagInlinedSubroutine {
				low, lok := attrUint64(e, dwarf.AttrLowpc)
				high, hok := attrUint64(e, dwarf.AttrHighpc)
				if lok && hok && low != 0 {
					if high < low {
						high += low
					}
					entries = append(entries, funcEntry{Low: low, High: high, Offset: e.Offset, Depth: depth})
				}
			}
			if e.Children {
				depth++
			}
		}

		sort.Slice(entries, func(i, j int) bool { return entries[i].Low < entries[j].Low })
		return entries, nil
	})
}

// queryPoint returns every funcEntry whose range contains probe, ordered
// innermost-first (spec.md §4.3: "find_frames(probe) returns the set of
// functions whose ranges contain probe, ordered innermost-first").
func queryPoint(entries []funcEntry, probe uint64) []funcEntry {
	var hits []funcEntry
	for _, e := range entries {
		if probe >= e.Low && probe < e.High {
			hits = append(hits, e)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Depth > hits[j].Depth })
	return hits
}
