package dwarfinfo

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"testing"

	"go.rustkcov.dev/rustkcov/internal/filter"
)

// buildDebugLineV4 assembles a minimal DWARF v4 .debug_line program: one
// include directory, one file in it, and a sequence of two statement rows
// before ending the sequence.
func buildDebugLineV4() []byte {
	var header bytes.Buffer
	header.WriteByte(1)    // minimum_instruction_length
	header.WriteByte(1)    // maximum_operations_per_instruction (v4+)
	header.WriteByte(1)    // default_is_stmt
	header.WriteByte(0xfb) // line_base = -5
	header.WriteByte(14)   // line_range
	header.WriteByte(13)   // opcode_base
	header.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}) // standard_opcode_lengths[1..12]

	header.WriteString("srcdir")
	header.WriteByte(0)
	header.WriteByte(0) // terminate include_directories

	header.WriteString("main.c")
	header.WriteByte(0)
	header.WriteByte(1) // dir index 1 ("srcdir")
	header.WriteByte(0) // mtime
	header.WriteByte(0) // length
	header.WriteByte(0) // terminate file_names

	var prog bytes.Buffer
	prog.WriteByte(0) // extended opcode
	prog.WriteByte(9) // length
	prog.WriteByte(2) // DW_LNE_set_address
	addr := make([]byte, 8)
	binary.LittleEndian.PutUint64(addr, 0x1000)
	prog.Write(addr)
	prog.WriteByte(1) // DW_LNS_copy
	prog.WriteByte(3) // DW_LNS_advance_line
	prog.WriteByte(4)
	prog.WriteByte(2) // DW_LNS_advance_pc
	prog.WriteByte(8)
	prog.WriteByte(1) // DW_LNS_copy
	prog.WriteByte(0) // extended opcode
	prog.WriteByte(1)
	prog.WriteByte(1) // DW_LNE_end_sequence

	headerLength := uint32(header.Len())

	var unit bytes.Buffer
	binary.Write(&unit, binary.LittleEndian, uint16(4)) // version
	binary.Write(&unit, binary.LittleEndian, headerLength)
	unit.Write(header.Bytes())
	unit.Write(prog.Bytes())

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(unit.Len()))
	out.Write(unit.Bytes())
	return out.Bytes()
}

// buildCompileUnit assembles a one-DIE .debug_abbrev/.debug_info pair
// carrying the attributes newUnit and parseLines read off a real compile
// unit: name, comp_dir, low_pc, high_pc, stmt_list.
func buildCompileUnit(compDir, name string, lowpc, highpc uint64, stmtList uint32) (abbrev, info []byte) {
	abbrev = []byte{
		1,    // abbrev code
		0x11, // DW_TAG_compile_unit
		0,    // DW_CHILDREN_no
		0x03, 0x08, // DW_AT_name, DW_FORM_string
		0x1b, 0x08, // DW_AT_comp_dir, DW_FORM_string
		0x11, 0x01, // DW_AT_low_pc, DW_FORM_addr
		0x12, 0x01, // DW_AT_high_pc, DW_FORM_addr
		0x10, 0x06, // DW_AT_stmt_list, DW_FORM_data4
		0, 0, // end of attribute list
		0, // end of abbrev table
	}

	var die bytes.Buffer
	die.WriteByte(1) // abbrev code
	die.WriteString(name)
	die.WriteByte(0)
	die.WriteString(compDir)
	die.WriteByte(0)
	binary.Write(&die, binary.LittleEndian, lowpc)
	binary.Write(&die, binary.LittleEndian, highpc)
	binary.Write(&die, binary.LittleEndian, stmtList)

	var cu bytes.Buffer
	binary.Write(&cu, binary.LittleEndian, uint16(4)) // version
	binary.Write(&cu, binary.LittleEndian, uint32(0)) // abbrev_offset
	cu.WriteByte(8)                                   // address_size
	cu.Write(die.Bytes())

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(cu.Len()))
	out.Write(cu.Bytes())
	return abbrev, out.Bytes()
}

func compileUnitDIE(t *testing.T, d *dwarf.Data) *dwarf.Entry {
	t.Helper()
	die, err := d.Reader().Next()
	if err != nil {
		t.Fatalf("reading compile unit DIE: %v", err)
	}
	if die == nil {
		t.Fatalf("no compile unit DIE found")
	}
	return die
}

// TestParseLinesViaStdlibLineReader exercises parseLines against a real
// dwarf.Data built from hand-assembled .debug_abbrev/.debug_info/.debug_line
// sections, confirming the switch to dwarf.Data.LineReader still produces
// the filtered (address, Location) rows spec.md §4.3 requires.
func TestParseLinesViaStdlibLineReader(t *testing.T) {
	abbrev, info := buildCompileUnit("/comp", "main.c", 0x1000, 0x2000, 0)
	line := buildDebugLineV4()

	d, err := dwarf.New(abbrev, nil, nil, info, line, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}

	u := newUnit(compileUnitDIE(t, d))
	f, err := filter.Compile(nil, nil)
	if err != nil {
		t.Fatalf("filter.Compile: %v", err)
	}

	rows, err := u.parseLines(d, 0, f)
	if err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 statement rows, got %d: %#v", len(rows), rows)
	}
	if rows[0].Addr != 0x1000 || rows[0].Loc.Line != 1 {
		t.Fatalf("row0 = %#v", rows[0])
	}
	if rows[1].Addr != 0x1008 || rows[1].Loc.Line != 5 {
		t.Fatalf("row1 = %#v", rows[1])
	}
	if rows[0].Loc.Path.Dir.String() != "/comp/srcdir" || rows[0].Loc.Path.File.String() != "main.c" {
		t.Fatalf("row0 path = %q/%q", rows[0].Loc.Path.Dir.String(), rows[0].Loc.Path.File.String())
	}
}

// TestParseLinesExcludesFilteredDirectory exercises the Filter boundary: a
// directory the Filter excludes contributes no located rows even though the
// line program covers it.
func TestParseLinesExcludesFilteredDirectory(t *testing.T) {
	abbrev, info := buildCompileUnit("/comp", "main.c", 0x1000, 0x2000, 0)
	line := buildDebugLineV4()

	d, err := dwarf.New(abbrev, nil, nil, info, line, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}
	u := newUnit(compileUnitDIE(t, d))

	f, err := filter.Compile(nil, []string{"/comp/srcdir"})
	if err != nil {
		t.Fatalf("filter.Compile: %v", err)
	}

	rows, err := u.parseLines(d, 0, f)
	if err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected every row filtered out, got %d: %#v", len(rows), rows)
	}
}
