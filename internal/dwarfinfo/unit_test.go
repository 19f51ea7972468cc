package dwarfinfo

import "testing"

func TestQueryPointInnermostFirst(t *testing.T) {
	entries := []funcEntry{
		{Low: 0x1000, High: 0x2000, Offset: 1, Depth: 0}, // outer function
		{Low: 0x1400, High: 0x1800, Offset: 2, Depth: 1}, // inlined call inside it
	}

	hits := queryPoint(entries, 0x1500)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d: %#v", len(hits), hits)
	}
	if hits[0].Offset != 2 || hits[1].Offset != 1 {
		t.Fatalf("expected innermost-first order (offset 2 then 1), got %#v", hits)
	}
}

func TestQueryPointOutsideRange(t *testing.T) {
	entries := []funcEntry{{Low: 0x1000, High: 0x2000, Offset: 1, Depth: 0}}
	if hits := queryPoint(entries, 0x3000); len(hits) != 0 {
		t.Fatalf("expected no hits outside any range, got %#v", hits)
	}
}

func TestUnitRangeClamping(t *testing.T) {
	// Mirrors symtab.rs's unit_ranges construction: overlapping unit
	// ranges are clamped so dispatch never double-assigns an address.
	// Drives the actual (*Object).unitRanges implementation rather than a
	// standalone copy of its clamp loop.
	o := &Object{
		units: []*unit{
			{lowpc: 0x1000, highpc: 0x2000},
			{lowpc: 0x1800, highpc: 0x2800}, // overlaps the first by 0x800
		},
	}

	rs, err := o.unitRanges()
	if err != nil {
		t.Fatalf("unitRanges: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("expected 2 ranges, got %d: %#v", len(rs), rs)
	}
	if rs[1].begin != 0x2000 {
		t.Fatalf("expected second range clamped to begin at 0x2000, got %#x", rs[1].begin)
	}
}

func TestUnitRangeClampingAppliesBias(t *testing.T) {
	o := &Object{
		Bias: 0x7f0000000000,
		units: []*unit{
			{lowpc: 0x1000, highpc: 0x2000},
		},
	}

	rs, err := o.unitRanges()
	if err != nil {
		t.Fatalf("unitRanges: %v", err)
	}
	if len(rs) != 1 || rs[0].begin != 0x7f0000001000 || rs[0].end != 0x7f0000002000 {
		t.Fatalf("expected bias-adjusted range, got %#v", rs)
	}
}
