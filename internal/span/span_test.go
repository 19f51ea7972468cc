package span

import (
	"reflect"
	"sort"
	"testing"
)

// TestScenarios exercises the concrete scenarios from spec.md §8.
func TestScenarios(t *testing.T) {
	cases := []struct {
		name  string
		addrs []uint64
		want  []Span
	}{
		{
			name:  "basic",
			addrs: []uint64{100, 200, 300},
			want:  []Span{{Start: 0, Len: PageSize, Addrs: []uint64{100, 200, 300}}},
		},
		{
			name:  "sparse",
			addrs: []uint64{10000, 20000, 30000},
			want: []Span{
				{Start: 8192, Len: PageSize, Addrs: []uint64{10000}},
				{Start: 16384, Len: PageSize, Addrs: []uint64{20000}},
				{Start: 28672, Len: PageSize, Addrs: []uint64{30000}},
			},
		},
		{
			name:  "adjacent",
			addrs: []uint64{4000, 5000},
			want:  []Span{{Start: 0, Len: 2 * PageSize, Addrs: []uint64{4000, 5000}}},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Coalesce(c.addrs)
			if !reflect.DeepEqual(got, c.want) {
				t.Fatalf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestCoalesceEmpty(t *testing.T) {
	if got := Coalesce(nil); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

// FuzzCoalesceInvariants checks the invariants spec.md §8 calls out for any
// sorted address list: every address falls within exactly one span, spans
// are pairwise non-overlapping and strictly sorted by start, every span's
// start is page-aligned with a length that is a positive multiple of the
// page size, and the multiset of addresses is preserved.
func FuzzCoalesceInvariants(f *testing.F) {
	f.Add(uint64(100), uint64(200), uint64(300))
	f.Add(uint64(10000), uint64(20000), uint64(30000))
	f.Add(uint64(4000), uint64(5000), uint64(4000))
	f.Fuzz(func(t *testing.T, a, b, c uint64) {
		addrs := []uint64{a, b, c}
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

		spans := Coalesce(addrs)

		seen := make(map[uint64]int)
		for _, a := range addrs {
			seen[a]++
		}

		gotAddrs := make(map[uint64]int)
		for i, s := range spans {
			if s.Start%PageSize != 0 {
				t.Fatalf("span %d: start %d not page-aligned", i, s.Start)
			}
			if s.Len == 0 || s.Len%PageSize != 0 {
				t.Fatalf("span %d: len %d not a positive multiple of page size", i, s.Len)
			}
			if i > 0 && spans[i-1].Start+spans[i-1].Len > s.Start {
				t.Fatalf("span %d overlaps previous: prev=%+v cur=%+v", i, spans[i-1], s)
			}
			if i > 0 && spans[i-1].Start >= s.Start {
				t.Fatalf("spans not strictly sorted by start: prev=%+v cur=%+v", spans[i-1], s)
			}
			for _, addr := range s.Addrs {
				if addr < s.Start || addr >= s.Start+s.Len {
					t.Fatalf("addr %d outside its span %+v", addr, s)
				}
				gotAddrs[addr]++
			}
		}
		if !reflect.DeepEqual(seen, gotAddrs) {
			t.Fatalf("address multiset not preserved: got %v, want %v", gotAddrs, seen)
		}
	})
}
