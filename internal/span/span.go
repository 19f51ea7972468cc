// Package span groups a sorted list of addresses into page-aligned ranges
// so the agent can bound the number of memory-protection system calls it
// issues while bulk-patching breakpoints (spec.md §4.1, Design Notes §9).
package span

// PageSize is the page granularity spans are aligned to. Linux/x86 uses a
// 4KiB page; spec.md §8's scenarios are all expressed in terms of it.
const PageSize = 4096

// Span is a contiguous, page-aligned address range covering one or more
// breakpoint addresses. Start is page-aligned and Len is a positive
// multiple of PageSize; every address in Addrs lies in [Start, Start+Len).
type Span struct {
	Start uint64
	Len   uint64
	Addrs []uint64
}

func newSpan(addr uint64) Span {
	start := addr &^ (PageSize - 1)
	return Span{Start: start, Len: PageSize, Addrs: []uint64{addr}}
}

// extend merges other into s if other's start falls within one page past
// s's current end, returning the merged span and true. Otherwise it returns
// s unchanged and false, signaling the caller to start a new span.
func (s Span) extend(other Span) (Span, bool) {
	if other.Start >= s.Start && other.Start < s.Start+s.Len+PageSize {
		addrs := make([]uint64, 0, len(s.Addrs)+len(other.Addrs))
		addrs = append(addrs, s.Addrs...)
		addrs = append(addrs, other.Addrs...)
		return Span{
			Start: s.Start,
			Len:   other.Start + other.Len - s.Start,
			Addrs: addrs,
		}, true
	}
	return s, false
}

// Coalesce groups a sorted, ascending list of addresses into the minimal
// sequence of non-overlapping, page-aligned Spans such that every address
// falls within exactly one Span and adjacent page-groups (spanning a page or
// less of slack) are merged into a single Span (spec.md §8 "span coalescing
// invariants").
//
// addrs must already be sorted ascending; Coalesce does not sort.
func Coalesce(addrs []uint64) []Span {
	if len(addrs) == 0 {
		return nil
	}
	spans := make([]Span, 0, len(addrs))
	cur := newSpan(addrs[0])
	for _, a := range addrs[1:] {
		next := newSpan(a)
		if merged, ok := cur.extend(next); ok {
			cur = merged
		} else {
			spans = append(spans, cur)
			cur = next
		}
	}
	spans = append(spans, cur)
	return spans
}
