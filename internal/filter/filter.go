// Package filter implements the include/exclude directory filter that
// decides which source lines the debug-info reader turns into breakpoints
// (spec.md §3 "Filter", §4.3).
package filter

import "regexp"

// Filter holds two regex sets over directory strings. A directory is
// included if any Include pattern matches it, unless no Include pattern
// matches AND an Exclude pattern does — include wins on conflict, and
// absence from both sets means included (spec.md §4.3, §8).
type Filter struct {
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp
}

// Compile builds a Filter from raw regex source strings, as supplied via
// the --include-dir/--exclude-dir flags (spec.md §6). It returns the first
// compile error encountered, as regexp.Compile reported it (that error
// text quotes the offending pattern).
func Compile(include, exclude []string) (*Filter, error) {
	f := &Filter{}
	var err error
	if f.Include, err = compileAll(include); err != nil {
		return nil, err
	}
	if f.Exclude, err = compileAll(exclude); err != nil {
		return nil, err
	}
	return f, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Included reports whether dir passes the filter: included == (included by
// Include) OR NOT (excluded by Exclude). An empty Include set matches
// nothing, so with no Include patterns a directory is included exactly when
// no Exclude pattern matches it; with no patterns at all in either set,
// every directory is included.
func (f *Filter) Included(dir string) bool {
	if f.matches(f.Include, dir) {
		return true
	}
	return !f.matches(f.Exclude, dir)
}

func (f *Filter) matches(set []*regexp.Regexp, dir string) bool {
	for _, re := range set {
		if re.MatchString(dir) {
			return true
		}
	}
	return false
}
