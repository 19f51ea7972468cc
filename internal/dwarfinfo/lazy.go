package dwarfinfo

import "sync"

// lazy computes a value exactly once and caches failures as well as
// successes, per spec.md §4.3 "Laziness": "Failures are cached too so
// repeated probes do not repeat work."
type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(compute func() (T, error)) (T, error) {
	l.once.Do(func() {
		l.val, l.err = compute()
	})
	return l.val, l.err
}
