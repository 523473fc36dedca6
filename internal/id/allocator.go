// Package id provides the low-level identity primitives shared by the
// engine's managers: a name<->uuid binding table, a free-list backed number
// allocator (used for ordinal group-member names), and a
// fixed-size ring cache (used by the screen manager).
package id

import "sort"

// Allocator hands out increasing integers and recycles released ones,
// mirroring a free-list over a bounded range. The zero value is not usable;
// construct with NewAllocator.
type Allocator struct {
	next      int
	max       int
	available map[int]struct{}
	active    map[int]struct{}
}

// NewAllocator returns an Allocator over [start, max). max is exclusive.
func NewAllocator(start, max int) *Allocator {
	return &Allocator{
		next:      start,
		max:       max,
		available: make(map[int]struct{}),
		active:    make(map[int]struct{}),
	}
}

// Allocate returns the smallest available released value, else the next
// unused value in range, else ok=false when the range is exhausted.
func (a *Allocator) Allocate() (value int, ok bool) {
	if len(a.available) > 0 {
		v := smallest(a.available)
		delete(a.available, v)
		a.active[v] = struct{}{}
		return v, true
	}
	if a.next < a.max {
		v := a.next
		a.next++
		a.active[v] = struct{}{}
		return v, true
	}
	return 0, false
}

// Release returns value to the free set if it was active. Releasing a value
// that isn't active is a no-op.
func (a *Allocator) Release(value int) {
	if _, ok := a.active[value]; ok {
		delete(a.active, value)
		a.available[value] = struct{}{}
	}
}

func smallest(set map[int]struct{}) int {
	values := make([]int, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Ints(values)
	return values[0]
}
