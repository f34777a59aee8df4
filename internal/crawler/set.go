package crawler

import "slices"

// Set is an unsynchronized string set. Shared instances are guarded by
// their owner.
type Set map[string]struct{}

// NewSet builds a set from items.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// Add inserts item and reports whether it was new.
func (s Set) Add(item string) bool {
	if _, ok := s[item]; ok {
		return false
	}
	s[item] = struct{}{}
	return true
}

// Has reports membership.
func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	slices.Sort(out)
	return out
}

// Minus returns the sorted members of s that are not in other.
func (s Set) Minus(other Set) []string {
	out := make([]string, 0, len(s))
	for item := range s {
		if !other.Has(item) {
			out = append(out, item)
		}
	}
	slices.Sort(out)
	return out
}
