// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package subst

import "sort"

// Set is a set of identifier names.
type Set map[string]struct{}

// NewSet returns a set holding names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set. A nil set is empty.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts name.
func (s Set) Add(name string) {
	s[name] = struct{}{}
}

// AddAll inserts every name of other.
func (s Set) AddAll(other Set) {
	for n := range other {
		s[n] = struct{}{}
	}
}

// Intersects reports whether s and other share a name.
func (s Set) Intersects(other Set) bool {
	small, big := s, other
	if len(small) > len(big) {
		small, big = big, small
	}
	for n := range small {
		if big.Has(n) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for n := range s {
		out[n] = struct{}{}
	}
	return out
}

// Sorted returns the names in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
