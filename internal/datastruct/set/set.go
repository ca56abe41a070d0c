// Package set implements the unordered string-member set backing the
// Set data type (spec.md §3/§4.C). Members are plain Go strings
// (a set member is always treated as a string, never binary-arbitrary
// in the way a list/hash value is, matching spec.md §3's member type).
package set

import "math/rand"

// Set is a thin wrapper over a Go map, since a real member set has no
// order to preserve — unlike the teacher's set, which is grounded on
// the same map-backed idea but doesn't try to make iteration order
// look meaningful.
type Set struct {
	members map[string]struct{}
}

func Make(members ...string) *Set {
	s := &Set{members: make(map[string]struct{})}
	for _, m := range members {
		s.Add(m)
	}
	return s
}

// Add inserts member, returning 1 if it was newly added and 0 if it
// was already present (SADD's per-member return convention).
func (s *Set) Add(member string) int {
	if _, ok := s.members[member]; ok {
		return 0
	}
	s.members[member] = struct{}{}
	return 1
}

// Remove deletes member, returning 1 if it was present and 0 otherwise.
func (s *Set) Remove(member string) int {
	if _, ok := s.members[member]; !ok {
		return 0
	}
	delete(s.members, member)
	return 1
}

func (s *Set) Has(member string) bool {
	_, ok := s.members[member]
	return ok
}

func (s *Set) Len() int {
	return len(s.members)
}

// ToSlice returns the members in arbitrary order — Go map iteration
// order, which is intentionally randomized and not meant to be relied
// on by callers (mirrors real set semantics: members have no order).
func (s *Set) ToSlice() []string {
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	return out
}

// ForEach visits every member, stopping early if fn returns false.
func (s *Set) ForEach(fn func(member string) bool) {
	for m := range s.members {
		if !fn(m) {
			return
		}
	}
}

func (s *Set) Intersect(other *Set) *Set {
	result := Make()
	small, big := s, other
	if big.Len() < small.Len() {
		small, big = big, small
	}
	small.ForEach(func(m string) bool {
		if big.Has(m) {
			result.Add(m)
		}
		return true
	})
	return result
}

func (s *Set) Union(other *Set) *Set {
	result := Make()
	s.ForEach(func(m string) bool {
		result.Add(m)
		return true
	})
	other.ForEach(func(m string) bool {
		result.Add(m)
		return true
	})
	return result
}

func (s *Set) Diff(other *Set) *Set {
	result := Make()
	s.ForEach(func(m string) bool {
		if !other.Has(m) {
			result.Add(m)
		}
		return true
	})
	return result
}

// RandomMembers returns n members, possibly with duplicates, matching
// SRANDMEMBER's negative-count semantics.
func (s *Set) RandomMembers(n int) []string {
	if n <= 0 {
		return nil
	}
	all := s.ToSlice()
	if len(all) == 0 {
		return nil
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[rand.Intn(len(all))]
	}
	return out
}

// RandomDistinctMembers returns up to n distinct members (fewer than
// n if the set itself has fewer members), matching SRANDMEMBER's
// positive-count semantics; SPOP draws its single member through it.
func (s *Set) RandomDistinctMembers(n int) []string {
	all := s.ToSlice()
	if n > len(all) {
		n = len(all)
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:n]
}
