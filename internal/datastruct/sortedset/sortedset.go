// Package sortedset implements the ZSet data type's backing store
// (spec.md §3/§4.C): a member->score map for O(1) lookup plus a
// skiplist ordered index for O(log n) rank/range operations, the same
// dual-structure design real Redis uses for ZSETs.
package sortedset

import (
	"github.com/nyxkv/corekv/internal/datastruct/skiplist"
)

// Element is one (member, score) pair, returned from rank/range
// queries.
type Element struct {
	Member string
	Score  float64
}

// SortedSet is the ZSET backing store.
type SortedSet struct {
	dict map[string]float64
	sl   *skiplist.SkipList
}

func Make() *SortedSet {
	return &SortedSet{
		dict: make(map[string]float64),
		sl:   skiplist.New(),
	}
}

func (s *SortedSet) Len() int64 {
	return int64(len(s.dict))
}

// Add inserts or updates member's score, returning true if member was
// newly added (ZADD's per-member "added" count).
func (s *SortedSet) Add(member string, score float64) bool {
	old, exists := s.dict[member]
	if exists {
		if old == score {
			return false
		}
		s.sl.Remove(member, old)
	}
	s.dict[member] = score
	s.sl.Insert(member, score)
	return !exists
}

func (s *SortedSet) Get(member string) (*Element, bool) {
	score, ok := s.dict[member]
	if !ok {
		return nil, false
	}
	return &Element{Member: member, Score: score}, true
}

func (s *SortedSet) Remove(member string) bool {
	score, ok := s.dict[member]
	if !ok {
		return false
	}
	delete(s.dict, member)
	s.sl.Remove(member, score)
	return true
}

// GetRank returns member's 0-based rank, ascending unless desc is
// true, or -1 if member isn't present.
func (s *SortedSet) GetRank(member string, desc bool) int64 {
	score, ok := s.dict[member]
	if !ok {
		return -1
	}
	rank := s.sl.GetRank(member, score)
	if rank < 0 {
		return -1
	}
	if desc {
		return s.Len() - rank - 1
	}
	return rank
}

// ForEach visits elements by rank in [start, stop) — stop is
// exclusive, matching the teacher's own ForEach contract — ascending
// unless desc is true.
func (s *SortedSet) ForEach(start, stop int64, desc bool, fn func(element *Element) bool) {
	size := s.Len()
	if start < 0 || start >= size {
		return
	}
	if stop > size {
		stop = size
	}

	var node *skiplist.Node
	if desc {
		node = s.sl.GetByRank(size - start - 1)
	} else {
		node = s.sl.GetByRank(start)
	}

	limit := stop - start
	s.sl.ForEach(node, desc, limit, func(n *skiplist.Node) bool {
		return fn(&Element{Member: n.Member, Score: n.Score})
	})
}

// Range returns a materialized slice over [start, stop).
func (s *SortedSet) Range(start, stop int64, desc bool) []*Element {
	var out []*Element
	s.ForEach(start, stop, desc, func(e *Element) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Count returns the number of members whose score falls within [min, max].
func (s *SortedSet) Count(min, max *ScoreBorder) int64 {
	var count int64
	node := s.sl.First()
	for node != nil {
		if !min.less(node.Score) {
			node = node.Next()
			continue
		}
		if !max.greater(node.Score) {
			break
		}
		count++
		node = node.Next()
	}
	return count
}

// ForEachByScore visits elements whose score falls within [min, max],
// honoring offset/limit (limit < 0 means unlimited), ascending unless
// desc is true.
func (s *SortedSet) ForEachByScore(min, max *ScoreBorder, offset, limit int64, desc bool, fn func(element *Element) bool) {
	var node *skiplist.Node
	if !desc {
		node = s.sl.First()
		for node != nil && !min.less(node.Score) {
			node = node.Next()
		}
	} else {
		node = s.sl.Last()
		for node != nil && !max.greater(node.Score) {
			node = node.Prev()
		}
	}

	for offset > 0 && node != nil {
		if !desc {
			if !max.greater(node.Score) {
				return
			}
		} else {
			if !min.less(node.Score) {
				return
			}
		}
		node = advance(node, desc)
		offset--
	}

	for node != nil {
		if limit == 0 {
			return
		}
		if !desc {
			if !max.greater(node.Score) {
				return
			}
		} else {
			if !min.less(node.Score) {
				return
			}
		}
		if !fn(&Element{Member: node.Member, Score: node.Score}) {
			return
		}
		node = advance(node, desc)
		if limit > 0 {
			limit--
		}
	}
}

func advance(n *skiplist.Node, desc bool) *skiplist.Node {
	if desc {
		return n.Prev()
	}
	return n.Next()
}

// RangeByScore materializes ForEachByScore's results.
func (s *SortedSet) RangeByScore(min, max *ScoreBorder, offset, limit int64, desc bool) []*Element {
	var out []*Element
	s.ForEachByScore(min, max, offset, limit, desc, func(e *Element) bool {
		out = append(out, e)
		return true
	})
	return out
}

// RemoveByScore deletes every member whose score falls within [min, max].
func (s *SortedSet) RemoveByScore(min, max *ScoreBorder) int64 {
	var removed []string
	s.ForEachByScore(min, max, 0, -1, false, func(e *Element) bool {
		removed = append(removed, e.Member)
		return true
	})
	for _, member := range removed {
		s.Remove(member)
	}
	return int64(len(removed))
}

// PopMin removes and returns up to count members with the lowest scores.
func (s *SortedSet) PopMin(count int) []*Element {
	if count <= 0 {
		return nil
	}
	out := s.Range(0, int64(count), false)
	for _, e := range out {
		s.Remove(e.Member)
	}
	return out
}

// RemoveByRank deletes the members in ascending rank [start, stop)
// (stop exclusive, matching ForEach/Range's convention), returning
// the number removed.
func (s *SortedSet) RemoveByRank(start, stop int64) int64 {
	out := s.Range(start, stop, false)
	for _, e := range out {
		s.Remove(e.Member)
	}
	return int64(len(out))
}
