package storage

import (
	"slices"

	"github.com/devrev/ndckv/internal/model"
)

// Segment is a contiguous range of buffered update ids and its payload
type Segment[T any] struct {
	Range   model.UpdateIDRange
	Payload T
}

// SegmentSet holds disjoint, non-adjacent segments sorted by range. Inserting
// a segment that overlaps or touches existing ones collapses them into a
// single segment whose payload is combined with merge.
type SegmentSet[T any] struct {
	segments []Segment[T]
	merge    func(a, b T) T
}

// NewSegmentSet creates an empty set; merge must not be nil
func NewSegmentSet[T any](merge func(a, b T) T) *SegmentSet[T] {
	if merge == nil {
		panic("storage: segment set requires a merge function")
	}
	return &SegmentSet[T]{merge: merge}
}

// Insert adds a segment, merging it with every overlapping or adjacent one
func (s *SegmentSet[T]) Insert(r model.UpdateIDRange, payload T) {
	lo := 0
	for lo < len(s.segments) && s.segments[lo].Range.Last+1 < r.First {
		lo++
	}
	hi := lo
	merged := Segment[T]{Range: r, Payload: payload}
	for hi < len(s.segments) && s.segments[hi].Range.First <= merged.Range.Last+1 {
		cur := s.segments[hi]
		merged.Range = merged.Range.Union(cur.Range)
		merged.Payload = s.merge(cur.Payload, merged.Payload)
		hi++
	}
	s.segments = slices.Replace(s.segments, lo, hi, merged)
}

// First returns the lowest segment
func (s *SegmentSet[T]) First() (Segment[T], bool) {
	if len(s.segments) == 0 {
		return Segment[T]{}, false
	}
	return s.segments[0], true
}

// PopFirst removes and returns the lowest segment
func (s *SegmentSet[T]) PopFirst() (Segment[T], bool) {
	first, ok := s.First()
	if ok {
		s.segments = slices.Delete(s.segments, 0, 1)
	}
	return first, ok
}

// All returns a copy of the segments in ascending order
func (s *SegmentSet[T]) All() []Segment[T] {
	return slices.Clone(s.segments)
}

// Len returns the number of segments
func (s *SegmentSet[T]) Len() int {
	return len(s.segments)
}
