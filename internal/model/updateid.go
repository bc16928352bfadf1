package model

import (
	"fmt"
	"slices"
)

// UpdateIDSet is a compact set of update ids from one origin: every id in
// 1..Base is present, plus the individually present ids in Bitmap.
// Bitmap is sorted and every entry is greater than Base+1.
type UpdateIDSet struct {
	Base   uint64
	Bitmap []uint64
}

// NewUpdateIDSet creates a set holding 1..base and the given extra ids
func NewUpdateIDSet(base uint64, extra ...uint64) *UpdateIDSet {
	s := &UpdateIDSet{Base: base}
	for _, id := range extra {
		s.Add(id)
	}
	return s
}

// Contains reports whether id is in the set
func (s *UpdateIDSet) Contains(id uint64) bool {
	if s == nil || id == 0 {
		return false
	}
	if id <= s.Base {
		return true
	}
	_, found := slices.BinarySearch(s.Bitmap, id)
	return found
}

// Add inserts id and absorbs any run of bitmap entries that became contiguous
func (s *UpdateIDSet) Add(id uint64) {
	if id == 0 || id <= s.Base {
		return
	}
	idx, found := slices.BinarySearch(s.Bitmap, id)
	if found {
		return
	}
	s.Bitmap = slices.Insert(s.Bitmap, idx, id)
	s.normalize()
}

// AddRange inserts every id in [first, last]
func (s *UpdateIDSet) AddRange(first, last uint64) {
	if first == 0 {
		first = 1
	}
	if last < first || last <= s.Base {
		return
	}
	if first <= s.Base+1 {
		s.Base = last
		s.normalize()
		return
	}
	for id := first; id <= last; id++ {
		s.Add(id)
	}
}

// UnionWith adds every id of other to s
func (s *UpdateIDSet) UnionWith(other *UpdateIDSet) {
	if other == nil {
		return
	}
	if other.Base > s.Base {
		s.Base = other.Base
	}
	for _, id := range other.Bitmap {
		if id > s.Base {
			if idx, found := slices.BinarySearch(s.Bitmap, id); !found {
				s.Bitmap = slices.Insert(s.Bitmap, idx, id)
			}
		}
	}
	s.normalize()
}

// Except returns, in ascending order, the ids present in s but absent from other
func (s *UpdateIDSet) Except(other *UpdateIDSet) []uint64 {
	if s == nil {
		return nil
	}
	var otherBase uint64
	if other != nil {
		otherBase = other.Base
	}
	var missing []uint64
	for id := otherBase + 1; id <= s.Base; id++ {
		if !other.Contains(id) {
			missing = append(missing, id)
		}
	}
	for _, id := range s.Bitmap {
		if !other.Contains(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// Max returns the highest id in the set, or 0 when it is empty
func (s *UpdateIDSet) Max() uint64 {
	if s == nil {
		return 0
	}
	if n := len(s.Bitmap); n > 0 {
		return s.Bitmap[n-1]
	}
	return s.Base
}

// IsEmpty reports whether the set holds no id
func (s *UpdateIDSet) IsEmpty() bool {
	return s == nil || (s.Base == 0 && len(s.Bitmap) == 0)
}

// Clone returns a deep copy
func (s *UpdateIDSet) Clone() *UpdateIDSet {
	if s == nil {
		return &UpdateIDSet{}
	}
	return &UpdateIDSet{Base: s.Base, Bitmap: slices.Clone(s.Bitmap)}
}

// Equal reports whether both sets hold the same ids
func (s *UpdateIDSet) Equal(other *UpdateIDSet) bool {
	if s.IsEmpty() || other.IsEmpty() {
		return s.IsEmpty() == other.IsEmpty()
	}
	return s.Base == other.Base && slices.Equal(s.Bitmap, other.Bitmap)
}

// String implements fmt.Stringer
func (s *UpdateIDSet) String() string {
	if s == nil {
		return "{}"
	}
	return fmt.Sprintf("{base:%d bitmap:%v}", s.Base, s.Bitmap)
}

func (s *UpdateIDSet) normalize() {
	drop := 0
	for drop < len(s.Bitmap) && s.Bitmap[drop] <= s.Base+1 {
		if s.Bitmap[drop] == s.Base+1 {
			s.Base++
		}
		drop++
	}
	if drop > 0 {
		s.Bitmap = slices.Delete(s.Bitmap, 0, drop)
	}
	if len(s.Bitmap) == 0 {
		s.Bitmap = nil
	}
}

// UpdateIDRange is the closed interval [First, Last] of update ids from one origin
type UpdateIDRange struct {
	First uint64
	Last  uint64
}

// NewUpdateIDRange creates a range; it panics when last < first
func NewUpdateIDRange(first, last uint64) UpdateIDRange {
	if last < first {
		panic(fmt.Sprintf("invalid update id range [%d,%d]", first, last))
	}
	return UpdateIDRange{First: first, Last: last}
}

// Contains reports whether id lies in the range
func (r UpdateIDRange) Contains(id uint64) bool {
	return id >= r.First && id <= r.Last
}

// ContainsRange reports whether other lies entirely inside r
func (r UpdateIDRange) ContainsRange(other UpdateIDRange) bool {
	return other.First >= r.First && other.Last <= r.Last
}

// Overlaps reports whether the ranges share at least one id
func (r UpdateIDRange) Overlaps(other UpdateIDRange) bool {
	return r.First <= other.Last && other.First <= r.Last
}

// Adjacent reports whether the ranges touch without overlapping
func (r UpdateIDRange) Adjacent(other UpdateIDRange) bool {
	return r.Last+1 == other.First || other.Last+1 == r.First
}

// Union returns the smallest range covering both. The ranges must overlap or
// be adjacent.
func (r UpdateIDRange) Union(other UpdateIDRange) UpdateIDRange {
	if !r.Overlaps(other) && !r.Adjacent(other) {
		panic(fmt.Sprintf("union of disjoint ranges %v and %v", r, other))
	}
	return UpdateIDRange{First: min(r.First, other.First), Last: max(r.Last, other.Last)}
}

// Len returns the number of ids in the range
func (r UpdateIDRange) Len() uint64 {
	return r.Last - r.First + 1
}

// String implements fmt.Stringer
func (r UpdateIDRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.First, r.Last)
}
