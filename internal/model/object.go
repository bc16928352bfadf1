package model

import (
	"maps"
	"slices"
)

// FifoDistance records, per FIFO tier, how far back the writer's previous
// update visible at that tier lies. A zero entry means the write does not
// participate in the tier.
type FifoDistance [PriorityLevels]uint64

// Range returns the ids a FIFO store of the given tier must have observed
// (First-1 and below) before the dot may become visible, plus the dot itself.
func (fd FifoDistance) Range(d Dot, tier Priority) UpdateIDRange {
	dist := fd[tier]
	if dist == 0 || dist > d.UpdateID {
		return UpdateIDRange{First: d.UpdateID, Last: d.UpdateID}
	}
	return UpdateIDRange{First: d.UpdateID - dist + 1, Last: d.UpdateID}
}

// DotValue is one concurrent value of an object
type DotValue struct {
	Value        Value
	FifoDistance FifoDistance
}

// Object is the dotted-version-vector payload of a key: the concurrent
// values still alive plus a causal context summarising superseded writes.
// Objects are immutable; every operation allocates a new one and callers
// must never modify the maps of an object they did not build.
type Object struct {
	DotValues     map[Dot]DotValue
	CausalContext CausalContext
}

// EmptyObject returns an object with no values and no causal context
func EmptyObject() Object {
	return Object{DotValues: map[Dot]DotValue{}, CausalContext: CausalContext{}}
}

// NewObject builds the object of a fresh write
func NewObject(d Dot, v Value, dist FifoDistance, cc CausalContext) Object {
	return Object{
		DotValues:     map[Dot]DotValue{d: {Value: v, FifoDistance: dist}},
		CausalContext: cc.Clone(),
	}
}

// Merge combines two replicas of the same key. A value survives unless the
// other side's causal context covers its dot without still holding it.
func (o Object) Merge(other Object) Object {
	merged := Object{
		DotValues:     make(map[Dot]DotValue, len(o.DotValues)+len(other.DotValues)),
		CausalContext: o.CausalContext.Merge(other.CausalContext),
	}
	for d, dv := range o.DotValues {
		if _, kept := other.DotValues[d]; kept || !other.CausalContext.Contains(d) {
			merged.DotValues[d] = dv
		}
	}
	for d, dv := range other.DotValues {
		if _, kept := o.DotValues[d]; kept || !o.CausalContext.Contains(d) {
			merged.DotValues[d] = dv
		}
	}
	return merged
}

// Split returns the sub-object holding the dots selected by keep. Its causal
// context is capped below every excluded dot so that merging the piece on its
// own never obsoletes a sibling left out of it.
func (o Object) Split(keep func(Dot) bool) Object {
	piece := Object{
		DotValues:     make(map[Dot]DotValue),
		CausalContext: o.CausalContext.Clone(),
	}
	for d, dv := range o.DotValues {
		if keep(d) {
			piece.DotValues[d] = dv
			continue
		}
		if limit := d.UpdateID - 1; piece.CausalContext[d.NodeID] > limit {
			if limit == 0 {
				delete(piece.CausalContext, d.NodeID)
			} else {
				piece.CausalContext[d.NodeID] = limit
			}
		}
	}
	return piece
}

// Without returns the sub-object of o holding the dots absent from other
func (o Object) Without(other Object) Object {
	return o.Split(func(d Dot) bool {
		_, ok := other.DotValues[d]
		return !ok
	})
}

// Strip drops causal context entries implied by the clock
func (o Object) Strip(clock NodeClock) Object {
	return Object{DotValues: o.DotValues, CausalContext: o.CausalContext.Strip(clock)}
}

// Fill raises the causal context of the listed origins to the clock's Base
func (o Object) Fill(clock NodeClock, nodes []NodeID) Object {
	return Object{DotValues: o.DotValues, CausalContext: o.CausalContext.Fill(clock, nodes)}
}

// CollectTombstones folds every tombstone whose dot lies inside the clock's
// contiguous prefix into the causal context.
func (o Object) CollectTombstones(clock NodeClock) Object {
	var collected []Dot
	for d, dv := range o.DotValues {
		if dv.Value.IsTombstone() && d.UpdateID <= clock.Base(d.NodeID) {
			collected = append(collected, d)
		}
	}
	if len(collected) == 0 {
		return o
	}
	out := Object{DotValues: maps.Clone(o.DotValues), CausalContext: o.CausalContext.Clone()}
	for _, d := range collected {
		delete(out.DotValues, d)
		if d.UpdateID > out.CausalContext[d.NodeID] {
			out.CausalContext[d.NodeID] = d.UpdateID
		}
	}
	return out
}

// Dots returns the object's dots in ascending order
func (o Object) Dots() []Dot {
	return slices.SortedFunc(maps.Keys(o.DotValues), func(a, b Dot) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
}

// Values returns the live (non-tombstone) values ordered by dot
func (o Object) Values() []Value {
	var values []Value
	for _, d := range o.Dots() {
		if v := o.DotValues[d].Value; !v.IsTombstone() {
			values = append(values, v)
		}
	}
	return values
}

// HasValues reports whether the object still holds any dot, tombstones included
func (o Object) HasValues() bool {
	return len(o.DotValues) > 0
}

// IsEmpty reports whether the object carries neither values nor causal context
func (o Object) IsEmpty() bool {
	if len(o.DotValues) > 0 {
		return false
	}
	for _, id := range o.CausalContext {
		if id > 0 {
			return false
		}
	}
	return true
}

// Equal reports whether both objects hold the same dots, values and context
func (o Object) Equal(other Object) bool {
	if len(o.DotValues) != len(other.DotValues) {
		return false
	}
	for d, dv := range o.DotValues {
		if odv, ok := other.DotValues[d]; !ok || odv != dv {
			return false
		}
	}
	return o.CausalContext.Equal(other.CausalContext)
}
