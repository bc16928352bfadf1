package model

import (
	"maps"
	"slices"
)

// CausalContext maps each origin to the highest update id causally known
// for it. A causal context is treated as an immutable value: every operation
// returns a new context.
type CausalContext map[NodeID]uint64

// Contains reports whether dot is causally covered by the context
func (cc CausalContext) Contains(d Dot) bool {
	return d.UpdateID <= cc[d.NodeID]
}

// Merge returns the per-origin maximum of both contexts
func (cc CausalContext) Merge(other CausalContext) CausalContext {
	merged := make(CausalContext, max(len(cc), len(other)))
	for n, id := range cc {
		merged[n] = id
	}
	for n, id := range other {
		if id > merged[n] {
			merged[n] = id
		}
	}
	return merged
}

// Strip drops every entry already implied by the clock's contiguous prefix
func (cc CausalContext) Strip(clock NodeClock) CausalContext {
	stripped := make(CausalContext, len(cc))
	for n, id := range cc {
		if id > clock.Base(n) {
			stripped[n] = id
		}
	}
	return stripped
}

// Fill raises the entry of every listed origin to the clock's Base
func (cc CausalContext) Fill(clock NodeClock, nodes []NodeID) CausalContext {
	filled := cc.Clone()
	for _, n := range nodes {
		if base := clock.Base(n); base > filled[n] {
			filled[n] = base
		}
	}
	return filled
}

// Clone returns a copy of the context
func (cc CausalContext) Clone() CausalContext {
	if cc == nil {
		return CausalContext{}
	}
	return maps.Clone(cc)
}

// Nodes returns the origins of the context in ascending order
func (cc CausalContext) Nodes() []NodeID {
	return slices.Sorted(maps.Keys(cc))
}

// Equal reports whether both contexts hold the same non-zero entries
func (cc CausalContext) Equal(other CausalContext) bool {
	for n, id := range cc {
		if id != 0 && other[n] != id {
			return false
		}
	}
	for n, id := range other {
		if id != 0 && cc[n] != id {
			return false
		}
	}
	return true
}

// NodeClock maps every origin to the set of its update ids a store has observed
type NodeClock map[NodeID]*UpdateIDSet

// Get returns the set for origin n, or nil when the origin is unknown
func (c NodeClock) Get(n NodeID) *UpdateIDSet {
	return c[n]
}

// Entry returns the set for origin n, inserting an empty one when missing
func (c NodeClock) Entry(n NodeID) *UpdateIDSet {
	s, ok := c[n]
	if !ok {
		s = &UpdateIDSet{}
		c[n] = s
	}
	return s
}

// Base returns the contiguous prefix length for origin n
func (c NodeClock) Base(n NodeID) uint64 {
	if s, ok := c[n]; ok {
		return s.Base
	}
	return 0
}

// Contains reports whether the clock has observed dot
func (c NodeClock) Contains(d Dot) bool {
	return c[d.NodeID].Contains(d.UpdateID)
}

// Add records dot as observed
func (c NodeClock) Add(d Dot) {
	c.Entry(d.NodeID).Add(d.UpdateID)
}

// Nodes returns the known origins in ascending order
func (c NodeClock) Nodes() []NodeID {
	return slices.Sorted(maps.Keys(c))
}

// Clone returns a deep copy
func (c NodeClock) Clone() NodeClock {
	clone := make(NodeClock, len(c))
	for n, s := range c {
		clone[n] = s.Clone()
	}
	return clone
}

// Equal reports whether both clocks observed the same ids
func (c NodeClock) Equal(other NodeClock) bool {
	for n, s := range c {
		if !s.Equal(other[n]) {
			return false
		}
	}
	for n, s := range other {
		if !s.Equal(c[n]) {
			return false
		}
	}
	return true
}
