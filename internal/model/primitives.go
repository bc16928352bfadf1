package model

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID identifies a replica. Node ids are small non-negative integers.
type NodeID int

// String implements fmt.Stringer
func (n NodeID) String() string {
	return strconv.Itoa(int(n))
}

// Dot is the globally unique identifier of a single write: the origin node
// and that node's update counter, which starts at 1.
type Dot struct {
	NodeID   NodeID
	UpdateID uint64
}

// String implements fmt.Stringer
func (d Dot) String() string {
	return fmt.Sprintf("(%d,%d)", d.NodeID, d.UpdateID)
}

// Less orders dots by node, then by update id
func (d Dot) Less(other Dot) bool {
	if d.NodeID != other.NodeID {
		return d.NodeID < other.NodeID
	}
	return d.UpdateID < other.UpdateID
}

// Priority is the FIFO tier a key belongs to
type Priority int

const (
	// PriorityLevels is the number of FIFO tiers (P0..P3)
	PriorityLevels = 4

	// MaxPriority is the highest priority a key can carry
	MaxPriority Priority = PriorityLevels - 1

	priorityPrefix = "p"
)

// Key names a stored object
type Key string

// Priority parses the key's tier from a "p<digit>:" prefix. Keys without a
// valid prefix have priority 0.
func (k Key) Priority() Priority {
	s := string(k)
	if len(s) < 3 || !strings.HasPrefix(s, priorityPrefix) || s[2] != ':' {
		return 0
	}
	d := s[1]
	if d < '0' || d > '0'+byte(MaxPriority) {
		return 0
	}
	return Priority(d - '0')
}

// KeyWithPriority builds a key tagged with the given priority
func KeyWithPriority(p Priority, name string) Key {
	return Key(fmt.Sprintf("%s%d:%s", priorityPrefix, p, name))
}

// HeartbeatKey returns the key a node writes its heartbeat timestamp to.
// Heartbeats use the highest priority so that every FIFO tier carries them.
func HeartbeatKey(node NodeID) Key {
	return KeyWithPriority(MaxPriority, "__heartbeat/"+node.String())
}

// Value is a stored value. The empty value is a tombstone.
type Value string

// IsTombstone reports whether the value marks a delete
func (v Value) IsTombstone() bool {
	return v == ""
}

// ConsistencyMode selects which store a read is served from
type ConsistencyMode int

const (
	// ModeEventual reads from the eventual store
	ModeEventual ConsistencyMode = iota
	// ModeFifoP0 .. ModeFifoP3 read from the FIFO store of that tier
	ModeFifoP0
	ModeFifoP1
	ModeFifoP2
	ModeFifoP3
)

// AllModes lists every consistency mode, eventual first
var AllModes = []ConsistencyMode{ModeEventual, ModeFifoP0, ModeFifoP1, ModeFifoP2, ModeFifoP3}

// FifoMode returns the consistency mode of a FIFO tier
func FifoMode(tier Priority) ConsistencyMode {
	return ModeFifoP0 + ConsistencyMode(tier)
}

// Tier returns the FIFO tier of the mode; ok is false for eventual
func (m ConsistencyMode) Tier() (tier Priority, ok bool) {
	if m < ModeFifoP0 || m > ModeFifoP3 {
		return 0, false
	}
	return Priority(m - ModeFifoP0), true
}

// Valid reports whether m is a known mode
func (m ConsistencyMode) Valid() bool {
	return m >= ModeEventual && m <= ModeFifoP3
}

// String implements fmt.Stringer
func (m ConsistencyMode) String() string {
	if tier, ok := m.Tier(); ok {
		return fmt.Sprintf("fifo-p%d", tier)
	}
	if m == ModeEventual {
		return "eventual"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseConsistencyMode parses the String form of a mode
func ParseConsistencyMode(s string) (ConsistencyMode, error) {
	for _, m := range AllModes {
		if m.String() == strings.ToLower(s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown consistency mode %q", s)
}
