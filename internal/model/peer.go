package model

import "time"

// PeerStatus is the liveness classification of a peer derived from heartbeats
type PeerStatus string

const (
	PeerStatusUnknown     PeerStatus = "unknown"
	PeerStatusUp          PeerStatus = "up"
	PeerStatusDown        PeerStatus = "down"
	PeerStatusFifoStarved PeerStatus = "fifo-starved"
)

// PeerHealth is the last observation of a peer
type PeerHealth struct {
	NodeID       NodeID
	Status       PeerStatus
	EventualSeen time.Time
	FifoSeen     [PriorityLevels]time.Time
	StarvedTier  Priority
	GossipAlive  bool
	ObservedAt   time.Time
}
