package storage

import (
	"github.com/devrev/ndckv/internal/model"
	"go.uber.org/zap"
)

// EventualStore makes every update visible as soon as it arrives. It is the
// only store that mints dots.
type EventualStore struct {
	*Base
}

// NewEventualStore creates an empty eventual store for node self
func NewEventualStore(self model.NodeID, replicas ReplicaResolver, logger *zap.Logger) *EventualStore {
	return &EventualStore{Base: newBase(self, model.ModeEventual, replicas, logger)}
}

// NextVersion returns the dot of the next local write
func (s *EventualStore) NextVersion() model.Dot {
	return model.Dot{NodeID: s.self, UpdateID: s.clock.Get(s.self).Max() + 1}
}

// SyncClock answers a peer's probe
func (s *EventualStore) SyncClock(peer model.NodeID, peerClock model.NodeClock) *model.StoreSync {
	return s.syncClock(peer, peerClock)
}

// SyncRepair applies a peer's answer. Only the peer's own clock entry is
// trusted, since the peer is authoritative for the writes it minted.
func (s *EventualStore) SyncRepair(peer model.NodeID, resp *model.StoreSync) int {
	repaired := s.repairObjects(peer, resp)
	if own := resp.PeerClock.Get(peer); own != nil {
		s.clock.Entry(peer).UnionWith(own)
	}
	s.advanceWatermarks(peer, resp.PeerClock)
	s.collectGarbage()
	return repaired
}
