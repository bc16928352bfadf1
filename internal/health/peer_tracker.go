package health

import (
	"slices"
	"sync"
	"time"

	"github.com/devrev/ndckv/internal/model"
	"go.uber.org/zap"
)

// Observation is what one heartbeat round learned about a peer: the newest
// heartbeat timestamp readable at eventual consistency and at each FIFO tier.
type Observation struct {
	NodeID       model.NodeID
	EventualSeen time.Time
	FifoSeen     [model.PriorityLevels]time.Time
	GossipAlive  bool
	At           time.Time
}

// PeerTracker classifies peers from heartbeat observations
type PeerTracker struct {
	staleAfter time.Duration
	logger     *zap.Logger

	mu             sync.RWMutex
	peers          map[model.NodeID]model.PeerHealth
	localHeartbeat time.Time
}

// NewPeerTracker creates a tracker that treats heartbeats older than
// staleAfter as missing
func NewPeerTracker(staleAfter time.Duration, logger *zap.Logger) *PeerTracker {
	return &PeerTracker{
		staleAfter: staleAfter,
		logger:     logger,
		peers:      make(map[model.NodeID]model.PeerHealth),
	}
}

// Classify derives a peer status from an observation. A peer whose eventual
// heartbeat is stale is down; a peer that is fresh at eventual consistency but
// stale at some FIFO tier is starved at the lowest such tier.
func Classify(obs Observation, staleAfter time.Duration) (model.PeerStatus, model.Priority) {
	stale := func(seen time.Time) bool {
		return seen.IsZero() || obs.At.Sub(seen) > staleAfter
	}

	if obs.EventualSeen.IsZero() {
		return model.PeerStatusUnknown, 0
	}
	if stale(obs.EventualSeen) {
		return model.PeerStatusDown, 0
	}
	for tier, seen := range obs.FifoSeen {
		if stale(seen) {
			return model.PeerStatusFifoStarved, model.Priority(tier)
		}
	}
	return model.PeerStatusUp, 0
}

// Observe records an observation and returns the resulting health. Status
// transitions are logged.
func (t *PeerTracker) Observe(obs Observation) model.PeerHealth {
	status, tier := Classify(obs, t.staleAfter)
	h := model.PeerHealth{
		NodeID:       obs.NodeID,
		Status:       status,
		EventualSeen: obs.EventualSeen,
		FifoSeen:     obs.FifoSeen,
		StarvedTier:  tier,
		GossipAlive:  obs.GossipAlive,
		ObservedAt:   obs.At,
	}

	t.mu.Lock()
	prev, known := t.peers[obs.NodeID]
	t.peers[obs.NodeID] = h
	t.mu.Unlock()

	if !known || prev.Status != status {
		t.logger.Info("Peer status changed",
			zap.Int("peer", int(obs.NodeID)),
			zap.String("from", string(prev.Status)),
			zap.String("to", string(status)),
			zap.Int("starved_tier", int(tier)),
			zap.Bool("gossip_alive", obs.GossipAlive))
	}
	return h
}

// MarkLocalHeartbeat records a successful local heartbeat write
func (t *PeerTracker) MarkLocalHeartbeat(at time.Time) {
	t.mu.Lock()
	t.localHeartbeat = at
	t.mu.Unlock()
}

// IsReady reports whether this node has written a heartbeat recently
func (t *PeerTracker) IsReady(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.localHeartbeat.IsZero() && now.Sub(t.localHeartbeat) <= t.staleAfter
}

// Get returns the last health recorded for a peer
func (t *PeerTracker) Get(n model.NodeID) (model.PeerHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.peers[n]
	return h, ok
}

// Snapshot returns every tracked peer ordered by node id
func (t *PeerTracker) Snapshot() []model.PeerHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.PeerHealth, 0, len(t.peers))
	for _, h := range t.peers {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b model.PeerHealth) int { return int(a.NodeID) - int(b.NodeID) })
	return out
}

// AlivePeers returns the peers currently classified up or fifo-starved
func (t *PeerTracker) AlivePeers() []model.NodeID {
	var alive []model.NodeID
	for _, h := range t.Snapshot() {
		if h.Status == model.PeerStatusUp || h.Status == model.PeerStatusFifoStarved {
			alive = append(alive, h.NodeID)
		}
	}
	return alive
}
