package storage

import (
	"slices"

	"github.com/devrev/ndckv/internal/model"
	"github.com/stretchr/testify/mock"
)

// cluster replicates every key on every listed node
type cluster []model.NodeID

func (c cluster) ReplicaNodes(model.Key) []model.NodeID { return c }

func (c cluster) PeerNodes(n model.NodeID) []model.NodeID {
	var peers []model.NodeID
	for _, p := range c {
		if p != n {
			peers = append(peers, p)
		}
	}
	return peers
}

func (c cluster) IsReplica(n model.NodeID, _ model.Key) bool { return slices.Contains(c, n) }

// writer mints writes the way a node does for its local eventual store
type writer struct {
	store *EventualStore
	pred  [model.PriorityLevels]uint64
}

func newWriter(self model.NodeID, replicas ReplicaResolver) *writer {
	return &writer{store: NewEventualStore(self, replicas, nil)}
}

func (w *writer) put(k model.Key, v model.Value) model.Object {
	d := w.store.NextVersion()
	var dist model.FifoDistance
	for p := model.Priority(0); p <= k.Priority(); p++ {
		dist[p] = d.UpdateID - w.pred[p]
		w.pred[p] = d.UpdateID
	}
	cc := w.store.Fetch(k).CausalContext
	return w.store.Update(k, model.NewObject(d, v, dist, cc))
}

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) RecordBufferOverflow(tier model.Priority) {
	m.Called(tier)
}

func (m *mockObserver) RecordMalformedPeerClock(tier model.Priority) {
	m.Called(tier)
}
