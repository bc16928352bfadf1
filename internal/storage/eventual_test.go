package storage

import (
	"testing"

	"github.com/devrev/ndckv/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventualStore_NextVersion(t *testing.T) {
	w := newWriter(0, cluster{0, 1})

	assert.Equal(t, model.Dot{NodeID: 0, UpdateID: 1}, w.store.NextVersion())
	w.put("a", "v1")
	w.put("b", "v1")
	assert.Equal(t, model.Dot{NodeID: 0, UpdateID: 3}, w.store.NextVersion())
}

func TestEventualStore_UpdateFetch(t *testing.T) {
	w := newWriter(0, cluster{0, 1})

	w.put("a", "v1")
	fetched := w.store.Fetch("a")
	assert.Equal(t, []model.Value{"v1"}, fetched.Values())
	assert.Equal(t, model.CausalContext{0: 1}, fetched.CausalContext)

	w.put("a", "v2")
	assert.Equal(t, []model.Value{"v2"}, w.store.Fetch("a").Values())

	k, ok := w.store.LookupDot(model.Dot{NodeID: 0, UpdateID: 1})
	assert.True(t, ok)
	assert.Equal(t, model.Key("a"), k)

	assert.Equal(t, 0, w.store.Stats().NonStrippedKeys)
}

func TestEventualStore_ConcurrentWritesKept(t *testing.T) {
	s := NewEventualStore(0, cluster{0, 1, 2}, nil)

	s.Update("a", model.NewObject(model.Dot{NodeID: 1, UpdateID: 1}, "x", model.FifoDistance{}, nil))
	s.Update("a", model.NewObject(model.Dot{NodeID: 2, UpdateID: 1}, "y", model.FifoDistance{}, nil))

	assert.Equal(t, []model.Value{"x", "y"}, s.Fetch("a").Values())
}

func TestEventualStore_StripCausality(t *testing.T) {
	s := NewEventualStore(0, cluster{0, 1}, nil)

	// (1,3) arrives before the writes it depends on
	s.Update("a", model.NewObject(model.Dot{NodeID: 1, UpdateID: 3}, "v", model.FifoDistance{}, model.CausalContext{1: 2}))
	require.Equal(t, 1, s.Stats().NonStrippedKeys)

	s.Update("b", model.NewObject(model.Dot{NodeID: 1, UpdateID: 1}, "x", model.FifoDistance{}, nil))
	s.Update("b", model.NewObject(model.Dot{NodeID: 1, UpdateID: 2}, "y", model.FifoDistance{}, model.CausalContext{1: 1}))

	assert.Equal(t, 1, s.StripCausality())
	assert.Equal(t, 0, s.Stats().NonStrippedKeys)
	assert.Equal(t, []model.Value{"v"}, s.Fetch("a").Values())
	assert.Equal(t, []model.Value{"y"}, s.Fetch("b").Values())
}

func TestEventualStore_TombstoneCollected(t *testing.T) {
	w := newWriter(0, cluster{0, 1})

	w.put("a", "v1")
	w.put("a", "")

	assert.Empty(t, w.store.Keys())
	fetched := w.store.Fetch("a")
	assert.Empty(t, fetched.Values())
	assert.Equal(t, model.CausalContext{0: 2}, fetched.CausalContext)

	// a write built on the delete is a plain value again
	w.put("a", "v3")
	assert.Equal(t, []model.Value{"v3"}, w.store.Fetch("a").Values())
}

func TestEventualStore_NonReplicaKeepsContext(t *testing.T) {
	s := NewEventualStore(0, cluster{1, 2}, nil)

	s.Update("a", model.NewObject(model.Dot{NodeID: 0, UpdateID: 1}, "v", model.FifoDistance{}, model.CausalContext{1: 4}))

	fetched := s.Fetch("a")
	assert.Equal(t, model.CausalContext{1: 4}, fetched.CausalContext)
	assert.Equal(t, 0, s.Stats().NonStrippedKeys)
}

func antiEntropy(from model.NodeID, local *EventualStore, to model.NodeID, remote *EventualStore) {
	resp := remote.SyncClock(from, local.SyncRequest())
	local.SyncRepair(to, resp)
}

func TestEventualStore_AntiEntropyConverges(t *testing.T) {
	replicas := cluster{0, 1}
	n0 := newWriter(0, replicas)
	n1 := newWriter(1, replicas)

	n0.put("a", "1")
	n0.put("a", "2")
	n1.put("b", "7")

	assert.Empty(t, n1.store.Fetch("a").Values())

	antiEntropy(1, n1.store, 0, n0.store)
	antiEntropy(0, n0.store, 1, n1.store)

	assert.Equal(t, []model.Value{"2"}, n1.store.Fetch("a").Values())
	assert.Equal(t, []model.Value{"7"}, n0.store.Fetch("b").Values())
	for _, k := range []model.Key{"a", "b"} {
		assert.True(t, n0.store.Fetch(k).Equal(n1.store.Fetch(k)), "key %s", k)
	}
	assert.True(t, n0.store.SyncRequest().Equal(n1.store.SyncRequest()))
}

func TestEventualStore_AntiEntropyResolvesConcurrentWrites(t *testing.T) {
	replicas := cluster{0, 1}
	n0 := newWriter(0, replicas)
	n1 := newWriter(1, replicas)

	n0.put("a", "left")
	n1.put("a", "right")

	antiEntropy(1, n1.store, 0, n0.store)
	antiEntropy(0, n0.store, 1, n1.store)

	assert.Equal(t, []model.Value{"left", "right"}, n0.store.Fetch("a").Values())
	assert.Equal(t, []model.Value{"left", "right"}, n1.store.Fetch("a").Values())

	// a write on top of both siblings replaces them everywhere
	n0.put("a", "merged")
	antiEntropy(1, n1.store, 0, n0.store)
	assert.Equal(t, []model.Value{"merged"}, n1.store.Fetch("a").Values())
}

func TestEventualStore_DotIndexCollected(t *testing.T) {
	replicas := cluster{0, 1}
	n0 := newWriter(0, replicas)
	n1 := newWriter(1, replicas)

	n0.put("a", "1")
	n0.put("a", "2")
	n1.put("b", "7")

	antiEntropy(1, n1.store, 0, n0.store)
	_, ok := n0.store.LookupDot(model.Dot{NodeID: 0, UpdateID: 1})
	require.True(t, ok, "not every peer has acknowledged origin 0 yet")

	antiEntropy(0, n0.store, 1, n1.store)

	assert.Equal(t, 0, n0.store.Stats().DotKeys)
	_, ok = n0.store.LookupDot(model.Dot{NodeID: 0, UpdateID: 2})
	assert.False(t, ok)
	assert.Equal(t, []model.Value{"2"}, n0.store.Fetch("a").Values())
	assert.Equal(t, []model.Value{"7"}, n0.store.Fetch("b").Values())

	// collected ids are not indexed again when the key is re-stored
	n0.store.StripCausality()
	assert.Equal(t, 0, n0.store.Stats().DotKeys)
}

func TestEventualStore_SupersededDotIsObserved(t *testing.T) {
	s := NewEventualStore(0, cluster{0, 1}, nil)

	s.Update("a", model.NewObject(model.Dot{NodeID: 1, UpdateID: 2}, "v2", model.FifoDistance{1}, model.CausalContext{1: 1}))
	merged := s.Update("a", model.NewObject(model.Dot{NodeID: 1, UpdateID: 1}, "v1", model.FifoDistance{1}, nil))

	assert.Equal(t, []model.Value{"v2"}, merged.Values())
	assert.Equal(t, uint64(2), s.SyncRequest().Base(1))
	k, ok := s.LookupDot(model.Dot{NodeID: 1, UpdateID: 1})
	assert.True(t, ok)
	assert.Equal(t, model.Key("a"), k)
}
