package storage

import (
	"testing"

	"github.com/devrev/ndckv/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFifoStore_BuffersUntilGapCloses(t *testing.T) {
	replicas := cluster{0, 1}
	origin := newWriter(0, replicas)
	fifo := NewFifoStore(1, 0, 0, replicas, nil, nil)

	a0 := origin.put("a", "0")
	b0 := origin.put("b", "0")
	a1 := origin.put("a", "1")
	b2 := origin.put("b", "2")

	fifo.ProcessUpdate("a", a0)
	fifo.ProcessUpdate("b", b0)
	fifo.ProcessUpdate("b", b2)

	assert.Equal(t, []model.Value{"0"}, fifo.Fetch("b").Values(), "b must wait for a")
	assert.Equal(t, []model.Value{"0"}, fifo.Fetch("a").Values())
	require.Len(t, fifo.BufferedSegments(0), 1)
	assert.Equal(t, model.NewUpdateIDRange(4, 4), fifo.BufferedSegments(0)[0].Range)
	assert.Equal(t, 1, fifo.Stats().BufferedSegments)

	fifo.ProcessUpdate("a", a1)

	assert.Equal(t, []model.Value{"1"}, fifo.Fetch("a").Values())
	assert.Equal(t, []model.Value{"2"}, fifo.Fetch("b").Values())
	assert.Empty(t, fifo.BufferedSegments(0))
	assert.Equal(t, uint64(4), fifo.SyncRequest().Base(0))
}

func TestFifoStore_IgnoresLowerPriorityKeys(t *testing.T) {
	replicas := cluster{0, 1}
	origin := newWriter(0, replicas)
	fifo := NewFifoStore(1, 1, 0, replicas, nil, nil)

	fifo.ProcessUpdate("a", origin.put("a", "v"))

	assert.Empty(t, fifo.Keys())
	assert.Equal(t, model.FifoMode(1), fifo.Mode())
}

func TestFifoStore_SkipsIdsBelowTier(t *testing.T) {
	replicas := cluster{0, 1}
	origin := newWriter(0, replicas)
	fifo := NewFifoStore(1, 1, 0, replicas, nil, nil)

	origin.put("a", "low")
	x := origin.put("p1:x", "x")
	origin.put("b", "low")
	y := origin.put("p1:y", "y")

	fifo.ProcessUpdate("p1:y", y)
	assert.Empty(t, fifo.Fetch("p1:y").Values())
	require.Len(t, fifo.BufferedSegments(0), 1)
	assert.Equal(t, model.NewUpdateIDRange(3, 4), fifo.BufferedSegments(0)[0].Range)

	fifo.ProcessUpdate("p1:x", x)

	assert.Equal(t, []model.Value{"x"}, fifo.Fetch("p1:x").Values())
	assert.Equal(t, []model.Value{"y"}, fifo.Fetch("p1:y").Values())
	assert.Equal(t, uint64(4), fifo.SyncRequest().Base(0))
}

func TestFifoStore_DropsBeyondLimit(t *testing.T) {
	replicas := cluster{0, 1}
	origin := newWriter(0, replicas)
	observer := &mockObserver{}
	observer.On("RecordBufferOverflow", model.Priority(0)).Return()
	fifo := NewFifoStore(1, 0, 2, replicas, observer, nil)

	var writes []model.Object
	for _, k := range []model.Key{"a", "b", "c", "d"} {
		writes = append(writes, origin.put(k, "v"))
	}

	fifo.ProcessUpdate("d", writes[3])

	assert.Empty(t, fifo.BufferedSegments(0))
	assert.Empty(t, fifo.Keys())
	observer.AssertNumberOfCalls(t, "RecordBufferOverflow", 1)

	// within the limit the update is buffered instead
	fifo.ProcessUpdate("b", writes[1])
	assert.Len(t, fifo.BufferedSegments(0), 1)
	observer.AssertNumberOfCalls(t, "RecordBufferOverflow", 1)
}

func TestFifoStore_DroppedDotNeverApplied(t *testing.T) {
	replicas := cluster{0, 1, 2}
	origin := newWriter(0, replicas)
	observer := &mockObserver{}
	observer.On("RecordBufferOverflow", model.Priority(0)).Return()
	fifo := NewFifoStore(1, 0, 1, replicas, observer, nil)

	a := origin.put("a", "a")
	b := origin.put("b", "b")
	c := origin.put("c", "c")

	fifo.ProcessUpdate("c", c)
	fifo.ProcessUpdate("a", a)
	fifo.ProcessUpdate("b", b)
	assert.Empty(t, fifo.Fetch("c").Values())
	assert.Equal(t, uint64(2), fifo.SyncRequest().Base(0))
	assert.Equal(t, 1, fifo.Stats().DroppedDots)

	// a concurrent write from another origin carries the dropped dot along
	sibling := model.NewObject(model.Dot{NodeID: 2, UpdateID: 1}, "x", model.FifoDistance{1}, nil).Merge(c)
	require.Len(t, sibling.DotValues, 2)
	fifo.ProcessUpdate("c", sibling)

	assert.Equal(t, []model.Value{"x"}, fifo.Fetch("c").Values())
	assert.False(t, fifo.SyncRequest().Contains(model.Dot{NodeID: 0, UpdateID: 3}))
	observer.AssertNumberOfCalls(t, "RecordBufferOverflow", 1)
}

func TestFifoStore_EarlierWriteClosesGap(t *testing.T) {
	replicas := cluster{0, 1}
	origin := newWriter(0, replicas)
	fifo := NewFifoStore(1, 0, 0, replicas, nil, nil)

	first := origin.put("a", "1")
	second := origin.put("a", "2")

	fifo.ProcessUpdate("a", second)
	assert.Empty(t, fifo.Fetch("a").Values())

	fifo.ProcessUpdate("a", first)

	assert.Equal(t, []model.Value{"2"}, fifo.Fetch("a").Values())
	assert.Empty(t, fifo.BufferedSegments(0))
	assert.Equal(t, uint64(2), fifo.SyncRequest().Base(0))
}

func TestFifoStore_SyncCarriesBufferedSegments(t *testing.T) {
	replicas := cluster{0, 1, 2}
	origin := newWriter(0, replicas)
	x := NewFifoStore(1, 0, 0, replicas, nil, nil)
	y := NewFifoStore(2, 0, 0, replicas, nil, nil)

	a0 := origin.put("a", "0")
	b0 := origin.put("b", "0")
	a1 := origin.put("a", "1")
	b2 := origin.put("b", "2")

	x.ProcessUpdate("a", a0)
	x.ProcessUpdate("b", b0)
	x.ProcessUpdate("b", b2)

	resp := x.SyncClock(2, y.SyncRequest())
	require.Len(t, resp.Segments, 1)
	assert.Equal(t, model.NodeID(0), resp.Segments[0].NodeID)
	assert.Len(t, resp.Objects, 2)

	y.SyncRepair(1, resp)

	assert.Equal(t, []model.Value{"0"}, y.Fetch("a").Values())
	assert.Equal(t, []model.Value{"0"}, y.Fetch("b").Values())
	require.Len(t, y.BufferedSegments(0), 1)

	y.ProcessUpdate("a", a1)

	assert.Equal(t, []model.Value{"1"}, y.Fetch("a").Values())
	assert.Equal(t, []model.Value{"2"}, y.Fetch("b").Values())
}

func TestFifoStore_SyncSkipsSegmentsPeerPassed(t *testing.T) {
	replicas := cluster{0, 1, 2}
	origin := newWriter(0, replicas)
	x := NewFifoStore(1, 0, 0, replicas, nil, nil)

	origin.put("a", "0")
	x.ProcessUpdate("b", origin.put("b", "0"))

	peerClock := model.NodeClock{0: model.NewUpdateIDSet(2)}
	resp := x.SyncClock(2, peerClock)

	assert.Empty(t, resp.Segments)
	assert.Empty(t, resp.Objects)
}

func TestFifoStore_MalformedPeerClock(t *testing.T) {
	observer := &mockObserver{}
	observer.On("RecordMalformedPeerClock", model.Priority(2)).Return()
	fifo := NewFifoStore(1, 2, 0, cluster{0, 1}, observer, nil)

	fifo.SyncRepair(0, &model.StoreSync{
		PeerClock: model.NodeClock{0: model.NewUpdateIDSet(1, 5)},
	})

	observer.AssertCalled(t, "RecordMalformedPeerClock", model.Priority(2))
	clock := fifo.SyncRequest()
	assert.Equal(t, uint64(1), clock.Base(0))
	assert.True(t, clock.Contains(model.Dot{NodeID: 0, UpdateID: 5}))
	observer.AssertNotCalled(t, "RecordBufferOverflow", mock.Anything)
}
