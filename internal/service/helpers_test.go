package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/devrev/ndckv/internal/algorithm"
	"github.com/devrev/ndckv/internal/health"
	"github.com/devrev/ndckv/internal/metrics"
	"github.com/devrev/ndckv/internal/model"
	"github.com/devrev/ndckv/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memDirectory connects nodes of a test cluster in process. Nodes can be
// taken down entirely or have replicated writes to them silently lost.
type memDirectory struct {
	mu      sync.Mutex
	nodes   map[model.NodeID]*Node
	down    map[model.NodeID]bool
	dropped map[model.NodeID]bool
}

func (d *memDirectory) Peer(id model.NodeID) (PeerAPI, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	node, ok := d.nodes[id]
	if !ok || d.down[id] {
		return nil, fmt.Errorf("node %d unreachable", id)
	}
	return &memPeer{dir: d, node: node}, nil
}

func (d *memDirectory) setDown(id model.NodeID, down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down[id] = down
}

func (d *memDirectory) dropUpdates(id model.NodeID, drop bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped[id] = drop
}

func (d *memDirectory) isDropped(id model.NodeID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped[id]
}

type memPeer struct {
	dir  *memDirectory
	node *Node
}

func (p *memPeer) Fetch(ctx context.Context, k model.Key, mode model.ConsistencyMode) (model.Object, error) {
	return p.node.Fetch(ctx, k, mode)
}

func (p *memPeer) Update(ctx context.Context, k model.Key, o model.Object) (model.Object, error) {
	return p.node.Update(ctx, k, o)
}

func (p *memPeer) SendUpdate(ctx context.Context, k model.Key, o model.Object) error {
	if p.dir.isDropped(p.node.NodeID()) {
		return nil
	}
	return p.node.SendUpdate(ctx, k, o)
}

func (p *memPeer) SyncClock(ctx context.Context, req *model.SyncRequest) (*model.SyncResponse, error) {
	return p.node.SyncClock(ctx, req)
}

// fixedPlacement replicates every key on the same subset of nodes
type fixedPlacement struct {
	nodes    []model.NodeID
	replicas []model.NodeID
}

func (f *fixedPlacement) ReplicaNodes(model.Key) []model.NodeID { return f.replicas }

func (f *fixedPlacement) PeerNodes(n model.NodeID) []model.NodeID {
	if !slices.Contains(f.replicas, n) {
		return nil
	}
	var peers []model.NodeID
	for _, r := range f.replicas {
		if r != n {
			peers = append(peers, r)
		}
	}
	return peers
}

func (f *fixedPlacement) IsReplica(n model.NodeID, _ model.Key) bool {
	return slices.Contains(f.replicas, n)
}

func (f *fixedPlacement) Nodes() []model.NodeID { return f.nodes }

type testCluster struct {
	dir   *memDirectory
	nodes map[model.NodeID]*Node
}

func newTestCluster(t *testing.T, ids ...model.NodeID) *testCluster {
	return newTestClusterWith(t, algorithm.NewAllNodes(ids), ids...)
}

func newTestClusterWith(t *testing.T, strategy algorithm.ReplicationStrategy, ids ...model.NodeID) *testCluster {
	t.Helper()
	dir := &memDirectory{
		nodes:   make(map[model.NodeID]*Node),
		down:    make(map[model.NodeID]bool),
		dropped: make(map[model.NodeID]bool),
	}
	for _, id := range ids {
		pool := workerpool.NewWorkerPool(&workerpool.Config{
			Name:       fmt.Sprintf("fanout-%d", id),
			MaxWorkers: 2,
			QueueSize:  64,
			Logger:     zap.NewNop(),
		})
		t.Cleanup(func() { _ = pool.Stop(time.Second) })

		dir.nodes[id] = NewNode(
			&NodeConfig{NodeID: id, LockTimeout: time.Second, RPCTimeout: time.Second},
			strategy,
			dir,
			pool,
			health.NewPeerTracker(time.Minute, zap.NewNop()),
			metrics.NewMetrics(id, prometheus.NewRegistry()),
			zap.NewNop(),
		)
	}
	return &testCluster{dir: dir, nodes: dir.nodes}
}

// flush waits for every queued replication to be delivered
func (c *testCluster) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, n := range c.nodes {
		require.NoError(t, n.pool.Flush(ctx))
	}
}

func (c *testCluster) get(t *testing.T, id model.NodeID, k model.Key, quorum int, mode model.ConsistencyMode) ([]model.Value, model.CausalContext) {
	t.Helper()
	values, cc, err := c.nodes[id].Get(context.Background(), k, quorum, mode)
	require.NoError(t, err)
	return values, cc
}

type staticMembership map[model.NodeID]bool

func (m staticMembership) IsAlive(id model.NodeID) (bool, bool) {
	alive, ok := m[id]
	return alive, ok
}
