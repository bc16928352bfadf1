package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/devrev/ndckv/internal/algorithm"
	"github.com/devrev/ndckv/internal/errors"
	"github.com/devrev/ndckv/internal/health"
	"github.com/devrev/ndckv/internal/metrics"
	"github.com/devrev/ndckv/internal/model"
	"github.com/devrev/ndckv/internal/storage"
	"github.com/devrev/ndckv/internal/util/workerpool"
	"github.com/devrev/ndckv/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRPCTimeout bounds a single node-to-node call
const DefaultRPCTimeout = 5 * time.Second

// NodeConfig holds the per-node settings of a Node
type NodeConfig struct {
	NodeID          model.NodeID
	LockTimeout     time.Duration
	RPCTimeout      time.Duration
	FifoBufferLimit uint64
	// ReadLevel picks the quorum of reads that do not name one: one, quorum
	// or all. Empty means quorum.
	ReadLevel string
}

// Node owns the eventual store and one FIFO store per tier of a single
// replica. It serves client reads and writes, answers peers and drives the
// anti-entropy exchange. Every store access happens under the node lock.
type Node struct {
	self     model.NodeID
	strategy algorithm.ReplicationStrategy
	peers    PeerDirectory
	lock     *NodeLock

	eventual *storage.EventualStore
	fifo     [model.PriorityLevels]*storage.FifoStore
	stores   map[model.ConsistencyMode]storage.Store

	// pred is the last update id this node wrote at each tier
	pred [model.PriorityLevels]uint64

	pool       *workerpool.WorkerPool
	tracker    *health.PeerTracker
	membership Membership
	validator  *validation.Validator
	quorum     *algorithm.QuorumCalculator
	metrics    *metrics.Metrics
	logger     *zap.Logger

	rpcTimeout time.Duration
	readLevel  string
	now        func() time.Time
}

// NewNode creates a node with empty stores
func NewNode(
	cfg *NodeConfig,
	strategy algorithm.ReplicationStrategy,
	peers PeerDirectory,
	pool *workerpool.WorkerPool,
	tracker *health.PeerTracker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Node {
	rpcTimeout := cfg.RPCTimeout
	if rpcTimeout <= 0 {
		rpcTimeout = DefaultRPCTimeout
	}
	logger = logger.With(zap.Int("node_id", int(cfg.NodeID)))

	n := &Node{
		self:       cfg.NodeID,
		strategy:   strategy,
		peers:      peers,
		lock:       NewNodeLock(cfg.LockTimeout),
		eventual:   storage.NewEventualStore(cfg.NodeID, strategy, logger),
		stores:     make(map[model.ConsistencyMode]storage.Store, len(model.AllModes)),
		pool:       pool,
		tracker:    tracker,
		validator:  validation.NewValidator(),
		quorum:     algorithm.NewQuorumCalculator(),
		metrics:    m,
		logger:     logger,
		rpcTimeout: rpcTimeout,
		readLevel:  cfg.ReadLevel,
		now:        time.Now,
	}
	n.stores[model.ModeEventual] = n.eventual
	for tier := range model.PriorityLevels {
		p := model.Priority(tier)
		n.fifo[tier] = storage.NewFifoStore(cfg.NodeID, p, cfg.FifoBufferLimit, strategy, m, logger)
		n.stores[model.FifoMode(p)] = n.fifo[tier]
	}
	return n
}

// NodeID returns the id of this replica
func (n *Node) NodeID() model.NodeID {
	return n.self
}

// Strategy returns the placement strategy
func (n *Node) Strategy() algorithm.ReplicationStrategy {
	return n.strategy
}

// SetMembership attaches gossip liveness used to pick anti-entropy peers and
// annotate peer health
func (n *Node) SetMembership(m Membership) {
	n.membership = m
}

// Get reads k from quorum replicas at the given consistency and returns the
// live values with the merged causal context. A zero quorum selects the
// node's default read level.
func (n *Node) Get(ctx context.Context, k model.Key, quorum int, mode model.ConsistencyMode) ([]model.Value, model.CausalContext, error) {
	start := time.Now()
	if err := n.validator.ValidateGet(k, quorum, mode); err != nil {
		return nil, nil, err
	}

	replicas := n.orderedReplicas(k)
	if quorum == 0 {
		q, err := n.quorum.ReadQuorum(n.readLevel, len(replicas))
		if err != nil {
			return nil, nil, errors.InvalidArgument("invalid read level", err)
		}
		quorum = q
	}
	if n.quorum.IsDegraded(quorum, len(replicas)) {
		n.logger.Warn("Read quorum exceeds replica count",
			zap.String("key", string(k)),
			zap.Int("quorum", quorum),
			zap.Int("replicas", len(replicas)))
	}

	merged, answered, err := n.collect(ctx, k, mode, replicas, quorum)
	degraded := answered < quorum
	n.metrics.RecordGetRequest(mode, time.Since(start).Seconds(), degraded)
	if err != nil {
		return nil, nil, err
	}
	if degraded {
		n.logger.Warn("Degraded quorum read",
			zap.String("key", string(k)),
			zap.String("mode", mode.String()),
			zap.Int("quorum", quorum),
			zap.Int("answered", answered))
	}
	return merged.Values(), merged.CausalContext, nil
}

// orderedReplicas returns the replicas of k with this node first when it is one
func (n *Node) orderedReplicas(k model.Key) []model.NodeID {
	replicas := n.strategy.ReplicaNodes(k)
	ordered := make([]model.NodeID, 0, len(replicas))
	if n.strategy.IsReplica(n.self, k) {
		ordered = append(ordered, n.self)
	}
	for _, r := range replicas {
		if r != n.self {
			ordered = append(ordered, r)
		}
	}
	return ordered
}

type fetchResult struct {
	peer model.NodeID
	obj  model.Object
	err  error
}

// collect merges the first quorum answers. The local replica is read
// synchronously; remote fetches race and the ones not waited for are left to
// finish on their own.
func (n *Node) collect(
	ctx context.Context,
	k model.Key,
	mode model.ConsistencyMode,
	replicas []model.NodeID,
	quorum int,
) (model.Object, int, error) {
	merged := model.EmptyObject()
	answered := 0
	remote := replicas

	if len(replicas) > 0 && replicas[0] == n.self {
		remote = replicas[1:]
		o, err := n.Fetch(ctx, k, mode)
		if err != nil {
			n.logger.Warn("Local fetch failed", zap.String("key", string(k)), zap.Error(err))
		} else {
			merged = merged.Merge(o)
			answered++
		}
	}

	if answered < quorum && len(remote) > 0 {
		results := make(chan fetchResult, len(remote))
		for _, peer := range remote {
			go func(peer model.NodeID) {
				rpcCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.rpcTimeout)
				defer cancel()
				o, err := n.fetchRemote(rpcCtx, peer, k, mode)
				results <- fetchResult{peer: peer, obj: o, err: err}
			}(peer)
		}

		for pending := len(remote); answered < quorum && pending > 0; pending-- {
			select {
			case res := <-results:
				if res.err != nil {
					n.logger.Warn("Replica fetch failed",
						zap.String("key", string(k)),
						zap.Int("peer", int(res.peer)),
						zap.Error(res.err))
					continue
				}
				merged = merged.Merge(res.obj)
				answered++
			case <-ctx.Done():
				return merged, answered, ctx.Err()
			}
		}
	}

	if answered == 0 && len(replicas) > 0 {
		return merged, 0, errors.QuorumUnavailable(string(k), quorum)
	}
	return merged, answered, nil
}

func (n *Node) fetchRemote(ctx context.Context, peer model.NodeID, k model.Key, mode model.ConsistencyMode) (model.Object, error) {
	api, err := n.peers.Peer(peer)
	if err != nil {
		return model.Object{}, errors.PeerUnavailable(int(peer), err)
	}
	return api.Fetch(ctx, k, mode)
}

// Put writes v under k as a successor of cc and replicates it to the other
// replicas selected by filter
func (n *Node) Put(ctx context.Context, k model.Key, v model.Value, cc model.CausalContext, filter ReplicaFilter) error {
	start := time.Now()
	if err := n.validator.ValidatePut(k, v, cc); err != nil {
		return err
	}

	release, err := n.lock.Lock(ctx, "put")
	if err != nil {
		return n.lockFailed("put", err)
	}
	d := n.eventual.NextVersion()
	dist := n.nextDistance(k.Priority(), d.UpdateID)
	merged := n.apply(k, model.NewObject(d, v, dist, cc))
	release()

	n.replicate(k, merged, filter)
	n.metrics.RecordPutRequest(time.Since(start).Seconds())
	n.logger.Debug("Put applied",
		zap.String("key", string(k)),
		zap.Stringer("dot", d),
		zap.Bool("tombstone", v.IsTombstone()))
	return nil
}

// Delete writes a tombstone for k
func (n *Node) Delete(ctx context.Context, k model.Key, cc model.CausalContext, filter ReplicaFilter) error {
	return n.Put(ctx, k, "", cc, filter)
}

// nextDistance records the gap back to this node's previous write at every
// tier the key takes part in and moves the tier pointers forward
func (n *Node) nextDistance(p model.Priority, id uint64) model.FifoDistance {
	var dist model.FifoDistance
	for tier := model.Priority(0); tier <= p; tier++ {
		dist[tier] = id - n.pred[tier]
		n.pred[tier] = id
	}
	return dist
}

// apply merges o into the eventual store and feeds the result to every FIFO
// tier. Dots of o the merge superseded are fed first: a tier may still be
// waiting on them. The caller holds the write lock.
func (n *Node) apply(k model.Key, o model.Object) model.Object {
	merged := n.eventual.Update(k, o)
	superseded := o.Without(merged)
	for _, s := range n.fifo {
		if superseded.HasValues() {
			s.ProcessUpdate(k, superseded)
		}
		s.ProcessUpdate(k, merged)
	}
	return merged
}

func (n *Node) replicate(k model.Key, o model.Object, filter ReplicaFilter) {
	for _, r := range n.strategy.ReplicaNodes(k) {
		if r == n.self || (filter != nil && !filter(r)) {
			continue
		}
		peer := r
		task := workerpool.Task{
			ID:      uuid.NewString(),
			Key:     strconv.Itoa(int(peer)),
			Context: context.Background(),
			Fn: func(ctx context.Context) error {
				api, err := n.peers.Peer(peer)
				if err != nil {
					return errors.PeerUnavailable(int(peer), err)
				}
				rpcCtx, cancel := context.WithTimeout(ctx, n.rpcTimeout)
				defer cancel()
				return api.SendUpdate(rpcCtx, k, o)
			},
		}
		if !n.pool.TrySubmit(task) {
			n.metrics.RecordFanoutRejected()
			n.logger.Warn("Replication queue full, relying on anti-entropy",
				zap.String("key", string(k)),
				zap.Int("peer", int(peer)))
		}
	}
}

// Fetch returns this replica's object for k at the given consistency
func (n *Node) Fetch(ctx context.Context, k model.Key, mode model.ConsistencyMode) (model.Object, error) {
	s, ok := n.stores[mode]
	if !ok {
		return model.Object{}, errors.InvalidMode(int(mode))
	}
	release, err := n.lock.RLock(ctx, "fetch")
	if err != nil {
		return model.Object{}, n.lockFailed("fetch", err)
	}
	defer release()
	return s.Fetch(k), nil
}

// Update merges a replicated object and returns the merged result
func (n *Node) Update(ctx context.Context, k model.Key, o model.Object) (model.Object, error) {
	if err := n.validator.ValidateKey(k); err != nil {
		return model.Object{}, err
	}
	release, err := n.lock.Lock(ctx, "update")
	if err != nil {
		return model.Object{}, n.lockFailed("update", err)
	}
	defer release()
	return n.apply(k, o), nil
}

// SendUpdate merges a replicated object
func (n *Node) SendUpdate(ctx context.Context, k model.Key, o model.Object) error {
	_, err := n.Update(ctx, k, o)
	return err
}

// SyncClock answers a peer's anti-entropy probe for every store
func (n *Node) SyncClock(ctx context.Context, req *model.SyncRequest) (*model.SyncResponse, error) {
	release, err := n.lock.RLock(ctx, "sync_clock")
	if err != nil {
		return nil, n.lockFailed("sync_clock", err)
	}
	defer release()

	resp := &model.SyncResponse{
		From:   n.self,
		Stores: make(map[model.ConsistencyMode]*model.StoreSync, len(model.AllModes)),
	}
	for _, mode := range model.AllModes {
		resp.Stores[mode] = n.stores[mode].SyncClock(req.From, req.Clocks[mode])
	}
	return resp, nil
}

// AntiEntropy runs one exchange with peer. The lock is released while the
// probe is in flight, so repairs merge into whatever the stores hold then.
func (n *Node) AntiEntropy(ctx context.Context, peer model.NodeID) error {
	start := time.Now()
	logger := n.logger.With(zap.String("round_id", uuid.NewString()), zap.Int("peer", int(peer)))

	release, err := n.lock.RLock(ctx, "anti_entropy")
	if err != nil {
		n.metrics.RecordAntiEntropy("lock_timeout", time.Since(start).Seconds(), 0)
		return n.lockFailed("anti_entropy", err)
	}
	req := &model.SyncRequest{
		From:   n.self,
		Clocks: make(map[model.ConsistencyMode]model.NodeClock, len(model.AllModes)),
	}
	for _, mode := range model.AllModes {
		req.Clocks[mode] = n.stores[mode].SyncRequest()
	}
	release()

	api, err := n.peers.Peer(peer)
	if err != nil {
		n.metrics.RecordAntiEntropy("error", time.Since(start).Seconds(), 0)
		return errors.PeerUnavailable(int(peer), err)
	}
	rpcCtx, cancel := context.WithTimeout(ctx, n.rpcTimeout)
	resp, err := api.SyncClock(rpcCtx, req)
	cancel()
	if err != nil {
		n.metrics.RecordAntiEntropy("error", time.Since(start).Seconds(), 0)
		return fmt.Errorf("sync clock with node %d: %w", peer, err)
	}

	release, err = n.lock.Lock(ctx, "anti_entropy")
	if err != nil {
		n.metrics.RecordAntiEntropy("lock_timeout", time.Since(start).Seconds(), 0)
		return n.lockFailed("anti_entropy", err)
	}
	repaired := 0
	for _, mode := range model.AllModes {
		if s, ok := resp.Stores[mode]; ok && s != nil {
			repaired += n.stores[mode].SyncRepair(peer, s)
		}
	}
	n.publishStats()
	release()

	n.metrics.RecordAntiEntropy("success", time.Since(start).Seconds(), repaired)
	logger.Debug("Anti-entropy round complete",
		zap.Int("repaired", repaired),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// AntiEntropyCandidates returns the peers worth probing: every peer gossip
// has not declared dead
func (n *Node) AntiEntropyCandidates() []model.NodeID {
	peers := n.strategy.PeerNodes(n.self)
	if n.membership == nil {
		return peers
	}
	candidates := make([]model.NodeID, 0, len(peers))
	for _, p := range peers {
		if alive, known := n.membership.IsAlive(p); alive || !known {
			candidates = append(candidates, p)
		}
	}
	return candidates
}

// StripCausality compresses the causal context of every store
func (n *Node) StripCausality(ctx context.Context) error {
	release, err := n.lock.Lock(ctx, "strip")
	if err != nil {
		return n.lockFailed("strip", err)
	}
	defer release()

	stripped, pending := 0, 0
	for _, mode := range model.AllModes {
		s := n.stores[mode]
		stripped += s.StripCausality()
		pending += s.Stats().NonStrippedKeys
	}
	n.metrics.UpdateStripPending(pending)
	n.publishStats()
	if stripped > 0 {
		n.logger.Debug("Stripped causal contexts", zap.Int("keys", stripped), zap.Int("pending", pending))
	}
	return nil
}

// publishStats exports store sizes. The caller holds the lock.
func (n *Node) publishStats() {
	for _, mode := range model.AllModes {
		st := n.stores[mode].Stats()
		n.metrics.UpdateStoreStats(mode, st.Keys, st.DotKeys, st.NonStrippedKeys, st.BufferedSegments)
	}
}

// Heartbeat writes this node's timestamp and classifies every peer by the
// last timestamp visible from it at each consistency
func (n *Node) Heartbeat(ctx context.Context) error {
	now := n.now()
	key := model.HeartbeatKey(n.self)

	current, err := n.Fetch(ctx, key, model.ModeEventual)
	if err != nil {
		return fmt.Errorf("read own heartbeat: %w", err)
	}
	value := model.Value(strconv.FormatInt(now.UnixMilli(), 10))
	if err := n.Put(ctx, key, value, current.CausalContext, nil); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	n.tracker.MarkLocalHeartbeat(now)

	for _, peer := range n.strategy.PeerNodes(n.self) {
		obs := health.Observation{NodeID: peer, At: now}
		obs.EventualSeen = n.lastSeen(ctx, peer, model.ModeEventual)
		for tier := range model.PriorityLevels {
			obs.FifoSeen[tier] = n.lastSeen(ctx, peer, model.FifoMode(model.Priority(tier)))
		}
		if n.membership != nil {
			obs.GossipAlive, _ = n.membership.IsAlive(peer)
		}
		h := n.tracker.Observe(obs)
		n.metrics.UpdatePeerStatus(peer, h.Status)
	}
	return nil
}

// lastSeen returns the newest heartbeat of peer visible at mode, or the zero
// time when there is none
func (n *Node) lastSeen(ctx context.Context, peer model.NodeID, mode model.ConsistencyMode) time.Time {
	values, _, err := n.Get(ctx, model.HeartbeatKey(peer), 1, mode)
	if err != nil {
		n.logger.Debug("Heartbeat read failed",
			zap.Int("peer", int(peer)),
			zap.String("mode", mode.String()),
			zap.Error(err))
		return time.Time{}
	}
	var newest int64
	for _, v := range values {
		if ms, err := strconv.ParseInt(string(v), 10, 64); err == nil && ms > newest {
			newest = ms
		}
	}
	if newest == 0 {
		return time.Time{}
	}
	return time.UnixMilli(newest)
}

// NodeStats is a point-in-time view of a node
type NodeStats struct {
	NodeID model.NodeID
	Stores []storage.Stats
	Fanout workerpool.Stats
	Peers  []model.PeerHealth
}

// Stats returns the current node statistics
func (n *Node) Stats(ctx context.Context) (*NodeStats, error) {
	release, err := n.lock.RLock(ctx, "stats")
	if err != nil {
		return nil, n.lockFailed("stats", err)
	}
	stats := &NodeStats{NodeID: n.self}
	for _, mode := range model.AllModes {
		stats.Stores = append(stats.Stores, n.stores[mode].Stats())
	}
	release()

	stats.Fanout = n.pool.Stats()
	stats.Peers = n.tracker.Snapshot()
	return stats, nil
}

// IsReady reports whether this node has written a recent heartbeat
func (n *Node) IsReady() bool {
	return n.tracker.IsReady(n.now())
}

func (n *Node) lockFailed(operation string, err error) error {
	if errors.IsCode(err, errors.ErrCodeLockTimeout) {
		n.metrics.RecordLockTimeout(operation)
		n.logger.Warn("Node lock wait timed out", zap.String("operation", operation), zap.Error(err))
	}
	return err
}
