package storage

import (
	"maps"
	"slices"

	"github.com/devrev/ndckv/internal/model"
	"github.com/devrev/ndckv/internal/util"
	"go.uber.org/zap"
)

// ReplicaResolver answers placement questions for a store
type ReplicaResolver interface {
	ReplicaNodes(k model.Key) []model.NodeID
	PeerNodes(n model.NodeID) []model.NodeID
	IsReplica(n model.NodeID, k model.Key) bool
}

// Store is what a node needs from the store of each consistency mode
type Store interface {
	Mode() model.ConsistencyMode
	Fetch(k model.Key) model.Object
	Keys() []model.Key
	SyncRequest() model.NodeClock
	SyncClock(peer model.NodeID, peerClock model.NodeClock) *model.StoreSync
	SyncRepair(peer model.NodeID, resp *model.StoreSync) int
	StripCausality() int
	Stats() Stats
}

var (
	_ Store = (*EventualStore)(nil)
	_ Store = (*FifoStore)(nil)
)

// Observer receives store events that are exported as metrics
type Observer interface {
	RecordBufferOverflow(tier model.Priority)
	RecordMalformedPeerClock(tier model.Priority)
}

type nopObserver struct{}

func (nopObserver) RecordBufferOverflow(model.Priority)     {}
func (nopObserver) RecordMalformedPeerClock(model.Priority) {}

// Stats summarises the bookkeeping of one store
type Stats struct {
	Mode             model.ConsistencyMode
	Keys             int
	ClockOrigins     int
	DotKeys          int
	NonStrippedKeys  int
	BufferedSegments int
	DroppedDots      int
}

// Base holds the state shared by every store: the objects, the clock of
// observed dots, the dot to key index used to answer sync probes, and the
// watermarks that bound that index.
//
// Base is not safe for concurrent use; the owning node serialises access.
type Base struct {
	self     model.NodeID
	mode     model.ConsistencyMode
	replicas ReplicaResolver
	logger   *zap.Logger

	objects     map[model.Key]model.Object
	clock       model.NodeClock
	dotKeys     map[model.NodeID]map[uint64]model.Key
	collected   map[model.NodeID]uint64
	watermarks  map[model.NodeID]map[model.NodeID]uint64
	nonStripped map[model.Key]struct{}

	// admit filters every object merged by Update, see FifoStore.withoutDropped
	admit     func(o model.Object) model.Object
	// onObserve runs for every object whose dots are recorded, see
	// FifoStore.markSkippable
	onObserve func(k model.Key, o model.Object)
}

func newBase(self model.NodeID, mode model.ConsistencyMode, replicas ReplicaResolver, logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		self:        self,
		mode:        mode,
		replicas:    replicas,
		logger:      logger.With(zap.String("store", mode.String())),
		objects:     make(map[model.Key]model.Object),
		clock:       make(model.NodeClock),
		dotKeys:     make(map[model.NodeID]map[uint64]model.Key),
		collected:   make(map[model.NodeID]uint64),
		watermarks:  make(map[model.NodeID]map[model.NodeID]uint64),
		nonStripped: make(map[model.Key]struct{}),
	}
}

// Mode returns the consistency mode the store serves
func (b *Base) Mode() model.ConsistencyMode {
	return b.mode
}

// Fetch returns the object stored under k, or an empty one. When this node
// replicates k the causal context is filled from the clock.
func (b *Base) Fetch(k model.Key) model.Object {
	o, ok := b.objects[k]
	if !ok {
		o = model.EmptyObject()
	}
	if b.replicas.IsReplica(b.self, k) {
		o = o.Fill(b.clock, b.clock.Nodes())
	}
	return o
}

// Update merges o into the current object of k, stores the result and
// returns it with its full causal context. Every dot of o counts as observed,
// including dots the stored causal context already supersedes.
func (b *Base) Update(k model.Key, o model.Object) model.Object {
	if b.admit != nil {
		o = b.admit(o)
	}
	merged := o.Merge(b.Fetch(k))
	b.observe(k, o)
	b.store(k, merged)
	return merged
}

// observe adds the dots of o to the clock and the dot index
func (b *Base) observe(k model.Key, o model.Object) {
	if b.onObserve != nil {
		b.onObserve(k, o)
	}
	for d := range o.DotValues {
		b.clock.Add(d)
		if d.UpdateID > b.collected[d.NodeID] {
			b.dotIndex(d.NodeID)[d.UpdateID] = k
		}
	}
}

func (b *Base) store(k model.Key, o model.Object) {
	b.observe(k, o)

	replica := b.replicas.IsReplica(b.self, k)
	if replica {
		o = o.CollectTombstones(b.clock).Strip(b.clock)
	}

	if o.IsEmpty() {
		delete(b.objects, k)
		delete(b.nonStripped, k)
		return
	}

	b.objects[k] = o
	if replica && needsStrip(o) {
		b.nonStripped[k] = struct{}{}
	} else {
		delete(b.nonStripped, k)
	}
}

func needsStrip(o model.Object) bool {
	if len(o.CausalContext) > 0 {
		return true
	}
	for _, dv := range o.DotValues {
		if dv.Value.IsTombstone() {
			return true
		}
	}
	return false
}

func (b *Base) dotIndex(n model.NodeID) map[uint64]model.Key {
	index, ok := b.dotKeys[n]
	if !ok {
		index = make(map[uint64]model.Key)
		b.dotKeys[n] = index
	}
	return index
}

// StripCausality re-stores every key whose causal context could not be fully
// compressed. It returns the number of keys that no longer need it.
func (b *Base) StripCausality() int {
	keys := slices.Sorted(maps.Keys(b.nonStripped))
	for _, k := range keys {
		o, ok := b.objects[k]
		if !ok {
			delete(b.nonStripped, k)
			continue
		}
		b.store(k, o)
	}
	return len(keys) - len(b.nonStripped)
}

// SyncRequest returns a copy of the clock to send as a sync probe
func (b *Base) SyncRequest() model.NodeClock {
	return b.clock.Clone()
}

// LookupDot returns the key a dot was written to, if it is still indexed
func (b *Base) LookupDot(d model.Dot) (model.Key, bool) {
	k, ok := b.dotKeys[d.NodeID][d.UpdateID]
	return k, ok
}

// Keys returns the stored keys in ascending order
func (b *Base) Keys() []model.Key {
	return slices.Sorted(maps.Keys(b.objects))
}

// Stats returns the current bookkeeping sizes
func (b *Base) Stats() Stats {
	dotKeys := 0
	for _, index := range b.dotKeys {
		dotKeys += len(index)
	}
	return Stats{
		Mode:            b.mode,
		Keys:            len(b.objects),
		ClockOrigins:    len(b.clock),
		DotKeys:         dotKeys,
		NonStrippedKeys: len(b.nonStripped),
	}
}

// syncClock builds the answer to a peer's probe: every object holding an id
// the peer has not observed, restricted to keys the peer replicates.
func (b *Base) syncClock(peer model.NodeID, peerClock model.NodeClock) *model.StoreSync {
	missing := make(map[model.Key]struct{})
	for _, n := range b.clock.Nodes() {
		index := b.dotKeys[n]
		for _, id := range b.clock.Get(n).Except(peerClock.Get(n)) {
			if k, ok := index[id]; ok && b.replicas.IsReplica(peer, k) {
				missing[k] = struct{}{}
			}
		}
	}

	resp := &model.StoreSync{PeerClock: b.clock.Clone()}
	for _, k := range slices.Sorted(maps.Keys(missing)) {
		resp.Objects = append(resp.Objects, model.KeyedObject{Key: k, Object: b.Fetch(k)})
	}
	return resp
}

func (b *Base) repairObjects(peer model.NodeID, resp *model.StoreSync) int {
	for _, ko := range resp.Objects {
		o := ko.Object
		if b.replicas.IsReplica(peer, ko.Key) {
			o = o.Fill(resp.PeerClock, resp.PeerClock.Nodes())
		}
		b.Update(ko.Key, o)
	}
	return len(resp.Objects)
}

func (b *Base) advanceWatermarks(peer model.NodeID, peerClock model.NodeClock) {
	b.watermarks[peer] = util.MergeMaps(b.watermarks[peer], bases(peerClock), util.Max[uint64])
	b.watermarks[b.self] = util.MergeMaps(b.watermarks[b.self], bases(b.clock), util.Max[uint64])
}

func bases(clock model.NodeClock) map[model.NodeID]uint64 {
	out := make(map[model.NodeID]uint64, len(clock))
	for n, s := range clock {
		out[n] = s.Base
	}
	return out
}

// collectGarbage drops index entries no peer of their origin can still ask for
func (b *Base) collectGarbage() int {
	dropped := 0
	for n, index := range b.dotKeys {
		floor, ok := b.watermarkFloor(n)
		if !ok || floor <= b.collected[n] {
			continue
		}
		for id := range index {
			if id <= floor {
				delete(index, id)
				dropped++
			}
		}
		b.collected[n] = floor
		if len(index) == 0 {
			delete(b.dotKeys, n)
		}
	}
	if dropped > 0 {
		b.logger.Debug("Collected dot index entries", zap.Int("dropped", dropped))
	}
	return dropped
}

// watermarkFloor returns the lowest base of origin n acknowledged by every
// peer of n. It reports false while any peer has not been heard from.
func (b *Base) watermarkFloor(n model.NodeID) (uint64, bool) {
	var floor uint64
	found := false
	for _, p := range b.replicas.PeerNodes(n) {
		if p == n {
			continue
		}
		marks, ok := b.watermarks[p]
		if !ok {
			return 0, false
		}
		mark, ok := marks[n]
		if !ok {
			return 0, false
		}
		if !found || mark < floor {
			floor = mark
			found = true
		}
	}
	return floor, found
}
