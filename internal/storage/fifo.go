package storage

import (
	"maps"
	"slices"

	"github.com/devrev/ndckv/internal/model"
	"github.com/devrev/ndckv/internal/util"
	"go.uber.org/zap"
)

// DefaultBufferedUpdatesLimit bounds how far ahead of the contiguous prefix an
// origin's update may be buffered before it is dropped
const DefaultBufferedUpdatesLimit = 1000

type bufferedObjects = map[model.Key]model.Object

// FifoStore makes the updates of each origin visible in origin order for keys
// at or above its tier. Updates that arrive ahead of a gap are buffered until
// the gap closes.
type FifoStore struct {
	*Base
	tier     model.Priority
	limit    uint64
	buffered map[model.NodeID]*SegmentSet[bufferedObjects]
	// dropped holds the dots refused past the buffer limit; they are never
	// applied at this tier
	dropped  map[model.Dot]struct{}
	observer Observer
}

// NewFifoStore creates an empty FIFO store for the given tier. A zero limit
// selects DefaultBufferedUpdatesLimit.
func NewFifoStore(
	self model.NodeID,
	tier model.Priority,
	limit uint64,
	replicas ReplicaResolver,
	observer Observer,
	logger *zap.Logger,
) *FifoStore {
	if limit == 0 {
		limit = DefaultBufferedUpdatesLimit
	}
	if observer == nil {
		observer = nopObserver{}
	}
	s := &FifoStore{
		Base:     newBase(self, model.FifoMode(tier), replicas, logger),
		tier:     tier,
		limit:    limit,
		buffered: make(map[model.NodeID]*SegmentSet[bufferedObjects]),
		dropped:  make(map[model.Dot]struct{}),
		observer: observer,
	}
	s.admit = s.withoutDropped
	s.onObserve = s.markSkippable
	return s
}

// Tier returns the priority tier of the store
func (s *FifoStore) Tier() model.Priority {
	return s.tier
}

// ProcessUpdate feeds an object produced by the eventual store into this
// tier. Dots whose predecessors at this tier are all visible are applied;
// the rest are buffered or, past the limit, dropped.
func (s *FifoStore) ProcessUpdate(k model.Key, o model.Object) {
	if k.Priority() < s.tier {
		return
	}
	o = s.withoutDropped(o)

	var gapped []model.Dot
	origins := make(map[model.NodeID]struct{})
	for _, d := range o.Dots() {
		origins[d.NodeID] = struct{}{}
		if !s.ready(d, o.DotValues[d]) {
			gapped = append(gapped, d)
		}
	}

	if len(gapped) == 0 {
		s.Update(k, o)
	} else {
		ready := o.Split(func(d model.Dot) bool { return !slices.Contains(gapped, d) })
		if ready.HasValues() {
			s.Update(k, ready)
		}
		for _, d := range gapped {
			s.buffer(k, d, o)
		}
	}

	s.checkBuffered(slices.Sorted(maps.Keys(origins)))
}

func (s *FifoStore) ready(d model.Dot, dv model.DotValue) bool {
	if s.clock.Contains(d) {
		return true
	}
	return dv.FifoDistance.Range(d, s.tier).First <= s.clock.Base(d.NodeID)+1
}

func (s *FifoStore) buffer(k model.Key, d model.Dot, o model.Object) {
	base := s.clock.Base(d.NodeID)
	if d.UpdateID-base > s.limit {
		s.logger.Warn("Dropping update beyond FIFO buffer limit",
			zap.String("key", string(k)),
			zap.Stringer("dot", d),
			zap.Uint64("base", base),
			zap.Uint64("limit", s.limit))
		s.dropped[d] = struct{}{}
		s.observer.RecordBufferOverflow(s.tier)
		return
	}

	piece := o.Split(func(x model.Dot) bool { return x == d })
	r := o.DotValues[d].FifoDistance.Range(d, s.tier)
	s.segments(d.NodeID).Insert(r, bufferedObjects{k: piece})
}

func (s *FifoStore) segments(n model.NodeID) *SegmentSet[bufferedObjects] {
	set, ok := s.buffered[n]
	if !ok {
		set = NewSegmentSet(mergeBuffered)
		s.buffered[n] = set
	}
	return set
}

func mergeBuffered(a, b bufferedObjects) bufferedObjects {
	return util.MergeMaps(a, b, model.Object.Merge)
}

// withoutDropped removes the dots this tier refused from o
func (s *FifoStore) withoutDropped(o model.Object) model.Object {
	if len(s.dropped) == 0 {
		return o
	}
	keep := func(d model.Dot) bool {
		_, gone := s.dropped[d]
		return !gone
	}
	for d := range o.DotValues {
		if !keep(d) {
			return o.Split(keep)
		}
	}
	return o
}

// markSkippable records the ids a dot's FIFO distance proves were written
// below this tier, so the clock's base can move past them.
func (s *FifoStore) markSkippable(_ model.Key, o model.Object) {
	for d, dv := range o.DotValues {
		r := dv.FifoDistance.Range(d, s.tier)
		if r.First < d.UpdateID {
			s.clock.Entry(d.NodeID).AddRange(r.First, d.UpdateID-1)
		}
	}
}

// checkBuffered applies buffered segments that no longer wait on a gap
func (s *FifoStore) checkBuffered(origins []model.NodeID) {
	for _, n := range origins {
		set, ok := s.buffered[n]
		if !ok {
			continue
		}
		for {
			seg, ok := set.First()
			if !ok || seg.Range.First > s.clock.Base(n)+1 {
				break
			}
			set.PopFirst()
			for _, k := range slices.Sorted(maps.Keys(seg.Payload)) {
				s.Update(k, seg.Payload[k])
			}
		}
		if set.Len() == 0 {
			delete(s.buffered, n)
		}
	}
}

// SyncClock answers a peer's probe, adding the buffered segments that reach
// past the peer's base
func (s *FifoStore) SyncClock(peer model.NodeID, peerClock model.NodeClock) *model.StoreSync {
	resp := s.syncClock(peer, peerClock)
	for _, n := range slices.Sorted(maps.Keys(s.buffered)) {
		peerBase := peerClock.Base(n)
		for _, seg := range s.buffered[n].All() {
			if seg.Range.Last <= peerBase {
				continue
			}
			objects := make(map[model.Key]model.Object)
			for k, o := range seg.Payload {
				if s.replicas.IsReplica(peer, k) {
					objects[k] = o
				}
			}
			if len(objects) == 0 {
				continue
			}
			resp.Segments = append(resp.Segments, model.Segment{NodeID: n, Range: seg.Range, Objects: objects})
		}
	}
	return resp
}

// SyncRepair applies a peer's answer. A FIFO peer never exposes gaps, so its
// whole clock is unioned in; a clock with a bitmap is logged but still used.
func (s *FifoStore) SyncRepair(peer model.NodeID, resp *model.StoreSync) int {
	repaired := s.repairObjects(peer, resp)

	for _, n := range resp.PeerClock.Nodes() {
		entry := resp.PeerClock.Get(n)
		if entry == nil {
			continue
		}
		if len(entry.Bitmap) > 0 {
			s.logger.Warn("Peer reported FIFO clock with gaps",
				zap.Int("peer", int(peer)),
				zap.Int("origin", int(n)),
				zap.Stringer("clock", entry))
			s.observer.RecordMalformedPeerClock(s.tier)
		}
		s.clock.Entry(n).UnionWith(entry)
	}

	for _, seg := range resp.Segments {
		if seg.Range.Last <= s.clock.Base(seg.NodeID) {
			continue
		}
		s.segments(seg.NodeID).Insert(seg.Range, seg.Objects)
	}
	s.checkBuffered(slices.Sorted(maps.Keys(s.buffered)))

	s.advanceWatermarks(peer, resp.PeerClock)
	s.collectGarbage()
	return repaired
}

// BufferedSegments returns a copy of the buffered segments of origin n
func (s *FifoStore) BufferedSegments(n model.NodeID) []Segment[map[model.Key]model.Object] {
	set, ok := s.buffered[n]
	if !ok {
		return nil
	}
	return set.All()
}

// Stats returns the bookkeeping sizes including buffered segments
func (s *FifoStore) Stats() Stats {
	stats := s.Base.Stats()
	for _, set := range s.buffered {
		stats.BufferedSegments += set.Len()
	}
	stats.DroppedDots = len(s.dropped)
	return stats
}
