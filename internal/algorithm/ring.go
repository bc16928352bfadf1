package algorithm

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"

	"github.com/devrev/ndckv/internal/model"
)

// DefaultVirtualNodes is the number of ring positions per node when none is configured
const DefaultVirtualNodes = 64

// Ring implements consistent hashing with virtual nodes. A key is stored on
// the first replicationFactor distinct nodes found walking clockwise from
// the key's hash. The ring is immutable once built.
type Ring struct {
	nodes   []model.NodeID
	factor  int
	ring    []uint64                // sorted vnode hashes
	ringMap map[uint64]model.NodeID // vnode hash -> physical node
	peers   map[model.NodeID][]model.NodeID
}

// NewRing builds a ring over nodes. The replication factor is capped at the
// number of nodes.
func NewRing(nodes []model.NodeID, replicationFactor, virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	sorted := slices.Compact(slices.Sorted(slices.Values(nodes)))
	r := &Ring{
		nodes:   sorted,
		factor:  min(max(replicationFactor, 1), len(sorted)),
		ringMap: make(map[uint64]model.NodeID),
	}

	for _, n := range sorted {
		for i := 0; i < virtualNodes; i++ {
			h := hash(fmt.Sprintf("%d-vnode-%d", n, i))
			if _, taken := r.ringMap[h]; taken {
				continue
			}
			r.ring = append(r.ring, h)
			r.ringMap[h] = n
		}
	}
	slices.Sort(r.ring)

	r.peers = r.computePeers()
	return r
}

// ReplicaNodes returns the nodes responsible for k, in ring order
func (r *Ring) ReplicaNodes(k model.Key) []model.NodeID {
	if len(r.ring) == 0 {
		return nil
	}
	idx := sort.Search(len(r.ring), func(i int) bool {
		return r.ring[i] >= hash(string(k))
	})
	return r.walk(idx % len(r.ring))
}

// walk collects factor distinct nodes clockwise from ring position idx
func (r *Ring) walk(idx int) []model.NodeID {
	nodes := make([]model.NodeID, 0, r.factor)
	for i := 0; i < len(r.ring) && len(nodes) < r.factor; i++ {
		n := r.ringMap[r.ring[(idx+i)%len(r.ring)]]
		if !slices.Contains(nodes, n) {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// computePeers links every pair of nodes that appear together in the replica
// set of some ring position
func (r *Ring) computePeers() map[model.NodeID][]model.NodeID {
	linked := make(map[model.NodeID]map[model.NodeID]struct{}, len(r.nodes))
	for _, n := range r.nodes {
		linked[n] = make(map[model.NodeID]struct{})
	}
	for idx := range r.ring {
		set := r.walk(idx)
		for _, a := range set {
			for _, b := range set {
				if a != b {
					linked[a][b] = struct{}{}
				}
			}
		}
	}

	peers := make(map[model.NodeID][]model.NodeID, len(linked))
	for n, set := range linked {
		list := make([]model.NodeID, 0, len(set))
		for p := range set {
			list = append(list, p)
		}
		slices.Sort(list)
		peers[n] = list
	}
	return peers
}

func (r *Ring) PeerNodes(n model.NodeID) []model.NodeID {
	return slices.Clone(r.peers[n])
}

func (r *Ring) IsReplica(n model.NodeID, k model.Key) bool {
	return slices.Contains(r.ReplicaNodes(k), n)
}

func (r *Ring) Nodes() []model.NodeID {
	return slices.Clone(r.nodes)
}

// ReplicationFactor returns the effective number of replicas per key
func (r *Ring) ReplicationFactor() int {
	return r.factor
}

// hash computes SHA-256 and keeps the first 8 bytes
func hash(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}
