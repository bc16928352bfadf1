package algorithm

import (
	"slices"

	"github.com/devrev/ndckv/internal/model"
)

// ReplicationStrategy decides which nodes hold a key and which nodes
// exchange anti-entropy with each other
type ReplicationStrategy interface {
	// ReplicaNodes returns the nodes that store k
	ReplicaNodes(k model.Key) []model.NodeID
	// PeerNodes returns every other node sharing at least one key with n
	PeerNodes(n model.NodeID) []model.NodeID
	// IsReplica reports whether n stores k
	IsReplica(n model.NodeID, k model.Key) bool
	// Nodes returns every node of the cluster in ascending order
	Nodes() []model.NodeID
}

// AllNodes replicates every key on every node
type AllNodes struct {
	nodes []model.NodeID
}

// NewAllNodes creates the strategy for the given cluster members
func NewAllNodes(nodes []model.NodeID) *AllNodes {
	sorted := slices.Clone(nodes)
	slices.Sort(sorted)
	return &AllNodes{nodes: slices.Compact(sorted)}
}

func (a *AllNodes) ReplicaNodes(model.Key) []model.NodeID {
	return slices.Clone(a.nodes)
}

func (a *AllNodes) PeerNodes(n model.NodeID) []model.NodeID {
	peers := make([]model.NodeID, 0, len(a.nodes))
	for _, p := range a.nodes {
		if p != n {
			peers = append(peers, p)
		}
	}
	return peers
}

func (a *AllNodes) IsReplica(n model.NodeID, _ model.Key) bool {
	_, found := slices.BinarySearch(a.nodes, n)
	return found
}

func (a *AllNodes) Nodes() []model.NodeID {
	return slices.Clone(a.nodes)
}
