package service

import (
	"context"

	"github.com/devrev/ndckv/internal/model"
)

// PeerAPI is the node-to-node surface. Node implements it for local calls and
// the gRPC client implements it for remote ones.
type PeerAPI interface {
	// Fetch returns a replica's object for k at the given consistency
	Fetch(ctx context.Context, k model.Key, mode model.ConsistencyMode) (model.Object, error)
	// Update merges o into the replica and returns the merged object
	Update(ctx context.Context, k model.Key, o model.Object) (model.Object, error)
	// SendUpdate merges o into the replica without waiting for the result
	SendUpdate(ctx context.Context, k model.Key, o model.Object) error
	// SyncClock answers an anti-entropy probe
	SyncClock(ctx context.Context, req *model.SyncRequest) (*model.SyncResponse, error)
}

// PeerDirectory resolves a node id to something that speaks PeerAPI
type PeerDirectory interface {
	Peer(id model.NodeID) (PeerAPI, error)
}

// Membership reports gossip liveness. known is false for nodes gossip has
// never seen.
type Membership interface {
	IsAlive(id model.NodeID) (alive bool, known bool)
}

// ReplicaFilter selects which replicas a put is sent to; nil sends to all
type ReplicaFilter func(model.NodeID) bool
