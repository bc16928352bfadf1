package service

import (
	"context"

	"github.com/devrev/ndckv/internal/model"
)

// Session is the client view of a node. The read quorum and consistency
// mode apply to every read issued through it.
type Session struct {
	node       *Node
	ReadQuorum int
	Mode       model.ConsistencyMode
}

// NewSession opens a session on node that reads at the node's default read
// level and eventual consistency
func NewSession(node *Node) *Session {
	return &Session{node: node, Mode: model.ModeEventual}
}

// Get returns the live values of k and the context to pass to the next write
func (s *Session) Get(ctx context.Context, k model.Key) ([]model.Value, model.CausalContext, error) {
	return s.node.Get(ctx, k, s.ReadQuorum, s.Mode)
}

// Put writes v under k, superseding every write covered by cc
func (s *Session) Put(ctx context.Context, k model.Key, v model.Value, cc model.CausalContext) error {
	return s.node.Put(ctx, k, v, cc, nil)
}

// Delete removes every write covered by cc
func (s *Session) Delete(ctx context.Context, k model.Key, cc model.CausalContext) error {
	return s.node.Delete(ctx, k, cc, nil)
}
