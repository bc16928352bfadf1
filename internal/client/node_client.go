package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/ndckv/internal/errors"
	"github.com/devrev/ndckv/internal/model"
	"github.com/devrev/ndckv/internal/service"
	"github.com/devrev/ndckv/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultTimeout applies to calls whose context carries no deadline
const DefaultTimeout = 5 * time.Second

// NodeClient calls one remote node over gRPC
type NodeClient struct {
	nodeID  model.NodeID
	conn    *grpc.ClientConn
	timeout time.Duration
}

var _ service.PeerAPI = (*NodeClient)(nil)

// Dial creates a client for the node at target. The connection is
// established lazily on the first call.
func Dial(nodeID model.NodeID, target string, timeout time.Duration, opts ...grpc.DialOption) (*NodeClient, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	return &NodeClient{nodeID: nodeID, conn: conn, timeout: timeout}, nil
}

// Close closes the connection
func (c *NodeClient) Close() error {
	return c.conn.Close()
}

func (c *NodeClient) invoke(ctx context.Context, method string, req, resp wire.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.conn.Invoke(ctx, wire.FullMethod(method), req, resp); err != nil {
		return errors.FromGRPC(err).WithDetail("peer", int(c.nodeID))
	}
	return nil
}

// Fetch implements service.PeerAPI
func (c *NodeClient) Fetch(ctx context.Context, k model.Key, mode model.ConsistencyMode) (model.Object, error) {
	resp := new(wire.ObjectResponse)
	if err := c.invoke(ctx, wire.MethodFetch, &wire.FetchRequest{Key: k, Mode: mode}, resp); err != nil {
		return model.Object{}, err
	}
	return resp.Object, nil
}

// Update implements service.PeerAPI
func (c *NodeClient) Update(ctx context.Context, k model.Key, o model.Object) (model.Object, error) {
	resp := new(wire.ObjectResponse)
	if err := c.invoke(ctx, wire.MethodUpdate, &wire.UpdateRequest{Key: k, Object: o}, resp); err != nil {
		return model.Object{}, err
	}
	return resp.Object, nil
}

// SendUpdate implements service.PeerAPI
func (c *NodeClient) SendUpdate(ctx context.Context, k model.Key, o model.Object) error {
	return c.invoke(ctx, wire.MethodSendUpdate, &wire.UpdateRequest{Key: k, Object: o}, new(wire.Empty))
}

// SyncClock implements service.PeerAPI
func (c *NodeClient) SyncClock(ctx context.Context, req *model.SyncRequest) (*model.SyncResponse, error) {
	resp := new(wire.SyncClockResponse)
	if err := c.invoke(ctx, wire.MethodSyncClock, &wire.SyncClockRequest{Request: *req}, resp); err != nil {
		return nil, err
	}
	return &resp.Response, nil
}

// Get reads k through the remote node
func (c *NodeClient) Get(ctx context.Context, k model.Key, quorum int, mode model.ConsistencyMode) ([]model.Value, model.CausalContext, error) {
	resp := new(wire.GetResponse)
	if err := c.invoke(ctx, wire.MethodGet, &wire.GetRequest{Key: k, Quorum: quorum, Mode: mode}, resp); err != nil {
		return nil, nil, err
	}
	return resp.Values, resp.CausalContext, nil
}

// Put writes k through the remote node
func (c *NodeClient) Put(ctx context.Context, k model.Key, v model.Value, cc model.CausalContext) error {
	return c.invoke(ctx, wire.MethodPut, &wire.PutRequest{Key: k, Value: v, CausalContext: cc}, new(wire.Empty))
}

// Delete removes k through the remote node
func (c *NodeClient) Delete(ctx context.Context, k model.Key, cc model.CausalContext) error {
	return c.invoke(ctx, wire.MethodDelete, &wire.DeleteRequest{Key: k, CausalContext: cc}, new(wire.Empty))
}

// Directory hands out one cached client per cluster member
type Directory struct {
	addresses map[model.NodeID]string
	timeout   time.Duration
	dialOpts  []grpc.DialOption
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[model.NodeID]*NodeClient
}

var _ service.PeerDirectory = (*Directory)(nil)

// NewDirectory creates a directory over the given node addresses
func NewDirectory(addresses map[model.NodeID]string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) *Directory {
	return &Directory{
		addresses: addresses,
		timeout:   timeout,
		dialOpts:  opts,
		logger:    logger,
		clients:   make(map[model.NodeID]*NodeClient),
	}
}

// Peer implements service.PeerDirectory
func (d *Directory) Peer(id model.NodeID) (service.PeerAPI, error) {
	return d.Client(id)
}

// Client returns the cached client of id, creating it on first use
func (d *Directory) Client(id model.NodeID) (*NodeClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[id]; ok {
		return c, nil
	}
	target, ok := d.addresses[id]
	if !ok {
		return nil, errors.PeerUnavailable(int(id), fmt.Errorf("no address configured"))
	}
	c, err := Dial(id, target, d.timeout, d.dialOpts...)
	if err != nil {
		return nil, errors.PeerUnavailable(int(id), err)
	}
	d.clients[id] = c

	d.logger.Info("Created gRPC client for node",
		zap.Int("peer", int(id)),
		zap.String("target", target))
	return c, nil
}

// Close closes all connections
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, c := range d.clients {
		if err := c.Close(); err != nil {
			d.logger.Warn("Failed to close connection",
				zap.Int("peer", int(id)),
				zap.Error(err))
		}
	}
	d.clients = make(map[model.NodeID]*NodeClient)
	return nil
}
