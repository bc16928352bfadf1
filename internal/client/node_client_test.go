package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/devrev/ndckv/internal/algorithm"
	"github.com/devrev/ndckv/internal/errors"
	"github.com/devrev/ndckv/internal/handler"
	"github.com/devrev/ndckv/internal/health"
	"github.com/devrev/ndckv/internal/metrics"
	"github.com/devrev/ndckv/internal/model"
	"github.com/devrev/ndckv/internal/service"
	"github.com/devrev/ndckv/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// startNode serves a single-node cluster over an in-memory listener and
// returns a client connected to it. rpc may be nil.
func startNode(t *testing.T, rpc ...*metrics.RPCMetrics) *NodeClient {
	t.Helper()
	logger := zap.NewNop()

	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "fanout", MaxWorkers: 1, QueueSize: 8, Logger: logger})
	t.Cleanup(func() { _ = pool.Stop(time.Second) })

	node := service.NewNode(
		&service.NodeConfig{NodeID: 1},
		algorithm.NewAllNodes([]model.NodeID{1}),
		NewDirectory(nil, time.Second, logger),
		pool,
		health.NewPeerTracker(time.Minute, logger),
		metrics.NewMetrics(1, prometheus.NewRegistry()),
		logger,
	)

	var (
		serverOpts []grpc.ServerOption
		dialOpts   []grpc.DialOption
	)
	for _, m := range rpc {
		serverOpts = append(serverOpts, m.ServerOptions()...)
		dialOpts = append(dialOpts, m.DialOptions()...)
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(serverOpts...)
	handler.NewNodeHandler(node, logger).Register(srv)
	for _, m := range rpc {
		m.InitializeServer(srv)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialOpts = append(dialOpts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	c, err := Dial(1, "passthrough:///bufnet", time.Second, dialOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNodeClient_ClientCalls(t *testing.T) {
	c := startNode(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", "v1", nil))

	values, cc, err := c.Get(ctx, "a", 1, model.ModeEventual)
	require.NoError(t, err)
	assert.Equal(t, []model.Value{"v1"}, values)
	assert.Equal(t, model.CausalContext{1: 1}, cc)

	require.NoError(t, c.Delete(ctx, "a", cc))
	values, _, err = c.Get(ctx, "a", 1, model.ModeEventual)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestNodeClient_PeerCalls(t *testing.T) {
	c := startNode(t)
	ctx := context.Background()

	remote := model.NewObject(model.Dot{NodeID: 2, UpdateID: 1}, "x", model.FifoDistance{1}, nil)
	merged, err := c.Update(ctx, "a", remote)
	require.NoError(t, err)
	assert.Equal(t, []model.Value{"x"}, merged.Values())

	require.NoError(t, c.SendUpdate(ctx, "b", model.NewObject(model.Dot{NodeID: 2, UpdateID: 2}, "y", model.FifoDistance{1}, nil)))

	fetched, err := c.Fetch(ctx, "b", model.ModeFifoP0)
	require.NoError(t, err)
	assert.Equal(t, []model.Value{"y"}, fetched.Values())

	resp, err := c.SyncClock(ctx, &model.SyncRequest{From: 2, Clocks: map[model.ConsistencyMode]model.NodeClock{}})
	require.NoError(t, err)
	assert.Equal(t, model.NodeID(1), resp.From)
	require.Contains(t, resp.Stores, model.ModeEventual)
	assert.Equal(t, uint64(2), resp.Stores[model.ModeEventual].PeerClock.Base(2))
}

func TestNodeClient_ErrorCodesSurviveTransport(t *testing.T) {
	c := startNode(t)

	err := c.Put(context.Background(), "", "v", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidKey))

	_, _, err = c.Get(context.Background(), "a", 1, model.ModeFifoP3+1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidMode, errors.GetCode(err))

	remote := model.NewObject(model.Dot{NodeID: 2, UpdateID: 1}, "x", model.FifoDistance{1}, nil)
	_, err = c.Update(context.Background(), "", remote)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidKey))
	err = c.SendUpdate(context.Background(), "a\x00b", remote)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidKey))
}

func TestNodeClient_RPCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := startNode(t, metrics.NewRPCMetrics(reg))

	require.NoError(t, c.Put(context.Background(), "a", "v1", nil))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(families, "grpc_server_handled_total", "Put"))
	assert.Equal(t, 1.0, counterValue(families, "grpc_client_handled_total", "Put"))
	assert.Equal(t, 0.0, counterValue(families, "grpc_server_handled_total", "Get"))
}

// counterValue sums the OK series of a gRPC counter for one method
func counterValue(families []*dto.MetricFamily, name, method string) float64 {
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["grpc_method"] == method && labels["grpc_code"] == "OK" {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestDirectory_UnknownPeer(t *testing.T) {
	d := NewDirectory(map[model.NodeID]string{2: "localhost:1"}, time.Second, zap.NewNop())
	defer d.Close()

	_, err := d.Peer(3)
	assert.True(t, errors.IsCode(err, errors.ErrCodePeerUnavailable))

	first, err := d.Client(2)
	require.NoError(t, err)
	second, err := d.Client(2)
	require.NoError(t, err)
	assert.Same(t, first, second)
}
