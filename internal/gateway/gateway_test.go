package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devrev/ndckv/internal/algorithm"
	"github.com/devrev/ndckv/internal/errors"
	"github.com/devrev/ndckv/internal/health"
	"github.com/devrev/ndckv/internal/metrics"
	"github.com/devrev/ndckv/internal/model"
	"github.com/devrev/ndckv/internal/service"
	"github.com/devrev/ndckv/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type noPeers struct{}

func (noPeers) Peer(id model.NodeID) (service.PeerAPI, error) {
	return nil, errors.PeerUnavailable(int(id), nil)
}

func newSingleNode(t *testing.T) *service.Node {
	t.Helper()
	logger := zap.NewNop()
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "fanout", MaxWorkers: 1, QueueSize: 8, Logger: logger})
	t.Cleanup(func() { _ = pool.Stop(time.Second) })

	return service.NewNode(
		&service.NodeConfig{NodeID: 1},
		algorithm.NewAllNodes([]model.NodeID{1}),
		noPeers{},
		pool,
		health.NewPeerTracker(time.Minute, logger),
		metrics.NewMetrics(1, prometheus.NewRegistry()),
		logger,
	)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func readKey(t *testing.T, h http.Handler, path string) ReadResponse {
	t.Helper()
	rec := do(t, h, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ReadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGateway_WriteReadDelete(t *testing.T) {
	h := New(&Config{}, newSingleNode(t), zap.NewNop()).Handler()

	rec := do(t, h, http.MethodPut, "/v1/kv/users/42", `{"value":"alice"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	resp := readKey(t, h, "/v1/kv/users/42")
	assert.Equal(t, model.Key("users/42"), resp.Key)
	assert.Equal(t, []model.Value{"alice"}, resp.Values)
	assert.Equal(t, model.CausalContext{1: 1}, resp.CausalContext)

	rec = do(t, h, http.MethodDelete, "/v1/kv/users/42", `{"causal_context":{"1":1}}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	resp = readKey(t, h, "/v1/kv/users/42")
	assert.Empty(t, resp.Values)
}

func TestGateway_SiblingsUntilContextSupplied(t *testing.T) {
	h := New(&Config{}, newSingleNode(t), zap.NewNop()).Handler()

	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPut, "/v1/kv/a", `{"value":"x"}`).Code)
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPut, "/v1/kv/a", `{"value":"y"}`).Code)

	resp := readKey(t, h, "/v1/kv/a")
	assert.ElementsMatch(t, []model.Value{"x", "y"}, resp.Values)

	body, err := json.Marshal(WriteRequest{Value: ptr(model.Value("z")), CausalContext: resp.CausalContext})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPut, "/v1/kv/a", string(body)).Code)

	resp = readKey(t, h, "/v1/kv/a?mode=fifo-p0&quorum=1")
	assert.Equal(t, []model.Value{"z"}, resp.Values)
}

func TestGateway_BadRequests(t *testing.T) {
	h := New(&Config{}, newSingleNode(t), zap.NewNop()).Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   string
	}{
		{name: "bad quorum", method: http.MethodGet, path: "/v1/kv/a?quorum=two", code: "INVALID_ARGUMENT"},
		{name: "negative quorum", method: http.MethodGet, path: "/v1/kv/a?quorum=-1", code: "INVALID_ARGUMENT"},
		{name: "unknown mode", method: http.MethodGet, path: "/v1/kv/a?mode=strict", code: "INVALID_ARGUMENT"},
		{name: "missing value", method: http.MethodPut, path: "/v1/kv/a", body: `{}`, code: "INVALID_ARGUMENT"},
		{name: "malformed body", method: http.MethodPut, path: "/v1/kv/a", body: `{"value":`, code: "INVALID_ARGUMENT"},
		{name: "unknown field", method: http.MethodPut, path: "/v1/kv/a", body: `{"val":"x"}`, code: "INVALID_ARGUMENT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.ErrorCode)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

type unavailableKV struct{}

func (unavailableKV) Get(context.Context, model.Key, int, model.ConsistencyMode) ([]model.Value, model.CausalContext, error) {
	return nil, nil, errors.QuorumUnavailable("a", 2)
}

func (unavailableKV) Put(context.Context, model.Key, model.Value, model.CausalContext, service.ReplicaFilter) error {
	return errors.LockTimeout("put", time.Second)
}

func (unavailableKV) Delete(context.Context, model.Key, model.CausalContext, service.ReplicaFilter) error {
	return nil
}

func TestGateway_ErrorStatus(t *testing.T) {
	h := New(&Config{}, unavailableKV{}, zap.NewNop()).Handler()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/v1/kv/a", "").Code)
	assert.Equal(t, http.StatusGatewayTimeout, do(t, h, http.MethodPut, "/v1/kv/a", `{"value":"v"}`).Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/kv/a", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/v1/kv/a", "").Code)
}

func TestGateway_RateLimit(t *testing.T) {
	h := New(&Config{RateLimit: 0.001, Burst: 1}, unavailableKV{}, zap.NewNop()).Handler()

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/kv/a", "").Code)
	rec := do(t, h, http.MethodDelete, "/v1/kv/a", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRequestID_KeepsCallerID(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.Context().Value(RequestIDKey))
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
}

func TestRecovery(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func ptr[T any](v T) *T { return &v }
