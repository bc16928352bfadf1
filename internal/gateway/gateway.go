// Package gateway serves the client key-value API of a node over HTTP/JSON.
//
//	GET    /v1/kv/{key}?quorum=2&mode=fifo-p1  -> {"values": [...], "causal_context": {...}}
//	PUT    /v1/kv/{key}  {"value": "...", "causal_context": {...}}
//	DELETE /v1/kv/{key}  {"causal_context": {...}}
//
// The causal context returned by a read is what a client passes back to
// supersede the values it has seen.
package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/devrev/ndckv/internal/errors"
	"github.com/devrev/ndckv/internal/model"
	"github.com/devrev/ndckv/internal/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

const maxBodyBytes = 4 << 20

// KV is the node surface the gateway calls
type KV interface {
	Get(ctx context.Context, k model.Key, quorum int, mode model.ConsistencyMode) ([]model.Value, model.CausalContext, error)
	Put(ctx context.Context, k model.Key, v model.Value, cc model.CausalContext, filter service.ReplicaFilter) error
	Delete(ctx context.Context, k model.Key, cc model.CausalContext, filter service.ReplicaFilter) error
}

var _ KV = (*service.Node)(nil)

// Config holds the HTTP gateway settings
type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	// RateLimit of zero disables rate limiting
	RateLimit float64
	Burst     int
}

// Gateway is the HTTP front of a node
type Gateway struct {
	router     *mux.Router
	httpServer *http.Server
	kv         KV
	logger     *zap.Logger
}

// ReadResponse is the body of a successful read
type ReadResponse struct {
	Key           model.Key           `json:"key"`
	Values        []model.Value       `json:"values"`
	CausalContext model.CausalContext `json:"causal_context"`
}

// WriteRequest is the body of a write or delete
type WriteRequest struct {
	Value         *model.Value        `json:"value,omitempty"`
	CausalContext model.CausalContext `json:"causal_context,omitempty"`
}

type errorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// New builds the gateway and its routes
func New(cfg *Config, kv KV, logger *zap.Logger) *Gateway {
	logger = logger.With(zap.String("component", "gateway"))
	g := &Gateway{
		router: mux.NewRouter(),
		kv:     kv,
		logger: logger,
	}

	chain := []mux.MiddlewareFunc{Recovery(logger), RequestID, Logging(logger)}
	if cfg.RateLimit > 0 {
		chain = append(chain, NewRateLimiter(cfg.RateLimit, max(cfg.Burst, 1), logger).Limit)
	}
	if cfg.RequestTimeout > 0 {
		chain = append(chain, Timeout(cfg.RequestTimeout))
	}
	g.router.Use(chain...)

	kvRoutes := g.router.PathPrefix("/v1/kv").Subrouter()
	kvRoutes.HandleFunc("/{key:.+}", g.read).Methods(http.MethodGet)
	kvRoutes.HandleFunc("/{key:.+}", g.write).Methods(http.MethodPut)
	kvRoutes.HandleFunc("/{key:.+}", g.remove).Methods(http.MethodDelete)

	g.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      g.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return g
}

// Handler returns the routed handler
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start serves in the background
func (g *Gateway) Start() {
	g.logger.Info("Starting HTTP gateway", zap.String("addr", g.httpServer.Addr))
	go func() {
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("HTTP gateway failed", zap.Error(err))
		}
	}()
}

// Stop drains in-flight requests
func (g *Gateway) Stop(ctx context.Context) error {
	g.logger.Info("Stopping HTTP gateway")
	return g.httpServer.Shutdown(ctx)
}

func (g *Gateway) read(w http.ResponseWriter, r *http.Request) {
	k := model.Key(mux.Vars(r)["key"])
	q := r.URL.Query()

	quorum := 0
	if s := q.Get("quorum"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			g.fail(w, r, errors.InvalidArgument(fmt.Sprintf("invalid quorum %q", s), err))
			return
		}
		quorum = n
	}
	mode := model.ModeEventual
	if s := q.Get("mode"); s != "" {
		m, err := model.ParseConsistencyMode(s)
		if err != nil {
			g.fail(w, r, errors.InvalidArgument(err.Error(), nil))
			return
		}
		mode = m
	}

	values, cc, err := g.kv.Get(r.Context(), k, quorum, mode)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	if values == nil {
		values = []model.Value{}
	}
	writeJSON(w, http.StatusOK, ReadResponse{Key: k, Values: values, CausalContext: cc})
}

func (g *Gateway) write(w http.ResponseWriter, r *http.Request) {
	k := model.Key(mux.Vars(r)["key"])
	req, err := decodeWrite(r)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	if req.Value == nil {
		g.fail(w, r, errors.InvalidArgument("value is required", nil))
		return
	}
	if err := g.kv.Put(r.Context(), k, *req.Value, req.CausalContext, nil); err != nil {
		g.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) remove(w http.ResponseWriter, r *http.Request) {
	k := model.Key(mux.Vars(r)["key"])
	req, err := decodeWrite(r)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	if err := g.kv.Delete(r.Context(), k, req.CausalContext, nil); err != nil {
		g.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeWrite reads an optional JSON body
func decodeWrite(r *http.Request) (*WriteRequest, error) {
	req := &WriteRequest{}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.InvalidArgument("malformed request body", err)
	}
	return req, nil
}

func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get(requestIDHeader)
	if ctxErr := r.Context().Err(); ctxErr != nil && stderrors.Is(err, ctxErr) {
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), requestID)
		return
	}

	re := errors.FromGRPC(err)
	statusCode := httpStatus(re.ToGRPCStatus().Code())
	if statusCode >= http.StatusInternalServerError {
		g.logger.Warn("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", re.Code.String()),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	writeError(w, statusCode, re.Code.String(), re.Error(), requestID)
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, code, message, requestID string) {
	writeJSON(w, statusCode, errorResponse{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: requestID,
	})
}
