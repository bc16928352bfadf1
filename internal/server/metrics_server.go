package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/devrev/ndckv/internal/metrics"
	"github.com/devrev/ndckv/internal/model"
	"github.com/devrev/ndckv/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NodeStatus is what the HTTP endpoints report on
type NodeStatus interface {
	NodeID() model.NodeID
	IsReady() bool
	Stats(ctx context.Context) (*service.NodeStats, error)
}

// Membership lists gossip members; nil when gossip is disabled
type Membership interface {
	Members() []service.Member
}

// MetricsServer serves Prometheus metrics and node status via HTTP
type MetricsServer struct {
	httpServer *http.Server
	node       NodeStatus
	members    Membership
	metrics    *metrics.Metrics
	logger     *zap.Logger
	interval   time.Duration
	stopChan   chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Host string
	Port int
	// SystemStatsInterval is how often memory and goroutine gauges refresh
	SystemStatsInterval time.Duration
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(
	cfg *MetricsServerConfig,
	node NodeStatus,
	members Membership,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *MetricsServer {
	mux := http.NewServeMux()

	interval := cfg.SystemStatsInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		node:     node,
		members:  members,
		metrics:  m,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", ms.healthHandler)
	mux.HandleFunc("/ready", ms.readyHandler)
	mux.HandleFunc("/peers", ms.peersHandler)
	mux.HandleFunc("/stats", ms.statsHandler)

	return ms
}

// Handler returns the HTTP handler of the server
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the metrics server
func (s *MetricsServer) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	go s.collectSystemMetrics()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop() error {
	s.logger.Info("Stopping metrics server")

	close(s.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	return nil
}

func (s *MetricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","node_id":%d,"timestamp":"%s"}`, s.node.NodeID(), time.Now().Format(time.RFC3339))
}

// readyHandler reports ready once the node has written a fresh heartbeat
func (s *MetricsServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.node.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"not_ready","reason":"no_recent_heartbeat"}`)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

type peerView struct {
	NodeID       model.NodeID `json:"node_id"`
	Status       string       `json:"status"`
	StarvedTier  *int         `json:"starved_tier,omitempty"`
	EventualSeen *time.Time   `json:"eventual_seen,omitempty"`
	FifoSeen     []*time.Time `json:"fifo_seen"`
	GossipAlive  bool         `json:"gossip_alive"`
	ObservedAt   time.Time    `json:"observed_at"`
}

type peersResponse struct {
	NodeID  model.NodeID     `json:"node_id"`
	Peers   []peerView       `json:"peers"`
	Members []service.Member `json:"members,omitempty"`
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *MetricsServer) peersHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.node.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := peersResponse{NodeID: stats.NodeID, Peers: make([]peerView, 0, len(stats.Peers))}
	for _, p := range stats.Peers {
		view := peerView{
			NodeID:       p.NodeID,
			Status:       string(p.Status),
			EventualSeen: timeOrNil(p.EventualSeen),
			GossipAlive:  p.GossipAlive,
			ObservedAt:   p.ObservedAt,
		}
		if p.Status == model.PeerStatusFifoStarved {
			tier := int(p.StarvedTier)
			view.StarvedTier = &tier
		}
		for _, seen := range p.FifoSeen {
			view.FifoSeen = append(view.FifoSeen, timeOrNil(seen))
		}
		resp.Peers = append(resp.Peers, view)
	}
	if s.members != nil {
		resp.Members = s.members.Members()
	}
	s.writeJSON(w, resp)
}

type storeView struct {
	Mode             string `json:"mode"`
	Keys             int    `json:"keys"`
	ClockOrigins     int    `json:"clock_origins"`
	DotKeys          int    `json:"dot_keys"`
	NonStrippedKeys  int    `json:"non_stripped_keys"`
	BufferedSegments int    `json:"buffered_segments"`
	DroppedDots      int    `json:"dropped_dots"`
}

type statsResponse struct {
	NodeID  model.NodeID `json:"node_id"`
	Stores  []storeView  `json:"stores"`
	Fanout  fanoutView   `json:"fanout"`
	Started time.Time    `json:"timestamp"`
}

type fanoutView struct {
	Queued   int    `json:"queued"`
	Active   int    `json:"active"`
	Rejected uint64 `json:"rejected"`
	Failed   uint64 `json:"failed"`
}

func (s *MetricsServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.node.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := statsResponse{
		NodeID: stats.NodeID,
		Fanout: fanoutView{
			Queued:   stats.Fanout.QueuedTasks,
			Active:   stats.Fanout.ActiveWorkers,
			Rejected: stats.Fanout.RejectedTasks,
			Failed:   stats.Fanout.FailedTasks,
		},
		Started: time.Now(),
	}
	for _, st := range stats.Stores {
		resp.Stores = append(resp.Stores, storeView{
			Mode:             st.Mode.String(),
			Keys:             st.Keys,
			ClockOrigins:     st.ClockOrigins,
			DotKeys:          st.DotKeys,
			NonStrippedKeys:  st.NonStrippedKeys,
			BufferedSegments: st.BufferedSegments,
			DroppedDots:      st.DroppedDots,
		})
	}
	s.writeJSON(w, resp)
}

func (s *MetricsServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *MetricsServer) writeError(w http.ResponseWriter, err error) {
	s.logger.Warn("Status request failed", zap.Error(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// collectSystemMetrics periodically collects system-level metrics
func (s *MetricsServer) collectSystemMetrics() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.updateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MetricsServer) updateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	s.metrics.UpdateSystemStats(int64(memStats.Alloc), runtime.NumGoroutine())
}
