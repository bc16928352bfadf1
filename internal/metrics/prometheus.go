package metrics

import (
	"strconv"

	"github.com/devrev/ndckv/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ndckv"
	subsystem = "node"
)

var peerStatuses = []model.PeerStatus{
	model.PeerStatusUnknown,
	model.PeerStatusUp,
	model.PeerStatusDown,
	model.PeerStatusFifoStarved,
}

// Metrics holds all Prometheus metrics for a replica node
type Metrics struct {
	// Client operation metrics
	PutRequestsTotal    prometheus.Counter
	PutRequestsDuration prometheus.Histogram
	GetRequestsTotal    *prometheus.CounterVec
	GetRequestsDuration *prometheus.HistogramVec
	DegradedReadsTotal  prometheus.Counter

	// Replication metrics
	AntiEntropyRoundsTotal   *prometheus.CounterVec
	AntiEntropyDuration      prometheus.Histogram
	RepairedObjectsTotal     prometheus.Counter
	FanoutRejectedTotal      prometheus.Counter
	BackgroundTaskRunsTotal  *prometheus.CounterVec
	LockTimeoutsTotal        *prometheus.CounterVec
	MalformedPeerClocksTotal *prometheus.CounterVec

	// Store metrics
	StoreKeys             *prometheus.GaugeVec
	DotKeyEntries         *prometheus.GaugeVec
	FifoBufferedSegments  *prometheus.GaugeVec
	FifoDroppedUpdates    *prometheus.CounterVec
	NonStrippedKeys       *prometheus.GaugeVec
	StripCausalityPending prometheus.Gauge

	// Membership metrics
	PeerStatus           *prometheus.GaugeVec
	GossipMembersTotal   prometheus.Gauge
	GossipMembersHealthy prometheus.Gauge

	// System metrics
	MemoryUsageBytes prometheus.Gauge
	GoroutinesTotal  prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(nodeID model.NodeID, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID.String()}
	factory := promauto.With(reg)

	return &Metrics{
		PutRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "put_requests_total",
			Help:        "Total number of put and delete requests",
			ConstLabels: labels,
		}),
		PutRequestsDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "put_requests_duration_seconds",
			Help:        "Histogram of put request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		GetRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "get_requests_total",
			Help:        "Total number of get requests by consistency mode",
			ConstLabels: labels,
		}, []string{"mode"}),
		GetRequestsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "get_requests_duration_seconds",
			Help:        "Histogram of quorum get durations by consistency mode",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"mode"}),
		DegradedReadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "degraded_reads_total",
			Help:        "Reads that collected fewer answers than the requested quorum",
			ConstLabels: labels,
		}),

		AntiEntropyRoundsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "anti_entropy_rounds_total",
			Help:        "Anti-entropy rounds by result",
			ConstLabels: labels,
		}, []string{"result"}),
		AntiEntropyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "anti_entropy_duration_seconds",
			Help:        "Histogram of anti-entropy round durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		RepairedObjectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "repaired_objects_total",
			Help:        "Objects received from peers during anti-entropy",
			ConstLabels: labels,
		}),
		FanoutRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "fanout_rejected_total",
			Help:        "Replica updates not sent because the fan-out queue was full",
			ConstLabels: labels,
		}),
		BackgroundTaskRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "background_task_runs_total",
			Help:        "Background task iterations by task and result",
			ConstLabels: labels,
		}, []string{"task", "result"}),
		LockTimeoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "lock_timeouts_total",
			Help:        "Node lock acquisitions that timed out by operation",
			ConstLabels: labels,
		}, []string{"operation"}),
		MalformedPeerClocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "malformed_peer_clocks_total",
			Help:        "FIFO clocks received from peers that contained gaps",
			ConstLabels: labels,
		}, []string{"tier"}),

		StoreKeys: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "store_keys",
			Help:        "Number of keys held per store",
			ConstLabels: labels,
		}, []string{"mode"}),
		DotKeyEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "dot_key_entries",
			Help:        "Number of indexed dots per store",
			ConstLabels: labels,
		}, []string{"mode"}),
		FifoBufferedSegments: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "fifo_buffered_segments",
			Help:        "Buffered segments waiting on a gap per FIFO tier",
			ConstLabels: labels,
		}, []string{"mode"}),
		FifoDroppedUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "fifo_dropped_updates_total",
			Help:        "Updates dropped because they were too far ahead of the FIFO prefix",
			ConstLabels: labels,
		}, []string{"tier"}),
		NonStrippedKeys: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "non_stripped_keys",
			Help:        "Keys whose causal context is not yet compressed per store",
			ConstLabels: labels,
		}, []string{"mode"}),
		StripCausalityPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "strip_causality_pending",
			Help:        "Keys left uncompressed after the last strip pass",
			ConstLabels: labels,
		}),

		PeerStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "peer_status",
			Help:        "1 for the current heartbeat classification of each peer",
			ConstLabels: labels,
		}, []string{"peer", "status"}),
		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "gossip_members_total",
			Help:        "Total number of gossip members",
			ConstLabels: labels,
		}),
		GossipMembersHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "gossip_members_healthy",
			Help:        "Number of alive gossip members",
			ConstLabels: labels,
		}),

		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "memory_usage_bytes",
			Help:        "Heap memory in use",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "goroutines_total",
			Help:        "Number of goroutines",
			ConstLabels: labels,
		}),
	}
}

func (m *Metrics) RecordPutRequest(duration float64) {
	m.PutRequestsTotal.Inc()
	m.PutRequestsDuration.Observe(duration)
}

func (m *Metrics) RecordGetRequest(mode model.ConsistencyMode, duration float64, degraded bool) {
	m.GetRequestsTotal.WithLabelValues(mode.String()).Inc()
	m.GetRequestsDuration.WithLabelValues(mode.String()).Observe(duration)
	if degraded {
		m.DegradedReadsTotal.Inc()
	}
}

func (m *Metrics) RecordAntiEntropy(result string, duration float64, repaired int) {
	m.AntiEntropyRoundsTotal.WithLabelValues(result).Inc()
	m.AntiEntropyDuration.Observe(duration)
	m.RepairedObjectsTotal.Add(float64(repaired))
}

func (m *Metrics) RecordFanoutRejected() {
	m.FanoutRejectedTotal.Inc()
}

func (m *Metrics) RecordBackgroundTask(task, result string) {
	m.BackgroundTaskRunsTotal.WithLabelValues(task, result).Inc()
}

func (m *Metrics) RecordLockTimeout(operation string) {
	m.LockTimeoutsTotal.WithLabelValues(operation).Inc()
}

// RecordBufferOverflow counts an update a FIFO tier dropped
func (m *Metrics) RecordBufferOverflow(tier model.Priority) {
	m.FifoDroppedUpdates.WithLabelValues(strconv.Itoa(int(tier))).Inc()
}

// RecordMalformedPeerClock counts a FIFO clock with gaps received from a peer
func (m *Metrics) RecordMalformedPeerClock(tier model.Priority) {
	m.MalformedPeerClocksTotal.WithLabelValues(strconv.Itoa(int(tier))).Inc()
}

func (m *Metrics) UpdateStoreStats(mode model.ConsistencyMode, keys, dotKeys, nonStripped, buffered int) {
	label := mode.String()
	m.StoreKeys.WithLabelValues(label).Set(float64(keys))
	m.DotKeyEntries.WithLabelValues(label).Set(float64(dotKeys))
	m.NonStrippedKeys.WithLabelValues(label).Set(float64(nonStripped))
	if _, ok := mode.Tier(); ok {
		m.FifoBufferedSegments.WithLabelValues(label).Set(float64(buffered))
	}
}

func (m *Metrics) UpdateStripPending(pending int) {
	m.StripCausalityPending.Set(float64(pending))
}

// UpdatePeerStatus sets the peer's current status to 1 and every other status to 0
func (m *Metrics) UpdatePeerStatus(peer model.NodeID, status model.PeerStatus) {
	for _, s := range peerStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.PeerStatus.WithLabelValues(peer.String(), string(s)).Set(v)
	}
}

func (m *Metrics) UpdateGossipStats(total, healthy int) {
	m.GossipMembersTotal.Set(float64(total))
	m.GossipMembersHealthy.Set(float64(healthy))
}

func (m *Metrics) UpdateSystemStats(memoryBytes int64, goroutines int) {
	m.MemoryUsageBytes.Set(float64(memoryBytes))
	m.GoroutinesTotal.Set(float64(goroutines))
}
