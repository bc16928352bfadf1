package service

import (
	"context"
	stderrors "errors"
	"math/rand/v2"
	"time"

	"github.com/devrev/ndckv/internal/metrics"
	"github.com/devrev/ndckv/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Background task names, also used as metric labels
const (
	TaskAntiEntropy = "anti_entropy"
	TaskHeartbeat   = "heartbeat"
	TaskStrip       = "strip_causality"
)

// BackgroundTasks is the periodic work a node exposes to the scheduler
type BackgroundTasks interface {
	AntiEntropyCandidates() []model.NodeID
	AntiEntropy(ctx context.Context, peer model.NodeID) error
	Heartbeat(ctx context.Context) error
	StripCausality(ctx context.Context) error
}

var _ BackgroundTasks = (*Node)(nil)

// SchedulerConfig holds the periods of the background loops. A non-positive
// interval disables that loop.
type SchedulerConfig struct {
	AntiEntropyInterval time.Duration
	HeartbeatInterval   time.Duration
	StripInterval       time.Duration
	Jitter              time.Duration
	IterationTimeout    time.Duration
}

// Scheduler runs anti-entropy, heartbeats and causality stripping as
// independent loops. A failed or timed out iteration is logged and retried
// on the next period.
type Scheduler struct {
	config  *SchedulerConfig
	tasks   BackgroundTasks
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewScheduler creates a scheduler for tasks
func NewScheduler(cfg *SchedulerConfig, tasks BackgroundTasks, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:  cfg,
		tasks:   tasks,
		metrics: m,
		logger:  logger.With(zap.String("component", "scheduler")),
	}
}

// Run blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(ctx, TaskAntiEntropy, s.config.AntiEntropyInterval, s.antiEntropy)
	})
	g.Go(func() error {
		return s.loop(ctx, TaskHeartbeat, s.config.HeartbeatInterval, s.tasks.Heartbeat)
	})
	g.Go(func() error {
		return s.loop(ctx, TaskStrip, s.config.StripInterval, s.tasks.StripCausality)
	})
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) error {
	if interval <= 0 {
		s.logger.Info("Background task disabled", zap.String("task", name))
		return nil
	}

	for {
		timer := time.NewTimer(s.delay(interval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		s.runOnce(ctx, name, run)
	}
}

// delay adds a random jitter so nodes started together drift apart
func (s *Scheduler) delay(interval time.Duration) time.Duration {
	if s.config.Jitter <= 0 {
		return interval
	}
	return interval + rand.N(s.config.Jitter)
}

func (s *Scheduler) runOnce(ctx context.Context, name string, run func(context.Context) error) {
	iterCtx := ctx
	if s.config.IterationTimeout > 0 {
		var cancel context.CancelFunc
		iterCtx, cancel = context.WithTimeout(ctx, s.config.IterationTimeout)
		defer cancel()
	}

	err := run(iterCtx)
	switch {
	case err == nil:
		s.metrics.RecordBackgroundTask(name, "success")
	case ctx.Err() != nil:
		// shutting down
	case stderrors.Is(err, context.DeadlineExceeded) || iterCtx.Err() != nil:
		s.metrics.RecordBackgroundTask(name, "timeout")
		s.logger.Warn("Background task timed out", zap.String("task", name), zap.Error(err))
	default:
		s.metrics.RecordBackgroundTask(name, "error")
		s.logger.Warn("Background task failed", zap.String("task", name), zap.Error(err))
	}
}

func (s *Scheduler) antiEntropy(ctx context.Context) error {
	candidates := s.tasks.AntiEntropyCandidates()
	if len(candidates) == 0 {
		return nil
	}
	return s.tasks.AntiEntropy(ctx, candidates[rand.IntN(len(candidates))])
}
