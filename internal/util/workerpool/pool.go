package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Task is one unit of fire-and-forget work. Context defaults to
// context.Background.
type Task struct {
	ID      string
	// Key orders tasks: tasks sharing a non-empty Key run one at a time in
	// submission order
	Key     string
	Fn      func(context.Context) error
	Context context.Context
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// WorkerPool runs tasks on a fixed set of goroutines fed by a bounded shared
// queue. Keyed tasks go to the lane of one worker instead. Submission never
// blocks: a full queue rejects the task.
type WorkerPool struct {
	name    string
	workers int
	queue   chan Task
	lanes   []chan Task
	logger  *zap.Logger

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once

	// mu guards inflight; idle is signalled whenever it drops to zero
	mu       sync.Mutex
	idle     *sync.Cond
	inflight int

	active    atomic.Int32
	accepted  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// NewWorkerPool creates a pool and starts its workers
func NewWorkerPool(cfg *Config) *WorkerPool {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 10
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &WorkerPool{
		name:    cfg.Name,
		workers: workers,
		queue:   make(chan Task, size),
		lanes:   make([]chan Task, workers),
		logger:  logger.With(zap.String("pool", cfg.Name)),
		stop:    make(chan struct{}),
	}
	p.idle = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := range workers {
		p.lanes[i] = make(chan Task, size)
		go p.run(p.lanes[i])
	}

	p.logger.Info("Worker pool started",
		zap.Int("max_workers", workers),
		zap.Int("queue_size", size))
	return p
}

func (p *WorkerPool) run(lane <-chan Task) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case task := <-lane:
			p.execute(task)
		case task := <-p.queue:
			p.execute(task)
		}
	}
}

func (p *WorkerPool) execute(task Task) {
	p.active.Add(1)
	start := time.Now()
	err := call(task)
	p.active.Add(-1)

	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("Task failed",
			zap.String("task_id", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	} else {
		p.completed.Add(1)
	}
	p.done()
}

// call runs the task and reports a panic as an error
func call(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	ctx := task.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return task.Fn(ctx)
}

func (p *WorkerPool) done() {
	p.mu.Lock()
	p.inflight--
	if p.inflight == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

// TrySubmit queues a task without blocking. It returns false when the queue
// is full or the pool is stopped.
func (p *WorkerPool) TrySubmit(task Task) bool {
	select {
	case <-p.stop:
		p.rejected.Add(1)
		return false
	default:
	}

	queue := p.queue
	if task.Key != "" {
		queue = p.lanes[xxhash.Sum64String(task.Key)%uint64(len(p.lanes))]
	}

	p.mu.Lock()
	p.inflight++
	p.mu.Unlock()

	select {
	case queue <- task:
		p.accepted.Add(1)
		return true
	default:
		p.done()
		p.rejected.Add(1)
		return false
	}
}

// Flush blocks until every accepted task has finished or ctx is done
func (p *WorkerPool) Flush(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.inflight > 0 && ctx.Err() == nil {
			p.idle.Wait()
		}
		p.mu.Unlock()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		// wake the waiter so it observes ctx and exits
		p.mu.Lock()
		p.idle.Broadcast()
		p.mu.Unlock()
		<-drained
	}

	p.mu.Lock()
	left := p.inflight
	p.mu.Unlock()
	if left == 0 {
		return nil
	}
	return ctx.Err()
}

// Stop stops the workers, waiting at most timeout for running tasks.
// Queued tasks that have not started are discarded.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.once.Do(func() {
		close(p.stop)

		exited := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(exited)
		}()

		select {
		case <-exited:
			p.logger.Info("Worker pool stopped", zap.Int("discarded", p.discard()))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %q did not stop within %v", p.name, timeout)
		}
	})
	return err
}

// discard drops the tasks still queued once the workers have exited
func (p *WorkerPool) discard() int {
	n := drain(p.queue, p.done)
	for _, lane := range p.lanes {
		n += drain(lane, p.done)
	}
	return n
}

func drain(queue chan Task, done func()) int {
	n := 0
	for {
		select {
		case <-queue:
			done()
			n++
		default:
			return n
		}
	}
}

// Stats is a snapshot of the pool counters
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueuedTasks    int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

// Stats returns the current counters
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.workers,
		ActiveWorkers:  int(p.active.Load()),
		QueuedTasks:    p.queued(),
		TotalTasks:     p.accepted.Load(),
		CompletedTasks: p.completed.Load(),
		FailedTasks:    p.failed.Load(),
		RejectedTasks:  p.rejected.Load(),
	}
}

func (p *WorkerPool) queued() int {
	n := len(p.queue)
	for _, lane := range p.lanes {
		n += len(lane)
	}
	return n
}
