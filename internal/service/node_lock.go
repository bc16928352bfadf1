package service

import (
	"context"
	"time"

	"github.com/devrev/ndckv/internal/errors"
	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout bounds how long an operation waits for the node lock
const DefaultLockTimeout = 15 * time.Second

// writerWeight is the full capacity of the semaphore; a writer holds all of
// it, a reader holds one unit
const writerWeight = 1 << 30

// NodeLock is a reader/writer lock with a bounded wait. Waiters are served in
// arrival order, so a queued writer holds back later readers.
type NodeLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewNodeLock creates a lock; a non-positive timeout selects DefaultLockTimeout
func NewNodeLock(timeout time.Duration) *NodeLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &NodeLock{sem: semaphore.NewWeighted(writerWeight), timeout: timeout}
}

// RLock acquires shared access and returns the function that releases it
func (l *NodeLock) RLock(ctx context.Context, operation string) (func(), error) {
	return l.acquire(ctx, 1, operation)
}

// Lock acquires exclusive access and returns the function that releases it
func (l *NodeLock) Lock(ctx context.Context, operation string) (func(), error) {
	return l.acquire(ctx, writerWeight, operation)
}

func (l *NodeLock) acquire(ctx context.Context, weight int64, operation string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, weight); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.LockTimeout(operation, l.timeout)
	}
	return func() { l.sem.Release(weight) }, nil
}
