// Package leader provides lock-based leader election. When multiple
// reviewerd replicas are running, only the leader should run the sweep
// worker (internal/sweep), so its idempotency/presence observability
// logging and escalated-session age scan happen once per cluster, not once
// per replica.
//
// The leader acquires a distributed lock (by default a Redis SET-NX-PX
// lock, store.RedisLock) and periodically retries if the lock is not
// acquired, and renews it on every tick while holding it. When the leader
// dies, the lock's ttl expires and another replica takes over.
package leader

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLockKey is the store key used for the sweep-worker leader lock.
const DefaultLockKey = "review:leader:sweep"

// DefaultLockTTL is the default ttl passed to store.NewRedisLock for the
// sweep-worker lock. Must be a few multiples of RetryInterval so a renewal
// tick is never late enough to let the lock lapse under normal operation.
const DefaultLockTTL = 90 * time.Second

// RetryInterval is the default interval between leader election retry attempts.
const RetryInterval = 30 * time.Second

// TryLockFunc attempts to acquire (or, if already held, renew) the lock.
// Returns true if this replica holds the lock after the call, false if
// another replica holds it. In production, the caller provides this via
// store.RedisLock.Acquire:
//
//	lock := store.NewRedisLock(st, leader.DefaultLockKey, leader.DefaultLockTTL)
//	leader.New(lock.Acquire, leader.RetryInterval, onElected)
type TryLockFunc func(ctx context.Context) (acquired bool, err error)

// OnElected is called when this replica becomes the leader.
// It should start background workers. The returned stop function is called
// when leadership is lost (context cancelled or explicit stop).
type OnElected func(ctx context.Context) (stop func())

// Elector manages leader election using a ttl-backed distributed lock.
// It periodically tries to acquire the lock and calls OnElected when
// leadership is gained.
type Elector struct {
	tryLock       TryLockFunc
	retryInterval time.Duration
	onElected     OnElected

	mu       sync.Mutex
	isLeader bool
	stopFn   func() // stop function returned by OnElected
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an Elector that will try to acquire leadership using the given
// lock function. When elected, onElected is called with a context that remains
// valid for the duration of leadership. retryInterval controls how often a
// non-leader replica retries acquiring the lock.
func New(tryLock TryLockFunc, retryInterval time.Duration, onElected OnElected) *Elector {
	return &Elector{
		tryLock:       tryLock,
		retryInterval: retryInterval,
		onElected:     onElected,
	}
}

// Start begins the leader election loop in a background goroutine.
// It immediately tries to acquire the lock, then retries at the configured
// interval if not acquired.
func (e *Elector) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)

		// Try immediately on startup.
		e.tryAcquire(ctx)

		ticker := time.NewTicker(e.retryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				e.relinquish()
				return
			case <-ticker.C:
				e.tryAcquire(ctx)
			}
		}
	}()
}

// Stop cancels the election loop and waits for it to finish.
// If this replica is the leader, it calls the stop function from OnElected.
func (e *Elector) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// IsLeader returns whether this replica currently holds the leader lock.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// tryAcquire attempts to acquire the lock, or renew it if this replica
// already holds it — the lock carries a ttl (unlike a Postgres advisory
// lock tied to a live connection), so a leader must keep renewing or risk
// losing it to another replica while still running.
func (e *Elector) tryAcquire(ctx context.Context) {
	e.mu.Lock()
	wasLeader := e.isLeader
	e.mu.Unlock()

	acquired, err := e.tryLock(ctx)
	if err != nil {
		slog.Error("leader: failed to try lock", "error", err)
		return
	}

	if !acquired {
		slog.Debug("leader: lock not held, another replica is leader")
		if wasLeader {
			e.relinquish()
		}
		return
	}

	if wasLeader {
		return
	}

	slog.Info("leader: lock acquired, starting background workers")

	e.mu.Lock()
	e.isLeader = true
	e.mu.Unlock()

	stopFn := e.onElected(ctx)

	e.mu.Lock()
	e.stopFn = stopFn
	e.mu.Unlock()
}

// relinquish stops background workers if this replica is the leader.
func (e *Elector) relinquish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isLeader {
		return
	}

	slog.Info("leader: relinquishing leadership, stopping background workers")
	if e.stopFn != nil {
		e.stopFn()
		e.stopFn = nil
	}
	e.isLeader = false
}
