package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/vortexgw/vortex/internal/observability"
)

// idleWindowsBeforeEviction is how many full windows a key must go unused
// before its counters are swept.
const idleWindowsBeforeEviction = 3

// localEntry holds the per-key window counters. evicted is set under mu
// when the sweeper unpublishes the entry, so a checker that loaded the
// entry before the sweep knows to start over instead of updating an
// orphan.
type localEntry struct {
	mu        sync.Mutex
	evicted   bool
	windowIdx int64
	cur       int64
	prev      int64
	lastSeen  time.Time
}

// LocalLimiter is an in-process sliding-window-counter limiter. Counters
// live in memory and are independent per process.
type LocalLimiter struct {
	limit  int64
	window time.Duration
	logger observability.Logger
	now    func() time.Time

	entries  sync.Map // string -> *localEntry
	stopOnce sync.Once
	stopCh   chan struct{}
}

// LocalLimiterOption is a functional option for the local limiter.
type LocalLimiterOption func(*LocalLimiter)

// WithLocalLimiterLogger sets the logger.
func WithLocalLimiterLogger(logger observability.Logger) LocalLimiterOption {
	return func(l *LocalLimiter) {
		l.logger = logger
	}
}

// WithLocalLimiterClock overrides the time source. Used in tests.
func WithLocalLimiterClock(now func() time.Time) LocalLimiterOption {
	return func(l *LocalLimiter) {
		l.now = now
	}
}

// NewLocalLimiter creates a local limiter admitting at most limit requests
// per sliding window.
func NewLocalLimiter(limit int64, window time.Duration, opts ...LocalLimiterOption) *LocalLimiter {
	l := &LocalLimiter{
		limit:  limit,
		window: window,
		logger: observability.NopLogger(),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	go l.evictionLoop()

	return l
}

// Check implements Limiter.
func (l *LocalLimiter) Check(_ context.Context, key string) (*Result, error) {
	now := l.now()
	idx := windowIndex(now, l.window)
	elapsed := elapsedInWindow(now, l.window)

	var e *localEntry
	for {
		v, _ := l.entries.LoadOrStore(key, &localEntry{windowIdx: idx})
		e = v.(*localEntry)
		e.mu.Lock()
		if !e.evicted {
			break
		}
		e.mu.Unlock()
	}
	defer e.mu.Unlock()

	switch {
	case e.windowIdx == idx:
		// same window
	case e.windowIdx == idx-1:
		e.prev = e.cur
		e.cur = 0
		e.windowIdx = idx
	default:
		// idle for at least one full window, nothing carries over
		e.prev = 0
		e.cur = 0
		e.windowIdx = idx
	}
	e.lastSeen = now

	result := &Result{Limit: l.limit}

	if slidingEstimate(e.cur, e.prev, elapsed, l.window)+1 <= float64(l.limit) {
		e.cur++
		result.Allowed = true
		result.Remaining = remainingQuota(l.limit, e.cur, e.prev, elapsed, l.window)
		return result, nil
	}

	result.Remaining = 0
	result.RetryAfter = retryAfterHint(l.limit, e.cur, e.prev, elapsed, l.window)
	return result, nil
}

// Reset implements Limiter.
func (l *LocalLimiter) Reset(_ context.Context, key string) error {
	l.entries.Delete(key)
	return nil
}

// Close implements Limiter.
func (l *LocalLimiter) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	return nil
}

func (l *LocalLimiter) evictionLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stopCh:
			return
		}
	}
}

func (l *LocalLimiter) evictIdle() {
	cutoff := l.now().Add(-time.Duration(idleWindowsBeforeEviction) * l.window)
	l.entries.Range(func(key, value interface{}) bool {
		e := value.(*localEntry)
		// the entry is unpublished while its lock is held, so a checker
		// holding a stale pointer observes evicted and starts over
		e.mu.Lock()
		if e.lastSeen.Before(cutoff) {
			e.evicted = true
			l.entries.Delete(key)
		}
		e.mu.Unlock()
		return true
	})
}
