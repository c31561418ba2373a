package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"github.com/vortexgw/vortex/internal/observability"
	"github.com/vortexgw/vortex/internal/ratelimit/store"
	"github.com/vortexgw/vortex/internal/util"
)

var distributedDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vortex_ratelimit_distributed_decisions_total",
		Help: "Total number of distributed rate limit decisions",
	},
	[]string{"outcome"},
)

// distributedCheck carries a decision back through the circuit breaker.
type distributedCheck struct {
	allowed bool
	cur     int64
	prev    int64
}

// DistributedLimiter is a Redis-backed sliding-window-counter limiter.
// Counters are shared across all gateway instances pointing at the same
// Redis. The admission decision is a single script round trip; a circuit
// breaker shields the hot path from a struggling Redis, and the configured
// policy decides what happens while the store is unreachable.
type DistributedLimiter struct {
	store   *store.RedisStore
	limit   int64
	window  time.Duration
	policy  Policy
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	now     func() time.Time
}

// DistributedLimiterOption is a functional option for the distributed limiter.
type DistributedLimiterOption func(*DistributedLimiter)

// WithDistributedLimiterLogger sets the logger.
func WithDistributedLimiterLogger(logger observability.Logger) DistributedLimiterOption {
	return func(l *DistributedLimiter) {
		l.logger = logger
	}
}

// WithDistributedLimiterClock overrides the time source. Used in tests.
func WithDistributedLimiterClock(now func() time.Time) DistributedLimiterOption {
	return func(l *DistributedLimiter) {
		l.now = now
	}
}

// NewDistributedLimiter creates a distributed limiter admitting at most
// limit requests per sliding window across all instances.
func NewDistributedLimiter(st *store.RedisStore, limit int64, window time.Duration, policy Policy, opts ...DistributedLimiterOption) *DistributedLimiter {
	l := &DistributedLimiter{
		store:  st,
		limit:  limit,
		window: window,
		policy: policy,
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-redis",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Warn("rate limit circuit breaker state change",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
	})

	return l
}

// Check implements Limiter.
func (l *DistributedLimiter) Check(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	idx := windowIndex(now, l.window)
	elapsed := elapsedInWindow(now, l.window)

	curKey := windowKey(key, idx)
	prevKey := windowKey(key, idx-1)

	// Counters outlive the window they belong to by one more window so
	// the next window can read them as its previous count.
	expiry := 2*l.window + time.Second

	v, err := l.breaker.Execute(func() (interface{}, error) {
		allowed, cur, prev, err := l.store.SlidingWindowCheck(ctx, curKey, prevKey, l.limit, l.window, elapsed, expiry)
		if err != nil {
			return nil, err
		}
		return distributedCheck{allowed: allowed, cur: cur, prev: prev}, nil
	})
	if err != nil {
		return l.onStoreError(key, err)
	}

	check := v.(distributedCheck)
	result := &Result{Limit: l.limit}

	if check.allowed {
		distributedDecisionsTotal.WithLabelValues("allowed").Inc()
		result.Allowed = true
		result.Remaining = remainingQuota(l.limit, check.cur, check.prev, elapsed, l.window)
		return result, nil
	}

	distributedDecisionsTotal.WithLabelValues("denied").Inc()
	result.Remaining = 0
	result.RetryAfter = retryAfterHint(l.limit, check.cur, check.prev, elapsed, l.window)
	return result, nil
}

func (l *DistributedLimiter) onStoreError(key string, err error) (*Result, error) {
	if l.policy == PolicyFailOpen {
		distributedDecisionsTotal.WithLabelValues("degraded").Inc()
		l.logger.Warn("rate limit store unavailable, admitting",
			observability.String("key", key),
			observability.Error(err))
		return &Result{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: -1,
			Degraded:  true,
		}, nil
	}

	distributedDecisionsTotal.WithLabelValues("rejected").Inc()
	l.logger.Error("rate limit store unavailable, rejecting",
		observability.String("key", key),
		observability.Error(err))
	return nil, fmt.Errorf("rate limit check for %q: %w", key, util.ErrStoreUnavailable)
}

// Reset implements Limiter.
func (l *DistributedLimiter) Reset(ctx context.Context, key string) error {
	now := l.now()
	idx := windowIndex(now, l.window)

	if err := l.store.Delete(ctx, windowKey(key, idx)); err != nil {
		return err
	}
	return l.store.Delete(ctx, windowKey(key, idx-1))
}

// Close implements Limiter. The underlying store is shared and stays open.
func (l *DistributedLimiter) Close() error {
	return nil
}

func windowKey(key string, idx int64) string {
	return key + ":w:" + strconv.FormatInt(idx, 10)
}
