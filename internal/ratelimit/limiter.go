// Package ratelimit implements sliding-window-counter rate limiting with
// local in-process and Redis-backed distributed variants behind a single
// Limiter contract.
package ratelimit

import (
	"context"
	"time"
)

// Policy controls behavior when the backing store is unavailable.
type Policy string

const (
	// PolicyFailOpen admits requests when the store cannot be reached.
	PolicyFailOpen Policy = "fail-open"
	// PolicyFailClosed denies requests when the store cannot be reached.
	PolicyFailClosed Policy = "fail-closed"
)

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed reports whether the request was admitted.
	Allowed bool
	// Limit is the configured maximum for the window.
	Limit int64
	// Remaining is the number of requests still admissible in the
	// current window, after this one.
	Remaining int64
	// RetryAfter is the suggested wait before retrying. Zero when the
	// request was admitted.
	RetryAfter time.Duration
	// Degraded is set when the decision was made without the backing
	// store, under the fail-open policy.
	Degraded bool
}

// Limiter is the rate limiting contract shared by the local and distributed
// variants. Implementations make one admission decision per Check call and
// consume quota only for admitted requests.
type Limiter interface {
	// Check decides whether one request identified by key is admitted.
	Check(ctx context.Context, key string) (*Result, error)

	// Reset clears all counters for a key.
	Reset(ctx context.Context, key string) error

	// Close releases resources held by the limiter.
	Close() error
}

// NoopLimiter admits everything. Used when a route has no rate limit
// configured.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that always admits.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Check implements Limiter.
func (l *NoopLimiter) Check(_ context.Context, _ string) (*Result, error) {
	return &Result{Allowed: true, Limit: -1, Remaining: -1}, nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(_ context.Context, _ string) error {
	return nil
}

// Close implements Limiter.
func (l *NoopLimiter) Close() error {
	return nil
}
