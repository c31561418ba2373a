package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowIndex(t *testing.T) {
	window := time.Minute
	base := time.Unix(0, 0)

	assert.Equal(t, int64(0), windowIndex(base, window))
	assert.Equal(t, int64(0), windowIndex(base.Add(59*time.Second), window))
	assert.Equal(t, int64(1), windowIndex(base.Add(time.Minute), window))
	assert.Equal(t, int64(2), windowIndex(base.Add(2*time.Minute+30*time.Second), window))
}

func TestElapsedInWindow(t *testing.T) {
	window := time.Minute
	base := time.Unix(0, 0)

	assert.Equal(t, time.Duration(0), elapsedInWindow(base, window))
	assert.Equal(t, 15*time.Second, elapsedInWindow(base.Add(15*time.Second), window))
	assert.Equal(t, 15*time.Second, elapsedInWindow(base.Add(3*time.Minute+15*time.Second), window))
}

func TestSlidingEstimate(t *testing.T) {
	window := time.Minute

	// at the start of a window the previous count weighs fully
	assert.InDelta(t, 10.0, slidingEstimate(0, 10, 0, window), 0.001)

	// halfway through it weighs half
	assert.InDelta(t, 8.0, slidingEstimate(3, 10, 30*time.Second, window), 0.001)

	// at the end it weighs nothing
	assert.InDelta(t, 3.0, slidingEstimate(3, 10, window-time.Nanosecond, window), 0.01)
}

func TestRemainingQuota(t *testing.T) {
	window := time.Minute

	assert.Equal(t, int64(10), remainingQuota(10, 0, 0, 0, window))
	assert.Equal(t, int64(2), remainingQuota(10, 3, 10, 30*time.Second, window))
	assert.Equal(t, int64(0), remainingQuota(10, 12, 0, 30*time.Second, window))
}

func TestRetryAfterHintWithinWindow(t *testing.T) {
	window := time.Minute

	// limit 10, cur 2, prev 10, at 15s: estimate 2+7.5=9.5, denied.
	// One more fits once the previous weight drops to (10-1-2)/10=0.7,
	// which happens at 18s. The wait is 3s.
	hint := retryAfterHint(10, 2, 10, 15*time.Second, window)
	assert.InDelta(t, float64(3*time.Second), float64(hint), float64(10*time.Millisecond))
	assert.Greater(t, hint, time.Duration(0))
}

func TestRetryAfterHintNextWindow(t *testing.T) {
	window := time.Minute

	// current window alone is at the limit, previous is empty: the
	// earliest admission is right after the rollover, when the count
	// of 5 rolls into the previous slot. With limit 5 the weight must
	// drop to 4/5, one fifth into the next window. At 40s elapsed the
	// wait is 20s to the boundary plus 12s of decay.
	hint := retryAfterHint(5, 5, 0, 40*time.Second, window)
	assert.InDelta(t, float64(32*time.Second), float64(hint), float64(10*time.Millisecond))
}

func TestRetryAfterHintNeverZero(t *testing.T) {
	window := time.Minute

	hint := retryAfterHint(5, 5, 0, window-time.Nanosecond, window)
	assert.GreaterOrEqual(t, hint, time.Millisecond)
}
