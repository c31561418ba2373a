package ratelimit

import (
	"math"
	"time"
)

// windowIndex returns the index of the fixed window containing now.
func windowIndex(now time.Time, window time.Duration) int64 {
	return now.UnixNano() / int64(window)
}

// elapsedInWindow returns how far into its window now is.
func elapsedInWindow(now time.Time, window time.Duration) time.Duration {
	return time.Duration(now.UnixNano() % int64(window))
}

// slidingEstimate is the weighted request count over the sliding window. The
// previous window contributes in proportion to how much of it still overlaps
// the sliding window, decaying linearly as the current window elapses.
func slidingEstimate(cur, prev int64, elapsed, window time.Duration) float64 {
	weight := 1 - float64(elapsed)/float64(window)
	return float64(cur) + float64(prev)*weight
}

// remainingQuota is the number of requests still admissible right now.
func remainingQuota(limit, cur, prev int64, elapsed, window time.Duration) int64 {
	rem := limit - int64(math.Floor(slidingEstimate(cur, prev, elapsed, window)))
	if rem < 0 {
		rem = 0
	}
	return rem
}

// retryAfterHint computes how long a denied caller should wait before a
// retry has a chance of being admitted, assuming no competing traffic.
func retryAfterHint(limit, cur, prev int64, elapsed, window time.Duration) time.Duration {
	// Within the current window the previous count's weight decays
	// linearly, so solve for the weight at which one more request fits.
	headroom := limit - 1 - cur
	if prev > 0 && headroom >= 0 {
		target := float64(headroom) / float64(prev)
		if target >= 1 {
			// Already fits; the denial lost a race.
			return time.Millisecond
		}
		wait := time.Duration((1-target)*float64(window)) - elapsed
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		return wait
	}

	// The current window is saturated on its own. Wait for the rollover,
	// then for enough of the rolled-over count to decay.
	wait := window - elapsed
	if cur > limit-1 {
		target := float64(limit-1) / float64(cur)
		wait += time.Duration((1 - target) * float64(window))
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}
