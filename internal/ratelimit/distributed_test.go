package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexgw/vortex/internal/ratelimit/store"
	"github.com/vortexgw/vortex/internal/util"
)

func newTestDistributedLimiter(t *testing.T, limit int64, window time.Duration, policy Policy, clock *fakeClock) (*DistributedLimiter, *miniredis.Miniredis, *store.RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	st := store.NewRedisStore(client, "test")
	t.Cleanup(func() { _ = st.Close() })

	l := NewDistributedLimiter(st, limit, window, policy, WithDistributedLimiterClock(clock.Now))
	t.Cleanup(func() { _ = l.Close() })

	return l, mr, st
}

func TestDistributedLimiterAdmitsUpToLimit(t *testing.T) {
	clock := newFakeClock()
	l, _, _ := newTestDistributedLimiter(t, 5, time.Minute, PolicyFailClosed, clock)

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.Check(ctx, "client")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be admitted", i+1)
	}

	res, err := l.Check(ctx, "client")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestDistributedLimiterSharesCountersAcrossInstances(t *testing.T) {
	clock := newFakeClock()
	mr := miniredis.RunT(t)

	newInstance := func() *DistributedLimiter {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		st := store.NewRedisStore(client, "test")
		t.Cleanup(func() { _ = st.Close() })
		return NewDistributedLimiter(st, 3, time.Minute, PolicyFailClosed, WithDistributedLimiterClock(clock.Now))
	}

	a := newInstance()
	b := newInstance()

	ctx := context.Background()

	res, err := a.Check(ctx, "client")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = b.Check(ctx, "client")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = a.Check(ctx, "client")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// the limit is enforced across both instances
	res, err = b.Check(ctx, "client")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestDistributedLimiterSlidingRollover(t *testing.T) {
	clock := newFakeClock()
	l, _, _ := newTestDistributedLimiter(t, 4, time.Minute, PolicyFailClosed, clock)

	ctx := context.Background()

	for i := 0; i < 4; i++ {
		res, err := l.Check(ctx, "client")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	// halfway into the next window the old count weighs half
	clock.Advance(time.Minute + 30*time.Second)

	res, err := l.Check(ctx, "client")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(ctx, "client")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(ctx, "client")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestDistributedLimiterFailOpen(t *testing.T) {
	clock := newFakeClock()
	l, mr, _ := newTestDistributedLimiter(t, 1, time.Minute, PolicyFailOpen, clock)

	ctx := context.Background()

	res, err := l.Check(ctx, "client")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.False(t, res.Degraded)

	mr.Close()

	// store is gone: requests are admitted and marked degraded
	for i := 0; i < 3; i++ {
		res, err = l.Check(ctx, "client")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.True(t, res.Degraded)
	}
}

func TestDistributedLimiterFailClosed(t *testing.T) {
	clock := newFakeClock()
	l, mr, _ := newTestDistributedLimiter(t, 1, time.Minute, PolicyFailClosed, clock)

	ctx := context.Background()

	res, err := l.Check(ctx, "client")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	mr.Close()

	_, err = l.Check(ctx, "client")
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrStoreUnavailable))
}

func TestDistributedLimiterReset(t *testing.T) {
	clock := newFakeClock()
	l, _, _ := newTestDistributedLimiter(t, 1, time.Minute, PolicyFailClosed, clock)

	ctx := context.Background()

	res, err := l.Check(ctx, "client")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Check(ctx, "client")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "client"))

	res, err = l.Check(ctx, "client")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

// Both variants implement the same admission function, so a single-instance
// deployment must see identical decision sequences from either one.
func TestLocalAndDistributedDecisionsAlign(t *testing.T) {
	clock := newFakeClock()

	local := NewLocalLimiter(5, time.Minute, WithLocalLimiterClock(clock.Now))
	defer local.Close()

	dist, _, _ := newTestDistributedLimiter(t, 5, time.Minute, PolicyFailClosed, clock)

	ctx := context.Background()

	steps := []time.Duration{
		0, 0, 0, 10 * time.Second, 0, 5 * time.Second, 0,
		50 * time.Second, 0, 0, 20 * time.Second, 0, 0, 0,
		90 * time.Second, 0, 0, 0, 0, 0, 0,
	}

	for i, step := range steps {
		clock.Advance(step)

		lr, err := local.Check(ctx, "client")
		require.NoError(t, err)

		dr, err := dist.Check(ctx, "client")
		require.NoError(t, err)

		assert.Equal(t, lr.Allowed, dr.Allowed, "step %d diverged", i)
	}
}
