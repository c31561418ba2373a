// Package store provides the Redis-backed counter storage for
// distributed rate limiting.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/observability"
)

// Prometheus metrics for Redis store operations
var (
	redisStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_ratelimit_redis_operations_total",
			Help: "Total number of Redis rate limit store operations",
		},
		[]string{"operation", "status"},
	)

	redisStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_ratelimit_redis_operation_duration_seconds",
			Help:    "Duration of Redis rate limit store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// slidingWindowScript makes a sliding-window-counter admission decision in
// one round trip. The current-window counter is incremented only when the
// request is admitted, so counts stay monotone within a window.
// KEYS[1] = current window key
// KEYS[2] = previous window key
// ARGV[1] = limit
// ARGV[2] = window in milliseconds
// ARGV[3] = elapsed milliseconds within the current window
// ARGV[4] = key expiration in milliseconds
// Returns {allowed, current count, previous count}.
var slidingWindowScript = redis.NewScript(`
	local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
	local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local elapsed_ms = tonumber(ARGV[3])

	local weight = 1 - (elapsed_ms / window_ms)
	local estimate = cur + prev * weight

	local allowed = 0
	if estimate + 1 <= limit then
		cur = redis.call('INCRBY', KEYS[1], 1)
		if cur == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[4])
		end
		allowed = 1
	end

	return {allowed, cur, prev}
`)

// RedisStore holds rate limit counters in Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger observability.Logger
	closed bool
	mu     sync.Mutex
}

// RedisStoreOption is a functional option for the Redis store.
type RedisStoreOption func(*RedisStore)

// WithRedisStoreLogger sets the logger for the store.
func WithRedisStoreLogger(logger observability.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a Redis store on an existing client. The prefix
// namespaces every key this store touches.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...RedisStoreOption) *RedisStore {
	if prefix != "" && prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}

	s := &RedisStore{
		client: client,
		prefix: prefix,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Client returns the underlying go-redis client, for callers that share
// the connection, such as the Redis configuration provider.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// NewRedisClient builds a go-redis client from gateway configuration and
// verifies connectivity with a ping.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if cfg == nil {
		cfg = config.DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout.Duration(),
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout.Duration())
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return client, nil
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// SlidingWindowCheck runs the admission script against the current and
// previous window counters of a key in a single round trip.
func (s *RedisStore) SlidingWindowCheck(
	ctx context.Context,
	currentKey, previousKey string,
	limit int64,
	window, elapsed, expiration time.Duration,
) (allowed bool, current, previous int64, err error) {
	start := time.Now()

	result, err := slidingWindowScript.Run(ctx, s.client,
		[]string{s.prefixKey(currentKey), s.prefixKey(previousKey)},
		limit, window.Milliseconds(), elapsed.Milliseconds(), expiration.Milliseconds(),
	).Result()

	redisStoreOperationDuration.WithLabelValues("sliding_window").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("sliding_window", "error").Inc()
		return false, 0, 0, fmt.Errorf("redis sliding window error: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		redisStoreOperationsTotal.WithLabelValues("sliding_window", "error").Inc()
		return false, 0, 0, fmt.Errorf("unexpected script result %v", result)
	}

	allowed = values[0].(int64) == 1
	current = values[1].(int64)
	previous = values[2].(int64)

	redisStoreOperationsTotal.WithLabelValues("sliding_window", "success").Inc()
	return allowed, current, previous, nil
}

// Delete removes the key from the store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := s.client.Del(ctx, s.prefixKey(key)).Err()

	redisStoreOperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis delete error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// Close closes the store and releases the underlying client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.client.Close()
}
