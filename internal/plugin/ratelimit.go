package plugin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vortexgw/vortex/internal/observability"
	"github.com/vortexgw/vortex/internal/ratelimit"
	"github.com/vortexgw/vortex/internal/util"
)

// TypeRateLimit is the type tag for the rate limit filter.
const TypeRateLimit = "rate-limit"

const rateLimitResultKey = "ratelimit.result"

// Backend kinds accepted by the rate limit filter configuration.
const (
	backendLocal       = "local"
	backendDistributed = "distributed"
)

// RateLimitFilter throttles requests with a sliding-window counter. A
// single instance is bound to one route and checked concurrently by every
// request on that route.
type RateLimitFilter struct {
	limiter ratelimit.Limiter
	keyFn   ratelimit.KeyFunc
	limit   int64
}

// NewRateLimitFilter builds a rate limit filter from configuration.
// Recognized options: limit, window, key_source, backend,
// on_backend_unavailable.
func NewRateLimitFilter(cfg map[string]any, deps Deps) (Filter, error) {
	limit, err := optInt64(cfg, "limit", 0)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: rate limit requires limit > 0", util.ErrConfigInvalid)
	}

	window, err := optDuration(cfg, "window", time.Minute)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: rate limit requires window > 0", util.ErrConfigInvalid)
	}

	keySource, err := optString(cfg, "key_source", "")
	if err != nil {
		return nil, err
	}
	keyFn, err := ratelimit.NewKeyFunc(keySource, deps.RouteName)
	if err != nil {
		return nil, err
	}

	backendKind, err := optString(cfg, "backend", backendLocal)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	var limiter ratelimit.Limiter
	switch backendKind {
	case backendLocal:
		limiter = ratelimit.NewLocalLimiter(limit, window,
			ratelimit.WithLocalLimiterLogger(logger))

	case backendDistributed:
		if deps.RedisStore == nil {
			return nil, fmt.Errorf("%w: distributed rate limit requires redis to be configured", util.ErrConfigInvalid)
		}
		policyStr, err := optString(cfg, "on_backend_unavailable", string(ratelimit.PolicyFailOpen))
		if err != nil {
			return nil, err
		}
		policy := ratelimit.Policy(policyStr)
		if policy != ratelimit.PolicyFailOpen && policy != ratelimit.PolicyFailClosed {
			return nil, fmt.Errorf("%w: unknown on_backend_unavailable policy %q", util.ErrConfigInvalid, policyStr)
		}
		limiter = ratelimit.NewDistributedLimiter(deps.RedisStore, limit, window, policy,
			ratelimit.WithDistributedLimiterLogger(logger))

	default:
		return nil, fmt.Errorf("%w: unknown rate limit backend %q", util.ErrConfigInvalid, backendKind)
	}

	return &RateLimitFilter{
		limiter: limiter,
		keyFn:   keyFn,
		limit:   limit,
	}, nil
}

// Name implements Filter.
func (f *RateLimitFilter) Name() string {
	return TypeRateLimit
}

// OnRequest implements Filter. Denials surface as a rate limit error with
// the retry hint; store outages under fail-closed surface as a store
// unavailability error so callers can tell the two apart.
func (f *RateLimitFilter) OnRequest(ctx context.Context, rc *RequestContext) (*ShortCircuit, error) {
	key := f.keyFn(rc.Request)

	res, err := f.limiter.Check(ctx, key)
	if err != nil {
		return nil, err
	}

	if !res.Allowed {
		return nil, &util.RateLimitError{
			Key:        key,
			Limit:      f.limit,
			RetryAfter: res.RetryAfter,
		}
	}

	rc.Values[rateLimitResultKey] = res
	return nil, nil
}

// OnResponse implements Filter. Adds the usual quota headers.
func (f *RateLimitFilter) OnResponse(_ context.Context, rc *RequestContext, resp *http.Response) (*ShortCircuit, error) {
	res, ok := rc.Values[rateLimitResultKey].(*ratelimit.Result)
	if !ok {
		return nil, nil
	}

	resp.Header.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	if res.Remaining >= 0 {
		resp.Header.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	}
	return nil, nil
}

// Close implements Closer.
func (f *RateLimitFilter) Close() error {
	return f.limiter.Close()
}
