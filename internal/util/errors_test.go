package util

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("routes[0].host", "empty host")
	assert.Equal(t, "config error at routes[0].host: empty host", err.Error())
	assert.True(t, errors.Is(err, ErrConfigInvalid))

	cause := errors.New("yaml: unmarshal failed")
	wrapped := NewConfigErrorWithCause("", "load failed", cause)
	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestRouteNotFoundError(t *testing.T) {
	err := NewRouteNotFoundError("GET", "api.example.com", "/missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "GET api.example.com/missing")
}

func TestUpstreamError(t *testing.T) {
	err := NewUpstreamError("10.0.0.1:8080", "connect refused")
	assert.True(t, errors.Is(err, ErrUpstreamUnavail))
	assert.False(t, errors.Is(err, ErrTimeout))

	timeoutErr := NewUpstreamTimeoutError("10.0.0.1:8080", errors.New("context deadline exceeded"))
	assert.True(t, errors.Is(timeoutErr, ErrTimeout))
	assert.True(t, errors.Is(timeoutErr, ErrUpstreamUnavail))
}

func TestRateLimitError(t *testing.T) {
	err := NewRateLimitError("client:1.2.3.4", 100, 3*time.Second)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Contains(t, err.Error(), "retry after: 3s")

	// A quota breach is not a store failure.
	assert.False(t, errors.Is(err, ErrStoreUnavailable))
}

func TestPluginError(t *testing.T) {
	cause := errors.New("bad key")
	err := NewPluginError("key-auth", cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "key-auth")
}

func TestWrapError(t *testing.T) {
	require.Nil(t, WrapError(nil, "ignored"))

	base := errors.New("base")
	wrapped := WrapError(base, "context")
	assert.True(t, errors.Is(wrapped, base))
	assert.Equal(t, "context: base", wrapped.Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "upstream error", err: NewUpstreamError("b", "down"), want: true},
		{name: "timeout", err: NewUpstreamTimeoutError("b", nil), want: true},
		{name: "wrapped upstream", err: fmt.Errorf("call: %w", NewUpstreamError("b", "down")), want: true},
		{name: "rate limit", err: NewRateLimitError("k", 10, time.Second), want: false},
		{name: "config", err: NewConfigError("f", "bad"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
