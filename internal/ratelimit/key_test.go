package ratelimit

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexgw/vortex/internal/util"
)

func TestNewKeyFuncClientIP(t *testing.T) {
	fn, err := NewKeyFunc(KeySourceClientIP, "api")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:4567"

	assert.Equal(t, "rl:api:203.0.113.7", fn(r))
}

func TestNewKeyFuncDefaultsToClientIP(t *testing.T) {
	fn, err := NewKeyFunc("", "api")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:4567"

	assert.Equal(t, "rl:api:203.0.113.7", fn(r))
}

func TestNewKeyFuncRoute(t *testing.T) {
	fn, err := NewKeyFunc(KeySourceRoute, "api")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "rl:api", fn(r))
}

func TestNewKeyFuncHeader(t *testing.T) {
	fn, err := NewKeyFunc("header:X-API-Key", "api")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "abc123")
	assert.Equal(t, "rl:api:h:abc123", fn(r))

	// requests without the header fall back to the client IP bucket
	r = httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:4567"
	assert.Equal(t, "rl:api:203.0.113.7", fn(r))
}

func TestNewKeyFuncInvalidSource(t *testing.T) {
	_, err := NewKeyFunc("cookie:session", "api")
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrConfigInvalid))

	_, err = NewKeyFunc("header:", "api")
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrConfigInvalid))
}
