package plugin

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/vortexgw/vortex/internal/util"
)

// TypeKeyAuth is the type tag for the API key authentication filter.
const TypeKeyAuth = "key-auth"

// DefaultKeyAuthHeader is the header consulted when none is configured.
const DefaultKeyAuthHeader = "X-API-Key"

// KeyAuthFilter rejects requests that do not present a known API key.
// Recognized options: keys, header.
type KeyAuthFilter struct {
	keys   map[string]struct{}
	header string
}

// NewKeyAuthFilter builds a key auth filter from configuration.
func NewKeyAuthFilter(cfg map[string]any, _ Deps) (Filter, error) {
	keys, err := optStringSlice(cfg, "keys")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: key auth requires at least one key", util.ErrConfigInvalid)
	}

	header, err := optString(cfg, "header", DefaultKeyAuthHeader)
	if err != nil {
		return nil, err
	}

	keySet := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keySet[k] = struct{}{}
	}

	return &KeyAuthFilter{
		keys:   keySet,
		header: header,
	}, nil
}

// Name implements Filter.
func (f *KeyAuthFilter) Name() string {
	return TypeKeyAuth
}

// OnRequest implements Filter. Unauthenticated requests short-circuit and
// never reach later filters or the upstream.
func (f *KeyAuthFilter) OnRequest(_ context.Context, rc *RequestContext) (*ShortCircuit, error) {
	presented := rc.Request.Header.Get(f.header)
	if presented == "" {
		return unauthorized(http.StatusUnauthorized, "missing API key"), nil
	}

	if !f.validKey(presented) {
		return unauthorized(http.StatusForbidden, "invalid API key"), nil
	}

	// keep the credential out of the upstream request
	rc.Request.Header.Del(f.header)
	return nil, nil
}

// OnResponse implements Filter.
func (f *KeyAuthFilter) OnResponse(_ context.Context, _ *RequestContext, _ *http.Response) (*ShortCircuit, error) {
	return nil, nil
}

func (f *KeyAuthFilter) validKey(presented string) bool {
	for k := range f.keys {
		if len(k) == len(presented) &&
			subtle.ConstantTimeCompare([]byte(k), []byte(presented)) == 1 {
			return true
		}
	}
	return false
}

func unauthorized(status int, message string) *ShortCircuit {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &ShortCircuit{
		StatusCode: status,
		Header:     h,
		Body:       []byte(fmt.Sprintf(`{"error":%q}`, message)),
	}
}
