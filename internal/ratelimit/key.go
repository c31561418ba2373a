package ratelimit

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/vortexgw/vortex/internal/util"
)

// Key sources accepted in plugin configuration. A header source is written
// as "header:<name>".
const (
	KeySourceClientIP = "client-ip"
	KeySourceRoute    = "route"

	headerSourcePrefix = "header:"
)

// KeyFunc derives the counter key for a request.
type KeyFunc func(r *http.Request) string

// NewKeyFunc builds a key function for a route from a source descriptor.
// Keys are namespaced by route name so routes never share counters.
func NewKeyFunc(source, routeName string) (KeyFunc, error) {
	switch {
	case source == "" || source == KeySourceClientIP:
		return func(r *http.Request) string {
			return "rl:" + routeName + ":" + util.GetClientIP(r)
		}, nil

	case source == KeySourceRoute:
		// one shared bucket for the whole route
		return func(_ *http.Request) string {
			return "rl:" + routeName
		}, nil

	case strings.HasPrefix(source, headerSourcePrefix):
		name := strings.TrimPrefix(source, headerSourcePrefix)
		if name == "" {
			return nil, fmt.Errorf("%w: rate limit key header name is empty", util.ErrConfigInvalid)
		}
		return func(r *http.Request) string {
			// requests without the header share the client IP bucket
			if v := r.Header.Get(name); v != "" {
				return "rl:" + routeName + ":h:" + v
			}
			return "rl:" + routeName + ":" + util.GetClientIP(r)
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown rate limit key source %q", util.ErrConfigInvalid, source)
	}
}
