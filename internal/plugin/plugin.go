// Package plugin defines the filter contract run by the request pipeline
// and the built-in filter types.
package plugin

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/vortexgw/vortex/internal/observability"
	"github.com/vortexgw/vortex/internal/ratelimit/store"
	"github.com/vortexgw/vortex/internal/util"
)

// ShortCircuit is a complete response produced by a filter instead of the
// upstream call (request phase) or instead of the upstream response
// (response phase).
type ShortCircuit struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestContext is the per-request state threaded through a filter chain.
// It is owned by one request and never shared.
type RequestContext struct {
	// Request is the inbound request. Filters may mutate it before the
	// upstream call.
	Request *http.Request
	// RouteName is the matched route.
	RouteName string
	// ClientIP is the resolved client address.
	ClientIP string
	// Values carries filter side data across hooks of one request.
	Values map[string]any
}

// NewRequestContext builds the context for one request.
func NewRequestContext(r *http.Request, routeName string) *RequestContext {
	return &RequestContext{
		Request:   r,
		RouteName: routeName,
		ClientIP:  util.GetClientIP(r),
		Values:    make(map[string]any),
	}
}

// Filter is one element of a route's chain. OnRequest hooks run in
// configured order before the upstream call; OnResponse hooks run in the
// same order over the upstream response. A nil ShortCircuit means
// continue; a non-nil one ends the phase with the given response; an
// error fails the request and is mapped to a response by the pipeline.
type Filter interface {
	Name() string
	OnRequest(ctx context.Context, rc *RequestContext) (*ShortCircuit, error)
	OnResponse(ctx context.Context, rc *RequestContext, resp *http.Response) (*ShortCircuit, error)
}

// Closer is implemented by filters holding resources, such as rate limit
// counters.
type Closer interface {
	Close() error
}

// Deps are the shared collaborators available to filter constructors.
type Deps struct {
	Logger observability.Logger
	// RedisStore backs distributed rate limiting. Nil when Redis is not
	// configured.
	RedisStore *store.RedisStore
	// RouteName is the route the filter instance is bound to.
	RouteName string
}

// Constructor builds a filter instance from its configuration map.
type Constructor func(cfg map[string]any, deps Deps) (Filter, error)

// Registry maps filter type tags to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates a registry with the built-in filter types
// registered.
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[string]Constructor),
	}
	r.Register(TypeRateLimit, NewRateLimitFilter)
	r.Register(TypeHeaders, NewHeadersFilter)
	r.Register(TypeCompress, NewCompressFilter)
	r.Register(TypeKeyAuth, NewKeyAuthFilter)
	return r
}

// Register adds a constructor for a type tag, replacing any existing one.
func (r *Registry) Register(typeTag string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[typeTag] = ctor
}

// Build constructs a filter instance of the given type.
func (r *Registry) Build(typeTag string, cfg map[string]any, deps Deps) (Filter, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[typeTag]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown plugin type %q", util.ErrConfigInvalid, typeTag)
	}
	return ctor(cfg, deps)
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
