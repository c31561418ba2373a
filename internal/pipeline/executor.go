// Package pipeline runs a route's filter chain around the upstream call.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/observability"
	"github.com/vortexgw/vortex/internal/plugin"
)

// Upstream performs the single upstream call for a request.
type Upstream func(ctx context.Context, rc *plugin.RequestContext) (*http.Response, error)

// Chain is the compiled, ordered filter list of one route. A chain is
// built once per config snapshot and invoked concurrently by every
// request matching its route.
type Chain struct {
	routeName string
	filters   []plugin.Filter
	logger    observability.Logger
}

// ChainOption is a functional option for a chain.
type ChainOption func(*Chain)

// WithChainLogger sets the logger.
func WithChainLogger(logger observability.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// NewChain builds the filter instances for a route from its plugin
// references. A constructor failure fails the whole chain, which in turn
// rejects the snapshot.
func NewChain(routeName string, refs []config.PluginRef, registry *plugin.Registry, deps plugin.Deps, opts ...ChainOption) (*Chain, error) {
	c := &Chain{
		routeName: routeName,
		filters:   make([]plugin.Filter, 0, len(refs)),
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	deps.RouteName = routeName
	if deps.Logger == nil {
		deps.Logger = c.logger
	}

	for _, ref := range refs {
		f, err := registry.Build(ref.Type, ref.Config, deps)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("route %s plugin %s: %w", routeName, ref.Type, err)
		}
		c.filters = append(c.filters, f)
	}

	return c, nil
}

// RouteName returns the owning route name.
func (c *Chain) RouteName() string {
	return c.routeName
}

// Filters returns the ordered filter instances.
func (c *Chain) Filters() []plugin.Filter {
	return c.filters
}

// Execute runs the request hooks in order, then exactly one upstream
// call, then the response hooks in the same order. A short-circuit in
// either phase ends that phase with the filter's response; an error ends
// the request and is mapped to a response by the caller.
func (c *Chain) Execute(ctx context.Context, rc *plugin.RequestContext, upstream Upstream) (*http.Response, error) {
	if resp, err := c.ExecuteRequest(ctx, rc); err != nil || resp != nil {
		return resp, err
	}

	resp, err := upstream(ctx, rc)
	if err != nil {
		return nil, err
	}

	for _, f := range c.filters {
		sc, err := f.OnResponse(ctx, rc, resp)
		if err != nil {
			_ = resp.Body.Close()
			c.logger.Debug("filter failed response",
				observability.String("route", c.routeName),
				observability.String("filter", f.Name()),
				observability.Error(err))
			return nil, err
		}
		if sc != nil {
			_ = resp.Body.Close()
			return shortCircuitResponse(rc.Request, sc), nil
		}
	}

	return resp, nil
}

// ExecuteRequest runs only the request hooks. A non-nil response means a
// filter short-circuited. Used for upgrade requests, which stream past
// the response phase.
func (c *Chain) ExecuteRequest(ctx context.Context, rc *plugin.RequestContext) (*http.Response, error) {
	for _, f := range c.filters {
		sc, err := f.OnRequest(ctx, rc)
		if err != nil {
			c.logger.Debug("filter failed request",
				observability.String("route", c.routeName),
				observability.String("filter", f.Name()),
				observability.Error(err))
			return nil, err
		}
		if sc != nil {
			return shortCircuitResponse(rc.Request, sc), nil
		}
	}
	return nil, nil
}

// Close releases resources held by filter instances, such as rate limit
// counters. Called when a snapshot is retired.
func (c *Chain) Close() error {
	return c.close()
}

func (c *Chain) close() error {
	var lastErr error
	for _, f := range c.filters {
		if closer, ok := f.(plugin.Closer); ok {
			if err := closer.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

func shortCircuitResponse(req *http.Request, sc *plugin.ShortCircuit) *http.Response {
	header := sc.Header
	if header == nil {
		header = make(http.Header)
	}

	status := sc.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(sc.Body)),
		ContentLength: int64(len(sc.Body)),
		Request:       req,
	}
}
