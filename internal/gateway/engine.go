package gateway

import (
	"fmt"

	"github.com/vortexgw/vortex/internal/backend"
	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/observability"
	"github.com/vortexgw/vortex/internal/pipeline"
	"github.com/vortexgw/vortex/internal/plugin"
	"github.com/vortexgw/vortex/internal/router"
	gwtls "github.com/vortexgw/vortex/internal/tls"
)

// Engine is the compiled form of one config snapshot: the router, the
// per-route filter chains and host groups, and the certificate resolver.
// An engine is immutable; applying a new snapshot builds a new engine and
// swaps it in whole, so a build failure never disturbs the serving one.
type Engine struct {
	snapshot *config.Snapshot
	router   *router.Router
	chains   map[string]*pipeline.Chain
	groups   map[string]*backend.Group
	resolver *gwtls.Resolver
}

// BuildEngine compiles a snapshot. Any invalid route, plugin, or
// certificate fails the whole build.
func BuildEngine(snap *config.Snapshot, registry *plugin.Registry, deps plugin.Deps, logger observability.Logger) (*Engine, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	rt, err := router.New(snap.Routes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile routes: %w", err)
	}

	resolver, err := gwtls.NewResolver(snap.Certificates)
	if err != nil {
		return nil, fmt.Errorf("failed to build certificate resolver: %w", err)
	}

	e := &Engine{
		snapshot: snap,
		router:   rt,
		chains:   make(map[string]*pipeline.Chain, len(snap.Routes)),
		groups:   make(map[string]*backend.Group, len(snap.Routes)),
		resolver: resolver,
	}

	for _, route := range snap.Routes {
		chain, err := pipeline.NewChain(route.Name, route.Plugins, registry, deps,
			pipeline.WithChainLogger(logger))
		if err != nil {
			e.Close()
			return nil, err
		}
		e.chains[route.Name] = chain

		group, err := backend.NewGroup(route.Name, route.Backends,
			backend.WithGroupLogger(logger))
		if err != nil {
			e.Close()
			return nil, err
		}
		e.groups[route.Name] = group
	}

	return e, nil
}

// Snapshot returns the snapshot this engine was built from.
func (e *Engine) Snapshot() *config.Snapshot {
	return e.snapshot
}

// Resolver returns the certificate resolver.
func (e *Engine) Resolver() *gwtls.Resolver {
	return e.resolver
}

// Close releases per-route filter resources.
func (e *Engine) Close() {
	for _, chain := range e.chains {
		_ = chain.Close()
	}
}
