// Package gateway assembles the listener, router, filter chains, and
// proxy into a serving HTTP gateway with hot-swappable configuration.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vortexgw/vortex/internal/backend"
	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/observability"
	"github.com/vortexgw/vortex/internal/pipeline"
	"github.com/vortexgw/vortex/internal/plugin"
	"github.com/vortexgw/vortex/internal/proxy"
	gwtls "github.com/vortexgw/vortex/internal/tls"
	"github.com/vortexgw/vortex/internal/util"
)

// State represents the gateway lifecycle state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateRunning indicates the gateway is serving.
	StateRunning
	// StateStopping indicates the gateway is shutting down.
	StateStopping
)

// String returns the string form of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway is the serving core. It holds the current engine behind an
// atomic pointer; Apply swaps in a newly compiled one without touching
// in-flight requests.
type Gateway struct {
	logger          observability.Logger
	registry        *plugin.Registry
	deps            plugin.Deps
	forwarder       *proxy.Forwarder
	tlsManager      *gwtls.Manager
	engine          atomic.Pointer[Engine]
	server          *http.Server
	state           atomic.Int32
	shutdownTimeout time.Duration
}

// Option is a functional option for the gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithPluginRegistry overrides the filter registry.
func WithPluginRegistry(registry *plugin.Registry) Option {
	return func(g *Gateway) {
		g.registry = registry
	}
}

// WithPluginDeps sets the shared collaborators handed to filter
// constructors, such as the Redis store.
func WithPluginDeps(deps plugin.Deps) Option {
	return func(g *Gateway) {
		g.deps = deps
	}
}

// WithForwarder overrides the upstream forwarder.
func WithForwarder(f *proxy.Forwarder) Option {
	return func(g *Gateway) {
		g.forwarder = f
	}
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.shutdownTimeout = timeout
	}
}

// New creates a gateway and applies the initial snapshot.
func New(snap *config.Snapshot, opts ...Option) (*Gateway, error) {
	if snap == nil {
		return nil, fmt.Errorf("initial snapshot is required")
	}

	g := &Gateway{
		logger:          observability.NopLogger(),
		registry:        plugin.NewRegistry(),
		shutdownTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.forwarder == nil {
		g.forwarder = proxy.NewForwarder(proxy.WithForwarderLogger(g.logger))
	}
	g.tlsManager = gwtls.NewManager(nil, gwtls.WithManagerLogger(g.logger))
	g.state.Store(int32(StateStopped))

	if err := g.Apply(snap); err != nil {
		return nil, err
	}

	return g, nil
}

// Apply compiles a snapshot and swaps it in. On failure the previous
// engine keeps serving and the error describes the rejected config.
func (g *Gateway) Apply(snap *config.Snapshot) error {
	eng, err := BuildEngine(snap, g.registry, g.deps, g.logger)
	if err != nil {
		g.logger.Error("rejecting config snapshot",
			observability.Int64("version", snap.Version),
			observability.Error(err))
		return err
	}

	g.tlsManager.Swap(eng.Resolver())
	old := g.engine.Swap(eng)
	if old != nil {
		old.Close()
	}

	g.logger.Info("applied config snapshot",
		observability.Int64("version", snap.Version),
		observability.Int("routes", len(snap.Routes)),
		observability.Int("certificates", len(snap.Certificates)))

	return nil
}

// Snapshot returns the currently serving snapshot.
func (g *Gateway) Snapshot() *config.Snapshot {
	if eng := g.engine.Load(); eng != nil {
		return eng.Snapshot()
	}
	return nil
}

// State returns the lifecycle state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// Start begins serving on the configured listener and blocks until the
// listener stops.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	snap := g.Snapshot()
	listener := snap.Listener
	addr := fmt.Sprintf("%s:%d", listener.Bind, listener.Port)

	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadTimeout:       listener.Timeouts.GetEffectiveReadTimeout(),
		ReadHeaderTimeout: listener.Timeouts.GetEffectiveReadHeaderTimeout(),
		WriteTimeout:      listener.Timeouts.GetEffectiveWriteTimeout(),
		IdleTimeout:       listener.Timeouts.GetEffectiveIdleTimeout(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	var err error
	if listener.TLS != nil && listener.TLS.Enabled {
		g.server.TLSConfig = g.tlsManager.BuildTLSConfig(listener.TLS)
		g.logger.Info("gateway listening with TLS", observability.String("addr", addr))
		err = g.server.ListenAndServeTLS("", "")
	} else {
		g.logger.Info("gateway listening", observability.String("addr", addr))
		err = g.server.ListenAndServe()
	}

	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains connections and shuts the listener down.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("gateway is not running")
	}
	defer g.state.Store(int32(StateStopped))

	g.logger.Info("stopping gateway")

	shutdownCtx, cancel := context.WithTimeout(ctx, g.shutdownTimeout)
	defer cancel()

	if g.server != nil {
		if err := g.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
	}

	if eng := g.engine.Load(); eng != nil {
		eng.Close()
	}
	return nil
}

// Handler returns the request entry point: recovery and request ID
// wrapping around the routing core.
func (g *Gateway) Handler() http.Handler {
	return g.withRecovery(g.withRequestID(http.HandlerFunc(g.serve)))
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.Handler().ServeHTTP(w, r)
}

// serve drives one request through route match, filter chain, balancer
// pick, and upstream forward.
func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eng := g.engine.Load()

	matched, err := eng.router.Match(r)
	if err != nil {
		requestsTotal.WithLabelValues("", statusClass(http.StatusNotFound)).Inc()
		util.WriteError(w, err)
		return
	}

	route := matched.Route.Config
	rc := plugin.NewRequestContext(r, route.Name)
	chain := eng.chains[route.Name]
	group := eng.groups[route.Name]

	sw := util.NewStatusCapturingResponseWriter(w)

	if proxy.IsWebSocketUpgrade(r) {
		g.serveWebSocket(sw, r, rc, chain, group)
	} else {
		resp, err := chain.Execute(r.Context(), rc, func(ctx context.Context, rc *plugin.RequestContext) (*http.Response, error) {
			return g.forwarder.Forward(ctx, rc, group, route.Timeout.Duration(), route.Retries)
		})
		if err != nil {
			util.WriteError(sw, err)
		} else if werr := proxy.WriteResponse(sw, resp); werr != nil {
			g.logger.Debug("client write failed",
				observability.String("route", route.Name),
				observability.Error(werr))
		}
	}

	status := sw.StatusCode
	requestsTotal.WithLabelValues(route.Name, statusClass(status)).Inc()
	requestDuration.WithLabelValues(route.Name).Observe(time.Since(start).Seconds())

	g.logger.Debug("request served",
		observability.String("request_id", observability.RequestIDFromContext(r.Context())),
		observability.String("route", route.Name),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Int("status", status),
		observability.Duration("duration", time.Since(start)))
}

// serveWebSocket runs the request hooks, then relays the upgraded
// connection. Response filters do not apply to streamed frames.
func (g *Gateway) serveWebSocket(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext, chain *pipeline.Chain, group *backend.Group) {
	resp, err := chain.ExecuteRequest(r.Context(), rc)
	if err != nil {
		util.WriteError(w, err)
		return
	}
	if resp != nil {
		if werr := proxy.WriteResponse(w, resp); werr != nil {
			g.logger.Debug("client write failed", observability.Error(werr))
		}
		return
	}

	if err := g.forwarder.ServeWebSocket(w, rc.Request, group); err != nil {
		g.logger.Warn("websocket proxy failed",
			observability.String("route", rc.RouteName),
			observability.Error(err))
	}
}

// withRequestID assigns a request ID when the client did not send one and
// exposes it on the response and the request context.
func (g *Gateway) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
			r.Header.Set("X-Request-ID", reqID)
		}
		w.Header().Set("X-Request-ID", reqID)

		ctx := observability.ContextWithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRecovery converts a panicking handler into a 500 response instead
// of tearing down the connection serving goroutine.
func (g *Gateway) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("panic while serving request",
					observability.String("path", r.URL.Path),
					observability.Any("panic", rec))
				util.WriteJSONError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
