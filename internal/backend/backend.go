// Package backend provides upstream host groups with passive health
// tracking and load balancing.
package backend

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/observability"
	"github.com/vortexgw/vortex/internal/util"
)

// DefaultCooldown is how long a host stays out of rotation after a
// failed forward when the route does not configure its own cooldown.
const DefaultCooldown = 10 * time.Second

// Host is a single upstream host. Health is passive: the proxy marks a
// host unhealthy when a forward to it fails, and the mark expires after
// the cooldown.
type Host struct {
	Address string
	Port    int
	Weight  int

	unhealthyUntil atomic.Int64
	connections    atomic.Int64
}

// NewHost creates a host. A zero weight counts as one.
func NewHost(address string, port, weight int) *Host {
	if weight <= 0 {
		weight = 1
	}
	return &Host{
		Address: address,
		Port:    port,
		Weight:  weight,
	}
}

// URL returns the host URL with the given scheme.
func (h *Host) URL(scheme string) string {
	return fmt.Sprintf("%s://%s:%d", scheme, h.Address, h.Port)
}

// Addr returns the host:port form.
func (h *Host) Addr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// Healthy reports whether the host is in rotation at the given time.
func (h *Host) Healthy(now time.Time) bool {
	return now.UnixNano() >= h.unhealthyUntil.Load()
}

// MarkUnhealthy takes the host out of rotation until now+cooldown.
func (h *Host) MarkUnhealthy(now time.Time, cooldown time.Duration) {
	h.unhealthyUntil.Store(now.Add(cooldown).UnixNano())
}

// MarkHealthy returns the host to rotation immediately.
func (h *Host) MarkHealthy() {
	h.unhealthyUntil.Store(0)
}

// Connections returns the in-flight request count.
func (h *Host) Connections() int64 {
	return h.connections.Load()
}

// Acquire records an in-flight request.
func (h *Host) Acquire() {
	h.connections.Add(1)
}

// Release records the end of an in-flight request.
func (h *Host) Release() {
	h.connections.Add(-1)
}

// Group is the set of upstream hosts a route forwards to, with its
// balancing policy and exhaustion behavior. Groups are built per config
// snapshot and are immutable apart from per-host health state.
type Group struct {
	name        string
	hosts       []*Host
	balancer    balancer
	onExhausted string
	cooldown    time.Duration
	scheme      string
	logger      observability.Logger
	now         func() time.Time
}

// GroupOption is a functional option for a host group.
type GroupOption func(*Group)

// WithGroupLogger sets the logger.
func WithGroupLogger(logger observability.Logger) GroupOption {
	return func(g *Group) {
		g.logger = logger
	}
}

// WithGroupClock overrides the time source. Used in tests.
func WithGroupClock(now func() time.Time) GroupOption {
	return func(g *Group) {
		g.now = now
	}
}

// NewGroup builds a host group for a route from configuration.
func NewGroup(routeName string, cfg config.BackendGroup, opts ...GroupOption) (*Group, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("%w: route %s has no backend hosts", util.ErrConfigInvalid, routeName)
	}

	g := &Group{
		name:        routeName,
		hosts:       make([]*Host, 0, len(cfg.Hosts)),
		onExhausted: cfg.OnExhausted,
		cooldown:    DefaultCooldown,
		scheme:      cfg.Scheme,
		logger:      observability.NopLogger(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.onExhausted == "" {
		g.onExhausted = config.ExhaustedFailOpen
	}
	if g.scheme == "" {
		g.scheme = "http"
	}
	if cfg.Cooldown > 0 {
		g.cooldown = cfg.Cooldown.Duration()
	}

	for _, hc := range cfg.Hosts {
		g.hosts = append(g.hosts, NewHost(hc.Address, hc.Port, hc.Weight))
	}

	var err error
	g.balancer, err = newBalancer(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", routeName, err)
	}

	return g, nil
}

// Name returns the owning route name.
func (g *Group) Name() string {
	return g.name
}

// Scheme returns the upstream URL scheme.
func (g *Group) Scheme() string {
	return g.scheme
}

// Cooldown returns the passive health cooldown.
func (g *Group) Cooldown() time.Duration {
	return g.cooldown
}

// Hosts returns all hosts in the group.
func (g *Group) Hosts() []*Host {
	return g.hosts
}

// Pick selects a host for one request. Unhealthy hosts are skipped; when
// every host is unhealthy the exhaustion policy decides between picking
// anyway and failing the request.
func (g *Group) Pick() (*Host, error) {
	now := g.now()

	healthy := make([]*Host, 0, len(g.hosts))
	for _, h := range g.hosts {
		if h.Healthy(now) {
			healthy = append(healthy, h)
		}
	}

	if len(healthy) > 0 {
		return g.balancer.pick(healthy), nil
	}

	if g.onExhausted == config.ExhaustedFailOpen {
		g.logger.Warn("all backend hosts unhealthy, picking anyway",
			observability.String("route", g.name))
		return g.balancer.pick(g.hosts), nil
	}

	return nil, &util.UpstreamError{
		Backend: g.name,
		Message: "no healthy backend hosts",
	}
}

// MarkFailure records a failed forward, taking the host out of rotation
// for the cooldown.
func (g *Group) MarkFailure(h *Host) {
	h.MarkUnhealthy(g.now(), g.cooldown)
	g.logger.Warn("backend host marked unhealthy",
		observability.String("route", g.name),
		observability.String("host", h.Addr()),
		observability.Duration("cooldown", g.cooldown))
}
