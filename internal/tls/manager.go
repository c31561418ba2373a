package tls

import (
	"crypto/tls"
	"sync/atomic"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/observability"
)

// Manager serves certificates to the TLS listener from the current
// resolver. Swapping the resolver is atomic: handshakes already in flight
// finish with the certificate they resolved, new handshakes see the new
// certificate set immediately.
type Manager struct {
	resolver atomic.Pointer[Resolver]
	logger   observability.Logger
}

// ManagerOption is a functional option for configuring the manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the manager.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager serving from the given resolver.
func NewManager(resolver *Resolver, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger: observability.NopLogger(),
	}
	m.resolver.Store(resolver)

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Swap replaces the active resolver.
func (m *Manager) Swap(resolver *Resolver) {
	m.resolver.Store(resolver)
}

// GetCertificate implements the tls.Config callback. A resolution failure
// fails only the handshake that triggered it.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, err := m.resolver.Load().Resolve(hello.ServerName)
	if err != nil {
		m.logger.Debug("no certificate for SNI",
			observability.String("server_name", hello.ServerName),
		)
		return nil, err
	}
	return cert, nil
}

// BuildTLSConfig returns the listener tls.Config wired to this manager.
func (m *Manager) BuildTLSConfig(cfg *config.ListenerTLS) *tls.Config {
	minVersion := uint16(tls.VersionTLS12)
	if cfg != nil && cfg.MinVersion == "TLS13" {
		minVersion = tls.VersionTLS13
	}

	return &tls.Config{
		MinVersion:     minVersion,
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}
