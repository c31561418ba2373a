package config

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/vortexgw/vortex/internal/util"
)

// Snapshot is an immutable view of the routing configuration. Once built it
// is never mutated; readers obtain it through Store.Load and may use it for
// the remainder of a request without further synchronization.
type Snapshot struct {
	Version      int64
	BuiltAt      time.Time
	Listener     Listener
	Certificates []Certificate
	Routes       []Route
	Redis        *RedisConfig
}

var snapshotVersion atomic.Int64

// BuildSnapshot validates cfg and produces an immutable Snapshot. On any
// validation failure it returns a ConfigError and no snapshot; callers keep
// serving the previous one.
func BuildSnapshot(cfg *GatewayConfig) (*Snapshot, error) {
	if cfg == nil {
		return nil, util.NewConfigError("", "nil configuration")
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return &Snapshot{
		Version:      snapshotVersion.Add(1),
		BuiltAt:      time.Now(),
		Listener:     cfg.Listener,
		Certificates: append([]Certificate(nil), cfg.Certificates...),
		Routes:       append([]Route(nil), cfg.Routes...),
		Redis:        cfg.Redis,
	}, nil
}

// Store holds the current Snapshot behind an atomic pointer. Load is
// lock-free; Swap publishes a new snapshot for subsequent readers while
// in-flight requests keep the one they loaded.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a Store serving the given initial snapshot.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	if initial != nil {
		s.current.Store(initial)
	}
	return s
}

// Load returns the current snapshot, or nil if none was published yet.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Swap publishes next and returns the previous snapshot.
func (s *Store) Swap(next *Snapshot) *Snapshot {
	return s.current.Swap(next)
}

// Validate checks a GatewayConfig for structural errors.
func Validate(cfg *GatewayConfig) error {
	if cfg.Listener.Port <= 0 || cfg.Listener.Port > 65535 {
		return util.NewConfigError("listener.port", fmt.Sprintf("invalid port %d", cfg.Listener.Port))
	}

	if err := validateCertificates(cfg); err != nil {
		return err
	}

	names := make(map[string]bool, len(cfg.Routes))
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		field := fmt.Sprintf("routes[%d]", i)

		if route.Name == "" {
			return util.NewConfigError(field+".name", "route name is required")
		}
		if names[route.Name] {
			return util.NewConfigError(field+".name", fmt.Sprintf("duplicate route name %q", route.Name))
		}
		names[route.Name] = true

		if err := validateMatches(field, route.Match); err != nil {
			return err
		}
		if err := validateBackends(field, &route.Backends); err != nil {
			return err
		}
		for j, ref := range route.Plugins {
			if ref.Type == "" {
				return util.NewConfigError(fmt.Sprintf("%s.plugins[%d].type", field, j), "plugin type is required")
			}
		}
		if route.Retries < 0 {
			return util.NewConfigError(field+".retries", "retries must not be negative")
		}
	}

	return nil
}

func validateCertificates(cfg *GatewayConfig) error {
	defaults := 0
	for i, cert := range cfg.Certificates {
		field := fmt.Sprintf("certificates[%d]", i)

		hasFiles := cert.CertFile != "" && cert.KeyFile != ""
		hasInline := cert.CertPEM != "" && cert.KeyPEM != ""
		if !hasFiles && !hasInline {
			return util.NewConfigError(field, "certificate requires certFile/keyFile or certPem/keyPem")
		}
		if cert.Default {
			defaults++
		} else if len(cert.Hosts) == 0 {
			return util.NewConfigError(field+".hosts", "non-default certificate requires at least one host")
		}
	}
	if defaults > 1 {
		return util.NewConfigError("certificates", "at most one certificate may be marked default")
	}
	if cfg.Listener.TLS != nil && cfg.Listener.TLS.Enabled && len(cfg.Certificates) == 0 {
		return util.NewConfigError("certificates", "TLS listener requires at least one certificate")
	}
	return nil
}

func validateMatches(field string, matches []RouteMatch) error {
	for j, m := range matches {
		mfield := fmt.Sprintf("%s.match[%d]", field, j)

		if m.URI != nil {
			set := 0
			for _, v := range []string{m.URI.Exact, m.URI.Prefix, m.URI.Regex} {
				if v != "" {
					set++
				}
			}
			if set != 1 {
				return util.NewConfigError(mfield+".uri", "exactly one of exact, prefix, regex must be set")
			}
			if m.URI.Regex != "" {
				if _, err := regexp.Compile(m.URI.Regex); err != nil {
					return util.NewConfigErrorWithCause(mfield+".uri.regex", "invalid regex", err)
				}
			}
		}
		for k, h := range m.Headers {
			if h.Name == "" {
				return util.NewConfigError(fmt.Sprintf("%s.headers[%d].name", mfield, k), "header name is required")
			}
			if h.Regex != "" {
				if _, err := regexp.Compile(h.Regex); err != nil {
					return util.NewConfigErrorWithCause(fmt.Sprintf("%s.headers[%d].regex", mfield, k), "invalid regex", err)
				}
			}
		}
		for k, q := range m.QueryParams {
			if q.Name == "" {
				return util.NewConfigError(fmt.Sprintf("%s.queryParams[%d].name", mfield, k), "query parameter name is required")
			}
			if q.Regex != "" {
				if _, err := regexp.Compile(q.Regex); err != nil {
					return util.NewConfigErrorWithCause(fmt.Sprintf("%s.queryParams[%d].regex", mfield, k), "invalid regex", err)
				}
			}
		}
	}
	return nil
}

func validateBackends(field string, group *BackendGroup) error {
	if len(group.Hosts) == 0 {
		return util.NewConfigError(field+".backends.hosts", "at least one backend host is required")
	}
	for j, host := range group.Hosts {
		hfield := fmt.Sprintf("%s.backends.hosts[%d]", field, j)
		if host.Address == "" {
			return util.NewConfigError(hfield+".address", "address is required")
		}
		if host.Port <= 0 || host.Port > 65535 {
			return util.NewConfigError(hfield+".port", fmt.Sprintf("invalid port %d", host.Port))
		}
		if host.Weight < 0 {
			return util.NewConfigError(hfield+".weight", "weight must not be negative")
		}
	}
	switch group.Policy {
	case "", PolicyRoundRobin, PolicyWeightedRandom, PolicyRandom:
	default:
		return util.NewConfigError(field+".backends.policy", fmt.Sprintf("unknown policy %q", group.Policy))
	}
	switch group.OnExhausted {
	case "", ExhaustedFailOpen, ExhaustedFail:
	default:
		return util.NewConfigError(field+".backends.onExhausted", fmt.Sprintf("unknown value %q", group.OnExhausted))
	}
	return nil
}
