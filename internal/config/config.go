// Package config defines the gateway configuration model and the immutable
// snapshot mechanism behind hot reloads.
package config

import (
	"time"
)

// Default listener timeouts.
const (
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
)

// GatewayConfig is the root of the gateway configuration file.
type GatewayConfig struct {
	Listener     Listener      `yaml:"listener" json:"listener"`
	Log          LogConfig     `yaml:"log,omitempty" json:"log,omitempty"`
	Redis        *RedisConfig  `yaml:"redis,omitempty" json:"redis,omitempty"`
	Certificates []Certificate `yaml:"certificates,omitempty" json:"certificates,omitempty"`
	Routes       []Route       `yaml:"routes" json:"routes"`
}

// DefaultGatewayConfig returns a configuration with defaults applied.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Listener: DefaultListener(),
		Log:      LogConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// Listener represents the network listener configuration.
type Listener struct {
	Bind     string            `yaml:"bind,omitempty" json:"bind,omitempty"`
	Port     int               `yaml:"port" json:"port"`
	TLS      *ListenerTLS      `yaml:"tls,omitempty" json:"tls,omitempty"`
	Timeouts *ListenerTimeouts `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`
}

// DefaultListener returns the default listener configuration.
func DefaultListener() Listener {
	return Listener{
		Bind: "0.0.0.0",
		Port: 8080,
	}
}

// ListenerTLS configures TLS termination on the listener. Certificates are
// configured at the top level and selected per connection via SNI.
type ListenerTLS struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	MinVersion string `yaml:"minVersion,omitempty" json:"minVersion,omitempty"`
}

// ListenerTimeouts contains timeout configuration for the HTTP listener.
type ListenerTimeouts struct {
	ReadTimeout       Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	ReadHeaderTimeout Duration `yaml:"readHeaderTimeout,omitempty" json:"readHeaderTimeout,omitempty"`
	WriteTimeout      Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout       Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
}

// GetEffectiveReadTimeout returns the effective read timeout.
func (t *ListenerTimeouts) GetEffectiveReadTimeout() time.Duration {
	if t == nil || t.ReadTimeout == 0 {
		return DefaultReadTimeout
	}
	return t.ReadTimeout.Duration()
}

// GetEffectiveReadHeaderTimeout returns the effective read header timeout.
func (t *ListenerTimeouts) GetEffectiveReadHeaderTimeout() time.Duration {
	if t == nil || t.ReadHeaderTimeout == 0 {
		return DefaultReadHeaderTimeout
	}
	return t.ReadHeaderTimeout.Duration()
}

// GetEffectiveWriteTimeout returns the effective write timeout.
func (t *ListenerTimeouts) GetEffectiveWriteTimeout() time.Duration {
	if t == nil || t.WriteTimeout == 0 {
		return DefaultWriteTimeout
	}
	return t.WriteTimeout.Duration()
}

// GetEffectiveIdleTimeout returns the effective idle timeout.
func (t *ListenerTimeouts) GetEffectiveIdleTimeout() time.Duration {
	if t == nil || t.IdleTimeout == 0 {
		return DefaultIdleTimeout
	}
	return t.IdleTimeout.Duration()
}

// Certificate binds a TLS certificate to the hostnames it serves. Hosts may
// be exact names or single-label wildcards ("*.example.com"). Material is
// given either as file paths or inline PEM. At most one certificate may be
// marked Default; it serves connections whose SNI matches nothing else.
type Certificate struct {
	Hosts    []string `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	CertFile string   `yaml:"certFile,omitempty" json:"certFile,omitempty"`
	KeyFile  string   `yaml:"keyFile,omitempty" json:"keyFile,omitempty"`
	CertPEM  string   `yaml:"certPem,omitempty" json:"certPem,omitempty"`
	KeyPEM   string   `yaml:"keyPem,omitempty" json:"keyPem,omitempty"`
	Default  bool     `yaml:"default,omitempty" json:"default,omitempty"`
}

// RedisConfig configures the shared Redis client used by the distributed
// rate limiter and the Redis configuration provider.
type RedisConfig struct {
	Address      string   `yaml:"address" json:"address"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix    string   `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	DialTimeout  Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
	ReadTimeout  Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	PoolSize     int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	PollInterval Duration `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"`
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		KeyPrefix:    "vortex",
		DialTimeout:  Duration(5 * time.Second),
		ReadTimeout:  Duration(3 * time.Second),
		WriteTimeout: Duration(3 * time.Second),
		PoolSize:     10,
		PollInterval: Duration(10 * time.Second),
	}
}
