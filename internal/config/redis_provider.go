package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/vortexgw/vortex/internal/observability"
)

// Redis key layout of the provider, relative to the configured prefix:
//
//	<prefix>:conf:version   string, bumped by whoever publishes config
//	<prefix>:conf:gateway   YAML document with listener/log/redis sections
//	<prefix>:conf:routes    list of YAML route documents
const (
	redisVersionKey = "%s:conf:version"
	redisGatewayKey = "%s:conf:gateway"
	redisRoutesKey  = "%s:conf:routes"
)

// RedisProvider polls Redis for configuration changes and rebuilds the
// snapshot whenever the published version moves. A fetch or build failure
// leaves the previous snapshot serving.
type RedisProvider struct {
	client        redis.UniversalClient
	prefix        string
	interval      time.Duration
	callback      SnapshotCallback
	errorCallback ErrorCallback
	logger        observability.Logger

	mu          sync.RWMutex
	lastVersion string
	stopCh      chan struct{}
	stoppedCh   chan struct{}
	running     bool
}

// RedisProviderOption is a functional option for the provider.
type RedisProviderOption func(*RedisProvider)

// WithProviderLogger sets the logger for the provider.
func WithProviderLogger(logger observability.Logger) RedisProviderOption {
	return func(p *RedisProvider) {
		p.logger = logger
	}
}

// WithProviderErrorCallback sets the error callback for the provider.
func WithProviderErrorCallback(callback ErrorCallback) RedisProviderOption {
	return func(p *RedisProvider) {
		p.errorCallback = callback
	}
}

// NewRedisProvider creates a provider polling the given client.
func NewRedisProvider(client redis.UniversalClient, cfg *RedisConfig, callback SnapshotCallback, opts ...RedisProviderOption) *RedisProvider {
	interval := cfg.PollInterval.Duration()
	if interval <= 0 {
		interval = 10 * time.Second
	}

	p := &RedisProvider{
		client:    client,
		prefix:    cfg.KeyPrefix,
		interval:  interval,
		callback:  callback,
		logger:    observability.NopLogger(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start fetches the initial configuration and begins polling. The initial
// snapshot is delivered to the callback before Start returns.
func (p *RedisProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	if err := p.poll(ctx, true); err != nil {
		return err
	}

	go p.loop(ctx)

	return nil
}

// Stop stops polling.
func (p *RedisProvider) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.stoppedCh
}

func (p *RedisProvider) loop(ctx context.Context) {
	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.poll(ctx, false); err != nil {
				p.logger.Error("redis config poll failed, keeping previous snapshot",
					observability.Error(err),
				)
				if p.errorCallback != nil {
					p.errorCallback(err)
				}
			}
		}
	}
}

// poll checks the published version and rebuilds the snapshot if it moved.
// With force set, the configuration is fetched regardless of the version.
func (p *RedisProvider) poll(ctx context.Context, force bool) error {
	version, err := p.client.Get(ctx, fmt.Sprintf(redisVersionKey, p.prefix)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("no configuration published under prefix %q", p.prefix)
		}
		return fmt.Errorf("fetch config version: %w", err)
	}

	p.mu.RLock()
	unchanged := version == p.lastVersion
	p.mu.RUnlock()
	if unchanged && !force {
		return nil
	}

	cfg, err := p.fetch(ctx)
	if err != nil {
		return err
	}

	snapshot, err := BuildSnapshot(cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.lastVersion = version
	p.mu.Unlock()

	p.logger.Info("configuration loaded from redis",
		observability.String("config_version", version),
		observability.Int64("snapshot_version", snapshot.Version),
		observability.Int("routes", len(snapshot.Routes)),
	)

	if p.callback != nil {
		p.callback(snapshot)
	}

	return nil
}

func (p *RedisProvider) fetch(ctx context.Context) (*GatewayConfig, error) {
	gatewayDoc, err := p.client.Get(ctx, fmt.Sprintf(redisGatewayKey, p.prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch gateway config: %w", err)
	}

	cfg := DefaultGatewayConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(gatewayDoc)), cfg); err != nil {
		return nil, fmt.Errorf("parse gateway config: %w", err)
	}

	routeDocs, err := p.client.LRange(ctx, fmt.Sprintf(redisRoutesKey, p.prefix), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch routes: %w", err)
	}

	cfg.Routes = cfg.Routes[:0]
	for i, doc := range routeDocs {
		var route Route
		if err := yaml.Unmarshal([]byte(substituteEnvVars(doc)), &route); err != nil {
			return nil, fmt.Errorf("parse route %d: %w", i, err)
		}
		cfg.Routes = append(cfg.Routes, route)
	}

	return cfg, nil
}
