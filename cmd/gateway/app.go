package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/gateway"
	"github.com/vortexgw/vortex/internal/observability"
	"github.com/vortexgw/vortex/internal/plugin"
	"github.com/vortexgw/vortex/internal/ratelimit/store"
)

const redisConnectTimeout = 10 * time.Second

// application wires the gateway together with its configuration source
// and supporting servers.
type application struct {
	gateway       *gateway.Gateway
	watcher       *config.Watcher
	provider      *config.RedisProvider
	redisStore    *store.RedisStore
	metricsServer *http.Server
	logger        observability.Logger
}

// buildApplication loads the initial configuration and assembles the
// gateway with its filter dependencies.
func buildApplication(flags cliFlags, logger observability.Logger) (*application, error) {
	snap, err := loadInitialSnapshot(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger.Info("starting vortex",
		observability.String("version", version),
		observability.String("config_path", flags.configPath),
		observability.String("config_source", flags.configSource),
		observability.Int("routes", len(snap.Routes)),
	)

	app := &application{logger: logger}

	deps := plugin.Deps{Logger: logger}
	if snap.Redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
		defer cancel()

		client, err := store.NewRedisClient(ctx, snap.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		app.redisStore = store.NewRedisStore(client, snap.Redis.KeyPrefix,
			store.WithRedisStoreLogger(logger))
		deps.RedisStore = app.redisStore

		logger.Info("redis connected", observability.String("address", snap.Redis.Address))
	}

	gw, err := gateway.New(snap,
		gateway.WithLogger(logger),
		gateway.WithPluginDeps(deps),
	)
	if err != nil {
		return nil, err
	}
	app.gateway = gw

	return app, nil
}

// startConfigSource begins delivering configuration changes to the
// gateway, either from the file watcher or from the Redis provider.
func (a *application) startConfigSource(ctx context.Context, flags cliFlags) error {
	apply := func(snap *config.Snapshot) {
		if err := a.gateway.Apply(snap); err != nil {
			a.logger.Error("rejected configuration update", observability.Error(err))
		}
	}
	reportError := func(err error) {
		a.logger.Error("configuration source error", observability.Error(err))
	}

	switch flags.configSource {
	case "file":
		watcher, err := config.NewWatcher(flags.configPath, apply,
			config.WithWatcherLogger(a.logger),
			config.WithErrorCallback(reportError),
		)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		a.watcher = watcher

	case "redis":
		if a.redisStore == nil {
			return fmt.Errorf("config source %q requires a redis section in the bootstrap file", flags.configSource)
		}
		snap := a.gateway.Snapshot()
		a.provider = config.NewRedisProvider(a.redisStore.Client(), snap.Redis, apply,
			config.WithProviderLogger(a.logger),
			config.WithProviderErrorCallback(reportError),
		)
		if err := a.provider.Start(ctx); err != nil {
			return fmt.Errorf("start redis config provider: %w", err)
		}

	default:
		return fmt.Errorf("unknown config source %q", flags.configSource)
	}

	return nil
}

// reload rebuilds the snapshot from the configuration file. Used for
// SIGHUP; the Redis source reloads through polling instead.
func (a *application) reload(flags cliFlags) {
	if flags.configSource != "file" {
		a.logger.Info("manual reload ignored for non-file config source")
		return
	}

	snap, err := loadInitialSnapshot(flags.configPath)
	if err != nil {
		a.logger.Error("manual reload failed, keeping previous snapshot", observability.Error(err))
		return
	}
	if err := a.gateway.Apply(snap); err != nil {
		a.logger.Error("manual reload rejected", observability.Error(err))
	}
}

// startMetricsServer exposes Prometheus metrics and health probes on a
// separate listener.
func (a *application) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if a.gateway.State() == gateway.StateRunning {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	a.logger.Info("starting metrics server", observability.String("address", addr))
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", observability.Error(err))
		}
	}()
}

// shutdown stops the configuration source, the listeners, and the Redis
// connection in dependency order.
func (a *application) shutdown(ctx context.Context) {
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	if a.provider != nil {
		a.provider.Stop()
	}

	if a.metricsServer != nil {
		a.logger.Info("stopping metrics server")
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if err := a.gateway.Stop(ctx); err != nil {
		a.logger.Error("failed to stop gateway gracefully", observability.Error(err))
	}

	if a.redisStore != nil {
		if err := a.redisStore.Close(); err != nil {
			a.logger.Error("failed to close redis connection", observability.Error(err))
		}
	}
}
