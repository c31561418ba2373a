package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vortexgw/vortex/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// run starts the listeners and the configuration source, then blocks
// until a shutdown signal arrives. SIGHUP triggers a manual reload.
func run(app *application, flags cliFlags, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.gateway.Start(ctx)
	}()

	if err := app.startConfigSource(ctx, flags); err != nil {
		fatalWithSync(logger, "failed to start configuration source", observability.Error(err))
		return
	}

	if flags.metricsAddr != "" {
		app.startMetricsServer(flags.metricsAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading configuration")
				app.reload(flags)
				continue
			}

			logger.Info("received shutdown signal", observability.String("signal", sig.String()))
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			app.shutdown(shutdownCtx)
			cancelShutdown()

			if err := <-serveErr; err != nil {
				logger.Error("listener exited with error", observability.Error(err))
			}
			logger.Info("gateway stopped")
			return

		case err := <-serveErr:
			fatalWithSync(logger, "listener failed", observability.Error(err))
			return
		}
	}
}
