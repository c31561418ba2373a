// Package main is the entry point for the vortex gateway.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath   string
	configSource string
	logLevel     string
	logFormat    string
	metricsAddr  string
	showVersion  bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	app, err := buildApplication(flags, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize gateway", observability.Error(err))
		return
	}

	run(app, flags, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	configSource := flag.String("config-source", getEnvOrDefault("GATEWAY_CONFIG_SOURCE", "file"),
		"Configuration source (file, redis)")
	logLevel := flag.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	metricsAddr := flag.String("metrics-addr", getEnvOrDefault("GATEWAY_METRICS_ADDR", ":9090"),
		"Metrics listen address (empty disables the metrics server)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:   *configPath,
		configSource: *configSource,
		logLevel:     *logLevel,
		logFormat:    *logFormat,
		metricsAddr:  *metricsAddr,
		showVersion:  *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("vortex version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadInitialSnapshot loads and validates the file configuration.
func loadInitialSnapshot(path string) (*config.Snapshot, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return config.BuildSnapshot(cfg)
}

// getEnvOrDefault returns an environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// fatalWithSync logs a fatal error after flushing buffered entries.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	os.Exit(1)
}
