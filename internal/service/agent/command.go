package agent

import (
	"context"
	"fmt"

	"github.com/oshokin/kiosk-agent/internal/backend"
	"github.com/oshokin/kiosk-agent/internal/config"
	"github.com/oshokin/kiosk-agent/internal/docker"
	"github.com/oshokin/kiosk-agent/internal/logger"
	"github.com/oshokin/kiosk-agent/internal/registry"
	repository "github.com/oshokin/kiosk-agent/internal/repository/versions"
)

// Options controls the agent process and configuration.
type Options struct {
	// EnvFile optionally names a dotenv file to load before reading the environment.
	EnvFile string
	// ComposeFile overrides the compose file path from the environment.
	ComposeFile string
	// LogLevel overrides the log level from the environment.
	LogLevel string
	// Debug shortens the update and sync cadences for development.
	Debug bool
}

// Run wires configuration, logging, the instance lock and the orchestrator,
// then blocks until the context is canceled.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "kiosk-agent")

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	} else {
		logger.WarnKV(ctx, "Unknown log level, keeping default", "log_level", cfg.LogLevel)
	}

	// Refuse to run next to another agent managing the same host.
	lock, err := acquireLock(ctx, cfg.LockFilePath)
	if err != nil {
		return err
	}

	defer lock.Release(ctx)

	// Both workload images live on the same registry.
	host, err := registryHost(cfg.DeviceImage)
	if err != nil {
		return err
	}

	backendClient, err := backend.NewClient(cfg.BackendURL, cfg.DeviceID, cfg.DeviceToken,
		backend.WithCallTimeout(cfg.BackendTimeout))
	if err != nil {
		return fmt.Errorf("create backend client: %w", err)
	}

	registryClient := registry.NewClient(host, cfg.RegistryUser)

	// The engine probe makes a missing docker installation a startup error
	// instead of a failure in the middle of the first cycle.
	runtime, err := docker.New(ctx, cfg.ComposeFilePath, docker.WithSocketPath(cfg.DockerSocket))
	if err != nil {
		return fmt.Errorf("connect to container engine: %w", err)
	}

	o, err := newOrchestrator(ctx, cfg, backendClient, registryClient, runtime,
		repository.NewFileRepository(cfg.VersionFilePath))
	if err != nil {
		return fmt.Errorf("initialise orchestrator: %w", err)
	}

	defer o.close()

	return o.run(ctx)
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig(opts *Options) (*config.Config, error) {
	var envFiles []string
	if opts != nil && opts.EnvFile != "" {
		envFiles = append(envFiles, opts.EnvFile)
	}

	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, opts)

	return cfg, nil
}

// applyOverrides lets command line flags win over environment settings.
func applyOverrides(cfg *config.Config, opts *Options) {
	if opts == nil {
		return
	}

	if opts.ComposeFile != "" {
		cfg.ComposeFilePath = opts.ComposeFile
	}

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	if opts.Debug && !cfg.Debug {
		cfg.Debug = true
		cfg.UpdateCheckInterval = config.DebugUpdateCheckInterval
		cfg.ConfigSyncInterval = config.DebugConfigSyncInterval

		if opts.LogLevel == "" {
			cfg.LogLevel = "debug"
		}
	}
}
