package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/distribution/reference"
	"github.com/joho/godotenv"
)

// Config holds the agent settings read from the environment.
type Config struct {
	// BackendURL is the base URL of the fleet backend, e.g. "https://fleet.example.com".
	BackendURL string
	// DeviceID identifies this device to the backend (Basic auth user).
	DeviceID string
	// DeviceToken authenticates this device to the backend (Basic auth password).
	DeviceToken string
	// DeviceImage is the image reference for the device workload.
	DeviceImage string
	// AgentImage is the image reference the agent itself runs from.
	AgentImage string
	// RegistryUser is the username presented when exchanging the registry PAT for a bearer token.
	RegistryUser string
	// ComposeFilePath is the compose file describing the device stack.
	ComposeFilePath string
	// VersionFilePath is the JSON file recording last successfully applied digests.
	VersionFilePath string
	// LockFilePath is the single-instance lock file.
	LockFilePath string
	// DockerSocket is the Docker daemon unix socket used for detached operations.
	DockerSocket string
	// LogLevel is the minimum log level name (debug, info, warn, error).
	LogLevel string
	// Debug shortens check intervals and raises log verbosity for development.
	Debug bool
	// HealthCheckInterval is the cadence of the container liveness loop.
	HealthCheckInterval time.Duration
	// UpdateCheckInterval is the cadence of registry digest comparisons.
	UpdateCheckInterval time.Duration
	// ConfigSyncInterval is the cadence of the reconciliation cycle.
	ConfigSyncInterval time.Duration
	// BackendTimeout bounds individual backend HTTP calls.
	BackendTimeout time.Duration
}

const (
	// DefaultDeviceImage is the image reference for the device workload.
	DefaultDeviceImage = "ghcr.io/oshokin/kiosk-device"
	// DefaultAgentImage is the image reference for the agent itself.
	DefaultAgentImage = "ghcr.io/oshokin/kiosk-agent"
	// DefaultRegistryUser is the username paired with the registry PAT.
	DefaultRegistryUser = "oshokin"
	// DefaultComposeFilePath is where the device compose stack lives.
	DefaultComposeFilePath = "/etc/kiosk/docker-compose.yml"
	// DefaultVersionFilePath is where applied digests are recorded.
	DefaultVersionFilePath = "/etc/kiosk-agent/versions.json"
	// DefaultLockFilename is the single-instance lock filename, created under the temp dir.
	DefaultLockFilename = "kiosk-agent.lock"
	// DefaultDockerSocket is the Docker daemon control socket.
	DefaultDockerSocket = "/var/run/docker.sock"

	// DefaultHealthCheckInterval is the container liveness cadence.
	DefaultHealthCheckInterval = 5 * time.Second
	// DefaultUpdateCheckInterval is the registry polling cadence.
	DefaultUpdateCheckInterval = 5 * time.Minute
	// DefaultConfigSyncInterval is the reconciliation cadence.
	DefaultConfigSyncInterval = 30 * time.Minute
	// DefaultBackendTimeout bounds a single backend HTTP call.
	DefaultBackendTimeout = 30 * time.Second

	// DebugUpdateCheckInterval replaces the update cadence in debug mode.
	DebugUpdateCheckInterval = 30 * time.Second
	// DebugConfigSyncInterval replaces the reconciliation cadence in debug mode.
	DebugConfigSyncInterval = 2 * time.Minute
)

var (
	// errBackendURLRequired is returned when BACKEND_URL is missing.
	errBackendURLRequired = errors.New("BACKEND_URL must be provided")
	// errDeviceIDRequired is returned when DEVICE_ID is missing.
	errDeviceIDRequired = errors.New("DEVICE_ID must be provided")
	// errDeviceTokenRequired is returned when DEVICE_TOKEN is missing.
	errDeviceTokenRequired = errors.New("DEVICE_TOKEN must be provided")
)

// Load reads configuration from the environment and validates essential fields.
// Explicitly named env files must exist; without arguments a .env file next to
// the binary is honored when present.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		// Missing .env is the normal production case.
		_ = godotenv.Load()
	}

	debug := getEnvBool("DEBUG", false)

	cfg := &Config{
		BackendURL:          os.Getenv("BACKEND_URL"),
		DeviceID:            os.Getenv("DEVICE_ID"),
		DeviceToken:         os.Getenv("DEVICE_TOKEN"),
		DeviceImage:         getEnv("DEVICE_IMAGE", DefaultDeviceImage),
		AgentImage:          getEnv("AGENT_IMAGE", DefaultAgentImage),
		RegistryUser:        getEnv("REGISTRY_USER", DefaultRegistryUser),
		ComposeFilePath:     getEnv("COMPOSE_FILE_PATH", DefaultComposeFilePath),
		VersionFilePath:     getEnv("VERSION_FILE_PATH", DefaultVersionFilePath),
		LockFilePath:        getEnv("LOCK_FILE_PATH", filepath.Join(os.TempDir(), DefaultLockFilename)),
		DockerSocket:        getEnv("DOCKER_SOCKET", DefaultDockerSocket),
		LogLevel:            getEnv("LOG_LEVEL", defaultLogLevel(debug)),
		Debug:               debug,
		HealthCheckInterval: getEnvSeconds("HEALTH_CHECK_INTERVAL_SECONDS", DefaultHealthCheckInterval),
		UpdateCheckInterval: getEnvSeconds("UPDATE_CHECK_INTERVAL_SECONDS", defaultUpdateCheckInterval(debug)),
		ConfigSyncInterval:  getEnvSeconds("CONFIG_SYNC_INTERVAL_SECONDS", defaultConfigSyncInterval(debug)),
		BackendTimeout:      getEnvSeconds("BACKEND_TIMEOUT_SECONDS", DefaultBackendTimeout),
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the provided settings for required fields and formatting.
func Validate(cfg *Config) error {
	if cfg.BackendURL == "" {
		return errBackendURLRequired
	}

	if _, err := url.ParseRequestURI(cfg.BackendURL); err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}

	if cfg.DeviceID == "" {
		return errDeviceIDRequired
	}

	if cfg.DeviceToken == "" {
		return errDeviceTokenRequired
	}

	if _, err := reference.ParseNormalizedNamed(cfg.DeviceImage); err != nil {
		return fmt.Errorf("invalid device image %q: %w", cfg.DeviceImage, err)
	}

	if _, err := reference.ParseNormalizedNamed(cfg.AgentImage); err != nil {
		return fmt.Errorf("invalid agent image %q: %w", cfg.AgentImage, err)
	}

	// Zero or negative intervals would spin the scheduler loop.
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}

	if cfg.UpdateCheckInterval <= 0 {
		cfg.UpdateCheckInterval = defaultUpdateCheckInterval(cfg.Debug)
	}

	if cfg.ConfigSyncInterval <= 0 {
		cfg.ConfigSyncInterval = defaultConfigSyncInterval(cfg.Debug)
	}

	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = DefaultBackendTimeout
	}

	return nil
}

// defaultLogLevel picks the log level implied by the debug flag.
func defaultLogLevel(debug bool) string {
	if debug {
		return "debug"
	}

	return "info"
}

// defaultUpdateCheckInterval picks the registry polling cadence implied by the debug flag.
func defaultUpdateCheckInterval(debug bool) time.Duration {
	if debug {
		return DebugUpdateCheckInterval
	}

	return DefaultUpdateCheckInterval
}

// defaultConfigSyncInterval picks the reconciliation cadence implied by the debug flag.
func defaultConfigSyncInterval(debug bool) time.Duration {
	if debug {
		return DebugConfigSyncInterval
	}

	return DefaultConfigSyncInterval
}

// getEnv returns the value of the environment variable or the default when unset or empty.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// getEnvBool parses the environment variable as a boolean, falling back on parse failure.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

// getEnvSeconds parses the environment variable as a whole number of seconds.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return defaultValue
	}

	return time.Duration(seconds) * time.Second
}
