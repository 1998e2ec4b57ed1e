package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/kiosk-agent/internal/logger"
)

// dockerBinary is the CLI entry point, resolved through PATH.
const dockerBinary = "docker"

// Per-operation timeouts. Queries are quick, pulls can drag over slow links.
const (
	versionTimeout     = 10 * time.Second
	inspectTimeout     = 10 * time.Second
	loginTimeout       = 30 * time.Second
	digestTimeout      = 30 * time.Second
	startTimeout       = 60 * time.Second
	composeUpTimeout   = 5 * time.Minute
	composePullTimeout = 10 * time.Minute
	pullTimeout        = 10 * time.Minute
	helperPullTimeout  = 5 * time.Minute
	detachTimeout      = 30 * time.Second
)

var (
	// ErrUnavailable is returned when the Docker daemon cannot be reached.
	ErrUnavailable = errors.New("docker is not available")
	// ErrAuthRequired is returned when the registry rejects an operation
	// for lack of valid credentials.
	ErrAuthRequired = errors.New("registry authentication required")
)

// Client executes runtime operations against the local Docker daemon.
type Client struct {
	// composeFile is the absolute path of the device compose file.
	composeFile string
	// composeDir is the directory compose commands run in.
	composeDir string
	// socketPath is the Docker daemon unix socket for detached operations.
	socketPath string
}

// Option configures client behaviour.
type Option func(*Client)

// WithSocketPath overrides the Docker daemon unix socket location.
func WithSocketPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.socketPath = path
		}
	}
}

// defaultSocketPath is where the daemon listens on a stock install.
const defaultSocketPath = "/var/run/docker.sock"

// New creates a runtime client and verifies the daemon is reachable.
// An unreachable daemon is a hard error: without it the agent can do nothing.
func New(ctx context.Context, composeFile string, opts ...Option) (*Client, error) {
	composeFile = filepath.Clean(composeFile)

	client := &Client{
		composeFile: composeFile,
		composeDir:  filepath.Dir(composeFile),
		socketPath:  defaultSocketPath,
	}

	for _, opt := range opts {
		opt(client)
	}

	serverVersion, err := client.ping(ctx)
	if err != nil {
		return nil, err
	}

	logger.DebugKV(ctx, "Docker daemon reachable", "server_version", serverVersion)

	return client, nil
}

// ComposeFile returns the compose file path the client operates on.
func (c *Client) ComposeFile() string {
	return c.composeFile
}

// ping asks the daemon for its version to prove the runtime is usable.
func (c *Client) ping(ctx context.Context) (string, error) {
	stdout, stderr, err := c.run(ctx, versionTimeout, "", nil,
		"version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("%w: %w: %s", ErrUnavailable, err, firstLine(stderr))
	}

	return strings.TrimSpace(stdout), nil
}

// run executes a docker CLI command with a timeout, capturing both streams.
// dir sets the working directory and stdin feeds the process when non-nil.
func (c *Client) run(
	ctx context.Context,
	timeout time.Duration,
	dir string,
	stdin []byte,
	args ...string,
) (string, string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, dockerBinary, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

// firstLine trims output to its first line for compact error messages.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}

	return s
}
