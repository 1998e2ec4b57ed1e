package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oshokin/kiosk-agent/internal/config"
	domain "github.com/oshokin/kiosk-agent/internal/domain/update"
	"github.com/oshokin/kiosk-agent/internal/logger"
	"github.com/oshokin/kiosk-agent/internal/version"
)

// API endpoints, relative to the backend base URL.
const (
	registryTokenPath = "/api/v1/device/registry-token/"
	configPath        = "/api/v1/device/config/"
	versionPath       = "/api/v1/device/version/"
)

var (
	// ErrUnauthorized is returned when the backend rejects the device credentials.
	ErrUnauthorized = errors.New("device authentication failed")

	// errBaseURLRequired is returned when a required base URL value is missing.
	errBaseURLRequired = errors.New("backend base URL must be provided")
)

// Client wraps the fleet backend HTTP API with convenience helpers.
type Client struct {
	// baseURL is the backend root without a trailing slash.
	baseURL string
	// deviceID is the Basic auth user.
	deviceID string
	// deviceToken is the Basic auth password.
	deviceToken string
	// httpClient performs the actual requests.
	httpClient *http.Client
	// callTimeout is the default timeout for individual API calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for backend calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a backend client for the given device identity.
func NewClient(baseURL, deviceID, deviceToken string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		deviceID:    deviceID,
		deviceToken: deviceToken,
		httpClient:  &http.Client{},
		callTimeout: config.DefaultBackendTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// RegistryToken fetches the registry PAT issued to this device.
func (c *Client) RegistryToken(ctx context.Context) (string, error) {
	var payload struct {
		Token string `json:"token"`
	}

	if err := c.getJSON(ctx, registryTokenPath, &payload); err != nil {
		return "", fmt.Errorf("registry token: %w", err)
	}

	if payload.Token == "" {
		return "", errors.New("registry token: backend returned an empty token")
	}

	return payload.Token, nil
}

// windowWire is the backend JSON shape of a maintenance window.
type windowWire struct {
	// Name labels the window.
	Name string `json:"name"`
	// StartTime is the inclusive opening time, "HH:MM".
	StartTime string `json:"start_time"`
	// EndTime is the inclusive closing time, "HH:MM".
	EndTime string `json:"end_time"`
}

// UpdateWindows fetches the configured maintenance windows.
// A reachable backend with no windows configured returns an empty slice.
func (c *Client) UpdateWindows(ctx context.Context) ([]domain.Window, error) {
	var payload struct {
		UpdateWindows []windowWire `json:"update_windows"`
	}

	if err := c.getJSON(ctx, configPath, &payload); err != nil {
		return nil, fmt.Errorf("update windows: %w", err)
	}

	windows := make([]domain.Window, 0, len(payload.UpdateWindows))
	for _, w := range payload.UpdateWindows {
		windows = append(windows, domain.Window{
			Name:      w.Name,
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
		})
	}

	return windows, nil
}

// IsUpdateAllowed reports whether the current wall-clock time falls inside a
// maintenance window. When the backend cannot be reached the agent must not
// stay stale forever, so the answer degrades to true.
func (c *Client) IsUpdateAllowed(ctx context.Context) bool {
	windows, err := c.UpdateWindows(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Could not fetch update windows, allowing updates", "error", err)
		return true
	}

	return domain.Allowed(windows, time.Now())
}

// VersionReport carries the applied digests reported to the backend.
// Empty fields are omitted so a device-only update does not clear the agent slot.
type VersionReport struct {
	// Device is the applied device workload digest.
	Device string `json:"device_version,omitempty"`
	// Agent is the applied agent digest.
	Agent string `json:"agent_version,omitempty"`
}

// ReportVersions posts the applied digests to the backend.
func (c *Client) ReportVersions(ctx context.Context, report VersionReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("report versions: encode: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+versionPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("report versions: build request: %w", err)
	}

	c.decorate(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("report versions: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("report versions: %w", ErrUnauthorized)
	default:
		return fmt.Errorf("report versions: backend returned status %d", resp.StatusCode)
	}
}

// Close releases idle connections held by the HTTP client.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}

	c.httpClient.CloseIdleConnections()
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// decorate applies the device identity and client headers to a request.
func (c *Client) decorate(req *http.Request) {
	req.SetBasicAuth(c.deviceID, c.deviceToken)
	req.Header.Set("User-Agent", version.UserAgent())
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
