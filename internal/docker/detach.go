package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/oshokin/kiosk-agent/internal/logger"
)

// helperImage runs the detached compose commands. It ships the docker CLI
// with the compose plugin and nothing else.
const helperImage = "docker:cli"

// Helper container names. Fixed names let a retry replace a leftover helper.
const (
	starterContainerName = "kiosk-starter"
	updaterContainerName = "kiosk-agent-updater"
)

// errNoServicesSpecified is returned when a detached compose up has nothing to start.
var errNoServicesSpecified = errors.New("no services specified")

// ComposeUpDetached brings services up through a helper container so the
// operation survives the agent's own container being recreated.
func (c *Client) ComposeUpDetached(ctx context.Context, services []string, forceRecreate bool) error {
	if len(services) == 0 {
		return errNoServicesSpecified
	}

	command := "up -d"
	if forceRecreate {
		command += " --force-recreate"
	}

	command += " " + strings.Join(services, " ")

	logger.InfoKV(ctx, "Starting services via helper container", "command", command)

	return c.runComposeDetached(ctx, command, starterContainerName)
}

// RestartServiceDetached force-recreates one service through a helper
// container. This is the only safe way to recreate the agent itself.
func (c *Client) RestartServiceDetached(ctx context.Context, service string) error {
	logger.InfoKV(ctx, "Recreating service via helper container", "service", service)

	return c.runComposeDetached(ctx, "up -d --force-recreate "+service, updaterContainerName)
}

// runComposeDetached creates and starts a helper container that runs the
// compose command. The Engine API call returns as soon as the helper is
// started; the helper keeps running independently of the agent.
func (c *Client) runComposeDetached(ctx context.Context, command, helperName string) error {
	if err := c.ensureHelperImage(ctx); err != nil {
		return err
	}

	apiCtx, cancel := context.WithTimeout(ctx, detachTimeout)
	defer cancel()

	api := c.apiClient()

	// A leftover helper with the same name would block creation.
	c.removeHelper(apiCtx, api, helperName)

	id, err := c.createHelper(apiCtx, api, helperName, command)
	if err != nil {
		return err
	}

	if err = c.startHelper(apiCtx, api, helperName); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Helper container started", "name", helperName, "id", id)

	return nil
}

// ensureHelperImage pulls the helper image when it is missing locally,
// so the detached spawn cannot stall on a download mid-update.
func (c *Client) ensureHelperImage(ctx context.Context) error {
	stdout, _, err := c.run(ctx, inspectTimeout, "", nil, "images", "-q", helperImage)
	if err == nil && strings.TrimSpace(stdout) != "" {
		return nil
	}

	logger.InfoKV(ctx, "Pulling helper image", "image", helperImage)

	_, stderr, err := c.run(ctx, helperPullTimeout, "", nil, "pull", helperImage)
	if err != nil {
		return fmt.Errorf("pull helper image: %w: %s", err, firstLine(stderr))
	}

	return nil
}

// apiClient returns an HTTP client that dials the Docker unix socket.
// The URL host is a placeholder; the daemon ignores it.
func (c *Client) apiClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", c.socketPath)
			},
		},
	}
}

// apiURL builds an Engine API URL for the unix-socket client.
func apiURL(pathFormat string, args ...any) string {
	return "http://docker" + fmt.Sprintf(pathFormat, args...)
}

// removeHelper force-removes a previous helper container, ignoring the outcome.
func (c *Client) removeHelper(ctx context.Context, api *http.Client, name string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		apiURL("/containers/%s?force=true", url.PathEscape(name)), nil)
	if err != nil {
		return
	}

	resp, err := api.Do(req)
	if err != nil {
		return
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// helperCreateRequest is the Engine API body for creating the helper container.
type helperCreateRequest struct {
	// Image is the helper image reference.
	Image string `json:"Image"`
	// Cmd is the shell invocation running the compose command.
	Cmd []string `json:"Cmd"`
	// WorkingDir is the compose project directory inside the helper.
	WorkingDir string `json:"WorkingDir"`
	// HostConfig carries the socket and compose-dir mounts.
	HostConfig helperHostConfig `json:"HostConfig"`
}

// helperHostConfig is the host-level part of the helper container config.
type helperHostConfig struct {
	// AutoRemove deletes the helper once its command exits.
	AutoRemove bool `json:"AutoRemove"`
	// Binds mounts the Docker socket and the compose directory (read-only).
	Binds []string `json:"Binds"`
}

// createHelper creates the helper container and returns its ID.
func (c *Client) createHelper(ctx context.Context, api *http.Client, name, command string) (string, error) {
	create := helperCreateRequest{
		Image:      helperImage,
		Cmd:        []string{"sh", "-c", fmt.Sprintf("docker compose -f %s %s", filepath.Base(c.composeFile), command)},
		WorkingDir: c.composeDir,
		HostConfig: helperHostConfig{
			AutoRemove: true,
			Binds: []string{
				c.socketPath + ":" + defaultSocketPath,
				c.composeDir + ":" + c.composeDir + ":ro",
			},
		},
	}

	body, err := json.Marshal(create)
	if err != nil {
		return "", fmt.Errorf("encode helper config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		apiURL("/containers/create?name=%s", url.QueryEscape(name)), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := api.Do(req)
	if err != nil {
		return "", fmt.Errorf("create helper container: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create helper container: %s", apiError(resp))
	}

	var created struct {
		ID string `json:"Id"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}

	return shortID(created.ID), nil
}

// startHelper starts the created helper container.
func (c *Client) startHelper(ctx context.Context, api *http.Client, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		apiURL("/containers/%s/start", url.PathEscape(name)), nil)
	if err != nil {
		return fmt.Errorf("build start request: %w", err)
	}

	resp, err := api.Do(req)
	if err != nil {
		return fmt.Errorf("start helper container: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// 304 means a helper with this name is already running, which is fine.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotModified {
		return fmt.Errorf("start helper container: %s", apiError(resp))
	}

	return nil
}

// apiError extracts the daemon's error message from an Engine API response.
func apiError(resp *http.Response) string {
	var payload struct {
		Message string `json:"message"`
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil && payload.Message != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, payload.Message)
	}

	return fmt.Sprintf("status %d", resp.StatusCode)
}

// shortID trims a container ID to the familiar 12-character form.
func shortID(id string) string {
	const short = 12
	if len(id) > short {
		return id[:short]
	}

	return id
}
