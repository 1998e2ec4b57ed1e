package docker

import (
	"context"
	"fmt"
	"strings"
)

// IsContainerRunning reports whether a container with the given name is running.
// Lookup failures count as not running: the caller's remedy is the same.
func (c *Client) IsContainerRunning(ctx context.Context, name string) bool {
	stdout, _, err := c.run(ctx, inspectTimeout, "", nil,
		"inspect", "-f", "{{.State.Running}}", name)
	if err == nil && strings.TrimSpace(stdout) == "true" {
		return true
	}

	// Compose may have prefixed the name; match by filter as a fallback.
	stdout, _, err = c.run(ctx, inspectTimeout, "", nil,
		"ps", "--filter", "name="+name, "--format", "{{.State}}")
	if err != nil {
		return false
	}

	for _, state := range strings.Split(stdout, "\n") {
		if strings.EqualFold(strings.TrimSpace(state), "running") {
			return true
		}
	}

	return false
}

// ContainerExists reports whether a container with the given name exists,
// running or stopped.
func (c *Client) ContainerExists(ctx context.Context, name string) bool {
	_, _, err := c.run(ctx, inspectTimeout, "", nil, "inspect", name)

	return err == nil
}

// StartContainer starts an existing, stopped container.
func (c *Client) StartContainer(ctx context.Context, name string) error {
	_, stderr, err := c.run(ctx, startTimeout, "", nil, "start", name)
	if err != nil {
		return fmt.Errorf("start %s: %w: %s", name, err, firstLine(stderr))
	}

	return nil
}
