package docker

import (
	"context"
	"fmt"

	"github.com/oshokin/kiosk-agent/internal/logger"
)

// ComposeUp starts the named services, or the whole stack when none are given.
// Already-running services are left untouched.
func (c *Client) ComposeUp(ctx context.Context, services ...string) error {
	args := append([]string{"compose", "-f", c.composeFile, "up", "-d"}, services...)

	logger.InfoKV(ctx, "Running compose up", "services", services)

	_, stderr, err := c.run(ctx, composeUpTimeout, c.composeDir, nil, args...)
	if err != nil {
		return fmt.Errorf("compose up: %w: %s", err, firstLine(stderr))
	}

	return nil
}

// ComposePull pulls images for the named services, or for the whole stack.
func (c *Client) ComposePull(ctx context.Context, services ...string) error {
	args := append([]string{"compose", "-f", c.composeFile, "pull"}, services...)

	logger.InfoKV(ctx, "Running compose pull", "services", services)

	_, stderr, err := c.run(ctx, composePullTimeout, c.composeDir, nil, args...)
	if err != nil {
		return fmt.Errorf("compose pull: %w: %s", err, firstLine(stderr))
	}

	return nil
}

// RestartService pulls the service image and force-recreates its container.
// Not safe for the agent's own service: use RestartServiceDetached for that.
func (c *Client) RestartService(ctx context.Context, service string) error {
	if err := c.ComposePull(ctx, service); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Recreating service", "service", service)

	_, stderr, err := c.run(ctx, composeUpTimeout, c.composeDir, nil,
		"compose", "-f", c.composeFile, "up", "-d", "--force-recreate", service)
	if err != nil {
		return fmt.Errorf("recreate %s: %w: %s", service, err, firstLine(stderr))
	}

	return nil
}
