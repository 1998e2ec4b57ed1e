package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/kiosk-agent/internal/docker"
	"github.com/oshokin/kiosk-agent/internal/logger"
)

// ensureAuth fetches a registry token from the backend, hands it to the
// registry client and logs the container runtime in. Credentials are set up
// at most once per process; failed attempts are retried on the next call.
func (o *orchestrator) ensureAuth(ctx context.Context) error {
	if o.auth.LoggedIn() {
		return nil
	}

	token, err := o.backend.RegistryToken(ctx)
	if err != nil {
		o.auth.MarkFailed(err.Error())
		return fmt.Errorf("fetch registry token: %w", err)
	}

	o.registry.SetToken(token)

	if err = o.runtime.Login(ctx, o.registryHost, o.cfg.RegistryUser, token); err != nil {
		o.auth.MarkFailed(err.Error())
		return fmt.Errorf("registry login: %w", err)
	}

	o.auth.MarkSucceeded()

	logger.InfoKV(ctx, "Registry authentication configured",
		"registry", o.registryHost, "user", o.cfg.RegistryUser)

	return nil
}

// pullWithFallback pulls an image, first with whatever credentials the
// runtime has cached, then once more after a fresh login. Public images pull
// without any login this way.
func (o *orchestrator) pullWithFallback(ctx context.Context, image, tag string) error {
	err := o.runtime.Pull(ctx, image, tag)
	if err == nil {
		return nil
	}

	if errors.Is(err, docker.ErrAuthRequired) {
		logger.InfoKV(ctx, "Pull requires authentication, refreshing credentials", "image", image)
	} else {
		logger.WarnKV(ctx, "Pull failed, retrying with fresh credentials", "image", image, "error", err)
	}

	if authErr := o.ensureAuth(ctx); authErr != nil {
		return fmt.Errorf("pull %s:%s: %w", image, tag, authErr)
	}

	if err = o.runtime.Pull(ctx, image, tag); err != nil {
		return fmt.Errorf("pull %s:%s: %w", image, tag, err)
	}

	return nil
}
