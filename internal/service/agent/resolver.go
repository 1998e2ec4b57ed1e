package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/distribution/reference"

	"github.com/oshokin/kiosk-agent/internal/logger"
)

var (
	// errDigestUnavailable is returned when every strategy failed.
	errDigestUnavailable = errors.New("no digest strategy succeeded")
	// errCredentialsUnchanged marks a retry that would run with the same
	// credentials the earlier strategies already used.
	errCredentialsUnchanged = errors.New("credentials already active")
)

// digestStrategy is one way of resolving the published digest of an image.
type digestStrategy struct {
	// name identifies the strategy in logs.
	name string
	// resolve fetches the digest of image:tag.
	resolve func(ctx context.Context, image, tag string) (string, error)
}

// digestStrategies returns the resolution order: the registry HTTP API first
// because it is cheapest, then the container runtime, then one authenticated
// retry for registries that hide manifests from anonymous clients.
func (o *orchestrator) digestStrategies() []digestStrategy {
	return []digestStrategy{
		{name: "registry-api", resolve: o.registryDigest},
		{name: "buildx-imagetools", resolve: o.runtime.RemoteDigestNoCache},
		{name: "manifest-inspect", resolve: o.runtime.RemoteDigestManifest},
		{name: "authenticated-cli", resolve: o.authenticatedCLIDigest},
	}
}

// remoteDigest resolves the published digest of image:tag, trying each
// strategy in order until one answers.
func (o *orchestrator) remoteDigest(ctx context.Context, image, tag string) (string, error) {
	for _, strategy := range o.digestStrategies() {
		resolved, err := strategy.resolve(ctx, image, tag)
		if err != nil {
			logger.DebugKV(ctx, "Digest strategy failed",
				"strategy", strategy.name, "image", image, "error", err)

			continue
		}

		logger.DebugKV(ctx, "Resolved remote digest",
			"strategy", strategy.name, "image", image, "digest", resolved)

		return resolved, nil
	}

	return "", fmt.Errorf("%w: %s:%s", errDigestUnavailable, image, tag)
}

// registryDigest asks the registry HTTP API, authenticating through the
// backend-issued token first.
func (o *orchestrator) registryDigest(ctx context.Context, image, tag string) (string, error) {
	if err := o.ensureAuth(ctx); err != nil {
		return "", err
	}

	path, err := repositoryPath(image)
	if err != nil {
		return "", err
	}

	return o.registry.ImageDigest(ctx, path, tag)
}

// authenticatedCLIDigest retries the runtime strategies after a fresh login.
// Skipped when the earlier strategies already ran with working credentials.
func (o *orchestrator) authenticatedCLIDigest(ctx context.Context, image, tag string) (string, error) {
	if o.auth.LoggedIn() {
		return "", errCredentialsUnchanged
	}

	if err := o.ensureAuth(ctx); err != nil {
		return "", err
	}

	resolved, err := o.runtime.RemoteDigestNoCache(ctx, image, tag)
	if err == nil {
		return resolved, nil
	}

	return o.runtime.RemoteDigestManifest(ctx, image, tag)
}

// repositoryPath strips the registry host from an image reference, leaving
// the repository path the registry API expects.
func repositoryPath(image string) (string, error) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return "", fmt.Errorf("parse image reference %q: %w", image, err)
	}

	return reference.Path(named), nil
}

// registryHost extracts the registry host from an image reference.
func registryHost(image string) (string, error) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return "", fmt.Errorf("parse image reference %q: %w", image, err)
	}

	return reference.Domain(named), nil
}
