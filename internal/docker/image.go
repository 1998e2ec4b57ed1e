package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/oshokin/kiosk-agent/internal/logger"
)

// noDigestMarker is what "docker images --digests" prints for untagged digests.
const noDigestMarker = "<none>"

// Login authenticates the daemon against a registry, feeding the token over stdin.
func (c *Client) Login(ctx context.Context, registryHost, user, token string) error {
	_, stderr, err := c.run(ctx, loginTimeout, "", []byte(token),
		"login", registryHost, "-u", user, "--password-stdin")
	if err != nil {
		return fmt.Errorf("login to %s: %w: %s", registryHost, err, firstLine(stderr))
	}

	logger.InfoKV(ctx, "Logged in to registry", "registry", registryHost)

	return nil
}

// Pull downloads image:tag. Credential rejections surface as ErrAuthRequired
// so callers can retry after a fresh login.
func (c *Client) Pull(ctx context.Context, image, tag string) error {
	ref := image + ":" + tag

	logger.InfoKV(ctx, "Pulling image", "image", ref)

	_, stderr, err := c.run(ctx, pullTimeout, "", nil, "pull", ref)
	if err != nil {
		if isAuthFailure(stderr) {
			return fmt.Errorf("pull %s: %w: %s", ref, ErrAuthRequired, firstLine(stderr))
		}

		return fmt.Errorf("pull %s: %w: %s", ref, err, firstLine(stderr))
	}

	logger.InfoKV(ctx, "Image pulled", "image", ref)

	return nil
}

// LocalImageDigest returns the digest recorded for a local image,
// or empty when the image is absent or was never pulled by digest.
func (c *Client) LocalImageDigest(ctx context.Context, image, tag string) (string, error) {
	stdout, stderr, err := c.run(ctx, inspectTimeout, "", nil,
		"images", "--digests", "--format", "{{.Digest}}", image+":"+tag)
	if err != nil {
		return "", fmt.Errorf("local digest of %s:%s: %w: %s", image, tag, err, firstLine(stderr))
	}

	value := firstLine(stdout)
	if value == "" || value == noDigestMarker {
		return "", nil
	}

	return value, nil
}

// RemoteDigestNoCache resolves the remote digest with buildx imagetools,
// which always round-trips to the registry. The raw manifest is hashed,
// matching what the registry advertises for canonical manifests.
func (c *Client) RemoteDigestNoCache(ctx context.Context, image, tag string) (string, error) {
	ref := image + ":" + tag

	stdout, stderr, err := c.run(ctx, digestTimeout, "", nil,
		"buildx", "imagetools", "inspect", ref, "--raw")
	if err != nil {
		return "", fmt.Errorf("imagetools inspect %s: %w: %s", ref, err, firstLine(stderr))
	}

	manifest := strings.TrimSpace(stdout)
	if manifest == "" {
		return "", fmt.Errorf("imagetools inspect %s: empty manifest", ref)
	}

	return digest.FromString(manifest).String(), nil
}

// manifestEntry is the element shape of "docker manifest inspect --verbose" output.
type manifestEntry struct {
	// Descriptor carries the digest of the inspected manifest.
	Descriptor struct {
		Digest string `json:"digest"`
	} `json:"Descriptor"`
}

// RemoteDigestManifest resolves the remote digest with "docker manifest inspect".
// The daemon may serve this from its manifest cache, so it ranks below
// RemoteDigestNoCache in the resolver order.
func (c *Client) RemoteDigestManifest(ctx context.Context, image, tag string) (string, error) {
	ref := image + ":" + tag

	stdout, stderr, err := c.run(ctx, digestTimeout, "", nil,
		"manifest", "inspect", ref, "--verbose")
	if err != nil {
		return "", fmt.Errorf("manifest inspect %s: %w: %s", ref, err, firstLine(stderr))
	}

	parsed, err := parseManifestDigest([]byte(stdout))
	if err != nil {
		return "", fmt.Errorf("manifest inspect %s: %w", ref, err)
	}

	return parsed, nil
}

// parseManifestDigest extracts the descriptor digest from verbose manifest
// output, which is an object for single-arch images and an array for
// multi-arch ones.
func parseManifestDigest(raw []byte) (string, error) {
	trimmed := strings.TrimSpace(string(raw))

	var entry manifestEntry

	if strings.HasPrefix(trimmed, "[") {
		var entries []manifestEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return "", fmt.Errorf("parse manifest list: %w", err)
		}

		if len(entries) == 0 {
			return "", errors.New("manifest list is empty")
		}

		entry = entries[0]
	} else {
		if err := json.Unmarshal(raw, &entry); err != nil {
			return "", fmt.Errorf("parse manifest: %w", err)
		}
	}

	parsed, err := digest.Parse(entry.Descriptor.Digest)
	if err != nil {
		return "", fmt.Errorf("descriptor digest: %w", err)
	}

	return parsed.String(), nil
}

// isAuthFailure classifies pull/login stderr as a credential problem.
func isAuthFailure(stderr string) bool {
	s := strings.ToLower(stderr)

	return strings.Contains(s, "unauthorized") ||
		strings.Contains(s, "denied") ||
		strings.Contains(s, "authentication")
}
