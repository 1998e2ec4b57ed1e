package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/oshokin/kiosk-agent/internal/version"
)

// DefaultHost is the registry the fleet publishes to.
const DefaultHost = "ghcr.io"

// DefaultCallTimeout bounds a single registry HTTP call.
const DefaultCallTimeout = 30 * time.Second

// Docker distribution media types are not part of the OCI image-spec constants.
const (
	mediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	mediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
)

// digestHeader carries the manifest digest in registry responses.
const digestHeader = "Docker-Content-Digest"

var (
	// ErrUnauthorized is returned when the registry rejects the credentials.
	ErrUnauthorized = errors.New("registry authentication failed")
	// ErrNotFound is returned when the image or tag does not exist.
	ErrNotFound = errors.New("image not found")

	// errNoToken is returned when a request needs credentials before SetToken was called.
	errNoToken = errors.New("no registry token set")

	// acceptedManifestTypes asks for multi-arch indexes first so the digest
	// matches what "docker pull" resolves on any architecture.
	acceptedManifestTypes = strings.Join([]string{
		ocispec.MediaTypeImageIndex,
		mediaTypeDockerManifestList,
		mediaTypeDockerManifest,
	}, ", ")
)

// Client talks to a single container registry host.
type Client struct {
	// baseURL is the scheme+host prefix of every request, e.g. "https://ghcr.io".
	baseURL string
	// user is the username presented when exchanging the PAT for a bearer token.
	user string
	// httpClient performs the actual requests.
	httpClient *http.Client
	// callTimeout is the default timeout for individual registry calls.
	callTimeout time.Duration

	// mu guards token and bearerCache.
	mu sync.Mutex
	// token is the PAT received from the backend.
	token string
	// bearerCache maps image paths to scoped bearer tokens.
	bearerCache map[string]string
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for registry calls.
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

// WithBaseURL points the client at a non-TLS or test registry endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewClient creates a client for the given registry host.
// An empty host selects the fleet default.
func NewClient(host, user string, opts ...Option) *Client {
	if host == "" {
		host = DefaultHost
	}

	client := &Client{
		baseURL:     "https://" + host,
		user:        user,
		httpClient:  &http.Client{},
		callTimeout: DefaultCallTimeout,
		bearerCache: make(map[string]string),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// SetToken installs a new PAT and invalidates every cached bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
	clear(c.bearerCache)
}

// ImageDigest resolves the manifest digest of image:tag straight from the registry.
// The image is the repository path without the registry host, e.g. "oshokin/kiosk-device".
func (c *Client) ImageDigest(ctx context.Context, image, tag string) (string, error) {
	bearer, err := c.bearerToken(ctx, image)
	if err != nil {
		return "", err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	manifestURL := fmt.Sprintf("%s/v2/%s/manifests/%s", c.baseURL, image, tag)

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("build manifest request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", acceptedManifestTypes)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch manifest: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", fmt.Errorf("%w: manifest %s:%s", ErrUnauthorized, image, tag)
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s:%s", ErrNotFound, image, tag)
	default:
		return "", fmt.Errorf("manifest %s:%s returned status %d", image, tag, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}

	// Registries send the digest in a header; hashing the body is the
	// fallback and yields the same value for canonical manifests.
	if header := resp.Header.Get(digestHeader); header != "" {
		if parsed, parseErr := digest.Parse(header); parseErr == nil {
			return parsed.String(), nil
		}
	}

	return digest.FromBytes(body).String(), nil
}

// Tags lists the tags of an image, mainly for operator diagnostics.
func (c *Client) Tags(ctx context.Context, image string) ([]string, error) {
	bearer, err := c.bearerToken(ctx, image)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	tagsURL := fmt.Sprintf("%s/v2/%s/tags/list", c.baseURL, image)

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, tagsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build tags request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: tags %s", ErrUnauthorized, image)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, image)
	default:
		return nil, fmt.Errorf("tags %s returned status %d", image, resp.StatusCode)
	}

	var payload struct {
		Tags []string `json:"tags"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}

	return payload.Tags, nil
}

// Close releases idle connections held by the HTTP client.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}

	c.httpClient.CloseIdleConnections()
}

// bearerToken returns a bearer token scoped to pulling the image,
// fetching and caching one when needed.
func (c *Client) bearerToken(ctx context.Context, image string) (string, error) {
	c.mu.Lock()

	if bearer, ok := c.bearerCache[image]; ok {
		c.mu.Unlock()
		return bearer, nil
	}

	pat := c.token
	c.mu.Unlock()

	if pat == "" {
		return "", errNoToken
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	query := url.Values{}
	query.Set("scope", fmt.Sprintf("repository:%s:pull", image))

	tokenURL := fmt.Sprintf("%s/token?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	req.SetBasicAuth(c.user, pat)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch bearer token: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", fmt.Errorf("%w: token endpoint", ErrUnauthorized)
	default:
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode bearer token: %w", err)
	}

	if payload.Token == "" {
		return "", errors.New("token endpoint returned an empty token")
	}

	c.mu.Lock()
	c.bearerCache[image] = payload.Token
	c.mu.Unlock()

	return payload.Token, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
