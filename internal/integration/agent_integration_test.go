package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/kiosk-agent/internal/backend"
	domain "github.com/oshokin/kiosk-agent/internal/domain/update"
	"github.com/oshokin/kiosk-agent/internal/registry"
)

const (
	testDeviceID    = "kiosk-042"
	testDeviceToken = "secret"
	testPullToken   = "pat-456"
	testBearer      = "bearer-789"
	testRepository  = "oshokin/kiosk-device"
	testDigest      = "sha256:eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
)

// requireDeviceAuth rejects requests without the device's Basic credentials.
func requireDeviceAuth(t *testing.T, w http.ResponseWriter, r *http.Request) bool {
	t.Helper()

	user, pass, ok := r.BasicAuth()
	if !ok || user != testDeviceID || pass != testDeviceToken {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}

	return true
}

// TestAgent_CredentialChainResolvesDigest runs the full credentials path an
// update check takes: the backend hands out the pull token, the registry
// exchanges it for a repository bearer, the manifest resolves to a digest and
// the digest is reported back.
func TestAgent_CredentialChainResolvesDigest(t *testing.T) {
	t.Parallel()

	var (
		mu         sync.Mutex
		reports    []backend.VersionReport
		tokenCalls int
	)

	// Fake fleet backend issuing the pull token and recording reports.
	backendMux := http.NewServeMux()

	backendMux.HandleFunc("GET /api/v1/device/registry-token/", func(w http.ResponseWriter, r *http.Request) {
		if !requireDeviceAuth(t, w, r) {
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"token": testPullToken})
	})

	backendMux.HandleFunc("POST /api/v1/device/version/", func(w http.ResponseWriter, r *http.Request) {
		if !requireDeviceAuth(t, w, r) {
			return
		}

		var report backend.VersionReport
		require.NoError(t, json.NewDecoder(r.Body).Decode(&report))

		mu.Lock()
		reports = append(reports, report)
		mu.Unlock()

		w.WriteHeader(http.StatusCreated)
	})

	backendServer := httptest.NewServer(backendMux)
	t.Cleanup(backendServer.Close)

	// Fake registry accepting only the backend-issued token on exchange.
	registryMux := http.NewServeMux()

	registryMux.HandleFunc("GET /token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "oshokin" || pass != testPullToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		require.Equal(t, "repository:"+testRepository+":pull", r.URL.Query().Get("scope"))

		mu.Lock()
		tokenCalls++
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{"token": testBearer})
	})

	registryMux.HandleFunc("GET /v2/oshokin/kiosk-device/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testBearer {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Docker-Content-Digest", testDigest)
		_, _ = w.Write([]byte("{}"))
	})

	registryServer := httptest.NewServer(registryMux)
	t.Cleanup(registryServer.Close)

	ctx := context.Background()

	backendClient, err := backend.NewClient(backendServer.URL, testDeviceID, testDeviceToken)
	require.NoError(t, err)

	defer backendClient.Close()

	token, err := backendClient.RegistryToken(ctx)
	require.NoError(t, err)
	require.Equal(t, testPullToken, token)

	registryClient := registry.NewClient(registry.DefaultHost, "oshokin", registry.WithBaseURL(registryServer.URL))
	defer registryClient.Close()

	registryClient.SetToken(token)

	resolved, err := registryClient.ImageDigest(ctx, testRepository, "latest")
	require.NoError(t, err)
	require.Equal(t, testDigest, resolved)

	// A second resolution reuses the cached bearer instead of exchanging
	// the pull token again.
	resolved, err = registryClient.ImageDigest(ctx, testRepository, "latest")
	require.NoError(t, err)
	require.Equal(t, testDigest, resolved)

	require.NoError(t, backendClient.ReportVersions(ctx, backend.VersionReport{Device: resolved}))

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, 1, tokenCalls)
	require.Len(t, reports, 1)
	require.Equal(t, testDigest, reports[0].Device)
	require.Empty(t, reports[0].Agent)
}

// TestAgent_WindowConfigRoundTrip fetches maintenance windows from a live
// backend and checks the gating decisions they produce.
func TestAgent_WindowConfigRoundTrip(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/device/config/", func(w http.ResponseWriter, r *http.Request) {
		if !requireDeviceAuth(t, w, r) {
			return
		}

		// A single overnight window crossing midnight.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"update_windows": []map[string]string{
				{"name": "night", "start_time": "22:00", "end_time": "06:00"},
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := backend.NewClient(server.URL, testDeviceID, testDeviceToken)
	require.NoError(t, err)

	defer client.Close()

	windows, err := client.UpdateWindows(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.Equal(t, "night", windows[0].Name)

	night := time.Date(2026, time.March, 10, 23, 30, 0, 0, time.UTC)
	morning := time.Date(2026, time.March, 10, 5, 30, 0, 0, time.UTC)
	noon := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	require.True(t, domain.Allowed(windows, night))
	require.True(t, domain.Allowed(windows, morning))
	require.False(t, domain.Allowed(windows, noon))
}
