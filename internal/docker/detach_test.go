package docker

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEngine is a minimal Docker Engine API served on a unix socket.
type fakeEngine struct {
	// mu guards calls and create.
	mu sync.Mutex
	// calls records "METHOD path" in arrival order.
	calls []string
	// create holds the decoded container-create body.
	create helperCreateRequest
}

// serve starts the fake engine and returns its socket path.
func (f *fakeEngine) serve(t *testing.T) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "docker.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	mux := http.NewServeMux()

	mux.HandleFunc("DELETE /containers/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		// No previous helper exists.
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such container"}`))
	})

	mux.HandleFunc("POST /containers/create", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)

		f.mu.Lock()
		err := json.NewDecoder(r.Body).Decode(&f.create)
		f.mu.Unlock()

		require.NoError(t, err)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"Id":"0123456789abcdef"}`))
	})

	mux.HandleFunc("POST /containers/{name}/start", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{Handler: mux}
	go func() {
		_ = server.Serve(listener)
	}()

	t.Cleanup(func() {
		_ = server.Close()
	})

	return socketPath
}

// record notes the request for later ordering assertions.
func (f *fakeEngine) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
}

// TestRestartServiceDetached_EngineFlow verifies the remove-create-start sequence
// and the helper container configuration.
func TestRestartServiceDetached_EngineFlow(t *testing.T) {
	// Helper image already present, so no pull happens.
	stubDocker(t, `case "$1" in
version) echo "27.1.1" ;;
images) echo "abc123" ;;
esac`)

	engine := new(fakeEngine)
	socketPath := engine.serve(t)

	composeFile := filepath.Join(t.TempDir(), "docker-compose.yml")

	client, err := New(context.Background(), composeFile, WithSocketPath(socketPath))
	require.NoError(t, err)

	require.NoError(t, client.RestartServiceDetached(context.Background(), "agent"))

	engine.mu.Lock()
	defer engine.mu.Unlock()

	require.Equal(t, []string{
		"DELETE /containers/" + updaterContainerName,
		"POST /containers/create",
		"POST /containers/" + updaterContainerName + "/start",
	}, engine.calls)

	require.Equal(t, helperImage, engine.create.Image)
	require.Equal(t, []string{"sh", "-c", "docker compose -f docker-compose.yml up -d --force-recreate agent"},
		engine.create.Cmd)
	require.Equal(t, filepath.Dir(composeFile), engine.create.WorkingDir)
	require.True(t, engine.create.HostConfig.AutoRemove)
	require.Contains(t, engine.create.HostConfig.Binds, socketPath+":"+defaultSocketPath)
	require.Contains(t, engine.create.HostConfig.Binds,
		filepath.Dir(composeFile)+":"+filepath.Dir(composeFile)+":ro")
}

// TestComposeUpDetached_BuildsCommand verifies service list and force-recreate flag placement.
func TestComposeUpDetached_BuildsCommand(t *testing.T) {
	stubDocker(t, `case "$1" in
version) echo "27.1.1" ;;
images) echo "abc123" ;;
esac`)

	engine := new(fakeEngine)
	socketPath := engine.serve(t)

	client, err := New(context.Background(),
		filepath.Join(t.TempDir(), "docker-compose.yml"), WithSocketPath(socketPath))
	require.NoError(t, err)

	require.NoError(t, client.ComposeUpDetached(context.Background(),
		[]string{"device", "cloudflared", "ttyd"}, true))

	engine.mu.Lock()
	defer engine.mu.Unlock()

	require.Equal(t, []string{"sh", "-c",
		"docker compose -f docker-compose.yml up -d --force-recreate device cloudflared ttyd"},
		engine.create.Cmd)
}

// TestComposeUpDetached_RequiresServices verifies the empty service list is rejected.
func TestComposeUpDetached_RequiresServices(t *testing.T) {
	t.Parallel()

	client := &Client{composeFile: "docker-compose.yml", composeDir: "."}

	err := client.ComposeUpDetached(context.Background(), nil, false)
	require.ErrorIs(t, err, errNoServicesSpecified)
}
