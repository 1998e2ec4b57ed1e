package agent

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAcquireLockFresh checks a clean acquire writes our PID and release
// removes the file.
func TestAcquireLockFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.lock")

	lock, err := acquireLock(context.Background(), path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(raw))

	lock.Release(context.Background())

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestAcquireLockReplacesStale checks files left by dead or foreign processes
// do not block the agent.
func TestAcquireLockReplacesStale(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"dead process": "99999999",
		"garbage":      "not-a-pid",
		"empty":        "",
		// PID 1 is alive but is never a kiosk-agent process.
		"foreign process": "1",
	}

	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "agent.lock")
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

			lock, err := acquireLock(context.Background(), path)
			require.NoError(t, err)

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, strconv.Itoa(os.Getpid()), string(raw))

			lock.Release(context.Background())
		})
	}
}

// TestAcquireLockReentrant checks a file holding our own PID is reclaimed,
// covering a restart that reuses the previous instance's PID.
func TestAcquireLockReentrant(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.lock")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600))

	lock, err := acquireLock(context.Background(), path)
	require.NoError(t, err)

	lock.Release(context.Background())
}

// TestIsAgentProcess checks the executable name guard: the test binary is a
// live process but not a kiosk-agent one.
func TestIsAgentProcess(t *testing.T) {
	t.Parallel()

	require.False(t, isAgentProcess(os.Getpid()))
	require.False(t, isAgentProcess(99999999))
}

// TestReleaseMissingFile checks releasing twice stays quiet.
func TestReleaseMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.lock")

	lock, err := acquireLock(context.Background(), path)
	require.NoError(t, err)

	lock.Release(context.Background())
	lock.Release(context.Background())
}
