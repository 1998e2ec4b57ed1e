package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/kiosk-agent/internal/logger"
)

// agentExecutable is the process name another live agent instance runs under.
const agentExecutable = "kiosk-agent"

// lockFileMode keeps the PID file private to the agent's user.
const lockFileMode os.FileMode = 0o600

// ErrAlreadyRunning indicates another agent instance holds the lock.
var ErrAlreadyRunning = errors.New("another agent instance is running")

// instanceLock is a PID file guarding against two agents managing the same host.
type instanceLock struct {
	// path is the location of the PID file.
	path string
}

// acquireLock claims the PID file at path. A file left behind by a dead
// process, or one with unreadable contents, is treated as stale and replaced.
func acquireLock(ctx context.Context, path string) (*instanceLock, error) {
	raw, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if convErr == nil && pid > 0 && pid != os.Getpid() && isAgentProcess(pid) {
			return nil, fmt.Errorf("%w: pid %d", ErrAlreadyRunning, pid)
		}

		logger.InfoKV(ctx, "Removing stale lock file", "path", path)

		if err = os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// First start on this host.
	default:
		logger.WarnKV(ctx, "Unable to read lock file", "path", path, "error", err)
	}

	if err = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), lockFileMode); err != nil {
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &instanceLock{path: path}, nil
}

// Release removes the PID file.
func (l *instanceLock) Release(ctx context.Context) {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Failed to remove lock file", "path", l.path, "error", err)
	}
}

// isAgentProcess reports whether pid belongs to a live agent process.
func isAgentProcess(pid int) bool {
	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return false
	}

	return process.Executable() == agentExecutable
}
