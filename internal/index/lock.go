package index

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// BuildLock is the cross-process writer lock of an index directory.
// The holder's PID is written into the lock file so a lock left behind by
// a dead process can be recognised.
type BuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewBuildLock creates a lock for the given lock file path.
func NewBuildLock(path string) *BuildLock {
	return &BuildLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryLock acquires the lock without blocking. A lock held by another
// process yields ErrBuildInProgress.
func (l *BuildLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	stale := l.Stale()

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		e := ierrors.New(ierrors.ErrCodeBuildInProgress, "another build is in progress", nil)
		if pid, err := l.Owner(); err == nil {
			e.WithDetail("pid", strconv.Itoa(pid))
		}
		return e.WithSuggestion("wait for the running build to finish")
	}
	l.locked = true

	if stale {
		slog.Warn("build_lock_reclaimed", slog.String("path", l.path))
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = l.Unlock()
		return fmt.Errorf("failed to write lock owner: %w", err)
	}
	return nil
}

// Unlock clears the owner and releases the lock. It is safe to call on an
// unlocked BuildLock.
func (l *BuildLock) Unlock() error {
	if !l.locked {
		return nil
	}
	_ = os.Truncate(l.path, 0)

	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *BuildLock) Path() string { return l.path }

// IsLocked reports whether this BuildLock holds the lock.
func (l *BuildLock) IsLocked() bool { return l.locked }

// errNoOwner is returned by Owner when the lock file records no PID.
var errNoOwner = errors.New("lock has no owner")

// Owner returns the PID recorded in the lock file.
func (l *BuildLock) Owner() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, errNoOwner
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in lock file: %w", err)
	}
	return pid, nil
}

// Stale reports whether the lock file names a process that no longer runs.
func (l *BuildLock) Stale() bool {
	pid, err := l.Owner()
	if err != nil {
		return false
	}
	return !processAlive(pid)
}
