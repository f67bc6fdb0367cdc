// Package telemetry keeps local query analytics for an index.
// Nothing is reported anywhere; the counters live in analytics.json next to
// the index artifacts.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// lockRetry is the polling interval while waiting for analytics.lock.
const lockRetry = 10 * time.Millisecond

// lockTimeout bounds how long an update waits for another process.
const lockTimeout = 2 * time.Second

// Analytics is the content of analytics.json.
type Analytics struct {
	Queries       uint64     `json:"queries"`
	Hits          uint64     `json:"hits"`
	Misses        uint64     `json:"misses"`
	LastQueryTS   *time.Time `json:"last_query_ts,omitempty"`
	LastAttemptTS *time.Time `json:"last_attempt_ts,omitempty"`
}

// HitRatio returns hits/queries, or 0 before the first query.
func (a Analytics) HitRatio() float64 {
	if a.Queries == 0 {
		return 0
	}
	return float64(a.Hits) / float64(a.Queries)
}

// Store reads and updates analytics.json. Updates are serialized by a
// mutex within the process and by analytics.lock across processes.
type Store struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

// NewStore creates a Store for the analytics file at path, guarded by the
// lock file at lockPath.
func NewStore(path, lockPath string) *Store {
	return &Store{
		path: path,
		lock: flock.New(lockPath),
		now:  time.Now,
	}
}

// Path returns the analytics file path.
func (s *Store) Path() string { return s.path }

// Load returns the stored analytics. A missing file yields zero values.
func (s *Store) Load() (Analytics, error) {
	var a Analytics
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return a, nil
	}
	if err != nil {
		return a, fmt.Errorf("failed to read analytics: %w", err)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return Analytics{}, fmt.Errorf("failed to parse analytics: %w", err)
	}
	return a, nil
}

// Update applies fn to the current analytics and persists the result.
// An unreadable analytics file is replaced rather than failing the update.
func (s *Store) Update(ctx context.Context, fn func(*Analytics)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create analytics directory: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to lock analytics: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock analytics: %s", s.lock.Path())
	}
	defer func() { _ = s.lock.Unlock() }()

	a, err := s.Load()
	if err != nil {
		a = Analytics{}
	}
	fn(&a)
	return s.write(a)
}

// RecordQuery counts one query. hit reports whether it passed the
// confidence gate.
func (s *Store) RecordQuery(ctx context.Context, hit bool) error {
	return s.Update(ctx, func(a *Analytics) {
		a.Queries++
		if hit {
			a.Hits++
		}
		a.Misses = a.Queries - a.Hits
		ts := s.stamp()
		a.LastQueryTS = &ts
	})
}

// RecordAttempt stamps last_attempt_ts for a build or refresh pass.
func (s *Store) RecordAttempt(ctx context.Context) error {
	return s.Update(ctx, func(a *Analytics) {
		ts := s.stamp()
		a.LastAttemptTS = &ts
	})
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Store) write(a Analytics) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode analytics: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write analytics: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace analytics: %w", err)
	}
	return nil
}
