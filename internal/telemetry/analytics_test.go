package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "analytics.json"), filepath.Join(dir, "analytics.lock"))
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC) }
	return s
}

// =============================================================================
// Load
// =============================================================================

func TestStore_LoadMissingFileIsZero(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Load()

	require.NoError(t, err)
	assert.Equal(t, Analytics{}, a)
	assert.Zero(t, a.HitRatio())
}

func TestStore_LoadRejectsGarbage(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.Load()
	assert.Error(t, err)
}

// =============================================================================
// RecordQuery / RecordAttempt
// =============================================================================

func TestStore_RecordQueryCountsHitsAndMisses(t *testing.T) {
	// Given
	s := newTestStore(t)
	ctx := context.Background()

	// When: two hits and one miss
	require.NoError(t, s.RecordQuery(ctx, true))
	require.NoError(t, s.RecordQuery(ctx, false))
	require.NoError(t, s.RecordQuery(ctx, true))

	// Then
	a, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), a.Queries)
	assert.Equal(t, uint64(2), a.Hits)
	assert.Equal(t, uint64(1), a.Misses)
	require.NotNil(t, a.LastQueryTS)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), *a.LastQueryTS)
	assert.Nil(t, a.LastAttemptTS)
	assert.InDelta(t, 2.0/3.0, a.HitRatio(), 1e-9)
}

func TestStore_RecordAttemptLeavesCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordQuery(ctx, false))

	require.NoError(t, s.RecordAttempt(ctx))

	a, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.Queries)
	assert.Equal(t, uint64(1), a.Misses)
	require.NotNil(t, a.LastAttemptTS)
}

func TestStore_UpdateReplacesCorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0o644))

	require.NoError(t, s.RecordQuery(context.Background(), true))

	a, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.Hits)
}

func TestStore_ConcurrentUpdatesAreNotLost(t *testing.T) {
	// Given: two stores on the same files, as two processes would have
	dir := t.TempDir()
	path := filepath.Join(dir, "analytics.json")
	lock := filepath.Join(dir, "analytics.lock")
	stores := []*Store{NewStore(path, lock), NewStore(path, lock)}

	// When
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, stores[i%2].RecordQuery(context.Background(), i%4 == 0))
		}(i)
	}
	wg.Wait()

	// Then
	a, err := stores[0].Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(20), a.Queries)
	assert.Equal(t, uint64(5), a.Hits)
	assert.Equal(t, uint64(15), a.Misses)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
