// Package integration holds end-to-end tests across indexing, retrieval
// and background refresh.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/async"
	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/embed"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/pathfilter"
	"github.com/Aman-CERP/repoindex/internal/search"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
	"github.com/Aman-CERP/repoindex/internal/watcher"
)

const (
	retryText   = "Retries use exponential backoff starting at 100 milliseconds."
	sessionText = "Sessions are persisted as JSON files under the data directory."
)

// stack is a project wired the way the serve command wires it.
type stack struct {
	root      string
	cfg       *config.Config
	layout    index.Layout
	provider  *embed.Provider
	coord     *index.Coordinator
	retriever *search.Retriever
	analytics *telemetry.Store
}

func newStack(t *testing.T, files map[string]string) *stack {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		write(t, root, rel, content)
	}

	cfg := config.NewConfig()
	cfg.Index.Workers = 2
	provider := embed.NewProvider(cfg.Index.Model)
	t.Cleanup(func() { _ = provider.Close() })

	layout := index.NewLayout(root)
	analytics := telemetry.NewStore(layout.Analytics(), layout.AnalyticsLock())
	coord, err := index.NewCoordinator(index.CoordinatorConfig{RootPath: root, Config: cfg, Provider: provider})
	require.NoError(t, err)
	retriever, err := search.NewRetriever(layout, provider, search.WithAnalytics(analytics))
	require.NoError(t, err)

	return &stack{
		root:      root,
		cfg:       cfg,
		layout:    layout,
		provider:  provider,
		coord:     coord,
		retriever: retriever,
		analytics: analytics,
	}
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

// topPath returns the path of the best confident hit, or "".
func (s *stack) topPath(t *testing.T, query string) string {
	t.Helper()
	res, err := s.retriever.Query(context.Background(), query, 1)
	require.NoError(t, err)
	if !res.Confident || len(res.Hits) == 0 {
		return ""
	}
	return res.Hits[0].Path
}

// =============================================================================
// Build, query, refresh
// =============================================================================

func TestBuildThenQuery(t *testing.T) {
	// Given: an indexed project
	s := newStack(t, map[string]string{"docs/retry.txt": retryText})
	_, err := s.coord.Build(context.Background(), index.BuildOptions{})
	require.NoError(t, err)

	// Then: exact text is retrieved and unrelated text is refused
	assert.Equal(t, "docs/retry.txt", s.topPath(t, retryText))
	assert.Equal(t, "", s.topPath(t, "zebra quantum pineapple"))

	a, err := s.analytics.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.Queries)
	assert.EqualValues(t, 1, a.Hits)

	report, err := index.Verify(s.layout.Dir)
	require.NoError(t, err)
	assert.True(t, report.OK)
}

func TestIncrementalRefreshPicksUpChanges(t *testing.T) {
	s := newStack(t, map[string]string{"docs/retry.txt": retryText})
	_, err := s.coord.Build(context.Background(), index.BuildOptions{})
	require.NoError(t, err)

	// When: a file is added and another removed
	write(t, s.root, "docs/session.txt", sessionText)
	require.NoError(t, os.Remove(filepath.Join(s.root, "docs", "retry.txt")))
	res, err := s.coord.Build(context.Background(), index.BuildOptions{Incremental: true})

	// Then
	require.NoError(t, err)
	assert.Equal(t, index.ModeIncremental, res.Mode)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, "docs/session.txt", s.topPath(t, sessionText))
	assert.Equal(t, "", s.topPath(t, retryText))
}

func TestSchedulerPassFromWatcherEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an index, a scheduler with a short interval, and a watcher
	// feeding it
	s := newStack(t, map[string]string{"docs/retry.txt": retryText})
	_, err := s.coord.Build(context.Background(), index.BuildOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sched := async.NewScheduler(async.SchedulerConfig{
		Layout:      s.layout,
		Enabled:     true,
		MinInterval: 50 * time.Millisecond,
		Trigger:     s.coord.Build,
		Analytics:   s.analytics,
	})
	sched.Start(ctx)
	defer sched.Stop()

	filter, err := index.NewFilter(s.root, s.cfg)
	require.NoError(t, err)
	w, err := watcher.New(s.root, filter, watcher.Options{
		Debounce: 50 * time.Millisecond,
		OnChange: func([]watcher.Event) { sched.Notify() },
		Reload:   func() (*pathfilter.Filter, error) { return index.NewFilter(s.root, s.cfg) },
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	// When: a new file appears
	write(t, s.root, "docs/session.txt", sessionText)

	// Then: a background pass makes it retrievable
	assert.Eventually(t, func() bool {
		return s.topPath(t, sessionText) == "docs/session.txt"
	}, 10*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, sched.Progress().Snapshot().Passes, 1)
}

func TestFirstRunBuildsMissingIndex(t *testing.T) {
	s := newStack(t, map[string]string{"docs/retry.txt": retryText})
	progress := async.NewProgress()
	sched := async.NewScheduler(async.SchedulerConfig{
		Layout:   s.layout,
		Enabled:  true,
		Trigger:  s.coord.Build,
		Progress: progress,
	})

	// When
	started := sched.FirstRun(context.Background())
	sched.Stop()

	// Then: the build finished before Stop returned
	assert.True(t, started)
	assert.True(t, s.layout.Exists())
	assert.False(t, progress.IsRefreshing())
	assert.Equal(t, "docs/retry.txt", s.topPath(t, retryText))
}

// =============================================================================
// Concurrency
// =============================================================================

func TestQueriesDuringRebuildSeeAWholeGeneration(t *testing.T) {
	s := newStack(t, map[string]string{
		"docs/retry.txt":   retryText,
		"docs/session.txt": sessionText,
	})
	_, err := s.coord.Build(context.Background(), index.BuildOptions{})
	require.NoError(t, err)

	// When: readers query while forced rebuilds swap generations
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				res, err := s.retriever.Query(context.Background(), retryText, 2)
				if err != nil {
					errs <- err
					return
				}
				if !res.Confident || res.Hits[0].Path != "docs/retry.txt" {
					errs <- assert.AnError
					return
				}
			}
		}()
	}
	for range 3 {
		_, err := s.coord.Build(context.Background(), index.BuildOptions{Force: true})
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
	close(errs)

	// Then: no reader saw a torn or missing generation
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestConcurrentBuildsAreExclusive(t *testing.T) {
	s := newStack(t, map[string]string{"docs/retry.txt": retryText})
	require.NoError(t, s.layout.Ensure())

	lock := index.NewBuildLock(s.layout.Lock())
	require.NoError(t, lock.TryLock())
	defer func() { _ = lock.Unlock() }()

	_, err := s.coord.Build(context.Background(), index.BuildOptions{})
	require.Error(t, err)
	assert.False(t, s.layout.Exists())
}
