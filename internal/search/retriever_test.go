package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/embed"
	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/store"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
)

const handlerSource = `package server

import "net/http"

// HandleHealth reports liveness.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
`

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

// buildIndex builds an index over files and returns the root and the
// provider used for the build.
func buildIndex(t *testing.T, files map[string]string) (string, *embed.Provider) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	cfg := config.NewConfig()
	cfg.Index.Workers = 2
	provider := embed.NewProvider(cfg.Index.Model)
	t.Cleanup(func() { _ = provider.Close() })

	c, err := index.NewCoordinator(index.CoordinatorConfig{RootPath: root, Config: cfg, Provider: provider})
	require.NoError(t, err)
	_, err = c.Build(context.Background(), index.BuildOptions{})
	require.NoError(t, err)
	return root, provider
}

func newTestRetriever(t *testing.T, root string, provider *embed.Provider) (*Retriever, *telemetry.Store) {
	t.Helper()
	layout := index.NewLayout(root)
	analytics := telemetry.NewStore(layout.Analytics(), layout.AnalyticsLock())
	r, err := NewRetriever(layout, provider, WithAnalytics(analytics))
	require.NoError(t, err)
	return r, analytics
}

// chunkTextOf returns the exact text of the first indexed chunk of rel.
func chunkTextOf(t *testing.T, root, rel string) string {
	t.Helper()
	recs, err := store.LoadMeta(index.NewLayout(root).Meta())
	require.NoError(t, err)
	for _, rec := range recs {
		if rec.Path != rel {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		lines := strings.Split(string(data), "\n")
		return strings.Join(lines[rec.Start-1:rec.End], "\n")
	}
	t.Fatalf("no chunk for %s", rel)
	return ""
}

// =============================================================================
// Gating
// =============================================================================

func TestPasses_DefaultThreshold(t *testing.T) {
	tests := []struct {
		score float32
		want  bool
	}{
		{0.70, false},
		{0.7249, false},
		{0.725, true},
		{0.80, true},
		{1.0, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Passes(tt.score, DefaultThreshold), "score %v", tt.score)
	}
}

func TestSummary_Format(t *testing.T) {
	assert.Equal(t, "80% confidence, 3 items", Summary(0.80, 3))
	assert.Equal(t, "73% confidence, 1 items", Summary(0.7251, 1))
	assert.Equal(t, "100% confidence, 2 items", Summary(1.7, 2))
	assert.Equal(t, "0% confidence, 0 items", Summary(-0.2, 0))
}

// =============================================================================
// Context budget
// =============================================================================

func TestBuildContext_FitsWithinBudget(t *testing.T) {
	hits := []Hit{
		{Path: "a.go", Start: 1, End: 2, Lang: "go", Score: 0.9, Text: "line one\nline two"},
		{Path: "b.go", Start: 5, End: 5, Lang: "go", Score: 0.8, Text: "only"},
	}

	ctx, items, truncated := BuildContext(hits, 0)

	assert.Equal(t, 2, items)
	assert.False(t, truncated)
	assert.Contains(t, ctx, "--- a.go:1-2 (go, score 0.900) ---\nline one\nline two\n")
	assert.Contains(t, ctx, "--- b.go:5-5 (go, score 0.800) ---\nonly\n")
}

func TestBuildContext_TruncatesAtBudget(t *testing.T) {
	// Given: three large hits and a budget that holds about one and a half
	body := strings.Repeat("0123456789abcdefghij\n", 20)
	hits := []Hit{
		{Path: "a.txt", Start: 1, End: 20, Score: 0.9, Text: body},
		{Path: "b.txt", Start: 1, End: 20, Score: 0.8, Text: body},
		{Path: "c.txt", Start: 1, End: 20, Score: 0.7, Text: body},
	}

	// When
	ctx, items, truncated := BuildContext(hits, 650)

	// Then: the second hit is cut on a line boundary and the third dropped
	assert.True(t, truncated)
	assert.Equal(t, 2, items)
	assert.LessOrEqual(t, len([]rune(ctx)), 650)
	assert.NotContains(t, ctx, "c.txt")
	assert.True(t, strings.HasSuffix(ctx, "\n"))
}

func TestBuildContext_FirstHitAlwaysGetsSomething(t *testing.T) {
	hits := []Hit{{Path: "big.txt", Start: 1, End: 1, Score: 0.9, Text: strings.Repeat("x", 500)}}

	ctx, items, truncated := BuildContext(hits, 80)

	assert.Equal(t, 1, items)
	assert.True(t, truncated)
	assert.LessOrEqual(t, len([]rune(ctx)), 80)
}

// =============================================================================
// Query
// =============================================================================

func TestRetriever_ExactChunkIsConfident(t *testing.T) {
	// Given
	root, provider := buildIndex(t, map[string]string{
		"server/health.go": handlerSource,
		"README.md":        "# Service\n\nServes health checks.\n",
	})
	r, analytics := newTestRetriever(t, root, provider)
	text := chunkTextOf(t, root, "server/health.go")

	// When
	res, err := r.Query(context.Background(), text, 5)

	// Then
	require.NoError(t, err)
	assert.True(t, res.Confident)
	assert.InDelta(t, 1.0, res.Confidence, 1e-4)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "server/health.go", res.Hits[0].Path)
	assert.Equal(t, 1, res.Hits[0].Rank)
	assert.Equal(t, "go", res.Hits[0].Lang)
	assert.False(t, res.Hits[0].Stale)
	assert.Equal(t, text, res.Hits[0].Text)
	assert.Contains(t, res.Context, "HandleHealth")
	assert.True(t, strings.HasPrefix(res.Summary, "100% confidence, "))

	a, err := analytics.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.Queries)
	assert.Equal(t, uint64(1), a.Hits)
}

func TestRetriever_UnrelatedQueryIsGated(t *testing.T) {
	root, provider := buildIndex(t, map[string]string{"server/health.go": handlerSource})
	r, analytics := newTestRetriever(t, root, provider)

	res, err := r.Query(context.Background(), "quantum marshmallow spaceship telescope", 5)

	require.NoError(t, err)
	assert.False(t, res.Confident)
	assert.Less(t, float64(res.Confidence), DefaultThreshold)
	assert.Empty(t, res.Hits)
	assert.Empty(t, res.Context)
	assert.Empty(t, res.Summary)
	assert.Empty(t, r.QueryContext(context.Background(), "quantum marshmallow spaceship telescope"))

	a, err := analytics.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), a.Queries)
	assert.Equal(t, uint64(0), a.Hits)
	assert.Equal(t, uint64(2), a.Misses)
}

func TestRetriever_ThresholdZeroAlwaysAttaches(t *testing.T) {
	root, provider := buildIndex(t, map[string]string{"server/health.go": handlerSource})
	r, _ := newTestRetriever(t, root, provider)
	r.SetThreshold(-1)
	assert.Zero(t, r.Threshold())

	got := r.QueryContext(context.Background(), "quantum marshmallow spaceship telescope")

	assert.True(t, strings.HasPrefix(got, "Retrieved context ("))
	assert.Contains(t, got, "server/health.go")
}

func TestRetriever_StaleFileFallsBackToPreview(t *testing.T) {
	root, provider := buildIndex(t, map[string]string{"server/health.go": handlerSource})
	r, _ := newTestRetriever(t, root, provider)
	text := chunkTextOf(t, root, "server/health.go")

	// Given: the file is edited after indexing
	writeFile(t, root, "server/health.go", "package server\n")

	// When
	res, err := r.Query(context.Background(), text, 1)

	// Then
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.True(t, res.Hits[0].Stale)
	assert.Equal(t, res.Hits[0].Preview, res.Hits[0].Text)
}

func TestRetriever_ReloadsAfterRebuild(t *testing.T) {
	root, provider := buildIndex(t, map[string]string{"server/health.go": handlerSource})
	r, _ := newTestRetriever(t, root, provider)
	_, err := r.Query(context.Background(), "health", 1)
	require.NoError(t, err)

	// Given: a new file indexed by a second build
	extra := "def fibonacci(n):\n    if n < 2:\n        return n\n    return fibonacci(n - 1) + fibonacci(n - 2)\n"
	writeFile(t, root, "math/fib.py", extra)
	c, err := index.NewCoordinator(index.CoordinatorConfig{RootPath: root, Provider: provider})
	require.NoError(t, err)
	_, err = c.Build(context.Background(), index.BuildOptions{Incremental: true})
	require.NoError(t, err)

	// When
	res, err := r.Query(context.Background(), chunkTextOf(t, root, "math/fib.py"), 1)

	// Then
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "math/fib.py", res.Hits[0].Path)
}

func TestRetriever_Errors(t *testing.T) {
	t.Run("no index", func(t *testing.T) {
		r, _ := newTestRetriever(t, t.TempDir(), embed.NewProvider(""))
		_, err := r.Query(context.Background(), "anything", 3)
		assert.ErrorIs(t, err, ierrors.ErrNoIndex)
		assert.Empty(t, r.QueryContext(context.Background(), "anything"))
	})

	t.Run("empty query", func(t *testing.T) {
		r, _ := newTestRetriever(t, t.TempDir(), embed.NewProvider(""))
		_, err := r.Query(context.Background(), "   ", 3)
		assert.Equal(t, ierrors.ErrCodeQueryEmpty, ierrors.GetCode(err))
	})

	t.Run("model mismatch", func(t *testing.T) {
		root, _ := buildIndex(t, map[string]string{"server/health.go": handlerSource})
		other := embed.NewProvider("hash-384")
		defer func() { _ = other.Close() }()
		r, _ := newTestRetriever(t, root, other)

		_, err := r.Query(context.Background(), "health", 3)
		assert.ErrorIs(t, err, ierrors.ErrConfigMismatch)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := NewRetriever(index.NewLayout(t.TempDir()), nil)
		assert.ErrorIs(t, err, ErrNilDependency)
	})
}
