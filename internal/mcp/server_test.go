package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/async"
	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/embed"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/search"
	"github.com/Aman-CERP/repoindex/internal/store"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
)

const retryDoc = `Retries use exponential backoff starting at 100 milliseconds.
The delay doubles after each failed attempt and is capped at 30 seconds.
After five attempts the client gives up and returns the last error.`

// newTestServer builds an index over files (none when files is nil) and
// returns a server plus a connected client session.
func newTestServer(t *testing.T, files map[string]string) (*Server, *mcp.ClientSession, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}

	cfg := config.NewConfig()
	cfg.Index.Workers = 2
	provider := embed.NewProvider(cfg.Index.Model)
	t.Cleanup(func() { _ = provider.Close() })

	if files != nil {
		c, err := index.NewCoordinator(index.CoordinatorConfig{RootPath: root, Config: cfg, Provider: provider})
		require.NoError(t, err)
		_, err = c.Build(context.Background(), index.BuildOptions{})
		require.NoError(t, err)
	}

	layout := index.NewLayout(root)
	analytics := telemetry.NewStore(layout.Analytics(), layout.AnalyticsLock())
	retriever, err := search.NewRetriever(layout, provider, search.WithAnalytics(analytics))
	require.NoError(t, err)

	srv, err := NewServer(retriever, layout)
	require.NoError(t, err)

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return srv, session, root
}

// firstChunkText returns the exact text of the first chunk of rel.
func firstChunkText(t *testing.T, root, rel string) string {
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

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func structured(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	m, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok, "expected structured content, got %T", res.StructuredContent)
	return m
}

// =============================================================================
// Construction
// =============================================================================

func TestNewServer_RequiresRetriever(t *testing.T) {
	_, err := NewServer(nil, index.NewLayout(t.TempDir()))
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	srv, session, _ := newTestServer(t, nil)

	// Given: the tools the server advertises locally
	local := srv.ListTools()
	require.Len(t, local, 2)

	// When: the client lists tools over the protocol
	listed, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	// Then: both are registered
	var names []string
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolQueryIndex, ToolIndexStatus}, names)
}

// =============================================================================
// query_index
// =============================================================================

func TestQueryIndex_ConfidentReturnsContext(t *testing.T) {
	// Given: an index over one document
	_, session, root := newTestServer(t, map[string]string{"docs/retry.txt": retryDoc})
	query := firstChunkText(t, root, "docs/retry.txt")

	// When: querying with the chunk text itself
	res := callTool(t, session, ToolQueryIndex, map[string]any{"query": query})

	// Then: a context block with the snippet and a confident output
	assert.False(t, res.IsError)
	got := text(t, res)
	assert.True(t, strings.HasPrefix(got, "Retrieved context ("), got)
	assert.Contains(t, got, "docs/retry.txt:1-3")
	assert.Contains(t, got, "exponential backoff")

	out := structured(t, res)
	assert.Equal(t, true, out["confident"])
	assert.Equal(t, float64(100), out["confidence"])
	hits, ok := out["hits"].([]any)
	require.True(t, ok)
	require.Len(t, hits, 1)
}

func TestQueryIndex_UnrelatedQueryHasNoInformation(t *testing.T) {
	_, session, _ := newTestServer(t, map[string]string{"docs/retry.txt": retryDoc})

	res := callTool(t, session, ToolQueryIndex, map[string]any{"query": "zebra quantum pineapple"})

	assert.False(t, res.IsError)
	assert.Equal(t, search.NoInformation, text(t, res))
	assert.Equal(t, false, structured(t, res)["confident"])
}

func TestQueryIndex_NoIndexDegrades(t *testing.T) {
	// Given: no index has been built
	_, session, _ := newTestServer(t, nil)

	// When
	res := callTool(t, session, ToolQueryIndex, map[string]any{"query": "retry backoff"})

	// Then: not a tool error, just no information with a reason
	assert.False(t, res.IsError)
	assert.Equal(t, search.NoInformation, text(t, res))
	assert.Contains(t, structured(t, res)["error"], "no index found")
}

func TestQueryIndex_NoIndexWhileBuilding(t *testing.T) {
	srv, session, _ := newTestServer(t, nil)
	progress := async.NewProgress()
	progress.Begin()
	progress.Observe(index.Progress{State: index.StateEmbedding, Current: 1, Total: 4})
	srv.SetScheduler(async.NewScheduler(async.SchedulerConfig{Layout: srv.layout, Progress: progress}))

	res := callTool(t, session, ToolQueryIndex, map[string]any{"query": "retry backoff"})

	assert.Contains(t, structured(t, res)["error"], "Index is being built (embedding")
}

func TestQueryIndex_EmptyQueryIsToolError(t *testing.T) {
	_, session, _ := newTestServer(t, nil)

	res := callTool(t, session, ToolQueryIndex, map[string]any{"query": ""})

	assert.True(t, res.IsError)
}

// =============================================================================
// index_status
// =============================================================================

func TestIndexStatus_Ready(t *testing.T) {
	_, session, root := newTestServer(t, map[string]string{"docs/retry.txt": retryDoc})
	query := firstChunkText(t, root, "docs/retry.txt")
	callTool(t, session, ToolQueryIndex, map[string]any{"query": query})

	res := callTool(t, session, ToolIndexStatus, map[string]any{})

	assert.False(t, res.IsError)
	out := structured(t, res)
	assert.Equal(t, "ready", out["state"])
	idx := out["index"].(map[string]any)
	assert.Equal(t, "hash-256", idx["model"])
	assert.Equal(t, float64(1), idx["file_count"])
	retrieval := out["retrieval"].(map[string]any)
	assert.Equal(t, float64(1), retrieval["queries"])
	assert.Equal(t, float64(1), retrieval["hits"])
	assert.Nil(t, out["refresh"])
}

func TestIndexStatus_ReportsScheduler(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	srv.SetScheduler(async.NewScheduler(async.SchedulerConfig{Layout: srv.layout}))

	out := srv.Status()

	assert.Equal(t, "missing", out.State)
	require.NotNil(t, out.Refresh)
	assert.Equal(t, "idle", out.Refresh.Status)
}

func TestQueryIndex_RetrievalDisabled(t *testing.T) {
	srv, session, root := newTestServer(t, map[string]string{"docs/retry.txt": retryDoc})
	query := firstChunkText(t, root, "docs/retry.txt")
	srv.DisableRetrieval()

	res := callTool(t, session, ToolQueryIndex, map[string]any{"query": query})

	assert.Equal(t, search.NoInformation, text(t, res))
	assert.Contains(t, structured(t, res)["error"], "disabled")
}
