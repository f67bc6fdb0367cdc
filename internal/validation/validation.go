// Package validation measures retrieval quality against a live index.
//
// A query set (YAML) lists positive queries, each with the paths that must
// appear among the confident hits, and negative queries, which must be
// refused with the no-information answer. Queries are sent through the
// query_index MCP tool, so the run exercises the same path an AI client
// takes.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/embed"
	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	rmcp "github.com/Aman-CERP/repoindex/internal/mcp"
	"github.com/Aman-CERP/repoindex/internal/search"
)

// QuerySpec defines a test query with expected results.
type QuerySpec struct {
	ID       string   `yaml:"id" json:"id"`
	Query    string   `yaml:"query" json:"query"`
	Expected []string `yaml:"expected,omitempty" json:"expected,omitempty"` // path prefixes, any one must match
	K        int      `yaml:"k,omitempty" json:"k,omitempty"`
	Notes    string   `yaml:"notes,omitempty" json:"notes,omitempty"`
	Negative bool     `yaml:"-" json:"negative"`
}

// QuerySet holds the queries of one validation file.
type QuerySet struct {
	Positive []QuerySpec `yaml:"positive"`
	Negative []QuerySpec `yaml:"negative"`
}

// LoadQueries reads a query set from path.
func LoadQueries(path string) (*QuerySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read queries file %s: %w", path, err)
	}
	return ParseQueries(data)
}

// ParseQueries decodes a YAML query set. Every query needs text, and every
// positive query at least one expected path.
func ParseQueries(data []byte) (*QuerySet, error) {
	var set QuerySet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse queries YAML: %w", err)
	}
	for i := range set.Positive {
		q := &set.Positive[i]
		if q.ID == "" {
			q.ID = fmt.Sprintf("P%d", i+1)
		}
		if strings.TrimSpace(q.Query) == "" {
			return nil, fmt.Errorf("query %s: empty query", q.ID)
		}
		if len(q.Expected) == 0 {
			return nil, fmt.Errorf("query %s: positive queries need expected paths", q.ID)
		}
	}
	for i := range set.Negative {
		q := &set.Negative[i]
		q.Negative = true
		if q.ID == "" {
			q.ID = fmt.Sprintf("N%d", i+1)
		}
		if strings.TrimSpace(q.Query) == "" {
			return nil, fmt.Errorf("query %s: empty query", q.ID)
		}
	}
	if len(set.Positive)+len(set.Negative) == 0 {
		return nil, fmt.Errorf("query set is empty")
	}
	return &set, nil
}

// TestResult captures the outcome of a single query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Confident  bool          `json:"confident"`
	Confidence int           `json:"confidence"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"` // rank index of the first expected path, -1 if absent
	Error      string        `json:"error,omitempty"`
}

// Result captures a full validation run.
type Result struct {
	Timestamp    time.Time    `json:"timestamp"`
	Model        string       `json:"model"`
	Threshold    float64      `json:"threshold"`
	Chunks       int          `json:"chunks"`
	Positive     []TestResult `json:"positive"`
	Negative     []TestResult `json:"negative"`
	PositivePass int          `json:"positive_pass"`
	NegativePass int          `json:"negative_pass"`
}

// Passed reports whether every query passed.
func (r *Result) Passed() bool {
	return r.PositivePass == len(r.Positive) && r.NegativePass == len(r.Negative)
}

// Failed returns the failing results in run order.
func (r *Result) Failed() []TestResult {
	var out []TestResult
	for _, tr := range append(append([]TestResult(nil), r.Positive...), r.Negative...) {
		if !tr.Passed {
			out = append(out, tr)
		}
	}
	return out
}

// PrintSummary writes a human-readable report.
func (r *Result) PrintSummary(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Model: %s, threshold %.3f, %d chunks\n\n", r.Model, r.Threshold, r.Chunks)
	for _, tr := range append(append([]TestResult(nil), r.Positive...), r.Negative...) {
		status := "PASS"
		if !tr.Passed {
			status = "FAIL"
		}
		_, _ = fmt.Fprintf(w, "[%s] %-6s %3d%% %q", status, tr.Spec.ID, tr.Confidence, tr.Spec.Query)
		if tr.Error != "" {
			_, _ = fmt.Fprintf(w, " (%s)", tr.Error)
		}
		_, _ = fmt.Fprintln(w)
	}
	_, _ = fmt.Fprintf(w, "\nPositive: %d/%d  Negative: %d/%d\n",
		r.PositivePass, len(r.Positive), r.NegativePass, len(r.Negative))
}

// Validator runs validation queries against the MCP bridge of one index.
type Validator struct {
	layout   index.Layout
	provider *embed.Provider
	server   *rmcp.Server
	conn     *mcp.ServerSession
	session  *mcp.ClientSession
}

// NewValidator opens the index under root and connects an in-memory MCP
// client to it. Validation queries are not recorded in the analytics.
func NewValidator(ctx context.Context, root string, cfg *config.Config) (*Validator, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	layout := index.NewLayout(root)
	if !layout.Exists() {
		return nil, ierrors.New(ierrors.ErrCodeNoIndex, "no index found at "+layout.Dir, nil).
			WithSuggestion("run 'repoindex build' first")
	}

	provider := embed.NewProvider(cfg.Index.Model)
	retriever, err := search.NewRetriever(layout, provider, search.WithOptions(search.Options{
		Threshold:     cfg.Retrieval.Threshold,
		ContextBudget: cfg.Retrieval.ContextBudget,
		DefaultK:      cfg.Retrieval.DefaultK,
		Metric:        cfg.Index.Metric,
	}))
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	server, err := rmcp.NewServer(retriever, layout)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	conn, err := server.MCPServer().Connect(ctx, serverTransport, nil)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("failed to start MCP server: %w", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "repoindex-validation", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		_ = conn.Close()
		_ = provider.Close()
		return nil, fmt.Errorf("failed to connect MCP client: %w", err)
	}

	return &Validator{
		layout:   layout,
		provider: provider,
		server:   server,
		conn:     conn,
		session:  session,
	}, nil
}

// Close releases resources.
func (v *Validator) Close() error {
	_ = v.session.Close()
	_ = v.conn.Close()
	return v.provider.Close()
}

// RunQuery executes a single query.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	start := time.Now()
	result := TestResult{Spec: spec, MatchedAt: -1}

	args := map[string]any{"query": spec.Query}
	if spec.K > 0 {
		args["k"] = spec.K
	}
	res, err := v.session.CallTool(ctx, &mcp.CallToolParams{Name: rmcp.ToolQueryIndex, Arguments: args})
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if res.IsError {
		result.Error = "tool error"
		return result
	}

	out, err := decodeOutput(res.StructuredContent)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Error = out.Error
	result.Confident = out.Confident
	result.Confidence = out.Confidence
	for _, h := range out.Hits {
		result.TopResults = append(result.TopResults, h.Path)
	}

	if spec.Negative {
		result.Passed = !out.Confident && out.Error == ""
		return result
	}
	if out.Confident {
		result.MatchedAt = matchExpected(result.TopResults, spec.Expected)
	}
	result.Passed = result.MatchedAt >= 0
	return result
}

// RunAll executes every query of set.
func (v *Validator) RunAll(ctx context.Context, set *QuerySet) *Result {
	result := &Result{
		Timestamp: time.Now().UTC(),
		Threshold: v.server.Status().Retrieval.Threshold,
	}
	if m, err := index.ReadManifest(v.layout.Manifest()); err == nil {
		result.Model = m.Model
		result.Chunks = m.Counts.Chunks
	}

	for _, spec := range set.Positive {
		tr := v.RunQuery(ctx, spec)
		result.Positive = append(result.Positive, tr)
		if tr.Passed {
			result.PositivePass++
		}
	}
	for _, spec := range set.Negative {
		tr := v.RunQuery(ctx, spec)
		result.Negative = append(result.Negative, tr)
		if tr.Passed {
			result.NegativePass++
		}
	}
	return result
}

func decodeOutput(structured any) (*rmcp.QueryIndexOutput, error) {
	if structured == nil {
		return nil, fmt.Errorf("query_index returned no structured content")
	}
	data, err := json.Marshal(structured)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool output: %w", err)
	}
	var out rmcp.QueryIndexOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tool output: %w", err)
	}
	return &out, nil
}

// matchExpected returns the index of the first result under any expected
// path prefix, or -1.
func matchExpected(results, expected []string) int {
	for i, path := range results {
		for _, exp := range expected {
			if path == exp || strings.HasPrefix(path, strings.TrimSuffix(exp, "/")+"/") {
				return i
			}
		}
	}
	return -1
}
