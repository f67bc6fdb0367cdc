package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/repoindex/internal/embed"
	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/store"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
)

// Options configures a Retriever.
type Options struct {
	Threshold     float64
	ContextBudget int
	DefaultK      int
	Metric        string
}

// DefaultOptions returns the default retrieval options.
func DefaultOptions() Options {
	return Options{
		Threshold:     DefaultThreshold,
		ContextBudget: DefaultContextBudget,
		DefaultK:      DefaultK,
		Metric:        string(store.MetricCosine),
	}
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithAnalytics records every query in a.
func WithAnalytics(a *telemetry.Store) Option {
	return func(r *Retriever) {
		r.analytics = a
	}
}

// WithOptions replaces the retrieval options.
func WithOptions(o Options) Option {
	return func(r *Retriever) {
		r.opts = o
	}
}

// Retriever serves read-only queries against the current generation of an
// index. The loaded generation is reused until the manifest changes.
type Retriever struct {
	layout    index.Layout
	provider  *embed.Provider
	analytics *telemetry.Store
	opts      Options

	mu  sync.Mutex
	gen *index.Generation
}

// NewRetriever creates a Retriever over the index at layout. The provider
// is shared with the build side so the encoder is loaded once.
func NewRetriever(layout index.Layout, provider *embed.Provider, opts ...Option) (*Retriever, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrNilDependency)
	}
	r := &Retriever{
		layout:   layout,
		provider: provider,
		opts:     DefaultOptions(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.opts.DefaultK <= 0 {
		r.opts.DefaultK = DefaultK
	}
	if r.opts.Metric == "" {
		r.opts.Metric = string(store.MetricCosine)
	}
	return r, nil
}

// Threshold returns the confidence gate in use.
func (r *Retriever) Threshold() float64 { return r.opts.Threshold }

// SetThreshold overrides the confidence gate. Values are clamped to [0,1].
func (r *Retriever) SetThreshold(t float64) {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	r.opts.Threshold = t
}

// Query embeds text, searches the index and applies the confidence gate.
// Every completed query is recorded in the analytics store.
func (r *Retriever) Query(ctx context.Context, text string, k int) (*Result, error) {
	start := time.Now()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ierrors.New(ierrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if k <= 0 {
		k = r.opts.DefaultK
	}
	if k > MaxK {
		k = MaxK
	}

	gen, err := r.generation(ctx)
	if err != nil {
		return nil, err
	}

	emb, err := r.provider.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := gen.Manifest.Compatible(emb.ModelName(), emb.Dimensions(), r.opts.Metric); err != nil {
		return nil, err
	}

	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeEmbeddingFailed, "failed to embed query", err)
	}
	found, err := gen.Vectors.Search(ctx, vec, k)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeSearchFailed, "vector search failed", err)
	}

	res := &Result{
		Query:     text,
		K:         k,
		Threshold: r.opts.Threshold,
		Hits:      []Hit{},
		Model:     gen.Manifest.Model,
	}
	if len(found) > 0 {
		res.Confidence = found[0].Score
	}
	res.Confident = len(found) > 0 && Passes(res.Confidence, r.opts.Threshold)

	if res.Confident {
		res.Hits = r.join(gen, found)
		res.Context, res.Items, res.Truncated = BuildContext(res.Hits, r.opts.ContextBudget)
		res.Summary = Summary(res.Confidence, res.Items)
	}

	res.Duration = time.Since(start)
	res.DurationMs = res.Duration.Milliseconds()

	r.record(ctx, res.Confident)

	slog.Debug("query_complete",
		slog.Int("k", k),
		slog.Int("found", len(found)),
		slog.Bool("confident", res.Confident),
		slog.Float64("confidence", float64(res.Confidence)),
		slog.Int64("duration_ms", res.DurationMs))

	return res, nil
}

// QueryContext returns the context block to attach for text, or "" when
// nothing should be attached. Failures are logged and treated as no
// context.
func (r *Retriever) QueryContext(ctx context.Context, text string) string {
	res, err := r.Query(ctx, text, 0)
	if err != nil {
		slog.Debug("query_context_unavailable", slog.String("error", err.Error()))
		return ""
	}
	if !res.Confident || res.Items == 0 {
		return ""
	}
	return fmt.Sprintf("Retrieved context (%s):\n\n%s", res.Summary, res.Context)
}

// generation returns the loaded generation, reloading it when the manifest
// on disk no longer matches.
func (r *Retriever) generation(ctx context.Context) (*index.Generation, error) {
	m, err := index.ReadManifest(r.layout.Manifest())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen != nil && sameGeneration(r.gen.Manifest, m) {
		return r.gen, nil
	}
	gen, err := index.LoadGeneration(ctx, r.layout)
	if err != nil {
		return nil, err
	}
	r.gen = gen
	slog.Debug("generation_loaded",
		slog.Int("chunks", gen.Manifest.Counts.Chunks),
		slog.String("model", gen.Manifest.Model))
	return gen, nil
}

func sameGeneration(a, b *index.Manifest) bool {
	return a.Checksums == b.Checksums && a.Model == b.Model && a.Dim == b.Dim && a.Metric == b.Metric
}

// join attaches metadata to vector hits. Hits without a meta record are
// dropped.
func (r *Retriever) join(gen *index.Generation, found []store.VectorResult) []Hit {
	hits := make([]Hit, 0, len(found))
	for _, f := range found {
		rec, ok := gen.Meta.ByID(f.ID)
		if !ok {
			slog.Warn("query_orphan_vector", slog.Uint64("id", f.ID))
			continue
		}
		h := Hit{
			Rank:    len(hits) + 1,
			Score:   f.Score,
			ID:      rec.ID,
			Path:    rec.Path,
			Start:   rec.Start,
			End:     rec.End,
			Lang:    rec.Lang,
			Preview: rec.Preview,
		}
		h.Text, h.Stale = r.chunkText(rec)
		hits = append(hits, h)
	}
	return hits
}

// chunkText reads the chunk's lines from the working tree. When the file
// has changed since indexing the stored preview is returned instead.
func (r *Retriever) chunkText(rec store.ChunkRecord) (string, bool) {
	data, err := os.ReadFile(r.layout.Path(rec.Path))
	if err != nil {
		return rec.Preview, true
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if rec.Start < 1 || rec.End > len(lines) || rec.Start > rec.End {
		return rec.Preview, true
	}
	text := strings.Join(lines[rec.Start-1:rec.End], "\n")
	sum := sha256.Sum256([]byte(text))
	if hex.EncodeToString(sum[:]) != rec.SHA256 {
		return rec.Preview, true
	}
	return text, false
}

func (r *Retriever) record(ctx context.Context, hit bool) {
	if r.analytics == nil {
		return
	}
	if err := r.analytics.RecordQuery(ctx, hit); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("analytics_update_failed", slog.String("error", err.Error()))
	}
}
