package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/repoindex/internal/chunk"
	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/embed"
	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/pathfilter"
	"github.com/Aman-CERP/repoindex/internal/store"
	"github.com/Aman-CERP/repoindex/internal/vcs"
)

// Build modes reported in BuildResult.Mode.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
	ModeUnchanged   = "unchanged"
)

// CoordinatorConfig contains the dependencies of a Coordinator.
type CoordinatorConfig struct {
	// RootPath is the absolute path to the project root.
	RootPath string

	// Config is the loaded configuration. Defaults are used when nil.
	Config *config.Config

	// Provider is the shared encoder. A private one is created when nil.
	Provider *embed.Provider

	// Progress receives state changes and work counts (optional).
	Progress ProgressFunc
}

// BuildOptions selects what a Build does.
type BuildOptions struct {
	// Force discards the current generation and rebuilds from scratch.
	Force bool
	// Model overrides the configured model id.
	Model string
	// Incremental applies only the changes since the current generation.
	// Without a compatible generation the build is promoted to full.
	Incremental bool
	// MaxFiles caps the files chunked and embedded in one incremental pass
	// (0 = unlimited). Deletions are always applied.
	MaxFiles int
}

// BuildResult summarizes a finished build.
type BuildResult struct {
	Mode string
	// Promoted explains why an incremental request ran as a full build.
	Promoted string

	Files    int
	Chunks   int
	Added    int
	Modified int
	Deleted  int
	Embedded int

	// Deferred lists files left for the next pass by MaxFiles.
	Deferred []string
	Revision string
	Duration time.Duration
	Manifest *Manifest
}

// Coordinator is the single writer of a project's index.
type Coordinator struct {
	layout   Layout
	cfg      *config.Config
	provider *embed.Provider

	progress   ProgressFunc
	progressMu sync.Mutex
	state      atomic.Int32

	now func() time.Time

	// beforeCommit runs after the temp generation is verified and before
	// the first rename.
	beforeCommit func() error
}

// NewCoordinator creates a Coordinator for cfg.RootPath.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}
	info, err := os.Stat(cfg.RootPath)
	if err != nil || !info.IsDir() {
		return nil, ierrors.New(ierrors.ErrCodeFileNotFound, fmt.Sprintf("project root %s is not a directory", cfg.RootPath), err)
	}
	if cfg.Config == nil {
		cfg.Config = config.NewConfig()
	}
	if cfg.Provider == nil {
		cfg.Provider = embed.NewProvider(cfg.Config.Index.Model)
	}
	return &Coordinator{
		layout:   NewLayout(cfg.RootPath),
		cfg:      cfg.Config,
		provider: cfg.Provider,
		progress: cfg.Progress,
		now:      time.Now,
	}, nil
}

// Layout returns the artifact layout.
func (c *Coordinator) Layout() Layout { return c.layout }

// State returns the current build state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State, msg string) {
	c.state.Store(int32(s))
	c.report(Progress{State: s, Message: msg})
}

func (c *Coordinator) report(p Progress) {
	if c.progress == nil {
		return
	}
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	c.progress(p)
}

// NewFilter builds the path filter for root from its ignore list and the
// configured size cap. The ignore list is created with defaults if absent.
func NewFilter(root string, cfg *config.Config) (*pathfilter.Filter, error) {
	list, err := pathfilter.LoadIgnoreList(NewLayout(root).IgnoreFile())
	if err != nil {
		return nil, err
	}
	return pathfilter.New(root, pathfilter.Options{
		Patterns:    list.Patterns(),
		MaxFileSize: cfg.Index.MaxFileSize,
	})
}

// run holds the state of one Build call.
type run struct {
	emb     embed.Embedder
	metric  store.Metric
	filter  *pathfilter.Filter
	chunker *chunk.Chunker
	prev    *Manifest

	records  []store.ChunkRecord
	vectors  *store.HNSWStore
	revision string
	created  time.Time
}

// Build produces a new generation. Another build holding the lock yields
// ErrBuildInProgress; any other failure leaves the previous generation in
// place and is reported as ErrIndexFailed.
func (c *Coordinator) Build(ctx context.Context, opts BuildOptions) (res *BuildResult, err error) {
	start := time.Now()

	c.setState(StateLocking, "")
	defer func() {
		if err != nil {
			c.setState(StateFailed, err.Error())
			if ierrors.GetCode(err) == "" {
				err = ierrors.New(ierrors.ErrCodeIndexFailed, fmt.Sprintf("build failed: %v", err), err)
			}
			slog.Warn("build_failed", slog.String("error", err.Error()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		}
		c.setState(StateIdle, "")
	}()

	if err := c.layout.Ensure(); err != nil {
		return nil, err
	}
	lock := NewBuildLock(c.layout.Lock())
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	if n := c.layout.removeTemps(); n > 0 {
		slog.Info("build_stale_temps_removed", slog.Int("count", n))
	}
	defer c.layout.removeTemps()

	r, err := c.prepare(ctx, opts.Model)
	if err != nil {
		return nil, err
	}

	res = &BuildResult{Mode: ModeFull}
	var gen *Generation
	if opts.Incremental && !opts.Force {
		var reason string
		gen, reason = c.previous(ctx, r)
		if gen == nil {
			res.Promoted = reason
			slog.Info("build_promoted_full", slog.String("reason", reason))
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if gen != nil {
		res.Mode = ModeIncremental
		done, err := c.incremental(ctx, r, gen, opts, res)
		if err != nil {
			return nil, err
		}
		if done {
			res.Duration = time.Since(start)
			return res, nil
		}
	} else if err := c.full(ctx, r, res); err != nil {
		return nil, err
	}

	m, err := c.write(ctx, r)
	if err != nil {
		return nil, err
	}

	res.Files = m.Counts.Files
	res.Chunks = m.Counts.Chunks
	res.Revision = m.Repo.Revision
	res.Manifest = m
	res.Duration = time.Since(start)

	slog.Info("build_complete",
		slog.String("mode", res.Mode),
		slog.Int("files", res.Files),
		slog.Int("chunks", res.Chunks),
		slog.Int("added", res.Added),
		slog.Int("modified", res.Modified),
		slog.Int("deleted", res.Deleted),
		slog.Int("embedded", res.Embedded),
		slog.Int("deferred", len(res.Deferred)),
		slog.String("model", m.Model),
		slog.Int64("duration_ms", res.Duration.Milliseconds()))
	return res, nil
}

// prepare resolves the encoder and chunk settings before anything is
// written, so an unknown model fails without touching the index.
func (c *Coordinator) prepare(ctx context.Context, model string) (*run, error) {
	if model == "" {
		model = c.cfg.Index.Model
	}
	if err := c.provider.Reload(model); err != nil {
		return nil, err
	}
	emb, err := c.provider.Get(ctx)
	if err != nil {
		return nil, err
	}

	metric, err := store.ParseMetric(c.cfg.Index.Metric)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid, err.Error(), err)
	}

	filter, err := NewFilter(c.layout.Root, c.cfg)
	if err != nil {
		return nil, err
	}

	r := &run{
		emb:    emb,
		metric: metric,
		filter: filter,
		chunker: chunk.New(chunk.Options{
			Mode:    chunk.Mode(c.cfg.Index.ChunkMode),
			Lines:   c.cfg.Index.ChunkLines,
			Overlap: c.cfg.Index.ChunkOverlap,
		}),
	}
	if m, err := ReadManifest(c.layout.Manifest()); err == nil {
		r.prev = m
	}
	return r, nil
}

// previous loads the current generation for an incremental build, or
// returns the reason it cannot be used.
func (c *Coordinator) previous(ctx context.Context, r *run) (*Generation, string) {
	if r.prev == nil {
		return nil, "no index"
	}
	if err := r.prev.Compatible(r.emb.ModelName(), r.emb.Dimensions(), string(r.metric)); err != nil {
		return nil, err.Error()
	}
	opts := r.chunker.Options()
	if !r.prev.sameChunking(string(opts.Mode), opts.Lines, opts.Overlap) {
		return nil, "chunk settings changed"
	}

	c.setState(StateVerifying, "checking current index")
	if rep := verifyArtifacts(c.layout.Manifest(), c.layout.Vectors(), c.layout.Meta()); !rep.OK {
		return nil, rep.err().Error()
	}
	gen, err := LoadGeneration(ctx, c.layout)
	if err != nil {
		return nil, err.Error()
	}
	return gen, ""
}

// full chunks and embeds every eligible file.
func (c *Coordinator) full(ctx context.Context, r *run, res *BuildResult) error {
	c.setState(StateScanning, "")
	candidates, walkErrs := r.filter.Walk(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("build_scan_complete",
		slog.Int("files", len(candidates)),
		slog.Int("unreadable", len(walkErrs)))

	paths := make([]string, len(candidates))
	for i, cand := range candidates {
		paths[i] = cand.Path
	}

	pending, err := c.chunkFiles(ctx, r.chunker, paths)
	if err != nil {
		return err
	}
	newRecordIDs(pending, nil)

	vectors, err := store.NewHNSWStore(store.DefaultHNSWConfig(r.emb.Dimensions(), r.metric))
	if err != nil {
		return err
	}
	if err := c.embedChunks(ctx, r.emb, vectors, pending); err != nil {
		return err
	}

	r.vectors = vectors
	r.records = recordsOf(pending)
	r.revision = c.headRevision(ctx)
	r.created = c.timestamp(nil)
	res.Added = len(paths)
	res.Embedded = len(pending)
	return nil
}

// incremental applies the delta since gen to its stores. It returns true
// when nothing changed and only the refresh time was recorded.
func (c *Coordinator) incremental(ctx context.Context, r *run, gen *Generation, opts BuildOptions, res *BuildResult) (bool, error) {
	c.setState(StateScanning, "resolving changes")
	hashes := gen.Meta.FileHashes()
	resolver := NewDeltaResolver(r.filter)
	if fp := r.filter.Fingerprint(); gen.Manifest.Filter != fp {
		resolver.rescan = true
		slog.Info("build_filter_changed", slog.String("previous", gen.Manifest.Filter), slog.String("current", fp))
	}
	delta, err := resolver.Resolve(ctx, gen.Manifest.Repo.Revision, hashes)
	if err != nil {
		return false, err
	}
	slog.Info("build_delta_resolved",
		slog.String("source", delta.Source),
		slog.Int("added", len(delta.Added)),
		slog.Int("modified", len(delta.Modified)),
		slog.Int("deleted", len(delta.Deleted)))

	if delta.Empty() {
		return true, c.touch(gen.Manifest, delta.Revision, r.filter.Fingerprint(), res)
	}

	work := append(append([]string(nil), delta.Added...), delta.Modified...)
	sort.Strings(work)
	if opts.MaxFiles > 0 && len(work) > opts.MaxFiles {
		res.Deferred = append([]string(nil), work[opts.MaxFiles:]...)
		work = work[:opts.MaxFiles]
	}
	inWork := make(map[string]bool, len(work))
	for _, p := range work {
		inWork[p] = true
	}

	drop := make(map[string]bool, len(delta.Deleted)+len(delta.Modified))
	for _, p := range delta.Deleted {
		drop[p] = true
	}
	for _, p := range delta.Modified {
		if inWork[p] {
			drop[p] = true
		}
	}

	kept := make([]store.ChunkRecord, 0, gen.Meta.Len())
	reserved := make(map[uint64]bool, gen.Meta.Len())
	for _, rec := range gen.Meta.Records() {
		if drop[rec.Path] {
			gen.Vectors.Remove(rec.ID)
			continue
		}
		kept = append(kept, rec)
		reserved[rec.ID] = true
	}

	pending, err := c.chunkFiles(ctx, r.chunker, work)
	if err != nil {
		return false, err
	}
	newRecordIDs(pending, reserved)
	if err := c.embedChunks(ctx, r.emb, gen.Vectors, pending); err != nil {
		return false, err
	}

	r.vectors = gen.Vectors
	r.records = append(kept, recordsOf(pending)...)
	r.created = gen.Manifest.CreatedAt
	r.revision = gen.Manifest.Repo.Revision
	if len(res.Deferred) == 0 {
		r.revision = delta.Revision
	}

	for _, p := range work {
		if hashes[p] != "" {
			res.Modified++
		} else {
			res.Added++
		}
	}
	res.Deleted = len(delta.Deleted)
	res.Embedded = len(pending)
	return false, nil
}

// touch records a refresh of an unchanged generation. Only the manifest is
// rewritten.
func (c *Coordinator) touch(m *Manifest, revision, filter string, res *BuildResult) error {
	updated := *m
	updated.LastRefresh = c.timestamp(m)
	updated.Repo.Revision = revision
	updated.Filter = filter
	if err := WriteManifest(c.layout.Manifest(), &updated); err != nil {
		return err
	}
	res.Mode = ModeUnchanged
	res.Files = updated.Counts.Files
	res.Chunks = updated.Counts.Chunks
	res.Revision = updated.Repo.Revision
	res.Manifest = &updated
	slog.Info("build_unchanged", slog.String("revision", updated.Repo.Revision))
	return nil
}

// write persists the run as a temp generation, verifies it and renames it
// into place with the manifest last.
func (c *Coordinator) write(ctx context.Context, r *run) (*Manifest, error) {
	c.setState(StateWriting, "")

	vecTmp := tmpPath(c.layout.Vectors())
	metaTmp := tmpPath(c.layout.Meta())
	manTmp := tmpPath(c.layout.Manifest())

	if err := r.vectors.Save(vecTmp); err != nil {
		return nil, err
	}
	if err := store.WriteMeta(metaTmp, r.records); err != nil {
		return nil, err
	}
	vecSum, err := fileChecksum(vecTmp)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum vectors: %w", err)
	}
	metaSum, err := fileChecksum(metaTmp)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum meta: %w", err)
	}

	files := make(map[string]bool)
	for _, rec := range r.records {
		files[rec.Path] = true
	}
	opts := r.chunker.Options()
	m := &Manifest{
		IndexVersion: IndexVersion,
		Engine:       EngineName,
		Model:        r.emb.ModelName(),
		Dim:          r.emb.Dimensions(),
		Metric:       string(r.metric),
		ChunkMode:    string(opts.Mode),
		Chunk:        ChunkParams{Lines: opts.Lines, Overlap: opts.Overlap},
		Filter:       r.filter.Fingerprint(),
		Repo:         RepoInfo{Root: c.layout.Root, Revision: r.revision},
		Counts:       Counts{Files: len(files), Chunks: len(r.records)},
		Checksums:    Checksums{Vectors: vecSum, Meta: metaSum},
		CreatedAt:    r.created,
		LastRefresh:  c.timestamp(r.prev),
	}
	if err := writeManifestFile(manTmp, m); err != nil {
		return nil, err
	}

	c.setState(StateVerifying, "")
	if rep := verifyArtifacts(manTmp, vecTmp, metaTmp); !rep.OK {
		return nil, rep.err()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.beforeCommit != nil {
		if err := c.beforeCommit(); err != nil {
			return nil, err
		}
	}

	for _, p := range []string{c.layout.Vectors(), c.layout.Meta(), c.layout.Manifest()} {
		if err := os.Rename(tmpPath(p), p); err != nil {
			return nil, fmt.Errorf("failed to commit %s: %w", p, err)
		}
	}
	syncDir(c.layout.Dir)
	return m, nil
}

// timestamp returns the current time in UTC at second precision, never
// earlier than prev.LastRefresh.
func (c *Coordinator) timestamp(prev *Manifest) time.Time {
	now := c.now().UTC().Truncate(time.Second)
	if prev != nil && prev.LastRefresh.After(now) {
		return prev.LastRefresh
	}
	return now
}

func (c *Coordinator) headRevision(ctx context.Context) string {
	repo, err := vcs.Open(ctx, c.layout.Root)
	if err != nil {
		return vcs.NoRevision
	}
	head, err := repo.HeadRevision(ctx)
	if err != nil {
		return vcs.NoRevision
	}
	return head
}

// pendingChunk is a chunk waiting for its vector.
type pendingChunk struct {
	rec  store.ChunkRecord
	text string
}

// chunkFiles reads and chunks paths in parallel. Results keep path order.
// Unreadable files are logged and skipped.
func (c *Coordinator) chunkFiles(ctx context.Context, chunker *chunk.Chunker, paths []string) ([]pendingChunk, error) {
	c.setState(StateChunking, "")
	results := make([][]pendingChunk, len(paths))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for i, rel := range paths {
		g.Go(func() error {
			content, err := os.ReadFile(absPath(c.layout.Root, rel))
			if err != nil {
				slog.Warn("build_read_failed", slog.String("path", rel), slog.String("error", err.Error()))
				return nil
			}
			spans, err := chunker.Chunk(gctx, rel, content)
			if err != nil {
				return err
			}

			fileSum := sha256.Sum256(content)
			fileSHA := hex.EncodeToString(fileSum[:])
			lang := chunk.LanguageFor(rel)
			out := make([]pendingChunk, 0, len(spans))
			for _, sp := range spans {
				sum := sha256.Sum256([]byte(sp.Text))
				out = append(out, pendingChunk{
					rec: store.ChunkRecord{
						Path:       rel,
						Start:      sp.Start,
						End:        sp.End,
						Lang:       lang,
						SHA256:     hex.EncodeToString(sum[:]),
						Preview:    chunk.Preview(sp.Text),
						FileSHA256: fileSHA,
					},
					text: sp.Text,
				})
			}
			results[i] = out
			c.report(Progress{State: StateChunking, Current: int(done.Add(1)), Total: len(paths)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pending []pendingChunk
	for _, r := range results {
		pending = append(pending, r...)
	}
	slog.Info("build_chunking_complete", slog.Int("files", len(paths)), slog.Int("chunks", len(pending)))
	return pending, nil
}

// embedChunks embeds pending in bounded parallel batches and inserts each
// vector under its chunk id.
func (c *Coordinator) embedChunks(ctx context.Context, emb embed.Embedder, vectors *store.HNSWStore, pending []pendingChunk) error {
	c.setState(StateEmbedding, "")
	if len(pending) == 0 {
		return nil
	}

	batchSize := embed.ClampBatchSize(c.cfg.Index.BatchSize)
	embedded := make([][]float32, len(pending))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = pending[start+i].text
			}
			vecs, err := emb.EmbedBatch(gctx, texts)
			if err != nil {
				return ierrors.New(ierrors.ErrCodeEmbeddingFailed,
					fmt.Sprintf("failed to embed chunks %d-%d", start, end), err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			copy(embedded[start:end], vecs)
			c.report(Progress{State: StateEmbedding, Current: int(done.Add(int64(len(vecs)))), Total: len(pending)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	byID := make(map[uint64][]float32, len(pending))
	for i, p := range pending {
		byID[p.rec.ID] = embedded[i]
	}
	ids := make([]uint64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := vectors.Insert(id, byID[id]); err != nil {
			return err
		}
	}
	slog.Info("build_embedding_complete", slog.Int("chunks", len(pending)), slog.String("model", emb.ModelName()))
	return nil
}

func (c *Coordinator) workers() int {
	if c.cfg.Index.Workers > 0 {
		return c.cfg.Index.Workers
	}
	return 1
}

// newRecordIDs assigns ids to pending in record order, avoiding reserved.
func newRecordIDs(pending []pendingChunk, reserved map[uint64]bool) {
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i].rec, pending[j].rec
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})
	recs := recordsOf(pending)
	store.AssignIDs(recs, reserved)
	for i := range pending {
		pending[i].rec.ID = recs[i].ID
	}
}

func recordsOf(pending []pendingChunk) []store.ChunkRecord {
	out := make([]store.ChunkRecord, len(pending))
	for i, p := range pending {
		out[i] = p.rec
	}
	return out
}

// syncDir flushes directory entries after the renames. Not every platform
// can sync a directory, so errors are ignored.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}
