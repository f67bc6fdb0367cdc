package ui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
)

// Index states reported by CollectStatus.
const (
	IndexMissing  = "missing"
	IndexReady    = "ready"
	IndexBuilding = "building"
	IndexCorrupt  = "corrupt"
)

// StatusInfo contains index health information.
type StatusInfo struct {
	Root  string `json:"root"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`

	Model       string    `json:"model,omitempty"`
	Dim         int       `json:"dim,omitempty"`
	Metric      string    `json:"metric,omitempty"`
	ChunkMode   string    `json:"chunk_mode,omitempty"`
	Files       int       `json:"files"`
	Chunks      int       `json:"chunks"`
	Revision    string    `json:"revision,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	LastRefresh time.Time `json:"last_refresh,omitzero"`

	// Storage sizes in bytes
	VectorSize int64 `json:"vector_size"`
	MetaSize   int64 `json:"meta_size"`
	TotalSize  int64 `json:"total_size"`

	BuilderPID int `json:"builder_pid,omitempty"`

	Queries       uint64     `json:"queries"`
	Hits          uint64     `json:"hits"`
	Misses        uint64     `json:"misses"`
	HitRatio      float64    `json:"hit_ratio"`
	LastQueryTS   *time.Time `json:"last_query_ts,omitempty"`
	LastAttemptTS *time.Time `json:"last_attempt_ts,omitempty"`
}

// CollectStatus reads the manifest, artifact sizes, lock owner and
// analytics of layout. It never fails; problems are reported in State and
// Error.
func CollectStatus(layout index.Layout) StatusInfo {
	info := StatusInfo{Root: layout.Root, State: IndexMissing}

	m, err := index.ReadManifest(layout.Manifest())
	switch {
	case err == nil:
		info.State = IndexReady
		info.Model = m.Model
		info.Dim = m.Dim
		info.Metric = m.Metric
		info.ChunkMode = m.ChunkMode
		info.Files = m.Counts.Files
		info.Chunks = m.Counts.Chunks
		info.Revision = m.Repo.Revision
		info.CreatedAt = m.CreatedAt
		info.LastRefresh = m.LastRefresh
	case errors.Is(err, ierrors.ErrNoIndex):
	default:
		info.State = IndexCorrupt
		info.Error = err.Error()
	}

	info.VectorSize = fileSize(layout.Vectors())
	info.MetaSize = fileSize(layout.Meta())
	info.TotalSize = info.VectorSize + info.MetaSize + fileSize(layout.Manifest())

	lock := index.NewBuildLock(layout.Lock())
	if pid, err := lock.Owner(); err == nil && !lock.Stale() {
		info.BuilderPID = pid
		if info.State == IndexMissing {
			info.State = IndexBuilding
		}
	}

	a, err := telemetry.NewStore(layout.Analytics(), layout.AnalyticsLock()).Load()
	if err == nil {
		info.Queries = a.Queries
		info.Hits = a.Hits
		info.Misses = a.Misses
		info.HitRatio = a.HitRatio()
		info.LastQueryTS = a.LastQueryTS
		info.LastAttemptTS = a.LastAttemptTS
	}
	return info
}

func fileSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
		now:    time.Now,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status: "+info.Root))
	_, _ = fmt.Fprintf(r.out, "  State:        %s\n", r.renderState(info.State))
	if info.Error != "" {
		_, _ = fmt.Fprintf(r.out, "  Error:        %s\n", info.Error)
	}
	if info.BuilderPID > 0 {
		_, _ = fmt.Fprintf(r.out, "  Builder PID:  %d\n", info.BuilderPID)
	}
	if info.State == IndexMissing {
		_, _ = fmt.Fprintln(r.out, "\n  Run 'repoindex build' to create the index.")
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "  Model:        %s (%d dims, %s)\n", info.Model, info.Dim, info.Metric)
	_, _ = fmt.Fprintf(r.out, "  Chunking:     %s\n", info.ChunkMode)
	_, _ = fmt.Fprintf(r.out, "  Files:        %d\n", info.Files)
	_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", info.Chunks)
	if info.Revision != "" {
		_, _ = fmt.Fprintf(r.out, "  Revision:     %s\n", info.Revision)
	}
	if !info.LastRefresh.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last refresh: %s\n", r.formatTime(info.LastRefresh))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Vectors:    %s\n", FormatBytes(info.VectorSize))
	_, _ = fmt.Fprintf(r.out, "    Metadata:   %s\n", FormatBytes(info.MetaSize))
	_, _ = fmt.Fprintf(r.out, "    Total:      %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Retrieval:")
	_, _ = fmt.Fprintf(r.out, "    Queries:    %d (%d hits, %d misses, %.0f%% hit ratio)\n",
		info.Queries, info.Hits, info.Misses, info.HitRatio*100)
	if info.LastQueryTS != nil {
		_, _ = fmt.Fprintf(r.out, "    Last query: %s\n", r.formatTime(*info.LastQueryTS))
	}
	if info.LastAttemptTS != nil {
		_, _ = fmt.Fprintf(r.out, "    Last build attempt: %s\n", r.formatTime(*info.LastAttemptTS))
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case IndexReady:
		return r.styles.Success.Render(state)
	case IndexMissing, IndexBuilding:
		return r.styles.Warning.Render(state)
	case IndexCorrupt:
		return r.styles.Error.Render(state)
	default:
		return state
	}
}

func (r *StatusRenderer) formatTime(t time.Time) string {
	diff := r.now().Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
