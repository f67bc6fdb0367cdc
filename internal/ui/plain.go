package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/Aman-CERP/repoindex/internal/index"
)

// PlainRenderer outputs plain text progress (for CI/pipes). When the output
// is a terminal, counted stages draw a single-line bar instead of log lines.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	useBar  bool
	state   index.State
	started bool
	bar     *progressbar.ProgressBar
	// next percentage at which a counted stage logs a line
	nextPct int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:    cfg.Output,
		useBar: barCapable(cfg.Output),
	}
}

func barCapable(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// Update implements Renderer.
func (r *PlainRenderer) Update(ev index.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || ev.State != r.state {
		r.finishBar()
		r.started = true
		r.state = ev.State
		r.nextPct = 0
		if ev.State == index.StateIdle || ev.State == index.StateFailed {
			return
		}
		if ev.Message != "" {
			_, _ = fmt.Fprintf(r.out, "[%s] %s\n", StageIcon(ev.State), ev.Message)
		} else if ev.Total == 0 {
			_, _ = fmt.Fprintf(r.out, "[%s]\n", StageIcon(ev.State))
		}
	}
	if ev.Total <= 0 {
		return
	}

	if r.useBar {
		if r.bar == nil {
			r.bar = newBar(r.out, ev.Total, StageIcon(ev.State))
		}
		_ = r.bar.Set(ev.Current)
		return
	}

	// Without a terminal, log every 25%.
	pct := ev.Current * 100 / ev.Total
	if pct >= r.nextPct {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d\n", StageIcon(ev.State), ev.Current, ev.Total)
		r.nextPct = (pct/25 + 1) * 25
	}
}

func newBar(w io.Writer, total int, label string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(fmt.Sprintf("[%s]", label)),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// finishBar must be called with the lock held.
func (r *PlainRenderer) finishBar() {
	if r.bar == nil {
		return
	}
	_ = r.bar.Finish()
	r.bar = nil
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(res *index.BuildResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishBar()
	_, _ = io.WriteString(r.out, FormatSummary(res))
}

// Fail implements Renderer.
func (r *PlainRenderer) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishBar()
	_, _ = fmt.Fprintf(r.out, "ERROR: %v\n", err)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishBar()
	return nil
}

// FormatSummary renders the plain text summary of a finished build.
func FormatSummary(res *index.BuildResult) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	if res.Mode == index.ModeUnchanged {
		fmt.Fprintf(&b, "Index up to date: %d files, %d chunks (%s)\n",
			res.Files, res.Chunks, roundDuration(res.Duration))
		return b.String()
	}

	fmt.Fprintf(&b, "Complete: %s build, %d files, %d chunks in %s\n",
		res.Mode, res.Files, res.Chunks, roundDuration(res.Duration))
	if res.Mode == index.ModeIncremental {
		fmt.Fprintf(&b, "  added %d, modified %d, deleted %d, embedded %d\n",
			res.Added, res.Modified, res.Deleted, res.Embedded)
	} else {
		fmt.Fprintf(&b, "  embedded %d chunks\n", res.Embedded)
	}
	if res.Promoted != "" {
		fmt.Fprintf(&b, "  ran as full build: %s\n", res.Promoted)
	}
	if n := len(res.Deferred); n > 0 {
		fmt.Fprintf(&b, "  %d files deferred to the next refresh\n", n)
	}
	if m := res.Manifest; m != nil {
		fmt.Fprintf(&b, "Model: %s (%d dims, %s)\n", m.Model, m.Dim, m.Metric)
	}
	return b.String()
}

func roundDuration(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(100 * time.Millisecond)
}
