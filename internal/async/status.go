// Package async runs index maintenance in the background.
package async

import (
	"sync"
	"time"

	"github.com/Aman-CERP/repoindex/internal/index"
)

// RefreshStatus represents the overall state of background maintenance.
type RefreshStatus string

const (
	// StatusIdle indicates no pass is running.
	StatusIdle RefreshStatus = "idle"
	// StatusRefreshing indicates a build pass is in progress.
	StatusRefreshing RefreshStatus = "refreshing"
	// StatusError indicates the last pass failed.
	StatusError RefreshStatus = "error"
)

// ProgressSnapshot is an immutable snapshot of maintenance progress.
type ProgressSnapshot struct {
	Status         string     `json:"status"`
	Stage          string     `json:"stage"`
	Current        int        `json:"current"`
	Total          int        `json:"total"`
	ProgressPct    float64    `json:"progress_pct"`
	Passes         int        `json:"passes"`
	LastMode       string     `json:"last_mode,omitempty"`
	LastPassAt     *time.Time `json:"last_pass_at,omitempty"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of background builds. Observe is
// an index.ProgressFunc.
type Progress struct {
	mu sync.RWMutex

	status       RefreshStatus
	stage        index.State
	current      int
	total        int
	passes       int
	lastMode     string
	lastPassAt   time.Time
	startTime    time.Time
	errorMessage string
}

// NewProgress creates an idle progress tracker.
func NewProgress() *Progress {
	return &Progress{status: StatusIdle}
}

// Begin marks the start of a pass.
func (p *Progress) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusRefreshing
	p.stage = index.StateLocking
	p.current, p.total = 0, 0
	p.startTime = time.Now()
}

// Observe records a build progress update.
func (p *Progress) Observe(ev index.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = ev.State
	p.current = ev.Current
	p.total = ev.Total
}

// Finish records the outcome of a pass.
func (p *Progress) Finish(res *index.BuildResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.passes++
	p.lastPassAt = time.Now().UTC()
	p.stage = index.StateIdle
	if err != nil {
		p.status = StatusError
		p.errorMessage = err.Error()
		return
	}
	p.status = StatusIdle
	p.errorMessage = ""
	if res != nil {
		p.lastMode = res.Mode
	}
}

// IsRefreshing returns true while a pass is running.
func (p *Progress) IsRefreshing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusRefreshing
}

// Snapshot returns an immutable copy of the current progress state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var progressPct float64
	if p.total > 0 {
		progressPct = float64(p.current) / float64(p.total) * 100.0
	}

	snap := ProgressSnapshot{
		Status:       string(p.status),
		Stage:        p.stage.String(),
		Current:      p.current,
		Total:        p.total,
		ProgressPct:  progressPct,
		Passes:       p.passes,
		LastMode:     p.lastMode,
		ErrorMessage: p.errorMessage,
	}
	if p.status == StatusRefreshing {
		snap.ElapsedSeconds = int(time.Since(p.startTime).Seconds())
	}
	if !p.lastPassAt.IsZero() {
		at := p.lastPassAt
		snap.LastPassAt = &at
	}
	return snap
}
