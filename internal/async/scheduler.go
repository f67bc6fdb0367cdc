package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
)

// Defaults for the refresh scheduler.
const (
	DefaultMinInterval     = 5 * time.Minute
	DefaultMaxFilesPerPass = 200
)

// BuildFunc runs one build. It is normally (*index.Coordinator).Build.
type BuildFunc func(ctx context.Context, opts index.BuildOptions) (*index.BuildResult, error)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Layout locates the index; FirstRun uses it to detect a missing index.
	Layout index.Layout

	// Enabled gates every pass.
	Enabled bool

	MinInterval     time.Duration
	MaxFilesPerPass int

	// Trigger runs the build.
	Trigger BuildFunc

	// Analytics receives last_attempt_ts for every pass. Optional.
	Analytics *telemetry.Store

	// Progress tracks passes for status reporting. Optional.
	Progress *Progress
}

// Scheduler runs incremental builds in the background, at most once per
// MinInterval. Passes are triggered by the interval elapsing or by Notify.
type Scheduler struct {
	cfg SchedulerConfig

	notifyCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	passMu  sync.Mutex
	lastRun time.Time
	now     func() time.Time
}

// NewScheduler creates a Scheduler. Zero limits take the defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxFilesPerPass <= 0 {
		cfg.MaxFilesPerPass = DefaultMaxFilesPerPass
	}
	if cfg.Progress == nil {
		cfg.Progress = NewProgress()
	}
	return &Scheduler{
		cfg:      cfg,
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Progress returns the progress tracker fed by this scheduler.
func (s *Scheduler) Progress() *Progress { return s.cfg.Progress }

// IsRunning returns true between Start and Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins the scheduling loop in a background goroutine. The first
// periodic pass happens MinInterval after Start.
// This is non-blocking and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.passMu.Lock()
	if s.lastRun.IsZero() {
		s.lastRun = s.now()
	}
	s.passMu.Unlock()

	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for it and any FirstRun build.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	s.wg.Wait()
}

// Notify requests a pass. It never blocks; the pass runs once MinInterval
// has elapsed since the previous one.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(s.untilDue())
	defer timer.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.notifyCh:
			pending = true
		case <-timer.C:
			pending = true
		}

		if !pending {
			continue
		}
		if wait := s.untilDue(); wait > 0 {
			timer.Reset(wait)
			continue
		}
		pending = false

		_, _ = s.RunOnce(ctx)
		timer.Reset(s.cfg.MinInterval)
	}
}

// untilDue returns how long until the next pass may run.
func (s *Scheduler) untilDue() time.Duration {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	if s.lastRun.IsZero() {
		return 0
	}
	wait := s.cfg.MinInterval - s.now().Sub(s.lastRun)
	if wait < 0 {
		return 0
	}
	return wait
}

// RunOnce runs one incremental pass now, regardless of MinInterval.
// Lock contention and build failures are logged and returned; the next
// eligible trigger retries.
func (s *Scheduler) RunOnce(ctx context.Context) (*index.BuildResult, error) {
	s.passMu.Lock()
	s.lastRun = s.now()
	s.passMu.Unlock()

	s.recordAttempt(ctx)

	if !s.cfg.Enabled {
		slog.Debug("refresh_skipped_disabled")
		return nil, ierrors.ErrIndexDisabled
	}
	return s.run(ctx, index.BuildOptions{Incremental: true, MaxFiles: s.cfg.MaxFilesPerPass})
}

// FirstRun starts a background full build when indexing is enabled and no
// index exists yet. It reports whether a build was started.
func (s *Scheduler) FirstRun(ctx context.Context) bool {
	if !s.cfg.Enabled {
		return false
	}
	if _, err := os.Stat(s.cfg.Layout.Manifest()); err == nil {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.passMu.Lock()
		s.lastRun = s.now()
		s.passMu.Unlock()
		s.recordAttempt(ctx)
		_, _ = s.run(ctx, index.BuildOptions{})
	}()
	return true
}

func (s *Scheduler) run(ctx context.Context, opts index.BuildOptions) (*index.BuildResult, error) {
	if s.cfg.Trigger == nil {
		return nil, errors.New("refresh: no build trigger configured")
	}

	s.cfg.Progress.Begin()
	res, err := s.trigger(ctx, opts)
	s.cfg.Progress.Finish(res, err)

	switch {
	case err == nil:
		slog.Info("refresh_pass_complete",
			slog.String("mode", res.Mode),
			slog.Int("added", res.Added),
			slog.Int("modified", res.Modified),
			slog.Int("deleted", res.Deleted),
			slog.Int("deferred", len(res.Deferred)),
			slog.Int64("duration_ms", res.Duration.Milliseconds()))
	case errors.Is(err, ierrors.ErrBuildInProgress):
		slog.Debug("refresh_skipped_locked")
	case errors.Is(err, context.Canceled):
		slog.Debug("refresh_cancelled")
	default:
		slog.Warn("refresh_failed", slog.String("error", err.Error()))
	}
	return res, err
}

// trigger runs the build, reporting a panic as a failed build so a
// background pass cannot take the host process down.
func (s *Scheduler) trigger(ctx context.Context, opts index.BuildOptions) (res *index.BuildResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("refresh_panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			res, err = nil, ierrors.New(ierrors.ErrCodeIndexFailed, fmt.Sprintf("build panicked: %v", r), nil)
		}
	}()
	return s.cfg.Trigger(ctx, opts)
}

func (s *Scheduler) recordAttempt(ctx context.Context) {
	if s.cfg.Analytics == nil {
		return
	}
	if err := s.cfg.Analytics.RecordAttempt(ctx); err != nil {
		slog.Debug("analytics_attempt_failed", slog.String("error", err.Error()))
	}
}
