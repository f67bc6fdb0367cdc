package ui

import (
	"sync"
	"time"

	"github.com/Aman-CERP/repoindex/internal/index"
)

// ProgressTracker folds coordinator progress into per-stage counters,
// throughput and ETA. It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.Mutex
	now        func() time.Time
	state      index.State
	current    int
	total      int
	message    string
	startTime  time.Time
	stageStart time.Time

	// ETA smoothing
	lastETA time.Duration

	lastCurrent   int
	lastSpeedCalc time.Time
	currentSpeed  float64
	avgSpeed      float64
	speedSamples  int
}

// ProgressStats is a snapshot of the tracker.
type ProgressStats struct {
	State    index.State
	Current  int
	Total    int
	Progress float64
	ETA      time.Duration
	Elapsed  time.Duration
	Message  string
	Speed    float64 // items/sec, smoothed
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		now:           now,
		state:         index.StateLocking,
		startTime:     t,
		stageStart:    t,
		lastSpeedCalc: t,
	}
}

// Observe applies one coordinator progress event. A state change resets
// the stage counters.
func (p *ProgressTracker) Observe(ev index.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if ev.State != p.state {
		p.state = ev.State
		p.current = 0
		p.total = 0
		p.message = ""
		p.stageStart = now
		p.lastETA = 0
		p.lastCurrent = 0
		p.lastSpeedCalc = now
		p.currentSpeed = 0
		p.avgSpeed = 0
		p.speedSamples = 0
	}
	if ev.Message != "" {
		p.message = ev.Message
	}
	if ev.Total > 0 {
		p.total = ev.Total
	}
	if ev.Current > p.current {
		p.current = ev.Current
	}

	// Sample speed at most twice a second to avoid noise
	elapsed := now.Sub(p.lastSpeedCalc)
	if elapsed >= 500*time.Millisecond {
		if delta := p.current - p.lastCurrent; delta > 0 {
			speed := float64(delta) / elapsed.Seconds()
			p.currentSpeed = speed
			p.speedSamples++
			if p.speedSamples == 1 {
				p.avgSpeed = speed
			} else {
				p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
			}
		}
		p.lastCurrent = p.current
		p.lastSpeedCalc = now
	}
}

// Stats returns the current snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		State:    p.state,
		Current:  p.current,
		Total:    p.total,
		Progress: p.fraction(),
		ETA:      p.calculateETA(),
		Elapsed:  p.now().Sub(p.startTime),
		Message:  p.message,
		Speed:    p.avgSpeed,
	}
}

// Elapsed returns time since tracker creation.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(p.startTime)
}

func (p *ProgressTracker) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	f := float64(p.current) / float64(p.total)
	if f > 1 {
		return 1
	}
	return f
}

// etaSmoothingFactor is the weight of a new ETA sample.
const etaSmoothingFactor = 0.3

// calculateETA must be called with the lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	progress := p.fraction()
	if progress <= 0 || progress >= 1 {
		return 0
	}

	elapsed := p.now().Sub(p.stageStart)
	rawRemaining := time.Duration(float64(elapsed)/progress) - elapsed
	if rawRemaining < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = rawRemaining
		return rawRemaining
	}

	smoothed := time.Duration(
		etaSmoothingFactor*float64(rawRemaining) +
			(1-etaSmoothingFactor)*float64(p.lastETA),
	)
	p.lastETA = smoothed
	return smoothed
}
