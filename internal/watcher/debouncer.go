package watcher

import (
	"sort"
	"sync"
	"time"
)

// Debouncer collects events and hands them to a callback once no new event
// has arrived for the window. Events for the same path are merged:
//   - CREATE + MODIFY = CREATE
//   - CREATE + DELETE = nothing
//   - DELETE + CREATE = MODIFY
//   - anything else keeps the latest operation
type Debouncer struct {
	window time.Duration
	flushF func([]Event)

	mu      sync.Mutex
	pending map[string]Event
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a Debouncer that calls flush with each batch.
func NewDebouncer(window time.Duration, flush func([]Event)) *Debouncer {
	return &Debouncer{
		window:  window,
		flushF:  flush,
		pending: make(map[string]Event),
	}
}

// Add queues an event and restarts the window.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if prev, ok := d.pending[ev.Path]; ok {
		merged, keep := merge(prev, ev)
		if keep {
			d.pending[ev.Path] = merged
		} else {
			delete(d.pending, ev.Path)
		}
	} else {
		d.pending[ev.Path] = ev
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func merge(prev, next Event) (Event, bool) {
	switch {
	case prev.Op == OpCreate && next.Op == OpModify:
		return prev, true
	case prev.Op == OpCreate && next.Op == OpDelete:
		return Event{}, false
	case prev.Op == OpDelete && next.Op == OpCreate:
		next.Op = OpModify
		return next, true
	case prev.Op == OpRulesChange:
		return prev, true
	}
	return next, true
}

// Pending returns the number of queued paths.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]Event, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]Event)
	d.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	d.flushF(batch)
}

// Stop drops queued events. Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = make(map[string]Event)
}
