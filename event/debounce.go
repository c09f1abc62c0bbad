package event

import (
	"sync"
	"time"
)

// DefaultDebounceWindow is the quiet period applied before a burst of events
// triggers a re-aggregation.
const DefaultDebounceWindow = 250 * time.Millisecond

// Debouncer coalesces bursts of events behind a quiet window and invokes a
// callback once per burst with the de-duplicated entity ids. Rapid inserts on
// one scope then cost a single re-aggregation instead of one per event.
type Debouncer struct {
	window time.Duration
	fire   func(entityIDs []string)

	mu       sync.Mutex
	pending  map[string]struct{}
	timer    *time.Timer
	lastSeen time.Time
	stopped  bool
}

// NewDebouncer builds a Debouncer. A non-positive window falls back to
// DefaultDebounceWindow.
func NewDebouncer(window time.Duration, fire func(entityIDs []string)) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{
		window:  window,
		fire:    fire,
		pending: make(map[string]struct{}),
	}
}

// Observe records one event occurrence and (re)arms the quiet window.
// Duplicate entity ids within a window collapse to one.
func (d *Debouncer) Observe(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.pending[ev.EntityID] = struct{}{}
	d.lastSeen = time.Now()
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.flush)
	} else {
		d.timer.Reset(d.window)
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.timer = nil
		d.mu.Unlock()
		return
	}
	// An Observe may have slipped in after this timer fired but before the
	// lock was taken; its Reset then came too late. Wait out the remainder
	// of its quiet window instead of emitting early.
	if remain := d.window - time.Since(d.lastSeen); remain > 0 {
		d.timer.Reset(remain)
		d.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	d.pending = make(map[string]struct{})
	d.timer = nil
	d.mu.Unlock()

	d.fire(ids)
}

// Stop discards pending events and prevents further callbacks.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}
