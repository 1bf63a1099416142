package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so a burst of changes triggers one
// scan. Events for the same path within the debounce window merge:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]FileEvent
	// firstOp remembers the first operation seen per path inside the
	// current window; coalescing decisions key off it.
	firstOp map[string]Operation
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

// NewDebouncer creates a debouncer with the given window duration.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		firstOp: make(map[string]Operation),
		output:  make(chan []FileEvent, 10),
	}
}

// Add queues an event, merging it with any pending event for the same path.
// Each Add restarts the window, so a batch is emitted only after the path
// set has been quiet for the full window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	first, seen := d.firstOp[event.Path]
	if !seen {
		d.pending[event.Path] = event
		d.firstOp[event.Path] = event.Operation
	} else {
		merged, keep := coalesce(first, d.pending[event.Path], event)
		if keep {
			d.pending[event.Path] = merged
		} else {
			delete(d.pending, event.Path)
			delete(d.firstOp, event.Path)
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges the next event for a path into the pending one. keep=false
// means the two cancel out.
func coalesce(first Operation, prev, next FileEvent) (merged FileEvent, keep bool) {
	switch {
	case first == OpCreate && next.Operation == OpModify:
		// Still a brand-new file as far as the consumer is concerned.
		return prev, true
	case first == OpCreate && next.Operation == OpDelete:
		return FileEvent{}, false
	case first == OpDelete && next.Operation == OpCreate:
		next.Operation = OpModify
		return next, true
	default:
		return next, true
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]FileEvent)
	d.firstOp = make(map[string]Operation)

	select {
	case d.output <- batch:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Safe to call
// multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
