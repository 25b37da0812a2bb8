package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid events per path within a window so one save
// burst becomes one rebuild. Coalescing rules:
//   - CREATE then MODIFY = CREATE (file is still new)
//   - CREATE then DELETE = nothing (file never really existed)
//   - MODIFY then DELETE = DELETE
//   - DELETE then CREATE = MODIFY (file was replaced)
type Debouncer struct {
	window  time.Duration
	output  chan []FileEvent
	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Op
}

// NewDebouncer creates a debouncer emitting batches on Output.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		output:  make(chan []FileEvent, 8),
		pending: make(map[string]*pendingEvent),
	}
}

// Output returns the batch channel. Closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Add records an event, coalescing it against any pending one for the
// same path, and (re)arms the flush timer.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged := coalesce(existing.firstOp, event)
		if merged == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *merged
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Op}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func coalesce(first Op, next FileEvent) *FileEvent {
	switch {
	case first == OpCreate && next.Op == OpModify:
		merged := next
		merged.Op = OpCreate
		return &merged
	case first == OpCreate && next.Op == OpDelete:
		return nil
	case first == OpDelete && next.Op == OpCreate:
		merged := next
		merged.Op = OpModify
		return &merged
	default:
		return &next
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}
	batch := make([]FileEvent, 0, len(d.pending))
	for _, p := range d.pending {
		batch = append(batch, p.event)
	}

	// Sent under the lock so Stop cannot close the channel mid-send.
	// The channel is buffered; a stalled consumer re-arms instead of
	// blocking the timer goroutine.
	select {
	case d.output <- batch:
		d.pending = make(map[string]*pendingEvent)
	default:
		d.timer = time.AfterFunc(d.window, d.flush)
	}
}

// Stop discards pending events and closes the output channel.
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
	d.pending = nil
	close(d.output)
}
