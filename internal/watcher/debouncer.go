package watcher

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// maxDelayWindows bounds how long a steady stream of edits can postpone a
// batch, in debounce windows.
const maxDelayWindows = 10

// Debouncer merges bursts of events per path into one sorted batch. A
// batch goes out once the window passes without new events, or after
// maxDelayWindows windows at the latest. Merging keeps the net effect on
// the index:
//
//	create, modify      -> create
//	create, delete      -> dropped (the file never reached the index)
//	modify, delete      -> delete
//	delete, create      -> modify (the file was replaced)
//
// A batch the consumer is not ready for stays pending and is merged with
// later events, so no change is ever lost.
type Debouncer struct {
	window   time.Duration
	maxDelay time.Duration
	out      chan []FileEvent

	mu      sync.Mutex
	pending map[string]FileEvent
	first   time.Time
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:   window,
		maxDelay: maxDelayWindows * window,
		out:      make(chan []FileEvent, 1),
		pending:  make(map[string]FileEvent),
	}
}

// Add merges ev into the pending batch.
func (d *Debouncer) Add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if len(d.pending) == 0 {
		d.first = time.Now()
	}
	if prev, ok := d.pending[ev.Path]; ok {
		if merged, keep := merge(prev, ev); keep {
			d.pending[ev.Path] = merged
		} else {
			delete(d.pending, ev.Path)
		}
	} else {
		d.pending[ev.Path] = ev
	}
	d.arm()
}

func merge(prev, next FileEvent) (FileEvent, bool) {
	switch {
	case prev.Operation == OpCreate && next.Operation == OpModify:
		return prev, true
	case prev.Operation == OpCreate && (next.Operation == OpDelete || next.Operation == OpRename):
		return FileEvent{}, false
	case (prev.Operation == OpDelete || prev.Operation == OpRename) && next.Operation == OpCreate:
		next.Operation = OpModify
		return next, true
	}
	return next, true
}

// arm restarts the quiet window unless the oldest pending event already
// waited maxDelay. Caller holds mu.
func (d *Debouncer) arm() {
	if d.timer != nil {
		d.timer.Stop()
	}
	if len(d.pending) == 0 {
		return
	}
	wait := d.window
	if remaining := d.maxDelay - time.Since(d.first); remaining < wait {
		wait = max(remaining, 0)
	}
	d.timer = time.AfterFunc(wait, d.Flush)
}

// Flush hands the pending batch to Output now. When the consumer still
// holds the previous batch the events stay pending and another attempt
// follows one window later.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	slices.SortFunc(batch, func(a, b FileEvent) int { return strings.Compare(a.Path, b.Path) })

	select {
	case d.out <- batch:
		clear(d.pending)
	default:
		slog.Debug("watch_batch_deferred", slog.Int("pending", len(batch)))
		if d.timer != nil {
			d.timer.Stop()
		}
		d.timer = time.AfterFunc(d.window, d.Flush)
	}
}

// Output delivers batches. It is closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.out
}

// Stop discards pending events and closes Output. Idempotent.
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
	close(d.out)
}
