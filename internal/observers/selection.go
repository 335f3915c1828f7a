package observers

import (
	"time"

	"tabscope/internal/logging"
	"tabscope/pkg/models"
)

const (
	selectionDebounce  = 500 * time.Millisecond
	minSelectionLength = 5
)

// SelectionObserver debounces selection gestures and captures stable,
// non-trivial selections. Repeated captures of the same exact text are
// suppressed.
type SelectionObserver struct {
	tracking     bool
	pending      string
	hasPending   bool
	deadline     time.Time
	lastCaptured string
}

func NewSelectionObserver() *SelectionObserver {
	return &SelectionObserver{}
}

func (o *SelectionObserver) Start() {
	if o.tracking {
		logging.Warn("selection observer already started")
		return
	}
	o.tracking = true
}

func (o *SelectionObserver) Stop() {
	if !o.tracking {
		return
	}
	o.tracking = false
	o.hasPending = false
	o.pending = ""
}

// Handle records the latest selection and restarts the debounce window.
func (o *SelectionObserver) Handle(sig SelectionChanged, now time.Time) {
	if !o.tracking {
		return
	}
	o.pending = sig.Text
	o.hasPending = true
	o.deadline = now.Add(selectionDebounce)
}

// Flush emits at most one selection event once the debounce window has
// elapsed. Selections at or below the length threshold, and exact repeats of
// the previous capture, produce nothing.
func (o *SelectionObserver) Flush(now time.Time) []models.Event {
	if !o.hasPending || now.Before(o.deadline) {
		return nil
	}
	o.hasPending = false
	text := o.pending
	o.pending = ""

	if len(text) <= minSelectionLength {
		return nil
	}
	if text == o.lastCaptured {
		return nil
	}
	o.lastCaptured = text

	return []models.Event{{
		Type:      models.EventSelection,
		Timestamp: now,
		Data: mustJSON(map[string]interface{}{
			"text":   text,
			"length": len(text),
		}),
	}}
}

// Deadline reports when the pending selection becomes due.
func (o *SelectionObserver) Deadline() (time.Time, bool) {
	return o.deadline, o.hasPending
}

func (o *SelectionObserver) Status() Status {
	size := 0
	if o.hasPending {
		size = 1
	}
	return Status{IsTracking: o.tracking, BufferSize: size}
}
