package observers

import (
	"encoding/json"
	"time"

	"tabscope/internal/logging"
	"tabscope/pkg/models"
)

const (
	inputBufferCap  = 20
	inputIdleDelay  = 2 * time.Second
	inputValueLimit = 500
)

// Special keys captured on their own; any other key needs a held modifier.
var specialKeys = map[string]bool{
	"Enter":     true,
	"Tab":       true,
	"Escape":    true,
	"Delete":    true,
	"Backspace": true,
}

// InputObserver captures typing, paste and special-key activity. Captured
// events collect in a small internal buffer drained on a 2s idle debounce or
// when the buffer cap is reached.
type InputObserver struct {
	tracking    bool
	buf         []models.Event
	deadline    time.Time
	hasDeadline bool
}

func NewInputObserver() *InputObserver {
	return &InputObserver{}
}

func (o *InputObserver) Start() {
	if o.tracking {
		logging.Warn("input observer already started")
		return
	}
	o.tracking = true
}

func (o *InputObserver) Stop() {
	if !o.tracking {
		return
	}
	o.tracking = false
	o.buf = nil
	o.hasDeadline = false
}

// Handle normalizes one raw interaction. It returns the drained internal
// buffer when the append fills it to capacity, nil otherwise.
func (o *InputObserver) Handle(sig Signal, now time.Time) []models.Event {
	if !o.tracking {
		return nil
	}

	var event *models.Event
	switch s := sig.(type) {
	case InputEntered:
		event = o.inputEvent(s, now)
	case Pasted:
		event = o.pasteEvent(s, now)
	case KeyDown:
		event = o.keyEvent(s, now)
	}
	if event == nil {
		return nil
	}

	o.buf = append(o.buf, *event)
	if len(o.buf) >= inputBufferCap {
		return o.drain()
	}

	o.deadline = now.Add(inputIdleDelay)
	o.hasDeadline = true
	return nil
}

// Flush drains the internal buffer once the idle window has elapsed.
func (o *InputObserver) Flush(now time.Time) []models.Event {
	if !o.hasDeadline || len(o.buf) == 0 || now.Before(o.deadline) {
		return nil
	}
	return o.drain()
}

func (o *InputObserver) Deadline() (time.Time, bool) {
	return o.deadline, o.hasDeadline && len(o.buf) > 0
}

func (o *InputObserver) Status() Status {
	return Status{IsTracking: o.tracking, BufferSize: len(o.buf)}
}

func (o *InputObserver) drain() []models.Event {
	events := o.buf
	o.buf = nil
	o.hasDeadline = false
	return events
}

// inputEvent attributes input only to editable targets.
func (o *InputObserver) inputEvent(s InputEntered, now time.Time) *models.Event {
	switch s.Target {
	case TargetInput, TargetTextArea, TargetEditable:
	default:
		return nil
	}

	value, length := truncateValue(s.Value)
	return &models.Event{
		Type:      models.EventInput,
		Timestamp: now,
		Data: mustJSON(map[string]interface{}{
			"target": s.Target,
			"value":  value,
			"length": length,
		}),
	}
}

func (o *InputObserver) pasteEvent(s Pasted, now time.Time) *models.Event {
	text, length := truncateValue(s.Text)
	return &models.Event{
		Type:      models.EventPaste,
		Timestamp: now,
		Data: mustJSON(map[string]interface{}{
			"target": s.Target,
			"text":   text,
			"length": length,
		}),
	}
}

// keyEvent captures allow-listed special keys and modifier+character
// combinations. Delete and Backspace become deletion events.
func (o *InputObserver) keyEvent(s KeyDown, now time.Time) *models.Event {
	modifier := s.Ctrl || s.Alt || s.Meta
	if !specialKeys[s.Key] && !(modifier && len([]rune(s.Key)) == 1) {
		return nil
	}

	eventType := models.EventInput
	if s.Key == "Delete" || s.Key == "Backspace" {
		eventType = models.EventDeletion
	}

	return &models.Event{
		Type:      eventType,
		Timestamp: now,
		Data: mustJSON(map[string]interface{}{
			"key":  s.Key,
			"ctrl": s.Ctrl,
			"alt":  s.Alt,
			"meta": s.Meta,
		}),
	}
}

// truncateValue caps a captured value at 500 characters and reports the
// untruncated length.
func truncateValue(value string) (string, int) {
	runes := []rune(value)
	length := len(runes)
	if length > inputValueLimit {
		return string(runes[:inputValueLimit]), length
	}
	return value, length
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logging.Error("failed to encode event payload: %v", err)
		return json.RawMessage("{}")
	}
	return b
}
