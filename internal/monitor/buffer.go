package monitor

import "tabscope/pkg/models"

// Buffer is the per-monitor queue of pending events. It is owned exclusively
// by the monitor's event loop; there is no concurrent writer, so it needs no
// locking. Append order is preserved and Drain snapshots and clears in one
// step so no event can be lost or duplicated between the two.
type Buffer struct {
	events []models.Event
	max    int
}

func NewBuffer(max int) *Buffer {
	return &Buffer{max: max}
}

func (b *Buffer) Append(event models.Event) {
	b.events = append(b.events, event)
}

func (b *Buffer) Len() int {
	return len(b.events)
}

// Full reports whether the buffer has reached its hard cap.
func (b *Buffer) Full() bool {
	return len(b.events) >= b.max
}

// Drain returns the buffered events and empties the queue.
func (b *Buffer) Drain() []models.Event {
	events := b.events
	b.events = nil
	return events
}
