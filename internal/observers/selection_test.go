package observers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabscope/pkg/models"
)

func TestSelectionDebounce(t *testing.T) {
	o := NewSelectionObserver()
	o.Start()
	now := time.Now()

	o.Handle(SelectionChanged{Text: "func main() {"}, now)

	// Nothing emits inside the debounce window
	assert.Empty(t, o.Flush(now.Add(100*time.Millisecond)))

	events := o.Flush(now.Add(600 * time.Millisecond))
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSelection, events[0].Type)

	var payload struct {
		Text   string `json:"text"`
		Length int    `json:"length"`
	}
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	assert.Equal(t, "func main() {", payload.Text)
	assert.Equal(t, len("func main() {"), payload.Length)
}

func TestSelectionDebounceRestartsPerGesture(t *testing.T) {
	o := NewSelectionObserver()
	o.Start()
	now := time.Now()

	o.Handle(SelectionChanged{Text: "first selection"}, now)
	// A second gesture 400ms later restarts the window
	o.Handle(SelectionChanged{Text: "second selection"}, now.Add(400*time.Millisecond))

	assert.Empty(t, o.Flush(now.Add(600*time.Millisecond)))

	events := o.Flush(now.Add(time.Second))
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Data), "second selection")
}

func TestSelectionLengthThreshold(t *testing.T) {
	o := NewSelectionObserver()
	o.Start()
	now := time.Now()

	// Exactly 5 characters is at the threshold and must not emit
	o.Handle(SelectionChanged{Text: "abcde"}, now)
	assert.Empty(t, o.Flush(now.Add(time.Second)))

	o.Handle(SelectionChanged{Text: "abcdef"}, now.Add(2*time.Second))
	assert.Len(t, o.Flush(now.Add(3*time.Second)), 1)
}

func TestSelectionDuplicateSuppression(t *testing.T) {
	o := NewSelectionObserver()
	o.Start()
	now := time.Now()

	o.Handle(SelectionChanged{Text: "repeated text"}, now)
	require.Len(t, o.Flush(now.Add(time.Second)), 1)

	o.Handle(SelectionChanged{Text: "repeated text"}, now.Add(2*time.Second))
	assert.Empty(t, o.Flush(now.Add(3*time.Second)))

	// A different selection clears the way
	o.Handle(SelectionChanged{Text: "different text"}, now.Add(4*time.Second))
	require.Len(t, o.Flush(now.Add(5*time.Second)), 1)

	// And the original text may be captured again afterwards
	o.Handle(SelectionChanged{Text: "repeated text"}, now.Add(6*time.Second))
	assert.Len(t, o.Flush(now.Add(7*time.Second)), 1)
}

func TestSelectionIgnoredWhenStopped(t *testing.T) {
	o := NewSelectionObserver()
	now := time.Now()

	o.Handle(SelectionChanged{Text: "never captured"}, now)
	assert.Empty(t, o.Flush(now.Add(time.Second)))

	o.Start()
	o.Handle(SelectionChanged{Text: "pending at stop"}, now)
	o.Stop()
	assert.Empty(t, o.Flush(now.Add(time.Second)))
}

func TestSelectionDeadline(t *testing.T) {
	o := NewSelectionObserver()
	o.Start()
	now := time.Now()

	_, armed := o.Deadline()
	assert.False(t, armed)

	o.Handle(SelectionChanged{Text: "some selection"}, now)
	deadline, armed := o.Deadline()
	assert.True(t, armed)
	assert.Equal(t, now.Add(500*time.Millisecond), deadline)
}
