package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabscope/internal/observers"
	"tabscope/pkg/models"
)

type recordedPost struct {
	path    string
	payload interface{}
}

// recordingSender captures every delivery without doing I/O.
type recordingSender struct {
	mu    sync.Mutex
	posts []recordedPost
}

func (s *recordingSender) Post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, recordedPost{path: path, payload: payload})
	return []byte(`{"success":true}`), nil
}

func (s *recordingSender) byPath(path string) []recordedPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedPost
	for _, p := range s.posts {
		if p.path == path {
			out = append(out, p)
		}
	}
	return out
}

func batchEvents(t *testing.T, p recordedPost) []*models.Event {
	t.Helper()
	payload, ok := p.payload.(map[string]interface{})
	require.True(t, ok)
	events, ok := payload["events"].([]*models.Event)
	require.True(t, ok)
	return events
}

// quietOptions pushes every periodic capture far into the future so tests
// observe only the flush path under test.
func quietOptions() Options {
	return Options{
		BufferDelay:     50 * time.Millisecond,
		SettleDelay:     time.Hour,
		URLPollInterval: time.Hour,
		PageCtxInterval: time.Hour,
	}
}

func TestDebouncedFlushAfterTricklePauses(t *testing.T) {
	source := observers.NewChanSource(16)
	sender := &recordingSender{}
	m := New(source, sender, quietOptions())

	m.Start()
	defer m.Stop()

	source.Emit(observers.Clicked{Target: "button"})
	source.Emit(observers.Clicked{Target: "link"})
	source.Emit(observers.Clicked{Target: "div"})

	require.Eventually(t, func() bool {
		return len(sender.byPath("/events/batch")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The trickle flushed as one batch, not one post per event
	time.Sleep(150 * time.Millisecond)
	batches := sender.byPath("/events/batch")
	require.Len(t, batches, 1)

	events := batchEvents(t, batches[0])
	require.Len(t, events, 3)
	assert.Equal(t, models.EventClick, events[0].Type)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, m.SessionID(), events[0].SessionID)
}

func TestBufferCapFlushesImmediately(t *testing.T) {
	source := observers.NewChanSource(2 * MaxBufferSize)
	sender := &recordingSender{}
	opts := quietOptions()
	opts.BufferDelay = time.Hour // only the cap can trigger this flush
	m := New(source, sender, opts)

	m.Start()
	defer m.Stop()

	for i := 0; i < MaxBufferSize; i++ {
		source.Emit(observers.Clicked{Target: "button"})
	}

	require.Eventually(t, func() bool {
		return len(sender.byPath("/events/batch")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := batchEvents(t, sender.byPath("/events/batch")[0])
	assert.Len(t, events, MaxBufferSize)
}

func TestStopDropsPendingBuffer(t *testing.T) {
	source := observers.NewChanSource(16)
	sender := &recordingSender{}
	opts := quietOptions()
	opts.BufferDelay = 200 * time.Millisecond
	m := New(source, sender, opts)

	m.Start()
	source.Emit(observers.Clicked{Target: "button"})

	// Give the loop time to buffer the event, then stop inside the debounce
	require.Eventually(t, func() bool {
		return m.Status().BufferSize == 1
	}, time.Second, 5*time.Millisecond)
	m.Stop()

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, sender.byPath("/events/batch"), "stop drops the buffer, it does not flush")
}

func TestStartStopIdempotent(t *testing.T) {
	source := observers.NewChanSource(1)
	m := New(source, &recordingSender{}, quietOptions())

	m.Start()
	first := m.SessionID()
	m.Start()
	assert.Equal(t, first, m.SessionID())

	m.Stop()
	m.Stop()
	assert.False(t, m.Status().Running)
}

func TestNewSessionPerStart(t *testing.T) {
	source := observers.NewChanSource(1)
	m := New(source, &recordingSender{}, quietOptions())

	m.Start()
	first := m.SessionID()
	m.Stop()

	m.Start()
	second := m.SessionID()
	m.Stop()

	assert.NotEqual(t, first, second)
}

func TestSettleCapturesPageContextAndRegistersSession(t *testing.T) {
	source := observers.NewChanSource(16)
	source.SetPage("https://leetcode.com/problems/two-sum", "Two Sum", `
		<html><body>
			<div class="monaco-editor"></div>
			<button>Submit</button>
		</body></html>`)

	sender := &recordingSender{}
	opts := quietOptions()
	opts.SettleDelay = 30 * time.Millisecond
	m := New(source, sender, opts)

	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		return len(sender.byPath("/context")) == 1 && len(sender.byPath("/sessions")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	record, ok := sender.byPath("/context")[0].payload.(*models.Context)
	require.True(t, ok)
	assert.Equal(t, models.ContextPageContext, record.Type)
	assert.Equal(t, "leetcode.com", record.Domain)
	assert.Equal(t, "Code Playground", record.Platform)
	assert.Equal(t, m.SessionID(), record.SessionID)

	session, ok := sender.byPath("/sessions")[0].payload.(*models.Session)
	require.True(t, ok)
	assert.Equal(t, m.SessionID(), session.SessionID)
	assert.Equal(t, models.SessionActive, session.Status)
	assert.Equal(t, "leetcode.com", session.Hostname)

	// The page_context event rides the normal batch path
	require.Eventually(t, func() bool {
		return len(sender.byPath("/events/batch")) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	events := batchEvents(t, sender.byPath("/events/batch")[0])
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventPageContext, events[0].Type)
}

func TestStopEndsRegisteredSession(t *testing.T) {
	source := observers.NewChanSource(16)
	source.SetPage("https://example.com", "Example", `<p>hi</p>`)

	sender := &recordingSender{}
	opts := quietOptions()
	opts.SettleDelay = 30 * time.Millisecond
	m := New(source, sender, opts)

	m.Start()
	require.Eventually(t, func() bool {
		return len(sender.byPath("/sessions")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sessionID := m.SessionID()
	m.Stop()

	ends := sender.byPath("/sessions/" + sessionID + "/end")
	require.Len(t, ends, 1, "stop must close the registered session synchronously")
}

func TestStopWithoutRegistrationSendsNothing(t *testing.T) {
	source := observers.NewChanSource(1)
	sender := &recordingSender{}
	m := New(source, sender, quietOptions())

	m.Start()
	m.Stop()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Empty(t, sender.posts)
}

func TestStatusReportsLoopState(t *testing.T) {
	source := observers.NewChanSource(16)
	m := New(source, &recordingSender{}, quietOptions())

	assert.False(t, m.Status().Running)

	m.Start()
	defer m.Stop()

	status := m.Status()
	assert.True(t, status.Running)
	assert.Equal(t, m.SessionID(), status.SessionID)
	assert.True(t, status.Observers["selection"].IsTracking)
	assert.True(t, status.Observers["input"].IsTracking)
}
