package monitor

import (
	"context"
	"encoding/json"
	neturl "net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"tabscope/internal/classifier"
	"tabscope/internal/logging"
	"tabscope/internal/observers"
	"tabscope/pkg/models"
)

const (
	// MaxBufferSize is the hard cap that triggers an immediate flush.
	MaxBufferSize = 50
	// BufferDelay is the debounced flush delay after the last append.
	BufferDelay = 2 * time.Second

	defaultSettleDelay     = time.Second
	defaultURLPollInterval = 5 * time.Second
	defaultPageCtxInterval = 30 * time.Second
)

// Sender ships a JSON payload to the collector. *delivery.Client implements it.
type Sender interface {
	Post(ctx context.Context, path string, payload interface{}) ([]byte, error)
}

// Options tunes a Monitor. Zero values take the production defaults; tests
// shrink the intervals.
type Options struct {
	UserID          string
	Metadata        models.SessionMetadata
	Identifier      classifier.Identifier
	IdentityCache   classifier.Cache
	BufferDelay     time.Duration
	SettleDelay     time.Duration
	URLPollInterval time.Duration
	PageCtxInterval time.Duration
}

// Status is a point-in-time view of the monitor and its observers.
type Status struct {
	Running    bool                        `json:"running"`
	SessionID  string                      `json:"sessionId"`
	BufferSize int                         `json:"bufferSize"`
	Observers  map[string]observers.Status `json:"observers"`
}

// Monitor orchestrates the capture observers, owns the event buffer and
// performs page-context capture. All buffer mutation happens on its single
// event-loop goroutine; observers feed it only through that loop.
type Monitor struct {
	src        observers.Source
	sender     Sender
	classifier *classifier.Classifier
	resolver   *classifier.Resolver

	userID   string
	metadata models.SessionMetadata

	bufferDelay     time.Duration
	settleDelay     time.Duration
	urlPollInterval time.Duration
	pageCtxInterval time.Duration

	selection  *observers.SelectionObserver
	input      *observers.InputObserver
	scroll     *observers.ScrollObserver
	codeBlocks *observers.CodeBlockObserver

	// Loop-owned state. Only the event loop touches these while running.
	buffer    *Buffer
	flushAt   time.Time
	hasFlush  bool
	settleAt  time.Time
	hasSettle bool
	urlPollAt time.Time
	pageCtxAt time.Time

	sessionID     string
	startedAt     time.Time
	registered    bool
	analysis      *models.PlatformAnalysis
	identity      classifier.Identity
	lastURL       string
	lastTitle     string
	lastCaptureOK bool

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
	statusCh chan chan Status
}

// New builds a monitor around a signal source and a sender. Start attaches
// the observers; until then nothing runs.
func New(src observers.Source, sender Sender, opts Options) *Monitor {
	var cache classifier.Cache = opts.IdentityCache
	if cache == nil {
		cache, _ = classifier.NewCache(classifier.CacheMemory)
	}

	userID := opts.UserID
	if userID == "" {
		userID = models.AnonymousUser
	}

	m := &Monitor{
		src:             src,
		sender:          sender,
		classifier:      classifier.New(),
		resolver:        classifier.NewResolver(opts.Identifier, cache),
		userID:          userID,
		metadata:        opts.Metadata,
		bufferDelay:     durationOr(opts.BufferDelay, BufferDelay),
		settleDelay:     durationOr(opts.SettleDelay, defaultSettleDelay),
		urlPollInterval: durationOr(opts.URLPollInterval, defaultURLPollInterval),
		pageCtxInterval: durationOr(opts.PageCtxInterval, defaultPageCtxInterval),
		selection:       observers.NewSelectionObserver(),
		input:           observers.NewInputObserver(),
		scroll:          observers.NewScrollObserver(),
		codeBlocks:      observers.NewCodeBlockObserver(),
		buffer:          NewBuffer(MaxBufferSize),
		statusCh:        make(chan chan Status),
	}
	return m
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Start attaches the observers and launches the event loop. Starting an
// already running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		logging.Warn("context monitor already running")
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	now := time.Now()
	m.sessionID = uuid.New().String()
	m.startedAt = now
	m.registered = false
	m.analysis = nil
	m.lastURL, m.lastTitle = "", ""
	m.buffer = NewBuffer(MaxBufferSize)
	m.hasFlush = false

	m.selection.Start()
	m.input.Start()
	m.scroll.Start()
	m.codeBlocks.Start(now)

	m.settleAt = now.Add(m.settleDelay)
	m.hasSettle = true
	m.urlPollAt = now.Add(m.urlPollInterval)
	m.pageCtxAt = now.Add(m.pageCtxInterval)

	logging.Info("Context monitor started (session %s)", m.sessionID)
	go m.loop()
}

// Stop detaches every observer and cancels all pending timers before
// returning: no buffer write or flush can happen afterwards. An in-flight
// delivery started before Stop is not cancelled, only never retried. The
// pending buffer is dropped, not flushed.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	<-m.done
	m.mu.Unlock()

	m.selection.Stop()
	m.input.Stop()
	m.scroll.Stop()
	m.codeBlocks.Stop()

	m.endSession()
	logging.Info("Context monitor stopped (session %s)", m.sessionID)
}

// SessionID returns the current (or last) monitoring session id.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Status queries the live loop when running, so the buffer size is coherent
// with loop ordering.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	running := m.running
	stop := m.stop
	m.mu.Unlock()

	if !running {
		return Status{Observers: m.observerStatuses()}
	}

	reply := make(chan Status, 1)
	select {
	case m.statusCh <- reply:
		return <-reply
	case <-stop:
		return Status{Observers: m.observerStatuses()}
	}
}

func (m *Monitor) observerStatuses() map[string]observers.Status {
	return map[string]observers.Status{
		"selection":  m.selection.Status(),
		"input":      m.input.Status(),
		"scroll":     m.scroll.Status(),
		"codeBlocks": m.codeBlocks.Status(),
	}
}

func (m *Monitor) loop() {
	defer close(m.done)

	timer := time.NewTimer(m.nextWait(time.Now()))
	defer timer.Stop()

	signals := m.src.Signals()
	for {
		select {
		case <-m.stop:
			return

		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			m.handleSignal(sig, time.Now())

		case <-timer.C:
			m.onTick(time.Now())

		case reply := <-m.statusCh:
			reply <- Status{
				Running:    true,
				SessionID:  m.sessionID,
				BufferSize: m.buffer.Len(),
				Observers:  m.observerStatuses(),
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.nextWait(time.Now()))
	}
}

// handleSignal routes one raw signal to its observer. Exactly one handler
// per signal kind.
func (m *Monitor) handleSignal(sig observers.Signal, now time.Time) {
	switch s := sig.(type) {
	case observers.SelectionChanged:
		m.selection.Handle(s, now)
	case observers.InputEntered, observers.Pasted, observers.KeyDown:
		m.addEvents(m.input.Handle(s, now), now)
	case observers.Scrolled:
		m.addEvents(m.scroll.Handle(s, now), now)
	case observers.Clicked:
		m.addEvents([]models.Event{clickEvent(s, now)}, now)
	case observers.Navigated:
		// Location changes are picked up by the URL poll.
	}
}

func clickEvent(s observers.Clicked, now time.Time) models.Event {
	data, _ := json.Marshal(map[string]interface{}{"target": s.Target})
	return models.Event{Type: models.EventClick, Timestamp: now, Data: data}
}

// onTick services every deadline that has come due.
func (m *Monitor) onTick(now time.Time) {
	m.addEvents(m.selection.Flush(now), now)
	m.addEvents(m.input.Flush(now), now)

	if deadline, ok := m.codeBlocks.Deadline(); ok && !now.Before(deadline) {
		m.scanCodeBlocks(now)
	}

	if m.hasSettle && !now.Before(m.settleAt) {
		m.hasSettle = false
		m.capturePageContext(now, true)
	}

	if !now.Before(m.urlPollAt) {
		m.urlPollAt = now.Add(m.urlPollInterval)
		url, title := m.src.Location()
		if url != m.lastURL || title != m.lastTitle {
			m.capturePageContext(now, false)
		}
	}

	if !now.Before(m.pageCtxAt) {
		m.pageCtxAt = now.Add(m.pageCtxInterval)
		m.capturePageContext(now, false)
	}

	if m.hasFlush && !now.Before(m.flushAt) {
		m.flush()
	}
}

// nextWait computes the earliest pending deadline.
func (m *Monitor) nextWait(now time.Time) time.Duration {
	next := m.urlPollAt
	consider := func(t time.Time, ok bool) {
		if ok && t.Before(next) {
			next = t
		}
	}
	consider(m.pageCtxAt, true)
	consider(m.settleAt, m.hasSettle)
	consider(m.flushAt, m.hasFlush)
	consider(m.selection.Deadline())
	consider(m.input.Deadline())
	consider(m.codeBlocks.Deadline())

	wait := next.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// addEvents stamps events with session context and appends them, flushing
// immediately at the cap and otherwise restarting the debounce timer. The
// debounce resets on every append: a steady trickle flushes once the trickle
// pauses, not on a fixed clock.
func (m *Monitor) addEvents(events []models.Event, now time.Time) {
	for _, event := range events {
		event.ID = ulid.Make().String()
		event.SessionID = m.sessionID
		event.URL = m.lastURL
		if m.analysis != nil {
			event.Platform = m.analysis.Type
			event.Hostname = m.analysis.Hostname
		}

		m.buffer.Append(event)
		if m.buffer.Full() {
			m.flush()
		} else {
			m.flushAt = now.Add(m.bufferDelay)
			m.hasFlush = true
		}
	}
}

// flush snapshots and clears the buffer, then hands the batch off. The clear
// happens before the send completes: a failed send loses the batch by design.
func (m *Monitor) flush() {
	m.hasFlush = false
	events := m.buffer.Drain()
	if len(events) == 0 {
		return
	}

	batch := make([]*models.Event, len(events))
	for i := range events {
		batch[i] = &events[i]
	}
	payload := map[string]interface{}{
		"sessionId": m.sessionID,
		"events":    batch,
	}

	go func() {
		if _, err := m.sender.Post(context.Background(), "/events/batch", payload); err != nil {
			logging.Warn("dropped batch of %d events: %v", len(batch), err)
		}
	}()
}

// scanCodeBlocks pulls a fresh snapshot and runs the extractor. Snapshot
// failures are capture failures: logged, never fatal.
func (m *Monitor) scanCodeBlocks(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	doc, err := m.src.Snapshot(ctx)
	if err != nil {
		logging.Debug("code scan skipped, no snapshot: %v", err)
		// Rearm so the next interval still fires.
		m.codeBlocks.Scan(nil, now)
		return
	}
	m.addEvents(m.codeBlocks.Scan(doc, now), now)
}

// capturePageContext classifies the current page and emits a page_context
// event plus a context record. Unless forced, capture is suppressed when URL
// and title are unchanged since the last capture.
func (m *Monitor) capturePageContext(now time.Time, force bool) {
	url, title := m.src.Location()
	if !force && url == m.lastURL && title == m.lastTitle {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	doc, err := m.src.Snapshot(ctx)
	if err != nil {
		logging.Debug("page context capture skipped, no snapshot: %v", err)
		return
	}

	analysis := m.classifier.Analyze(doc, hostnameOf(url))
	m.analysis = analysis
	m.identity = m.resolver.Resolve(ctx, analysis)
	m.lastURL, m.lastTitle = url, title

	m.addEvents([]models.Event{pageContextEvent(url, title, analysis, m.identity, now)}, now)

	record := &models.Context{
		UserID:    m.userID,
		SessionID: m.sessionID,
		Type:      models.ContextPageContext,
		URL:       url,
		Domain:    analysis.Hostname,
		Title:     &title,
		Platform:  analysis.Type,
		Timestamp: now,
	}
	go func() {
		if _, err := m.sender.Post(context.Background(), "/context", record); err != nil {
			logging.Warn("dropped page context for %s: %v", url, err)
		}
	}()

	if !m.registered {
		m.registered = true
		m.registerSession(analysis, url)
	}
}

func pageContextEvent(url, title string, analysis *models.PlatformAnalysis, identity classifier.Identity, now time.Time) models.Event {
	data, _ := json.Marshal(map[string]interface{}{
		"url":         url,
		"title":       title,
		"platform":    analysis.Type,
		"category":    analysis.Category,
		"confidence":  analysis.Confidence,
		"displayName": identity.DisplayName,
		"features":    analysis.Features,
	})
	return models.Event{Type: models.EventPageContext, Timestamp: now, Data: data}
}

// registerSession announces the session to the store, fire and forget.
func (m *Monitor) registerSession(analysis *models.PlatformAnalysis, url string) {
	session := &models.Session{
		SessionID: m.sessionID,
		UserID:    m.userID,
		Platform:  analysis.Type,
		URL:       url,
		Hostname:  analysis.Hostname,
		StartTime: m.startedAt,
		Metadata:  m.metadata,
		Status:    models.SessionActive,
	}
	go func() {
		if _, err := m.sender.Post(context.Background(), "/sessions", session); err != nil {
			logging.Warn("session %s not registered: %v", session.SessionID, err)
		}
	}()
}

// endSession notifies the store that the session closed. Runs synchronously
// inside Stop so nothing fires after Stop returns.
func (m *Monitor) endSession() {
	if !m.registered {
		return
	}
	payload := map[string]interface{}{"endTime": time.Now()}
	if _, err := m.sender.Post(context.Background(), "/sessions/"+m.sessionID+"/end", payload); err != nil {
		logging.Warn("session %s not closed: %v", m.sessionID, err)
	}
}

// hostnameOf mirrors the server-side domain derivation: unparseable URLs
// degrade to the literal "unknown".
func hostnameOf(raw string) string {
	parsed, err := neturl.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	return parsed.Hostname()
}
