package observers

import (
	"context"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Signal is one raw observation pushed by a page shim. It is a closed tagged
// union; each receiving component dispatches with a type switch.
type Signal interface {
	signal()
}

// TargetKind classifies the DOM element an interaction landed on.
type TargetKind string

const (
	TargetInput    TargetKind = "input"
	TargetTextArea TargetKind = "textarea"
	TargetEditable TargetKind = "contenteditable"
	TargetOther    TargetKind = "other"
)

// SelectionChanged fires on mouseup/keyup with the current selection text.
type SelectionChanged struct {
	Text string
}

// InputEntered fires on an input event inside an editable element.
type InputEntered struct {
	Target TargetKind
	Value  string
}

// Pasted carries the clipboard's plain-text payload.
type Pasted struct {
	Target TargetKind
	Text   string
}

// KeyDown fires for every key press; the input observer filters it down to
// the special-key allow list.
type KeyDown struct {
	Key  string
	Ctrl bool
	Alt  bool
	Meta bool
}

// Scrolled carries the window scroll position and lightweight page geometry.
type Scrolled struct {
	Y              float64
	ViewportHeight float64
	PageHeight     float64
	Visible        []string // visible heading/code/paragraph text samples
}

// Clicked fires on a pointer click.
type Clicked struct {
	Target string
}

// Navigated fires when the page shim observes a location change.
type Navigated struct {
	URL   string
	Title string
}

func (SelectionChanged) signal() {}
func (InputEntered) signal()     {}
func (Pasted) signal()           {}
func (KeyDown) signal()          {}
func (Scrolled) signal()         {}
func (Clicked) signal()          {}
func (Navigated) signal()        {}

// Status reports an observer's lifecycle and internal buffer state.
type Status struct {
	IsTracking bool `json:"isTracking"`
	BufferSize int  `json:"bufferSize"`
}

// Source feeds raw signals and DOM snapshots into the monitor. Snapshot and
// Location may be called from the monitor loop at any time while signals are
// flowing.
type Source interface {
	Signals() <-chan Signal
	Snapshot(ctx context.Context) (*goquery.Document, error)
	Location() (url, title string)
}

// ChanSource is an in-memory Source for embedding and tests.
type ChanSource struct {
	ch chan Signal

	mu    sync.RWMutex
	html  string
	url   string
	title string
}

func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{ch: make(chan Signal, buffer)}
}

// Emit delivers one signal. Navigated signals also update the source's
// current location.
func (s *ChanSource) Emit(sig Signal) {
	if nav, ok := sig.(Navigated); ok {
		s.mu.Lock()
		s.url, s.title = nav.URL, nav.Title
		s.mu.Unlock()
	}
	s.ch <- sig
}

// SetPage replaces the current page snapshot and location.
func (s *ChanSource) SetPage(url, title, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url, s.title, s.html = url, title, html
}

func (s *ChanSource) Signals() <-chan Signal {
	return s.ch
}

func (s *ChanSource) Snapshot(ctx context.Context) (*goquery.Document, error) {
	s.mu.RLock()
	html := s.html
	s.mu.RUnlock()
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (s *ChanSource) Location() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url, s.title
}

// Close stops signal delivery.
func (s *ChanSource) Close() {
	close(s.ch)
}
