package observers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"tabscope/internal/logging"
)

const tailPollInterval = time.Second

// TailSource follows a JSONL raw-signal file appended by a page shim. Each
// line is one signal envelope: {"kind": "...", ...}. Snapshot envelopes carry
// the page HTML and update the source's location instead of emitting a
// signal.
//
// File growth is observed through fsnotify when the watcher can attach to
// the file's directory, with a polling fallback otherwise (in-memory
// filesystems in tests, network mounts).
type TailSource struct {
	fs   afero.Fs
	path string
	ch   chan Signal

	mu    sync.RWMutex
	url   string
	title string
	html  string

	offset int64
	stop   chan struct{}
	done   chan struct{}
}

func NewTailSource(fs afero.Fs, path string) *TailSource {
	s := &TailSource{
		fs:   fs,
		path: path,
		ch:   make(chan Signal, 64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *TailSource) Signals() <-chan Signal {
	return s.ch
}

func (s *TailSource) Snapshot(ctx context.Context) (*goquery.Document, error) {
	s.mu.RLock()
	html := s.html
	s.mu.RUnlock()
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (s *TailSource) Location() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url, s.title
}

// Close stops tailing and closes the signal channel.
func (s *TailSource) Close() {
	close(s.stop)
	<-s.done
	close(s.ch)
}

func (s *TailSource) run() {
	defer close(s.done)

	var watchCh <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := watcher.Add(filepath.Dir(s.path)); addErr == nil {
			watchCh = watcher.Events
		} else {
			logging.Debug("tail source: falling back to polling: %v", addErr)
		}
		defer func() { _ = watcher.Close() }()
	} else {
		logging.Debug("tail source: fsnotify unavailable, polling: %v", err)
	}

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	s.readNew()
	for {
		select {
		case <-s.stop:
			return
		case event := <-watchCh:
			if event.Name == s.path && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.readNew()
			}
		case <-ticker.C:
			s.readNew()
		}
	}
}

// readNew reads any lines appended since the last read.
func (s *TailSource) readNew() {
	file, err := s.fs.Open(s.path)
	if err != nil {
		return
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(s.offset, io.SeekStart); err != nil {
		return
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		s.offset += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}
		s.dispatch(line)
	}
}

// signalEnvelope is the union of every raw-signal line shape.
type signalEnvelope struct {
	Kind           string   `json:"kind"`
	Text           string   `json:"text"`
	Value          string   `json:"value"`
	Target         string   `json:"target"`
	Key            string   `json:"key"`
	Ctrl           bool     `json:"ctrl"`
	Alt            bool     `json:"alt"`
	Meta           bool     `json:"meta"`
	Y              float64  `json:"y"`
	ViewportHeight float64  `json:"viewportHeight"`
	PageHeight     float64  `json:"pageHeight"`
	Visible        []string `json:"visible"`
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	HTML           string   `json:"html"`
}

func (s *TailSource) dispatch(line []byte) {
	var env signalEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		logging.Debug("tail source: skipping malformed signal line: %v", err)
		return
	}

	switch env.Kind {
	case "selection":
		s.emit(SelectionChanged{Text: env.Text})
	case "input":
		s.emit(InputEntered{Target: TargetKind(env.Target), Value: env.Value})
	case "paste":
		s.emit(Pasted{Target: TargetKind(env.Target), Text: env.Text})
	case "keydown":
		s.emit(KeyDown{Key: env.Key, Ctrl: env.Ctrl, Alt: env.Alt, Meta: env.Meta})
	case "scroll":
		s.emit(Scrolled{
			Y:              env.Y,
			ViewportHeight: env.ViewportHeight,
			PageHeight:     env.PageHeight,
			Visible:        env.Visible,
		})
	case "click":
		s.emit(Clicked{Target: env.Target})
	case "navigated":
		s.mu.Lock()
		s.url, s.title = env.URL, env.Title
		s.mu.Unlock()
		s.emit(Navigated{URL: env.URL, Title: env.Title})
	case "snapshot":
		s.mu.Lock()
		if env.URL != "" {
			s.url = env.URL
		}
		if env.Title != "" {
			s.title = env.Title
		}
		s.html = env.HTML
		s.mu.Unlock()
	default:
		logging.Debug("tail source: unknown signal kind %q", env.Kind)
	}
}

func (s *TailSource) emit(sig Signal) {
	select {
	case s.ch <- sig:
	case <-s.stop:
	}
}
