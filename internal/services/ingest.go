package services

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"tabscope/internal/db/repositories"
	"tabscope/internal/logging"
	"tabscope/pkg/models"
)

// IngestService stamps incoming contexts and events with defaults, resolves
// their owning session and folds batch aggregates into session rows.
type IngestService struct {
	repos *repositories.Repositories
}

func NewIngestService(repos *repositories.Repositories) *IngestService {
	return &IngestService{repos: repos}
}

// DomainFromURL derives a hostname from a raw URL, falling back to the
// literal "unknown" when the URL cannot be parsed.
func DomainFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	return parsed.Hostname()
}

// ResolveSessionID picks the session id for a batch: explicit parameter wins,
// then the first context's session id, then a freshly generated UUID.
func ResolveSessionID(explicit string, contexts []*models.Context) string {
	if explicit != "" {
		return explicit
	}
	for _, c := range contexts {
		if c.SessionID != "" {
			return c.SessionID
		}
	}
	return uuid.New().String()
}

// StampContext fills defaults on a single context: user id, platform,
// timestamp, and a derived domain when missing.
func (s *IngestService) StampContext(context *models.Context) {
	if context.UserID == "" {
		context.UserID = models.AnonymousUser
	}
	if context.Platform == "" {
		context.Platform = "web"
	}
	if context.SessionID == "" {
		context.SessionID = uuid.New().String()
	}
	if context.Domain == "" {
		context.Domain = DomainFromURL(context.URL)
	}
	if context.Timestamp.IsZero() {
		context.Timestamp = time.Now()
	}
}

// StampBatch stamps every context in a batch with the resolved session id and
// per-record defaults.
func (s *IngestService) StampBatch(sessionID string, contexts []*models.Context) {
	for _, c := range contexts {
		c.SessionID = sessionID
		s.StampContext(c)
	}
}

// IngestEvents persists an event batch and folds its aggregates into the
// owning session. Session bookkeeping failures are logged, not returned:
// the events are the payload, the counters are derived state.
func (s *IngestService) IngestEvents(sessionID string, events []*models.Event) error {
	now := time.Now()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.SessionID = sessionID
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.Hostname == "" && e.URL != "" {
			e.Hostname = DomainFromURL(e.URL)
		}
	}

	if err := s.repos.Events.CreateBatch(events); err != nil {
		return err
	}

	delta := deriveDelta(events)
	if err := s.repos.Sessions.ApplyBatch(sessionID, delta); err != nil {
		logging.Debug("session %s not updated for batch of %d events: %v", sessionID, len(events), err)
	}
	return nil
}

// deriveDelta computes counter increments, pattern tags and content samples
// from one batch of events.
func deriveDelta(events []*models.Event) repositories.BatchDelta {
	delta := repositories.BatchDelta{TotalEvents: int64(len(events))}

	var deletions int64
	patterns := map[models.PatternTag]bool{}

	for _, e := range events {
		switch e.Type {
		case models.EventInput, models.EventPaste:
			delta.InputEvents++
		case models.EventDeletion:
			delta.InputEvents++
			deletions++
		case models.EventScroll:
			delta.ScrollEvents++
			if scrollBehavior(e.Data) == "rapid_scroll" {
				patterns[models.PatternRapidScroll] = true
			}
		case models.EventCodeBlocks:
			delta.CodeBlocksCount += codeBlockCount(e.Data)
			if snippet := firstSnippet(e.Data); snippet != "" {
				delta.CodeSnippets = append(delta.CodeSnippets, snippet)
			}
		case models.EventSelection:
			patterns[models.PatternSelection] = true
			if text := selectionText(e.Data); text != "" {
				delta.SelectedTexts = append(delta.SelectedTexts, text)
			}
		}
	}

	// More than half of the typing activity being deletions suggests churn.
	if delta.InputEvents > 0 && deletions*2 > delta.InputEvents {
		patterns[models.PatternDeletionHeavy] = true
	}

	for p := range patterns {
		delta.Patterns = append(delta.Patterns, p)
	}
	return delta
}

func scrollBehavior(data json.RawMessage) string {
	var payload struct {
		Behavior string `json:"behavior"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.Behavior
}

func codeBlockCount(data json.RawMessage) int64 {
	var payload struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0
	}
	return payload.Count
}

func firstSnippet(data json.RawMessage) string {
	var payload struct {
		Blocks []struct {
			Snippet string `json:"snippet"`
		} `json:"blocks"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Blocks) == 0 {
		return ""
	}
	return strings.TrimSpace(payload.Blocks[0].Snippet)
}

func selectionText(data json.RawMessage) string {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Text)
}
