package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags a single normalized observation.
type EventType string

const (
	EventInput       EventType = "input"
	EventScroll      EventType = "scroll"
	EventCodeBlocks  EventType = "code_blocks"
	EventSelection   EventType = "selection"
	EventDeletion    EventType = "deletion"
	EventPaste       EventType = "paste"
	EventClick       EventType = "click"
	EventPageContext EventType = "page_context"
	EventOther       EventType = "other"
)

// ContextType tags a persisted context record.
type ContextType string

const (
	ContextPageContext   ContextType = "page_context"
	ContextSelection     ContextType = "selection"
	ContextCodeContext   ContextType = "code_context"
	ContextSummary       ContextType = "summary"
	ContextCodeDetection ContextType = "code_detection"
	ContextActivity      ContextType = "activity"
)

// SessionStatus is the lifecycle state of a monitoring session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// PatternTag is a behavioral pattern detected across a session's events.
type PatternTag string

const (
	PatternTrialAndError PatternTag = "trial_and_error"
	PatternIdleTime      PatternTag = "idle_time"
	PatternRapidScroll   PatternTag = "rapid_scroll"
	PatternCodeChange    PatternTag = "code_change"
	PatternSelection     PatternTag = "selection"
	PatternDeletionHeavy PatternTag = "deletion_heavy"
)

// AnonymousUser is the sentinel user id for unauthenticated captures.
const AnonymousUser = "anonymous"

// StringList stores a []string as a JSON column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}

// Context is one persisted context record. Contexts expire 7 days after
// their timestamp.
type Context struct {
	ID           int64           `json:"id" db:"id"`
	UserID       string          `json:"userId" db:"user_id"`
	SessionID    string          `json:"sessionId" db:"session_id"`
	Type         ContextType     `json:"type" db:"type"`
	URL          string          `json:"url" db:"url"`
	Domain       string          `json:"domain" db:"domain"`
	Title        *string         `json:"title,omitempty" db:"title"`
	Description  *string         `json:"description,omitempty" db:"description"`
	SelectedText *string         `json:"selectedText,omitempty" db:"selected_text"`
	Keywords     StringList      `json:"keywords,omitempty" db:"keywords"`
	Summary      *string         `json:"summary,omitempty" db:"summary"`
	Platform     string          `json:"platform" db:"platform"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Event is one normalized observation. Immutable once stored except for the
// processing flags. Events expire 30 days after creation.
type Event struct {
	ID        string          `json:"id" db:"id"`
	SessionID string          `json:"sessionId" db:"session_id"`
	Type      EventType       `json:"type" db:"type"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty" db:"data"`
	Platform  string          `json:"platform,omitempty" db:"platform"`
	URL       string          `json:"url,omitempty" db:"url"`
	Hostname  string          `json:"hostname,omitempty" db:"hostname"`
	Processed bool            `json:"processed" db:"processed"`
	Analyzed  bool            `json:"analyzed" db:"analyzed"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// SessionMetadata carries browser environment details captured at session start.
type SessionMetadata struct {
	Browser   string `json:"browser,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

// Session is one bounded monitoring episode aggregating many events.
type Session struct {
	SessionID       string          `json:"sessionId" db:"session_id"`
	UserID          string          `json:"userId" db:"user_id"`
	Platform        string          `json:"platform" db:"platform"`
	URL             string          `json:"url" db:"url"`
	Hostname        string          `json:"hostname" db:"hostname"`
	StartTime       time.Time       `json:"startTime" db:"start_time"`
	EndTime         *time.Time      `json:"endTime,omitempty" db:"end_time"`
	Duration        *int64          `json:"duration,omitempty" db:"duration"` // milliseconds
	TotalEvents     int64           `json:"totalEvents" db:"total_events"`
	InputEvents     int64           `json:"inputEvents" db:"input_events"`
	ScrollEvents    int64           `json:"scrollEvents" db:"scroll_events"`
	CodeBlocksCount int64           `json:"codeBlocksCount" db:"code_blocks_count"`
	Patterns        StringList      `json:"patterns" db:"patterns"`
	StruggleScore   int64           `json:"struggleScore" db:"struggle_score"`
	IsStuck         bool            `json:"isStuck" db:"is_stuck"`
	SelectedTexts   StringList      `json:"selectedTexts" db:"selected_texts"`
	CodeSnippets    StringList      `json:"codeSnippets" db:"code_snippets"`
	Metadata        SessionMetadata `json:"metadata"`
	Status          SessionStatus   `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// PlatformScores holds the raw per-signal weights from the platform classifier.
type PlatformScores struct {
	CodeEditor      int `json:"codeEditor"`
	CodeBlocks      int `json:"codeBlocks"`
	SyntaxHighlight int `json:"syntaxHighlight"`
	Terminal        int `json:"terminal"`
	FileSystem      int `json:"fileSystem"`
	Execution       int `json:"execution"`
	Documentation   int `json:"documentation"`
	Learning        int `json:"learning"`
}

// Total sums every signal bucket.
func (s PlatformScores) Total() int {
	return s.CodeEditor + s.CodeBlocks + s.SyntaxHighlight + s.Terminal +
		s.FileSystem + s.Execution + s.Documentation + s.Learning
}

// PlatformAnalysis is the transient per-page-load classification result. It is
// never persisted on its own; it is embedded into events and sessions as
// context.
type PlatformAnalysis struct {
	Hostname   string         `json:"hostname"`
	Scores     PlatformScores `json:"scores"`
	Features   []string       `json:"features"`
	Category   string         `json:"category"`
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
}

// IsCodingPlatform reports whether the page scored high enough to be worth an
// external identity-refinement call.
func (a *PlatformAnalysis) IsCodingPlatform() bool {
	return a.Scores.Total() >= 15
}
