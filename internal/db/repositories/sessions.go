package repositories

import (
	"database/sql"
	"time"

	"tabscope/pkg/models"
)

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `session_id, user_id, platform, url, hostname, start_time, end_time,
	duration, total_events, input_events, scroll_events, code_blocks_count, patterns,
	struggle_score, is_stuck, selected_texts, code_snippets, browser, user_agent, timezone,
	status, created_at, updated_at`

// Create inserts a session. If a session with the same id already exists the
// call is a no-op; sessions are created on first capture and every later
// flush may race the creation.
func (r *SessionRepo) Create(session *models.Session) error {
	_, err := r.db.Exec(`
		INSERT INTO sessions (session_id, user_id, platform, url, hostname, start_time,
			patterns, selected_texts, code_snippets, browser, user_agent, timezone, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		session.SessionID, session.UserID, session.Platform, session.URL, session.Hostname,
		session.StartTime, session.Patterns, session.SelectedTexts, session.CodeSnippets,
		session.Metadata.Browser, session.Metadata.UserAgent, session.Metadata.Timezone,
		session.Status)
	return err
}

// Get returns the session or sql.ErrNoRows.
func (r *SessionRepo) Get(sessionID string) (*models.Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// End closes a session: sets endTime, derives duration and transitions the
// status to completed. Ending an already completed session keeps the original
// end time.
func (r *SessionRepo) End(sessionID string, endTime time.Time) (*models.Session, error) {
	session, err := r.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionCompleted && session.EndTime != nil {
		return session, nil
	}

	duration := endTime.Sub(session.StartTime).Milliseconds()
	_, err = r.db.Exec(`
		UPDATE sessions SET end_time = ?, duration = ?, status = ?, updated_at = ?
		WHERE session_id = ?`,
		endTime, duration, models.SessionCompleted, time.Now(), sessionID)
	if err != nil {
		return nil, err
	}

	session.EndTime = &endTime
	session.Duration = &duration
	session.Status = models.SessionCompleted
	return session, nil
}

// BatchDelta carries the aggregate changes one ingested event batch applies
// to its owning session.
type BatchDelta struct {
	TotalEvents     int64
	InputEvents     int64
	ScrollEvents    int64
	CodeBlocksCount int64
	Patterns        []models.PatternTag
	SelectedTexts   []string
	CodeSnippets    []string
}

const (
	maxSelectedTexts = 20
	maxCodeSnippets  = 10
)

// ApplyBatch folds a batch delta into the session row: increments counters
// and merges pattern tags and sampled content.
func (r *SessionRepo) ApplyBatch(sessionID string, delta BatchDelta) error {
	session, err := r.Get(sessionID)
	if err != nil {
		return err
	}

	patterns := mergeUnique(session.Patterns, patternsToStrings(delta.Patterns), 0)
	texts := mergeUnique(session.SelectedTexts, delta.SelectedTexts, maxSelectedTexts)
	snippets := mergeUnique(session.CodeSnippets, delta.CodeSnippets, maxCodeSnippets)

	_, err = r.db.Exec(`
		UPDATE sessions SET
			total_events = total_events + ?,
			input_events = input_events + ?,
			scroll_events = scroll_events + ?,
			code_blocks_count = code_blocks_count + ?,
			patterns = ?,
			selected_texts = ?,
			code_snippets = ?,
			updated_at = ?
		WHERE session_id = ?`,
		delta.TotalEvents, delta.InputEvents, delta.ScrollEvents, delta.CodeBlocksCount,
		models.StringList(patterns), models.StringList(texts), models.StringList(snippets),
		time.Now(), sessionID)
	return err
}

// ListActive returns sessions still marked active, newest first.
func (r *SessionRepo) ListActive() ([]*models.Session, error) {
	rows, err := r.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = ? ORDER BY start_time DESC`, models.SessionActive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var endTime sql.NullTime
	var duration sql.NullInt64
	var browser, userAgent, timezone sql.NullString

	err := row.Scan(&s.SessionID, &s.UserID, &s.Platform, &s.URL, &s.Hostname,
		&s.StartTime, &endTime, &duration, &s.TotalEvents, &s.InputEvents,
		&s.ScrollEvents, &s.CodeBlocksCount, &s.Patterns, &s.StruggleScore,
		&s.IsStuck, &s.SelectedTexts, &s.CodeSnippets, &browser, &userAgent,
		&timezone, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	if duration.Valid {
		s.Duration = &duration.Int64
	}
	s.Metadata = models.SessionMetadata{
		Browser:   browser.String,
		UserAgent: userAgent.String,
		Timezone:  timezone.String,
	}
	return &s, nil
}

// mergeUnique appends items not already present, keeping insertion order.
// A limit of 0 means unbounded.
func mergeUnique(existing []string, incoming []string, limit int) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	for _, s := range incoming {
		if limit > 0 && len(merged) >= limit {
			break
		}
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func patternsToStrings(patterns []models.PatternTag) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = string(p)
	}
	return out
}
