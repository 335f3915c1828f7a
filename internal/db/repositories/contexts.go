package repositories

import (
	"database/sql"
	"time"

	"tabscope/pkg/models"
)

type ContextRepo struct {
	db *sql.DB
}

func NewContextRepo(db *sql.DB) *ContextRepo {
	return &ContextRepo{db: db}
}

const contextColumns = `id, user_id, session_id, type, url, domain, title, description,
	selected_text, keywords, summary, platform, metadata, timestamp`

func (r *ContextRepo) Create(context *models.Context) (*models.Context, error) {
	result, err := r.db.Exec(`
		INSERT INTO contexts (user_id, session_id, type, url, domain, title, description,
			selected_text, keywords, summary, platform, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		context.UserID, context.SessionID, context.Type, context.URL, context.Domain,
		context.Title, context.Description, context.SelectedText, context.Keywords,
		context.Summary, context.Platform, nullableJSON(context.Metadata), context.Timestamp)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	context.ID = id
	return context, nil
}

// CreateBatch inserts all contexts in a single transaction so a failure
// partway leaves nothing persisted.
func (r *ContextRepo) CreateBatch(contexts []*models.Context) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO contexts (user_id, session_id, type, url, domain, title, description,
			selected_text, keywords, summary, platform, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range contexts {
		result, err := stmt.Exec(
			c.UserID, c.SessionID, c.Type, c.URL, c.Domain, c.Title, c.Description,
			c.SelectedText, c.Keywords, c.Summary, c.Platform, nullableJSON(c.Metadata), c.Timestamp)
		if err != nil {
			return err
		}
		if id, err := result.LastInsertId(); err == nil {
			c.ID = id
		}
	}

	return tx.Commit()
}

// HistoryFilter narrows a context history query. Zero values mean "no filter".
type HistoryFilter struct {
	SessionID string
	UserID    string
	Type      string
	Limit     int
}

// History returns the most recent contexts matching the filter, newest first.
func (r *ContextRepo) History(filter HistoryFilter) ([]*models.Context, error) {
	query := `SELECT ` + contextColumns + ` FROM contexts WHERE 1=1`
	args := []interface{}{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanContexts(rows)
}

// ListBySession returns every context for a session, oldest first.
func (r *ContextRepo) ListBySession(sessionID string) ([]*models.Context, error) {
	rows, err := r.db.Query(`
		SELECT `+contextColumns+` FROM contexts
		WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanContexts(rows)
}

// DomainCount is one entry of the top-domains breakdown.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

// ContextStatistics aggregates contexts over a trailing time window.
type ContextStatistics struct {
	Total      int64            `json:"total"`
	ByType     map[string]int64 `json:"byType"`
	ByPlatform map[string]int64 `json:"byPlatform"`
	TopDomains []DomainCount    `json:"topDomains"`
}

// Statistics computes counts for contexts with timestamp >= since.
func (r *ContextRepo) Statistics(since time.Time) (*ContextStatistics, error) {
	stats := &ContextStatistics{
		ByType:     make(map[string]int64),
		ByPlatform: make(map[string]int64),
	}

	if err := r.db.QueryRow(`SELECT COUNT(*) FROM contexts WHERE timestamp >= ?`, since).
		Scan(&stats.Total); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`
		SELECT type, COUNT(*) FROM contexts WHERE timestamp >= ? GROUP BY type`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.ByType[t] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	platformRows, err := r.db.Query(`
		SELECT platform, COUNT(*) FROM contexts WHERE timestamp >= ? GROUP BY platform`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = platformRows.Close() }()
	for platformRows.Next() {
		var p string
		var n int64
		if err := platformRows.Scan(&p, &n); err != nil {
			return nil, err
		}
		stats.ByPlatform[p] = n
	}
	if err := platformRows.Err(); err != nil {
		return nil, err
	}

	domainRows, err := r.db.Query(`
		SELECT domain, COUNT(*) as cnt FROM contexts WHERE timestamp >= ?
		GROUP BY domain ORDER BY cnt DESC LIMIT 10`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = domainRows.Close() }()
	for domainRows.Next() {
		var dc DomainCount
		if err := domainRows.Scan(&dc.Domain, &dc.Count); err != nil {
			return nil, err
		}
		stats.TopDomains = append(stats.TopDomains, dc)
	}
	if err := domainRows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// DeleteOlderThan removes contexts with timestamp strictly before the cutoff
// and returns the number deleted.
func (r *ContextRepo) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM contexts WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanContexts(rows *sql.Rows) ([]*models.Context, error) {
	var contexts []*models.Context
	for rows.Next() {
		var c models.Context
		var metadata sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &c.SessionID, &c.Type, &c.URL, &c.Domain,
			&c.Title, &c.Description, &c.SelectedText, &c.Keywords, &c.Summary,
			&c.Platform, &metadata, &c.Timestamp); err != nil {
			return nil, err
		}
		if metadata.Valid {
			c.Metadata = []byte(metadata.String)
		}
		contexts = append(contexts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contexts, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
