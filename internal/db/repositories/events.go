package repositories

import (
	"database/sql"
	"time"

	"tabscope/pkg/models"
)

type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

const eventColumns = `id, session_id, type, timestamp, data, platform, url, hostname,
	processed, analyzed, created_at`

// CreateBatch inserts all events in a single transaction.
func (r *EventRepo) CreateBatch(events []*models.Event) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO events (id, session_id, type, timestamp, data, platform, url, hostname,
			processed, analyzed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		if _, err := stmt.Exec(
			e.ID, e.SessionID, e.Type, e.Timestamp, nullableJSON(e.Data),
			e.Platform, e.URL, e.Hostname, e.Processed, e.Analyzed, e.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// EventFilter narrows an event query. Zero values mean "no filter".
type EventFilter struct {
	SessionID string
	Type      string
	Limit     int
}

// List returns the most recent events matching the filter, newest first.
func (r *EventRepo) List(filter EventFilter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	args := []interface{}{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var data sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Timestamp, &data,
			&e.Platform, &e.URL, &e.Hostname, &e.Processed, &e.Analyzed, &e.CreatedAt); err != nil {
			return nil, err
		}
		if data.Valid {
			e.Data = []byte(data.String)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkProcessed flips the processed flag on the given events.
func (r *EventRepo) MarkProcessed(ids []string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE events SET processed = 1 WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteOlderThan removes events created strictly before the cutoff and
// returns the number deleted.
func (r *EventRepo) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
