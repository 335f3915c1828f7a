package repositories

import (
	"database/sql"

	"tabscope/internal/db"
)

type Repositories struct {
	Contexts *ContextRepo
	Events   *EventRepo
	Sessions *SessionRepo
	db       db.Database // Store reference to database for transactions
}

func New(database db.Database) *Repositories {
	conn := database.Conn()

	return &Repositories{
		Contexts: NewContextRepo(conn),
		Events:   NewEventRepo(conn),
		Sessions: NewSessionRepo(conn),
		db:       database,
	}
}

// BeginTx starts a database transaction
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.db.Conn().Begin()
}
