package db

import "database/sql"

// Database is the minimal surface the rest of the code needs from a database
// handle. Both *DB and *TestDB implement it.
type Database interface {
	Conn() *sql.DB
	Close() error
	Migrate() error
}
