package sqlite

import (
	"database/sql"
	"fmt"

	// Pure-Go SQLite driver, registered as "sqlite"
	_ "modernc.org/sqlite"
)

// Open opens the SQLite database at dsn. The pool is limited to one
// connection: an in-memory database lives exactly as long as its last
// connection, and a single writer keeps sequence assignment serialized.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
