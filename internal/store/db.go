package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the app-owned archive.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// The caller is expected to hold the session lock; within a process the store
// assumes it is the sole owner of the path it was opened with.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Init runs migrations and brings the search index up to the code's version.
// Open + Init is the normal construction path; tests use it the same way.
func (db *DB) Init() error {
	if _, err := db.Migrate(); err != nil {
		return err
	}
	if err := db.EnsureSearchIndex(); err != nil {
		return fmt.Errorf("ensure search index: %w", err)
	}
	return nil
}
