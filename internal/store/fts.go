package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// ftsVersion identifies the shape of the messages_fts shadow table. Bump it
// whenever the indexed column set changes; mismatched databases get the
// index dropped and rebuilt from the messages table at startup.
const ftsVersion = 2

const ftsVersionKey = "fts_version"

// ftsColumns is the indexed column set, in order. The shape check compares
// the live virtual table against this list.
var ftsColumns = []string{"text", "link_text", "file_text", "sender_text", "topic_text"}

// EnsureSearchIndex brings the full-text shadow table and its triggers up to
// the version compiled into this build. On a match it is a no-op; otherwise
// the index is dropped, recreated and repopulated from existing messages.
func (db *DB) EnsureSearchIndex() error {
	stored, err := db.GetMeta(ftsVersionKey)
	if err != nil {
		return err
	}
	current, _ := strconv.Atoi(stored)

	if current == ftsVersion {
		ok, err := db.ftsShapeMatches()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	if err := db.rebuildSearchIndex(); err != nil {
		return err
	}
	return db.SetMeta(ftsVersionKey, strconv.Itoa(ftsVersion))
}

// ftsShapeMatches reports whether the live messages_fts table exists and
// carries exactly the expected columns.
func (db *DB) ftsShapeMatches() (bool, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info('messages_fts')`)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	if len(cols) != len(ftsColumns) {
		return false, nil
	}
	for i, c := range ftsColumns {
		if cols[i] != c {
			return false, nil
		}
	}
	return true, nil
}

func (db *DB) rebuildSearchIndex() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DROP TRIGGER IF EXISTS messages_fts_ai`,
		`DROP TRIGGER IF EXISTS messages_fts_ad`,
		`DROP TRIGGER IF EXISTS messages_fts_au`,
		`DROP TABLE IF EXISTS messages_fts`,
		`CREATE VIRTUAL TABLE messages_fts USING fts5(
			text, link_text, file_text, sender_text, topic_text,
			content='messages', content_rowid='id'
		)`,
		// Triggers keep the shadow table in lockstep with every message
		// mutation; the index can never silently diverge from the rows.
		`CREATE TRIGGER messages_fts_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, text, link_text, file_text, sender_text, topic_text)
			VALUES (new.id, new.text, new.link_text, new.file_text, new.sender_text, new.topic_text);
		END`,
		`CREATE TRIGGER messages_fts_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, text, link_text, file_text, sender_text, topic_text)
			VALUES ('delete', old.id, old.text, old.link_text, old.file_text, old.sender_text, old.topic_text);
		END`,
		`CREATE TRIGGER messages_fts_au AFTER UPDATE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, text, link_text, file_text, sender_text, topic_text)
			VALUES ('delete', old.id, old.text, old.link_text, old.file_text, old.sender_text, old.topic_text);
			INSERT INTO messages_fts(rowid, text, link_text, file_text, sender_text, topic_text)
			VALUES (new.id, new.text, new.link_text, new.file_text, new.sender_text, new.topic_text);
		END`,
		// Repopulate from the content table.
		`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("rebuild search index: %w", err)
		}
	}
	return tx.Commit()
}

// GetMeta returns the value for a meta key, or "" when absent.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetMeta stores a meta key/value pair.
func (db *DB) SetMeta(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
