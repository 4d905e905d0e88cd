package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertUser inserts or updates a remote identity. Empty fields never
// clobber known values.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (user_id, username, display_name, phone, is_bot, is_contact, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE users.phone END,
			is_bot = excluded.is_bot,
			is_contact = excluded.is_contact,
			updated_at = excluded.updated_at`,
		u.UserID, u.Username, u.Name, u.Phone, u.IsBot, u.IsContact, now)
	return err
}

// BulkUpsertUsers inserts or updates multiple users in a single transaction.
func (db *DB) BulkUpsertUsers(users []User) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, u := range users {
		if _, err := tx.Exec(`
			INSERT INTO users (user_id, username, display_name, phone, is_bot, is_contact, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END,
				display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
				phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE users.phone END,
				is_bot = excluded.is_bot,
				is_contact = excluded.is_contact,
				updated_at = excluded.updated_at`,
			u.UserID, u.Username, u.Name, u.Phone, u.IsBot, u.IsContact, now); err != nil {
			return fmt.Errorf("upsert user %d: %w", u.UserID, err)
		}
	}
	return tx.Commit()
}

// GetUser returns a cached identity, or nil when unknown.
func (db *DB) GetUser(userID int64) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT user_id, username, display_name, phone, is_bot, is_contact, updated_at
		FROM users WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Username, &u.Name, &u.Phone, &u.IsBot, &u.IsContact, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetContact returns a contact annotation joined with its identity, or nil
// when no annotation exists yet.
func (db *DB) GetContact(userID int64) (*Contact, error) {
	var c Contact
	var tagsJSON string
	err := db.QueryRow(`
		SELECT ct.user_id, COALESCE(u.username, ''), COALESCE(u.display_name, ''),
			ct.alias, ct.notes, ct.tags, ct.updated_at
		FROM contacts ct
		LEFT JOIN users u ON u.user_id = ct.user_id
		WHERE ct.user_id = ?`, userID).
		Scan(&c.UserID, &c.Username, &c.Name, &c.Alias, &c.Notes, &tagsJSON, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &c.Tags); err != nil {
		return nil, fmt.Errorf("decode contact tags: %w", err)
	}
	return &c, nil
}

// SetContactAlias sets the user-authored alias, creating the annotation row
// on first write.
func (db *DB) SetContactAlias(userID int64, alias string) error {
	return db.upsertContactField(userID, "alias", alias)
}

// SetContactNotes sets the free-text notes for a contact.
func (db *DB) SetContactNotes(userID int64, notes string) error {
	return db.upsertContactField(userID, "notes", notes)
}

func (db *DB) upsertContactField(userID int64, field, value string) error {
	now := time.Now().UnixMilli()
	// field is one of two fixed column names, never caller input.
	q := fmt.Sprintf(`
		INSERT INTO contacts (user_id, %s, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			%s = excluded.%s,
			updated_at = excluded.updated_at`, field, field, field)
	_, err := db.Exec(q, userID, value, now)
	return err
}

// AddContactTags adds tags to a contact's set; already-present tags are kept
// once. The set is independent of channel tags.
func (db *DB) AddContactTags(userID int64, tags []string) error {
	return db.mutateContactTags(userID, func(cur []string) []string {
		seen := make(map[string]bool, len(cur))
		out := cur
		for _, t := range cur {
			seen[t] = true
		}
		for _, t := range tags {
			if !seen[t] {
				out = append(out, t)
				seen[t] = true
			}
		}
		return out
	})
}

// RemoveContactTags removes tags from a contact's set.
func (db *DB) RemoveContactTags(userID int64, tags []string) error {
	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[t] = true
	}
	return db.mutateContactTags(userID, func(cur []string) []string {
		out := cur[:0]
		for _, t := range cur {
			if !drop[t] {
				out = append(out, t)
			}
		}
		return out
	})
}

func (db *DB) mutateContactTags(userID int64, fn func([]string) []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tagsJSON string
	err = tx.QueryRow(`SELECT tags FROM contacts WHERE user_id = ?`, userID).Scan(&tagsJSON)
	if err == sql.ErrNoRows {
		tagsJSON = "[]"
	} else if err != nil {
		return err
	}

	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return fmt.Errorf("decode contact tags: %w", err)
	}
	tags = fn(tags)
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode contact tags: %w", err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO contacts (user_id, tags, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		userID, string(encoded), now); err != nil {
		return fmt.Errorf("write contact tags: %w", err)
	}
	return tx.Commit()
}

// ListContacts returns all contact annotations joined with identities.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT ct.user_id, COALESCE(u.username, ''), COALESCE(u.display_name, ''),
			ct.alias, ct.notes, ct.tags, ct.updated_at
		FROM contacts ct
		LEFT JOIN users u ON u.user_id = ct.user_id
		ORDER BY ct.user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		var tagsJSON string
		if err := rows.Scan(&c.UserID, &c.Username, &c.Name, &c.Alias, &c.Notes, &tagsJSON, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &c.Tags); err != nil {
			return nil, fmt.Errorf("decode contact tags: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
