package store

import (
	"database/sql"
	"time"
)

// UpsertChannel inserts or updates a channel identity. Profile fields are
// latest-wins except empty strings, which never clobber known values;
// cursors only advance toward more extreme ids.
func (db *DB) UpsertChannel(c *Channel) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO channels (channel_id, access_hash, title, username, peer_type, is_forum,
			newest_msg_id, newest_msg_date, oldest_msg_id, oldest_msg_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			access_hash = CASE WHEN excluded.access_hash != 0 THEN excluded.access_hash ELSE channels.access_hash END,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE channels.title END,
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE channels.username END,
			peer_type = CASE WHEN excluded.peer_type != '' THEN excluded.peer_type ELSE channels.peer_type END,
			is_forum = excluded.is_forum,
			updated_at = excluded.updated_at`,
		c.ChannelID, c.AccessHash, c.Title, c.Username, c.PeerType, c.IsForum,
		c.NewestMsgID, c.NewestMsgDate, c.OldestMsgID, c.OldestMsgDate, now, now)
	return err
}

// AdvanceCursors widens the channel's known message range. Newest moves up,
// oldest moves down; a cursor never travels backward, so replayed batches
// cannot shrink the range.
func (db *DB) AdvanceCursors(channelID, newestID, newestDate, oldestID, oldestDate int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE channels SET
			newest_msg_id = CASE WHEN ? > newest_msg_id THEN ? ELSE newest_msg_id END,
			newest_msg_date = CASE WHEN ? > newest_msg_id THEN ? ELSE newest_msg_date END,
			oldest_msg_id = CASE WHEN ? != 0 AND (oldest_msg_id = 0 OR ? < oldest_msg_id) THEN ? ELSE oldest_msg_id END,
			oldest_msg_date = CASE WHEN ? != 0 AND (oldest_msg_id = 0 OR ? < oldest_msg_id) THEN ? ELSE oldest_msg_date END,
			updated_at = ?
		WHERE channel_id = ?`,
		newestID, newestID, newestID, newestDate,
		oldestID, oldestID, oldestID, oldestID, oldestID, oldestDate,
		now, channelID)
	return err
}

// SetSyncEnabled toggles message archiving for a channel.
func (db *DB) SetSyncEnabled(channelID int64, enabled bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE channels SET sync_enabled = ?, updated_at = ? WHERE channel_id = ?`,
		enabled, now, channelID)
	return err
}

// GetChannel returns a channel by id, or nil when unknown.
func (db *DB) GetChannel(channelID int64) (*Channel, error) {
	var c Channel
	err := db.QueryRow(`
		SELECT channel_id, access_hash, title, username, peer_type, is_forum, sync_enabled,
			newest_msg_id, newest_msg_date, oldest_msg_id, oldest_msg_date, created_at, updated_at
		FROM channels WHERE channel_id = ?`, channelID).
		Scan(&c.ChannelID, &c.AccessHash, &c.Title, &c.Username, &c.PeerType, &c.IsForum, &c.SyncEnabled,
			&c.NewestMsgID, &c.NewestMsgDate, &c.OldestMsgID, &c.OldestMsgDate, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChannels returns channels ordered by newest message date descending.
// When syncOnly is set, only channels with archiving enabled are returned.
// A non-positive limit returns everything.
func (db *DB) ListChannels(syncOnly bool, limit int) ([]Channel, error) {
	if limit <= 0 {
		limit = -1
	}
	q := `
		SELECT channel_id, access_hash, title, username, peer_type, is_forum, sync_enabled,
			newest_msg_id, newest_msg_date, oldest_msg_id, oldest_msg_date, created_at, updated_at
		FROM channels`
	if syncOnly {
		q += ` WHERE sync_enabled = 1`
	}
	q += ` ORDER BY newest_msg_date DESC LIMIT ?`

	rows, err := db.Query(q, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var channels []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ChannelID, &c.AccessHash, &c.Title, &c.Username, &c.PeerType, &c.IsForum, &c.SyncEnabled,
			&c.NewestMsgID, &c.NewestMsgDate, &c.OldestMsgID, &c.OldestMsgDate, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// ChannelCount returns the total number of known channels.
func (db *DB) ChannelCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM channels`).Scan(&count)
	return count, err
}
