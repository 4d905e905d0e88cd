package store

import (
	"database/sql"
	"time"
)

// GetChannelMetadata returns the cached about text for a channel, or nil
// when never fetched.
func (db *DB) GetChannelMetadata(channelID int64) (*ChannelMetadata, error) {
	var m ChannelMetadata
	err := db.QueryRow(`SELECT channel_id, about, fetched_at FROM channel_metadata WHERE channel_id = ?`,
		channelID).Scan(&m.ChannelID, &m.About, &m.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertChannelMetadata stores the about text with the current fetch time.
func (db *DB) UpsertChannelMetadata(channelID int64, about string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO channel_metadata (channel_id, about, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			about = excluded.about,
			fetched_at = excluded.fetched_at`,
		channelID, about, now)
	return err
}
