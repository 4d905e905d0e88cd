package store

import (
	"fmt"
	"strings"
	"time"
)

// ReplaceChannelTags swaps the full tag set for one (channel, source)
// partition in a single transaction. Tags under other sources are untouched,
// so auto-classification can never clobber manual edits.
func (db *DB) ReplaceChannelTags(channelID int64, source string, tags []ChannelTag) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM channel_tags WHERE channel_id = ? AND source = ?`,
		channelID, source); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, t := range tags {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO channel_tags (channel_id, tag, source, confidence, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			channelID, t.Tag, source, t.Confidence, now); err != nil {
			return fmt.Errorf("insert tag %q: %w", t.Tag, err)
		}
	}
	return tx.Commit()
}

// ListChannelTags returns all tags on a channel across sources.
func (db *DB) ListChannelTags(channelID int64) ([]ChannelTag, error) {
	rows, err := db.Query(`
		SELECT channel_id, tag, source, confidence
		FROM channel_tags WHERE channel_id = ?
		ORDER BY source, tag`, channelID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tags []ChannelTag
	for rows.Next() {
		var t ChannelTag
		if err := rows.Scan(&t.ChannelID, &t.Tag, &t.Source, &t.Confidence); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// TaggedChannel is a channel paired with the tags that matched a listing.
type TaggedChannel struct {
	Channel
	Tags []ChannelTag
}

// ListTaggedChannels returns channels carrying at least one of the given
// tags. An empty source matches any partition.
func (db *DB) ListTaggedChannels(tags []string, source string) ([]TaggedChannel, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, 0, len(tags)+1)
	for _, t := range tags {
		args = append(args, t)
	}
	q := `
		SELECT DISTINCT c.channel_id, c.access_hash, c.title, c.username, c.peer_type, c.is_forum, c.sync_enabled,
			c.newest_msg_id, c.newest_msg_date, c.oldest_msg_id, c.oldest_msg_date, c.created_at, c.updated_at
		FROM channels c
		JOIN channel_tags ct ON ct.channel_id = c.channel_id
		WHERE ct.tag IN (` + ph + `)`
	if source != "" {
		q += ` AND ct.source = ?`
		args = append(args, source)
	}
	q += ` ORDER BY c.title`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TaggedChannel
	for rows.Next() {
		var tc TaggedChannel
		c := &tc.Channel
		if err := rows.Scan(&c.ChannelID, &c.AccessHash, &c.Title, &c.Username, &c.PeerType, &c.IsForum, &c.SyncEnabled,
			&c.NewestMsgID, &c.NewestMsgDate, &c.OldestMsgID, &c.OldestMsgDate, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		chTags, err := db.ListChannelTags(out[i].ChannelID)
		if err != nil {
			return nil, err
		}
		out[i].Tags = chTags
	}
	return out, nil
}
