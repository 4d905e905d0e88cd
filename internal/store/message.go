package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertMessages archives a batch of messages in one transaction using
// insert-or-ignore, so replaying a batch is idempotent. Media and link rows
// travel with their message. The channel's cursors are advanced inside the
// same transaction, so a crash mid-batch cannot leave cursors ahead of rows.
// Returns the number of newly inserted messages.
func (db *DB) InsertMessages(channelID int64, msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	inserted := 0
	var newestID, newestDate, oldestID, oldestDate int64

	for i := range msgs {
		m := &msgs[i]
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO messages (channel_id, msg_id, date, from_id, from_username,
				from_display_name, from_peer_type, from_is_bot, topic_id, text,
				link_text, file_text, sender_text, topic_text, raw, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			channelID, m.MsgID, m.Date, m.FromID, m.FromUser, m.FromName, m.FromType,
			m.FromIsBot, m.TopicID, m.Text, m.LinkText, m.FileText, m.SenderText,
			m.TopicText, m.Raw, now)
		if err != nil {
			return 0, fmt.Errorf("insert message %d: %w", m.MsgID, err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			inserted++
			if err := writeMediaAndLinks(tx, channelID, m); err != nil {
				return 0, err
			}
		}

		if m.MsgID > newestID {
			newestID, newestDate = m.MsgID, m.Date
		}
		if oldestID == 0 || m.MsgID < oldestID {
			oldestID, oldestDate = m.MsgID, m.Date
		}
	}

	if err := advanceCursorsTx(tx, channelID, newestID, newestDate, oldestID, oldestDate); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return inserted, nil
}

// UpsertMessage overwrites a message, used by the edit path where the latest
// version wins. Media and links are replaced; an absent media row is deleted
// rather than left stale.
func (db *DB) UpsertMessage(m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (channel_id, msg_id, date, from_id, from_username,
			from_display_name, from_peer_type, from_is_bot, topic_id, text,
			link_text, file_text, sender_text, topic_text, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, msg_id) DO UPDATE SET
			date = excluded.date,
			from_id = excluded.from_id,
			from_username = excluded.from_username,
			from_display_name = excluded.from_display_name,
			from_peer_type = excluded.from_peer_type,
			from_is_bot = excluded.from_is_bot,
			topic_id = excluded.topic_id,
			text = excluded.text,
			link_text = excluded.link_text,
			file_text = excluded.file_text,
			sender_text = excluded.sender_text,
			topic_text = excluded.topic_text,
			raw = excluded.raw`,
		m.ChannelID, m.MsgID, m.Date, m.FromID, m.FromUser, m.FromName, m.FromType,
		m.FromIsBot, m.TopicID, m.Text, m.LinkText, m.FileText, m.SenderText,
		m.TopicText, m.Raw, now); err != nil {
		return fmt.Errorf("upsert message %d: %w", m.MsgID, err)
	}

	if err := writeMediaAndLinks(tx, m.ChannelID, m); err != nil {
		return err
	}

	if err := advanceCursorsTx(tx, m.ChannelID, m.MsgID, m.Date, m.MsgID, m.Date); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func writeMediaAndLinks(tx execer, channelID int64, m *Message) error {
	if m.Media != nil {
		if _, err := tx.Exec(`
			INSERT INTO message_media (channel_id, msg_id, kind, file_id, file_name, mime_type, width, height, duration_s, extra)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(channel_id, msg_id) DO UPDATE SET
				kind = excluded.kind,
				file_id = excluded.file_id,
				file_name = excluded.file_name,
				mime_type = excluded.mime_type,
				width = excluded.width,
				height = excluded.height,
				duration_s = excluded.duration_s,
				extra = excluded.extra`,
			channelID, m.MsgID, m.Media.Kind, m.Media.FileID, m.Media.FileName,
			m.Media.MimeType, m.Media.Width, m.Media.Height, m.Media.DurationSec, m.Media.Extra); err != nil {
			return fmt.Errorf("upsert media %d: %w", m.MsgID, err)
		}
	} else {
		if _, err := tx.Exec(`DELETE FROM message_media WHERE channel_id = ? AND msg_id = ?`,
			channelID, m.MsgID); err != nil {
			return fmt.Errorf("delete media %d: %w", m.MsgID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM message_links WHERE channel_id = ? AND msg_id = ?`,
		channelID, m.MsgID); err != nil {
		return fmt.Errorf("clear links %d: %w", m.MsgID, err)
	}
	for _, l := range m.Links {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO message_links (channel_id, msg_id, url, domain)
			VALUES (?, ?, ?, ?)`,
			channelID, m.MsgID, l.URL, l.Domain); err != nil {
			return fmt.Errorf("insert link %d: %w", m.MsgID, err)
		}
	}
	return nil
}

func advanceCursorsTx(tx execer, channelID, newestID, newestDate, oldestID, oldestDate int64) error {
	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		UPDATE channels SET
			newest_msg_id = CASE WHEN ? > newest_msg_id THEN ? ELSE newest_msg_id END,
			newest_msg_date = CASE WHEN ? > newest_msg_id THEN ? ELSE newest_msg_date END,
			oldest_msg_id = CASE WHEN ? != 0 AND (oldest_msg_id = 0 OR ? < oldest_msg_id) THEN ? ELSE oldest_msg_id END,
			oldest_msg_date = CASE WHEN ? != 0 AND (oldest_msg_id = 0 OR ? < oldest_msg_id) THEN ? ELSE oldest_msg_date END,
			updated_at = ?
		WHERE channel_id = ?`,
		newestID, newestID, newestID, newestDate,
		oldestID, oldestID, oldestID, oldestID, oldestID, oldestDate,
		now, channelID); err != nil {
		return fmt.Errorf("advance cursors: %w", err)
	}
	return nil
}

// DeleteMessages removes a set of messages for a channel along with their
// media and link rows. Returns the number of message rows removed.
func (db *DB) DeleteMessages(channelID int64, msgIDs []int64) (int64, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ph, args := idPlaceholders(channelID, msgIDs)
	if _, err := tx.Exec(`DELETE FROM message_media WHERE channel_id = ? AND msg_id IN (`+ph+`)`, args...); err != nil {
		return 0, fmt.Errorf("delete media: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM message_links WHERE channel_id = ? AND msg_id IN (`+ph+`)`, args...); err != nil {
		return 0, fmt.Errorf("delete links: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM messages WHERE channel_id = ? AND msg_id IN (`+ph+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return res.RowsAffected()
}

// DeleteMessagesFromUserPeers removes messages by id across direct-message
// peers only. Used for delete events that carry no channel scope, where
// purging channel history on an ambiguous id set would be wrong.
func (db *DB) DeleteMessagesFromUserPeers(msgIDs []int64) (int64, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(msgIDs)), ",")
	args := make([]any, 0, len(msgIDs))
	for _, id := range msgIDs {
		args = append(args, id)
	}
	res, err := db.Exec(`
		DELETE FROM messages
		WHERE msg_id IN (`+ph+`)
		AND channel_id IN (SELECT channel_id FROM channels WHERE peer_type = 'user')`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete user-peer messages: %w", err)
	}
	return res.RowsAffected()
}

func idPlaceholders(channelID int64, msgIDs []int64) (string, []any) {
	ph := strings.TrimSuffix(strings.Repeat("?,", len(msgIDs)), ",")
	args := make([]any, 0, len(msgIDs)+1)
	args = append(args, channelID)
	for _, id := range msgIDs {
		args = append(args, id)
	}
	return ph, args
}

const messageColumns = `id, channel_id, msg_id, date, from_id, from_username,
	from_display_name, from_peer_type, from_is_bot, topic_id, text,
	link_text, file_text, sender_text, topic_text, raw`

func scanMessage(rows interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := rows.Scan(&m.ID, &m.ChannelID, &m.MsgID, &m.Date, &m.FromID, &m.FromUser,
		&m.FromName, &m.FromType, &m.FromIsBot, &m.TopicID, &m.Text,
		&m.LinkText, &m.FileText, &m.SenderText, &m.TopicText, &m.Raw)
	return m, err
}

// GetMessage returns a single message, or nil when absent.
func (db *DB) GetMessage(channelID, msgID int64) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE channel_id = ? AND msg_id = ?`,
		channelID, msgID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageContext returns up to before messages preceding and after
// messages following the given message id within its channel, in ascending
// message id order with the anchor included.
func (db *DB) GetMessageContext(channelID, msgID int64, before, after int) ([]Message, error) {
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}
	rows, err := db.Query(`
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE channel_id = ? AND msg_id < ?
			ORDER BY msg_id DESC LIMIT ?
		)
		UNION ALL
		SELECT `+messageColumns+` FROM messages
		WHERE channel_id = ? AND msg_id >= ?
		ORDER BY msg_id ASC LIMIT ?`,
		channelID, msgID, before, channelID, msgID, before+after+1)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListMessages returns messages for a channel using keyset pagination by
// message id, newest first. beforeID of 0 starts from the head.
func (db *DB) ListMessages(channelID, beforeID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeID <= 0 {
		beforeID = int64(1) << 62
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE channel_id = ? AND msg_id < ?
		ORDER BY msg_id DESC LIMIT ?`, channelID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of archived messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// MessageCountForChannel returns the number of archived messages for one channel.
func (db *DB) MessageCountForChannel(channelID int64) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE channel_id = ?`, channelID).Scan(&count)
	return count, err
}
