package store

import (
	"database/sql"
	"fmt"
)

// UpsertTopics stores forum topic titles for a channel in one transaction.
func (db *DB) UpsertTopics(channelID int64, topics []Topic) error {
	if len(topics) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range topics {
		if _, err := tx.Exec(`
			INSERT INTO topics (channel_id, topic_id, title)
			VALUES (?, ?, ?)
			ON CONFLICT(channel_id, topic_id) DO UPDATE SET title = excluded.title`,
			channelID, t.TopicID, t.Title); err != nil {
			return fmt.Errorf("upsert topic %d: %w", t.TopicID, err)
		}
	}
	return tx.Commit()
}

// GetTopicTitle returns the title for a forum topic, or "" when unknown.
func (db *DB) GetTopicTitle(channelID, topicID int64) (string, error) {
	var title string
	err := db.QueryRow(`SELECT title FROM topics WHERE channel_id = ? AND topic_id = ?`,
		channelID, topicID).Scan(&title)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return title, nil
}

// ListTopics returns all known topics for a channel.
func (db *DB) ListTopics(channelID int64) ([]Topic, error) {
	rows, err := db.Query(`SELECT channel_id, topic_id, title FROM topics WHERE channel_id = ? ORDER BY topic_id`,
		channelID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ChannelID, &t.TopicID, &t.Title); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
