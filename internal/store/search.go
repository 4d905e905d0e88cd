package store

import (
	"fmt"
	"regexp"
	"strings"
)

// SearchFilter composes the archive search. All fields are optional; zero
// values mean "no constraint".
type SearchFilter struct {
	Query     string   // full-text match against the search index
	Regex     string   // client-side pattern re-filter over message text
	ChannelID int64
	TopicID   int64
	Tags      []string // channel must carry one of these
	TagSource string   // partition the tag constraint applies to
	After     int64    // unix seconds, inclusive
	Before    int64    // unix seconds, exclusive
	Limit     int
}

// regexOverfetchFactor widens the index query when a regex re-filter is
// combined with full-text match, since the regex pass cannot be pushed into
// the index. The widened fetch is capped at regexOverfetchMax rows.
const (
	regexOverfetchFactor = 5
	regexOverfetchMax    = 500
)

// SearchMessages runs an archive search combining the full-text index,
// tag/channel/topic/date filters and an optional regex re-filter. Snippets
// are produced only for full-text queries.
func (db *DB) SearchMessages(f SearchFilter) ([]SearchResult, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	// Compile before touching the database: a bad pattern is a caller
	// error, not a search miss.
	var re *regexp.Regexp
	if f.Regex != "" {
		var err error
		re, err = regexp.Compile(f.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
	}

	fetchLimit := limit
	if re != nil {
		fetchLimit = limit * regexOverfetchFactor
		if fetchLimit > regexOverfetchMax {
			fetchLimit = regexOverfetchMax
		}
	}

	var (
		selectCols = `m.id, m.channel_id, m.msg_id, m.date, m.from_id, m.from_username,
			m.from_display_name, m.from_peer_type, m.from_is_bot, m.topic_id, m.text,
			m.link_text, m.file_text, m.sender_text, m.topic_text, m.raw`
		from  = `FROM messages m`
		conds []string
		args  []any
		order = `ORDER BY m.date DESC`
	)

	withSnippet := f.Query != ""
	if withSnippet {
		selectCols += `, snippet(messages_fts, 0, '<<', '>>', '...', 32)`
		from = `FROM messages_fts fts JOIN messages m ON m.id = fts.rowid`
		conds = append(conds, `messages_fts MATCH ?`)
		args = append(args, f.Query)
		order = `ORDER BY rank`
	}
	if len(f.Tags) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(f.Tags)), ",")
		cond := `m.channel_id IN (SELECT channel_id FROM channel_tags WHERE tag IN (` + ph + `)`
		for _, t := range f.Tags {
			args = append(args, t)
		}
		if f.TagSource != "" {
			cond += ` AND source = ?`
			args = append(args, f.TagSource)
		}
		cond += `)`
		conds = append(conds, cond)
	}
	if f.ChannelID != 0 {
		conds = append(conds, `m.channel_id = ?`)
		args = append(args, f.ChannelID)
	}
	if f.TopicID != 0 {
		conds = append(conds, `m.topic_id = ?`)
		args = append(args, f.TopicID)
	}
	if f.After != 0 {
		conds = append(conds, `m.date >= ?`)
		args = append(args, f.After)
	}
	if f.Before != 0 {
		conds = append(conds, `m.date < ?`)
		args = append(args, f.Before)
	}

	q := `SELECT ` + selectCols + ` ` + from
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ` + order + ` LIMIT ?`
	args = append(args, fetchLimit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m := &r.Message
		dest := []any{&m.ID, &m.ChannelID, &m.MsgID, &m.Date, &m.FromID, &m.FromUser,
			&m.FromName, &m.FromType, &m.FromIsBot, &m.TopicID, &m.Text,
			&m.LinkText, &m.FileText, &m.SenderText, &m.TopicText, &m.Raw}
		if withSnippet {
			dest = append(dest, &r.Snippet)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if re != nil && !re.MatchString(r.Message.Text) {
			continue
		}
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// SearchResult holds a message with an optional search snippet.
type SearchResult struct {
	Message
	Snippet string
}
