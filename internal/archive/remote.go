// Package archive implements the sync engine: cursor-driven backfill,
// realtime ingestion, the single-flight job scheduler, and the service
// facade that front ends call.
package archive

import (
	"context"
	"strings"

	"github.com/tgvault/tgvault/internal/store"
	"github.com/tgvault/tgvault/internal/telegram"
)

// RemoteClient is the slice of the remote messaging client the engine
// consumes. Narrow on purpose: tests substitute a fake.
type RemoteClient interface {
	ListDialogs(ctx context.Context) ([]telegram.Dialog, error)
	GetMessages(ctx context.Context, channelID int64, req telegram.HistoryRequest) (*telegram.HistoryPage, error)
	IterHistoryBefore(ctx context.Context, channelID int64, cursor telegram.Cursor, limit int) ([]telegram.Message, error)
	GetPeerMetadata(ctx context.Context, channelID int64) (*telegram.PeerMetadata, error)
	ListTopics(ctx context.Context, channelID int64) ([]telegram.Topic, error)
	ListContacts(ctx context.Context) ([]telegram.RemoteUser, error)
	SeedPeer(id, accessHash int64, peerType string)
}

// topicTitles caches per-channel topic lookups for the duration of one
// batch conversion.
type topicTitles struct {
	db        *store.DB
	channelID int64
	cache     map[int64]string
}

func newTopicTitles(db *store.DB, channelID int64) *topicTitles {
	return &topicTitles{db: db, channelID: channelID, cache: make(map[int64]string)}
}

func (t *topicTitles) title(topicID int64) string {
	if topicID == 0 {
		return ""
	}
	if title, ok := t.cache[topicID]; ok {
		return title
	}
	title, err := t.db.GetTopicTitle(t.channelID, topicID)
	if err != nil {
		title = ""
	}
	t.cache[topicID] = title
	return title
}

// convertMessage flattens a normalized remote message into a store row,
// deriving the denormalized text fields the search index covers.
func convertMessage(channelID int64, m telegram.Message, topics *topicTitles) store.Message {
	out := store.Message{
		ChannelID: channelID,
		MsgID:     m.ID,
		Date:      m.Date,
		FromID:    m.FromID,
		FromUser:  m.FromUser,
		FromName:  m.FromName,
		FromType:  m.FromType,
		FromIsBot: m.FromIsBot,
		TopicID:   m.TopicID,
		Text:      m.Text,
		Raw:       m.Raw,
	}

	out.SenderText = joinNonEmpty(m.FromUser, m.FromName)
	if topics != nil {
		out.TopicText = topics.title(m.TopicID)
	}

	if len(m.Links) > 0 {
		parts := make([]string, 0, len(m.Links)*2)
		for _, l := range m.Links {
			out.Links = append(out.Links, store.Link{
				ChannelID: channelID,
				MsgID:     m.ID,
				URL:       l.URL,
				Domain:    l.Domain,
			})
			parts = append(parts, l.URL)
			if l.Domain != "" {
				parts = append(parts, l.Domain)
			}
		}
		out.LinkText = strings.Join(parts, " ")
	}

	if m.Media != nil {
		out.Media = &store.Media{
			ChannelID:   channelID,
			MsgID:       m.ID,
			Kind:        m.Media.Kind,
			FileID:      m.Media.FileID,
			FileName:    m.Media.FileName,
			MimeType:    m.Media.MimeType,
			Width:       m.Media.Width,
			Height:      m.Media.Height,
			DurationSec: m.Media.DurationSec,
			Extra:       m.Media.Extra,
		}
		out.FileText = joinNonEmpty(m.Media.FileName, m.Media.Kind)
	}

	return out
}

func convertMessages(channelID int64, msgs []telegram.Message, topics *topicTitles) []store.Message {
	out := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertMessage(channelID, m, topics))
	}
	return out
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
