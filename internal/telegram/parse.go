package telegram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gotd/td/tg"
)

var urlRegexp = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// extractLinks finds every distinct URL in text and derives its domain.
func extractLinks(text string) []Link {
	matches := urlRegexp.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var links []Link
	for _, raw := range matches {
		raw = strings.TrimRight(raw, ".,;:")
		if seen[raw] {
			continue
		}
		seen[raw] = true
		domain := ""
		if u, err := url.Parse(raw); err == nil {
			domain = strings.TrimPrefix(u.Hostname(), "www.")
		}
		links = append(links, Link{URL: raw, Domain: domain})
	}
	return links
}

// senderInfo is resolved from the entity lists accompanying a response.
type senderInfo struct {
	ID       int64
	Username string
	Name     string
	PeerType string
	IsBot    bool
}

// entityIndex maps peer ids to display data from a response's users/chats.
type entityIndex struct {
	users map[int64]*tg.User
	chats map[int64]tg.ChatClass
}

func indexEntities(users []tg.UserClass, chats []tg.ChatClass) *entityIndex {
	idx := &entityIndex{
		users: make(map[int64]*tg.User, len(users)),
		chats: make(map[int64]tg.ChatClass, len(chats)),
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			idx.users[user.ID] = user
		}
	}
	for _, c := range chats {
		switch chat := c.(type) {
		case *tg.Chat:
			idx.chats[chat.ID] = chat
		case *tg.Channel:
			idx.chats[chat.ID] = chat
		}
	}
	return idx
}

func (idx *entityIndex) sender(peer tg.PeerClass) senderInfo {
	if peer == nil || idx == nil {
		return senderInfo{}
	}
	switch p := peer.(type) {
	case *tg.PeerUser:
		info := senderInfo{ID: p.UserID, PeerType: "user"}
		if u, ok := idx.users[p.UserID]; ok {
			info.Username = u.Username
			info.Name = strings.TrimSpace(u.FirstName + " " + u.LastName)
			info.IsBot = u.Bot
		}
		return info
	case *tg.PeerChat:
		info := senderInfo{ID: p.ChatID, PeerType: "group"}
		if c, ok := idx.chats[p.ChatID].(*tg.Chat); ok {
			info.Name = c.Title
		}
		return info
	case *tg.PeerChannel:
		info := senderInfo{ID: p.ChannelID, PeerType: "broadcast"}
		if c, ok := idx.chats[p.ChannelID].(*tg.Channel); ok {
			info.Name = c.Title
			info.Username = c.Username
			if c.Megagroup {
				info.PeerType = "group"
			}
		}
		return info
	}
	return senderInfo{}
}

// parseMessage normalizes a single protocol message. Service messages and
// empty placeholders yield nil.
func parseMessage(msg tg.MessageClass, idx *entityIndex) *Message {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	from := idx.sender(m.FromID)

	var topicID int64
	if m.ReplyTo != nil {
		if header, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok && header.ForumTopic {
			if header.ReplyToTopID != 0 {
				topicID = int64(header.ReplyToTopID)
			} else {
				topicID = int64(header.ReplyToMsgID)
			}
		}
	}

	raw, _ := json.Marshal(m)

	out := &Message{
		ID:        int64(m.ID),
		Date:      int64(m.Date),
		Text:      m.Message,
		FromID:    from.ID,
		FromUser:  from.Username,
		FromName:  from.Name,
		FromType:  from.PeerType,
		FromIsBot: from.IsBot,
		TopicID:   topicID,
		Links:     extractLinks(m.Message),
		Raw:       raw,
	}
	if m.Media != nil {
		out.Media = decodeMedia(m.Media)
	}
	return out
}

// decodeMedia flattens the protocol's media variants into the closed Media
// record. Unknown variants are preserved as KindOther.
func decodeMedia(media tg.MessageMediaClass) *Media {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		out := &Media{Kind: KindPhoto}
		if photo, ok := m.Photo.(*tg.Photo); ok {
			out.FileID = fmt.Sprintf("%d", photo.ID)
			for _, s := range photo.Sizes {
				if sz, ok := s.(*tg.PhotoSize); ok {
					if sz.W > out.Width {
						out.Width, out.Height = sz.W, sz.H
					}
				}
			}
		}
		return out
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return &Media{Kind: KindDocument}
		}
		out := &Media{
			Kind:     KindDocument,
			FileID:   fmt.Sprintf("%d", doc.ID),
			MimeType: doc.MimeType,
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeFilename:
				out.FileName = a.FileName
			case *tg.DocumentAttributeVideo:
				out.Kind = KindVideo
				out.Width, out.Height = a.W, a.H
				out.DurationSec = int(a.Duration)
			case *tg.DocumentAttributeAudio:
				out.Kind = KindAudio
				if a.Voice {
					out.Kind = KindVoice
				}
				out.DurationSec = a.Duration
			case *tg.DocumentAttributeSticker:
				out.Kind = KindSticker
			}
		}
		return out
	case *tg.MessageMediaWebPage:
		out := &Media{Kind: KindWebpage}
		if page, ok := m.Webpage.(*tg.WebPage); ok {
			extra, _ := json.Marshal(map[string]string{
				"url":   page.URL,
				"title": page.Title,
			})
			out.Extra = string(extra)
		}
		return out
	case *tg.MessageMediaPoll:
		return &Media{Kind: KindPoll}
	case *tg.MessageMediaGeo:
		return &Media{Kind: KindGeo}
	case *tg.MessageMediaContact:
		return &Media{Kind: KindContact}
	default:
		return &Media{Kind: KindOther, Extra: fmt.Sprintf(`{"type":%q}`, media.TypeName())}
	}
}
