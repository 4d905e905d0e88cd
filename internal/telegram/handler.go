package telegram

import (
	"time"

	"github.com/celestix/gotgproto/dispatcher/handlers"
	"github.com/celestix/gotgproto/ext"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/tgvault/tgvault/internal/bus"
)

// UpdateHandler translates raw protocol updates into bus events. It never
// touches storage itself; the ingester owns persistence so that a slow disk
// cannot stall the update loop.
type UpdateHandler struct {
	bus *bus.Bus
	log *zap.Logger
}

func NewUpdateHandler(b *bus.Bus, log *zap.Logger) *UpdateHandler {
	return &UpdateHandler{bus: b, log: log}
}

// Register attaches the handler to the client's dispatcher.
func (h *UpdateHandler) Register(c *Client) {
	c.Proto().Dispatcher.AddHandler(handlers.NewAnyUpdate(h.handle))
}

func (h *UpdateHandler) handle(ctx *ext.Context, u *ext.Update) error {
	idx := entityIndexFrom(u.Entities)

	switch upd := u.UpdateClass.(type) {
	case *tg.UpdateNewMessage:
		h.publishMessage(bus.KindNewMessage, upd.Message, idx)
	case *tg.UpdateNewChannelMessage:
		h.publishMessage(bus.KindNewMessage, upd.Message, idx)
	case *tg.UpdateEditMessage:
		h.publishMessage(bus.KindEditMessage, upd.Message, idx)
	case *tg.UpdateEditChannelMessage:
		h.publishMessage(bus.KindEditMessage, upd.Message, idx)
	case *tg.UpdateDeleteMessages:
		h.publish(bus.KindDeleteMessages, Deletion{MsgIDs: toInt64s(upd.Messages)})
	case *tg.UpdateDeleteChannelMessages:
		h.publish(bus.KindDeleteMessages, Deletion{
			ChannelID: upd.ChannelID,
			MsgIDs:    toInt64s(upd.Messages),
		})
	case *tg.UpdateChannelTooLong:
		h.log.Warn("update gap detected", zap.Int64("channel_id", upd.ChannelID))
		h.publish(bus.KindChannelGap, ChannelGap{ChannelID: upd.ChannelID})
	}
	return nil
}

func (h *UpdateHandler) publishMessage(kind bus.Kind, msg tg.MessageClass, idx *entityIndex) {
	m, ok := msg.(*tg.Message)
	if !ok {
		return
	}
	peer := idx.sender(dialogPeerFor(m))
	if peer.ID == 0 {
		return
	}
	parsed := parseMessage(m, idx)
	if parsed == nil {
		return
	}
	h.publish(kind, NewMessageEvent{
		ChannelID:    peer.ID,
		PeerTitle:    peer.Name,
		PeerUsername: peer.Username,
		PeerType:     peer.PeerType,
		Message:      *parsed,
	})
}

func (h *UpdateHandler) publish(kind bus.Kind, payload any) {
	h.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// dialogPeerFor maps a message to the peer of the dialog it belongs to. For
// private chats an incoming message carries the recipient in PeerID, so the
// sender is the dialog peer.
func dialogPeerFor(m *tg.Message) tg.PeerClass {
	switch p := m.PeerID.(type) {
	case *tg.PeerChannel, *tg.PeerChat:
		return m.PeerID
	case *tg.PeerUser:
		if m.Out {
			return p
		}
		if from, ok := m.FromID.(*tg.PeerUser); ok {
			return from
		}
		return p
	}
	return nil
}

// entityIndexFrom adapts the dispatcher's pre-resolved entity maps.
func entityIndexFrom(entities *tg.Entities) *entityIndex {
	idx := &entityIndex{
		users: make(map[int64]*tg.User),
		chats: make(map[int64]tg.ChatClass),
	}
	if entities == nil {
		return idx
	}
	for id, u := range entities.Users {
		idx.users[id] = u
	}
	for id, c := range entities.Chats {
		idx.chats[id] = c
	}
	for id, c := range entities.Channels {
		idx.chats[id] = c
	}
	return idx
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
