package telegram

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// maxHistoryLimit caps a single history page, matching the server's own
// per-request ceiling.
const maxHistoryLimit = 100

// Client wraps the MTProto client behind a small archival-oriented surface.
// Every remote call waits on the shared rate limiter and converts the
// server's flood-wait responses into RateLimitedError.
type Client struct {
	proto   *gotgproto.Client
	limiter *RateLimiter
	log     *zap.Logger

	mu    sync.RWMutex
	peers map[int64]tg.InputPeerClass
}

// NewClient connects and authorizes using the session stored at sessionDB.
// The session must already exist (see QRLogin); with an empty phone the
// underlying client refuses to start an interactive login.
func NewClient(appID int, appHash, sessionDB string, log *zap.Logger) (*Client, error) {
	proto, err := gotgproto.NewClient(
		appID,
		appHash,
		gotgproto.ClientTypePhone(""),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(sessionDB)),
			DisableCopyright: true,
			InMemory:         false,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}
	return newClient(proto, log), nil
}

func newClient(proto *gotgproto.Client, log *zap.Logger) *Client {
	return &Client{
		proto:   proto,
		limiter: DefaultRateLimiter(),
		log:     log,
		peers:   make(map[int64]tg.InputPeerClass),
	}
}

// Proto exposes the underlying client for handler registration.
func (c *Client) Proto() *gotgproto.Client { return c.proto }

// Stop disconnects the client.
func (c *Client) Stop() {
	if c.proto != nil {
		c.proto.Stop()
	}
}

func (c *Client) api() *tg.Client {
	return c.proto.API()
}

// wait blocks on the rate limiter; a flood-wait observed on a previous call
// extends the pause for every caller, since limits are account-wide.
func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// fail records any flood-wait carried by err on the limiter and returns the
// structured form.
func (c *Client) fail(op string, err error) error {
	err = wrapFloodWait(err)
	if rl, ok := AsRateLimited(err); ok {
		c.log.Warn("flood wait imposed", zap.String("op", op), zap.Int("seconds", rl.Seconds))
		c.limiter.SetFloodWait(rl.Seconds)
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// SeedPeer primes the peer cache from archived channel records so history
// can be fetched without re-listing dialogs after a restart.
func (c *Client) SeedPeer(id, accessHash int64, peerType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[id] = inputPeerFor(id, accessHash, peerType)
}

func inputPeerFor(id, accessHash int64, peerType string) tg.InputPeerClass {
	switch peerType {
	case "user":
		return &tg.InputPeerUser{UserID: id, AccessHash: accessHash}
	case "group":
		if accessHash == 0 {
			return &tg.InputPeerChat{ChatID: id}
		}
		return &tg.InputPeerChannel{ChannelID: id, AccessHash: accessHash}
	default:
		return &tg.InputPeerChannel{ChannelID: id, AccessHash: accessHash}
	}
}

func (c *Client) inputPeer(id int64) (tg.InputPeerClass, error) {
	c.mu.RLock()
	peer, ok := c.peers[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("peer %d not resolved; list dialogs first", id)
	}
	return peer, nil
}

// ListDialogs pages through the account's dialog list and returns every
// conversation peer. Input peers for each dialog are cached for later
// history fetches.
func (c *Client) ListDialogs(ctx context.Context) ([]Dialog, error) {
	var (
		out        []Dialog
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)

	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.api().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      maxHistoryLimit,
		})
		if err != nil {
			return nil, c.fail("get dialogs", err)
		}

		var (
			dialogs  []tg.DialogClass
			messages []tg.MessageClass
			users    []tg.UserClass
			chats    []tg.ChatClass
			sliced   bool
		)
		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, users, chats = d.Dialogs, d.Messages, d.Users, d.Chats
		case *tg.MessagesDialogsSlice:
			dialogs, messages, users, chats = d.Dialogs, d.Messages, d.Users, d.Chats
			sliced = true
		default:
			return nil, fmt.Errorf("get dialogs: unexpected response %T", resp)
		}

		idx := indexEntities(users, chats)
		for _, d := range dialogs {
			dialog, ok := d.(*tg.Dialog)
			if !ok {
				continue
			}
			entry, peer := c.dialogEntry(dialog.Peer, idx)
			if entry == nil {
				continue
			}
			c.mu.Lock()
			c.peers[entry.ID] = peer
			c.mu.Unlock()
			out = append(out, *entry)
		}

		if !sliced || len(dialogs) < maxHistoryLimit {
			break
		}
		// Next page anchors on the last dialog's top message.
		last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
		if !ok {
			break
		}
		offsetID = last.TopMessage
		offsetDate = topMessageDate(messages, last.TopMessage)
		peer, err := c.peerFromEntities(last.Peer, idx)
		if err != nil {
			break
		}
		offsetPeer = peer
	}

	return out, nil
}

func (c *Client) dialogEntry(peer tg.PeerClass, idx *entityIndex) (*Dialog, tg.InputPeerClass) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		u, ok := idx.users[p.UserID]
		if !ok {
			return nil, nil
		}
		title := u.FirstName
		if u.LastName != "" {
			title += " " + u.LastName
		}
		return &Dialog{
				ID:         u.ID,
				AccessHash: u.AccessHash,
				Title:      title,
				Username:   u.Username,
				PeerType:   "user",
			}, &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
	case *tg.PeerChat:
		ch, ok := idx.chats[p.ChatID].(*tg.Chat)
		if !ok {
			return nil, nil
		}
		return &Dialog{
			ID:       ch.ID,
			Title:    ch.Title,
			PeerType: "group",
		}, &tg.InputPeerChat{ChatID: ch.ID}
	case *tg.PeerChannel:
		ch, ok := idx.chats[p.ChannelID].(*tg.Channel)
		if !ok {
			return nil, nil
		}
		peerType := "broadcast"
		if ch.Megagroup {
			peerType = "group"
		}
		return &Dialog{
				ID:         ch.ID,
				AccessHash: ch.AccessHash,
				Title:      ch.Title,
				Username:   ch.Username,
				PeerType:   peerType,
				IsForum:    ch.Forum,
			}, &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	}
	return nil, nil
}

func (c *Client) peerFromEntities(peer tg.PeerClass, idx *entityIndex) (tg.InputPeerClass, error) {
	entry, input := c.dialogEntry(peer, idx)
	if entry == nil {
		return nil, fmt.Errorf("peer entity missing")
	}
	return input, nil
}

func topMessageDate(messages []tg.MessageClass, id int) int {
	for _, m := range messages {
		if msg, ok := m.(*tg.Message); ok && msg.ID == id {
			return msg.Date
		}
	}
	return 0
}

// GetMessages fetches one bounded page of history. With req.Forward set it
// returns the window immediately above req.MinID (the catch-up direction);
// otherwise the newest window at or below req.MaxID. Messages come back
// ascending by id.
func (c *Client) GetMessages(ctx context.Context, channelID int64, req HistoryRequest) (*HistoryPage, error) {
	peer, err := c.inputPeer(channelID)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	hist := &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	}
	if req.Forward {
		// Anchored just above MinID: AddOffset shifts the window so the
		// oldest unseen messages arrive first.
		hist.OffsetID = int(req.MinID)
		hist.AddOffset = -limit
		hist.MinID = int(req.MinID)
	} else {
		hist.OffsetID = int(req.MaxID)
		if req.MinID > 0 {
			hist.MinID = int(req.MinID)
		}
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.api().MessagesGetHistory(ctx, hist)
	if err != nil {
		return nil, c.fail("get history", err)
	}
	return c.historyPage(resp)
}

// IterHistoryBefore fetches up to limit messages strictly older than cursor,
// ascending by id. An empty slice means the top of history was reached.
func (c *Client) IterHistoryBefore(ctx context.Context, channelID int64, cursor Cursor, limit int) ([]Message, error) {
	peer, err := c.inputPeer(channelID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.api().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:       peer,
		OffsetID:   int(cursor.MsgID),
		OffsetDate: int(cursor.Date),
		Limit:      limit,
	})
	if err != nil {
		return nil, c.fail("get history before", err)
	}
	page, err := c.historyPage(resp)
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

func (c *Client) historyPage(resp tg.MessagesMessagesClass) (*HistoryPage, error) {
	var (
		messages []tg.MessageClass
		users    []tg.UserClass
		chats    []tg.ChatClass
	)
	switch h := resp.(type) {
	case *tg.MessagesMessages:
		messages, users, chats = h.Messages, h.Users, h.Chats
	case *tg.MessagesMessagesSlice:
		messages, users, chats = h.Messages, h.Users, h.Chats
	case *tg.MessagesChannelMessages:
		messages, users, chats = h.Messages, h.Users, h.Chats
	default:
		return nil, fmt.Errorf("get history: unexpected response %T", resp)
	}

	idx := indexEntities(users, chats)
	page := &HistoryPage{}
	for _, m := range messages {
		if parsed := parseMessage(m, idx); parsed != nil {
			page.Messages = append(page.Messages, *parsed)
		}
	}
	sort.Slice(page.Messages, func(i, j int) bool {
		return page.Messages[i].ID < page.Messages[j].ID
	})
	return page, nil
}

// ListTopics returns the forum topics of a channel. Non-forum channels get
// an empty list without a remote call being wasted on them.
func (c *Client) ListTopics(ctx context.Context, channelID int64) ([]Topic, error) {
	peer, err := c.inputPeer(channelID)
	if err != nil {
		return nil, err
	}
	ch, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return nil, nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.api().MessagesGetForumTopics(ctx, &tg.MessagesGetForumTopicsRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
		Limit: maxHistoryLimit,
	})
	if err != nil {
		return nil, c.fail("get forum topics", err)
	}

	var out []Topic
	for _, t := range resp.Topics {
		topic, ok := t.(*tg.ForumTopic)
		if !ok {
			continue
		}
		out = append(out, Topic{ID: int64(topic.ID), Title: topic.Title})
	}
	return out, nil
}

// GetPeerMetadata fetches the full profile of a peer, including the about
// text that the basic dialog listing does not carry.
func (c *Client) GetPeerMetadata(ctx context.Context, channelID int64) (*PeerMetadata, error) {
	peer, err := c.inputPeer(channelID)
	if err != nil {
		return nil, err
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	switch p := peer.(type) {
	case *tg.InputPeerChannel:
		full, err := c.api().ChannelsGetFullChannel(ctx, &tg.InputChannel{
			ChannelID:  p.ChannelID,
			AccessHash: p.AccessHash,
		})
		if err != nil {
			return nil, c.fail("get full channel", err)
		}
		chFull, ok := full.FullChat.(*tg.ChannelFull)
		if !ok {
			return nil, fmt.Errorf("get full channel: unexpected chat %T", full.FullChat)
		}
		meta := &PeerMetadata{About: chFull.About, PeerType: "broadcast"}
		for _, cc := range full.Chats {
			if ch, ok := cc.(*tg.Channel); ok && ch.ID == p.ChannelID {
				meta.Title = ch.Title
				meta.Username = ch.Username
				meta.IsForum = ch.Forum
				if ch.Megagroup {
					meta.PeerType = "group"
				}
			}
		}
		return meta, nil

	case *tg.InputPeerUser:
		full, err := c.api().UsersGetFullUser(ctx, &tg.InputUser{
			UserID:     p.UserID,
			AccessHash: p.AccessHash,
		})
		if err != nil {
			return nil, c.fail("get full user", err)
		}
		meta := &PeerMetadata{About: full.FullUser.About, PeerType: "user"}
		for _, uc := range full.Users {
			if u, ok := uc.(*tg.User); ok && u.ID == p.UserID {
				meta.Title = u.FirstName
				if u.LastName != "" {
					meta.Title += " " + u.LastName
				}
				meta.Username = u.Username
			}
		}
		return meta, nil

	case *tg.InputPeerChat:
		full, err := c.api().MessagesGetFullChat(ctx, p.ChatID)
		if err != nil {
			return nil, c.fail("get full chat", err)
		}
		meta := &PeerMetadata{PeerType: "group"}
		if cf, ok := full.FullChat.(*tg.ChatFull); ok {
			meta.About = cf.About
		}
		for _, cc := range full.Chats {
			if ch, ok := cc.(*tg.Chat); ok && ch.ID == p.ChatID {
				meta.Title = ch.Title
			}
		}
		return meta, nil
	}

	return nil, fmt.Errorf("get peer metadata: unsupported peer %T", peer)
}

// ListContacts returns the account's contact list.
func (c *Client) ListContacts(ctx context.Context) ([]RemoteUser, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.api().ContactsGetContacts(ctx, 0)
	if err != nil {
		return nil, c.fail("get contacts", err)
	}
	contacts, ok := resp.(*tg.ContactsContacts)
	if !ok {
		// Cache-hit response carries no data; nothing new to report.
		return nil, nil
	}

	out := make([]RemoteUser, 0, len(contacts.Users))
	for _, uc := range contacts.Users {
		u, ok := uc.(*tg.User)
		if !ok {
			continue
		}
		name := u.FirstName
		if u.LastName != "" {
			name += " " + u.LastName
		}
		out = append(out, RemoteUser{
			ID:        u.ID,
			Username:  u.Username,
			Name:      name,
			Phone:     u.Phone,
			IsBot:     u.Bot,
			IsContact: true,
		})
	}
	return out, nil
}
