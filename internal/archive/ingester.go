package archive

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tgvault/tgvault/internal/bus"
	"github.com/tgvault/tgvault/internal/store"
	"github.com/tgvault/tgvault/internal/telegram"
)

// Ingester applies live update events to the store. Failures are isolated
// per event: one malformed update never stops the stream.
type Ingester struct {
	db     *store.DB
	engine *Engine
	bus    *bus.Bus
	log    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewIngester(db *store.DB, engine *Engine, b *bus.Bus, log *zap.Logger) *Ingester {
	return &Ingester{db: db, engine: engine, bus: b, log: log}
}

// Start subscribes to the live event stream and applies events until Stop.
func (i *Ingester) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel

	events, unsubscribe := i.bus.Subscribe("tg.", 256)
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				i.handle(ctx, evt)
			}
		}
	}()
}

// Stop unsubscribes and waits for in-flight event handling to finish.
func (i *Ingester) Stop() {
	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	i.wg.Wait()
}

func (i *Ingester) handle(ctx context.Context, evt bus.Event) {
	var err error
	switch evt.Kind {
	case bus.KindNewMessage:
		if ev, ok := evt.Payload.(telegram.NewMessageEvent); ok {
			err = i.onNewMessage(ev)
		}
	case bus.KindEditMessage:
		if ev, ok := evt.Payload.(telegram.NewMessageEvent); ok {
			err = i.onEditMessage(ev)
		}
	case bus.KindDeleteMessages:
		if ev, ok := evt.Payload.(telegram.Deletion); ok {
			err = i.onDelete(ev)
		}
	case bus.KindChannelGap:
		if ev, ok := evt.Payload.(telegram.ChannelGap); ok {
			err = i.onGap(ctx, ev)
		}
	}
	if err != nil {
		i.log.Error("apply live event", zap.String("kind", string(evt.Kind)), zap.Error(err))
	}
}

// syncTarget loads the channel for a live event, registering unseen peers
// in the identity table. Returns nil when message rows must not be written.
func (i *Ingester) syncTarget(ev telegram.NewMessageEvent) (*store.Channel, error) {
	ch, err := i.db.GetChannel(ev.ChannelID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		// First observation: identity only, sync stays opt-in. The dialog
		// peer fields are recorded, never the sender's; a group described
		// by its sender would look like a direct-message peer.
		ch = &store.Channel{
			ChannelID: ev.ChannelID,
			Title:     ev.PeerTitle,
			Username:  ev.PeerUsername,
			PeerType:  ev.PeerType,
		}
		if err := i.db.UpsertChannel(ch); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if !ch.SyncEnabled {
		return nil, nil
	}
	return ch, nil
}

func (i *Ingester) onNewMessage(ev telegram.NewMessageEvent) error {
	ch, err := i.syncTarget(ev)
	if err != nil || ch == nil {
		return err
	}
	topics := newTopicTitles(i.db, ev.ChannelID)
	_, err = i.db.InsertMessages(ev.ChannelID, []store.Message{convertMessage(ev.ChannelID, ev.Message, topics)})
	return err
}

func (i *Ingester) onEditMessage(ev telegram.NewMessageEvent) error {
	ch, err := i.syncTarget(ev)
	if err != nil || ch == nil {
		return err
	}
	topics := newTopicTitles(i.db, ev.ChannelID)
	m := convertMessage(ev.ChannelID, ev.Message, topics)
	return i.db.UpsertMessage(&m)
}

func (i *Ingester) onDelete(ev telegram.Deletion) error {
	if len(ev.MsgIDs) == 0 {
		return nil
	}
	var (
		n   int64
		err error
	)
	if ev.ChannelID != 0 {
		n, err = i.db.DeleteMessages(ev.ChannelID, ev.MsgIDs)
	} else {
		// No channel scope on the event: restrict to direct-message
		// peers so ambiguous ids cannot purge channel history.
		n, err = i.db.DeleteMessagesFromUserPeers(ev.MsgIDs)
	}
	if err == nil && n > 0 {
		i.log.Info("live delete applied",
			zap.Int64("channel_id", ev.ChannelID),
			zap.Int64("deleted", n))
	}
	return err
}

// onGap closes an update gap by re-fetching forward from the stored cursor.
func (i *Ingester) onGap(ctx context.Context, ev telegram.ChannelGap) error {
	ch, err := i.db.GetChannel(ev.ChannelID)
	if err != nil || ch == nil || !ch.SyncEnabled {
		return err
	}
	n, err := i.engine.SyncNewer(ctx, ch)
	if err != nil {
		return err
	}
	i.log.Info("update gap recovered",
		zap.Int64("channel_id", ev.ChannelID),
		zap.Int("archived", n))
	return nil
}
