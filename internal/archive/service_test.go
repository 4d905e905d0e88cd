package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tgvault/tgvault/internal/bus"
	"github.com/tgvault/tgvault/internal/store"
	"github.com/tgvault/tgvault/internal/telegram"
)

func newTestIngester(db *store.DB, e *Engine, b *bus.Bus) *Ingester {
	return NewIngester(db, e, b, zap.NewNop())
}

func liveMessage(id int64, text string) telegram.Message {
	return telegram.Message{
		ID:       id,
		Date:     1000 + id,
		Text:     text,
		FromID:   7,
		FromUser: "carol",
		FromName: "Carol",
		FromType: "user",
	}
}

func TestIngesterRegistersUnknownPeerWithoutArchiving(t *testing.T) {
	db := testDB(t)
	i := newTestIngester(db, newTestEngine(db, newFakeRemote()), bus.New())

	err := i.onNewMessage(telegram.NewMessageEvent{
		ChannelID:    7,
		PeerTitle:    "Carol",
		PeerUsername: "carol",
		PeerType:     "user",
		Message:      liveMessage(1, "hi"),
	})
	if err != nil {
		t.Fatal(err)
	}

	ch, _ := db.GetChannel(7)
	if ch == nil {
		t.Fatal("peer identity not registered")
	}
	if ch.Title != "Carol" || ch.PeerType != "user" {
		t.Errorf("registered identity = %q/%q, want Carol/user", ch.Title, ch.PeerType)
	}
	if ch.SyncEnabled {
		t.Error("sync must stay opt-in for unseen peers")
	}
	if count, _ := db.MessageCountForChannel(7); count != 0 {
		t.Errorf("archived = %d, want 0 before opt-in", count)
	}

	// After opt-in the same event kind is archived.
	if err := db.SetSyncEnabled(7, true); err != nil {
		t.Fatal(err)
	}
	if err := i.onNewMessage(telegram.NewMessageEvent{ChannelID: 7, Message: liveMessage(2, "hello")}); err != nil {
		t.Fatal(err)
	}
	if count, _ := db.MessageCountForChannel(7); count != 1 {
		t.Errorf("archived = %d, want 1 after opt-in", count)
	}
}

func TestIngesterAppliesEdits(t *testing.T) {
	db := testDB(t)
	i := newTestIngester(db, newTestEngine(db, newFakeRemote()), bus.New())

	seedChannel(t, db, 7)
	_ = db.SetSyncEnabled(7, true)

	if err := i.onNewMessage(telegram.NewMessageEvent{ChannelID: 7, Message: liveMessage(1, "first draft")}); err != nil {
		t.Fatal(err)
	}
	if err := i.onEditMessage(telegram.NewMessageEvent{ChannelID: 7, Message: liveMessage(1, "final wording")}); err != nil {
		t.Fatal(err)
	}

	m, _ := db.GetMessage(7, 1)
	if m == nil || m.Text != "final wording" {
		t.Errorf("message = %+v, want edited text", m)
	}
	if count, _ := db.MessageCountForChannel(7); count != 1 {
		t.Errorf("edit duplicated the row: count = %d", count)
	}
}

func TestIngesterAppliesChannelScopedDeletes(t *testing.T) {
	db := testDB(t)
	i := newTestIngester(db, newTestEngine(db, newFakeRemote()), bus.New())

	seedChannel(t, db, 7, 1, 2, 3)

	if err := i.onDelete(telegram.Deletion{ChannelID: 7, MsgIDs: []int64{1, 3}}); err != nil {
		t.Fatal(err)
	}
	if count, _ := db.MessageCountForChannel(7); count != 1 {
		t.Errorf("remaining = %d, want 1", count)
	}
	if m, _ := db.GetMessage(7, 2); m == nil {
		t.Error("untargeted message deleted")
	}
}

func TestIngesterUnscopedDeleteSparesLiveSeenGroups(t *testing.T) {
	db := testDB(t)
	i := newTestIngester(db, newTestEngine(db, newFakeRemote()), bus.New())

	// A direct message and a group message with the same id, both arriving
	// live before any dialog sync has described the peers.
	dm := telegram.NewMessageEvent{
		ChannelID: 7, PeerTitle: "Carol", PeerUsername: "carol", PeerType: "user",
		Message: liveMessage(1, "dm"),
	}
	group := telegram.NewMessageEvent{
		ChannelID: 8, PeerTitle: "Dev Chat", PeerType: "group",
		Message: liveMessage(1, "group"),
	}
	for _, ev := range []telegram.NewMessageEvent{dm, group} {
		if err := i.onNewMessage(ev); err != nil {
			t.Fatal(err)
		}
	}
	_ = db.SetSyncEnabled(7, true)
	_ = db.SetSyncEnabled(8, true)
	for _, ev := range []telegram.NewMessageEvent{dm, group} {
		if err := i.onNewMessage(ev); err != nil {
			t.Fatal(err)
		}
	}

	// The group must carry the dialog's type even though the live message
	// came from a human sender.
	if ch := mustGetChannel(t, db, 8); ch.PeerType != "group" || ch.Title != "Dev Chat" {
		t.Fatalf("group registered as %q/%q, want group/Dev Chat", ch.PeerType, ch.Title)
	}

	if err := i.onDelete(telegram.Deletion{MsgIDs: []int64{1}}); err != nil {
		t.Fatal(err)
	}
	if m, _ := db.GetMessage(7, 1); m != nil {
		t.Error("direct-message row survived an unscoped delete")
	}
	if m, _ := db.GetMessage(8, 1); m == nil {
		t.Error("unscoped delete purged group history")
	}
}

func TestIngesterRecoversUpdateGap(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.addHistory(7, 1, 100)
	i := newTestIngester(db, newTestEngine(db, remote), bus.New())

	seedChannel(t, db, 7, 48, 49, 50)
	_ = db.SetSyncEnabled(7, true)

	if err := i.onGap(context.Background(), telegram.ChannelGap{ChannelID: 7}); err != nil {
		t.Fatal(err)
	}
	count, _ := db.MessageCountForChannel(7)
	if count != 53 {
		t.Errorf("archived after gap recovery = %d, want 53", count)
	}
	ch := mustGetChannel(t, db, 7)
	if ch.NewestMsgID != 100 {
		t.Errorf("newest cursor = %d, want 100", ch.NewestMsgID)
	}
}

func TestIngesterConsumesBusEvents(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	i := newTestIngester(db, newTestEngine(db, newFakeRemote()), b)

	seedChannel(t, db, 7)
	_ = db.SetSyncEnabled(7, true)

	i.Start()
	defer i.Stop()

	b.Publish(bus.Event{
		Kind:      bus.KindNewMessage,
		Timestamp: time.Now(),
		Payload:   telegram.NewMessageEvent{ChannelID: 7, Message: liveMessage(1, "live")},
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if count, _ := db.MessageCountForChannel(7); count == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("published event never reached the store")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMetadataCacheServesFreshCopies(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.metadata[7] = &telegram.PeerMetadata{Title: "Lab", Username: "lab", PeerType: "broadcast", About: "science updates"}

	c := NewMetadataCache(db, remote, time.Hour, zap.NewNop())

	meta, err := c.Get(context.Background(), 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if meta.About != "science updates" {
		t.Errorf("about = %q", meta.About)
	}
	if remote.metaCalls != 1 {
		t.Fatalf("remote calls = %d, want 1", remote.metaCalls)
	}

	// Within the TTL the cache answers without the remote.
	if _, err := c.Get(context.Background(), 7, false); err != nil {
		t.Fatal(err)
	}
	if remote.metaCalls != 1 {
		t.Errorf("remote calls = %d, want 1 (cached)", remote.metaCalls)
	}

	// Force bypasses freshness.
	if _, err := c.Get(context.Background(), 7, true); err != nil {
		t.Fatal(err)
	}
	if remote.metaCalls != 2 {
		t.Errorf("remote calls = %d, want 2 after force", remote.metaCalls)
	}

	// A refresh re-upserts channel identity.
	ch, _ := db.GetChannel(7)
	if ch == nil || ch.Title != "Lab" {
		t.Errorf("channel identity = %+v, want refreshed title", ch)
	}
}

func TestMetadataCacheRefreshesStaleEntries(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.metadata[7] = &telegram.PeerMetadata{Title: "Lab", About: "v1"}

	c := NewMetadataCache(db, remote, 20*time.Millisecond, zap.NewNop())
	if _, err := c.Get(context.Background(), 7, false); err != nil {
		t.Fatal(err)
	}

	remote.metadata[7] = &telegram.PeerMetadata{Title: "Lab", About: "v2"}
	time.Sleep(30 * time.Millisecond)

	meta, err := c.Get(context.Background(), 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if meta.About != "v2" {
		t.Errorf("about = %q, want refreshed v2", meta.About)
	}
}

func TestMetadataCacheOffline(t *testing.T) {
	db := testDB(t)

	// Seed through a connected cache, then go offline.
	remote := newFakeRemote()
	remote.metadata[7] = &telegram.PeerMetadata{Title: "Lab", About: "cached"}
	connected := NewMetadataCache(db, remote, time.Millisecond, zap.NewNop())
	if _, err := connected.Get(context.Background(), 7, false); err != nil {
		t.Fatal(err)
	}

	offline := NewMetadataCache(db, nil, time.Millisecond, zap.NewNop())
	time.Sleep(5 * time.Millisecond)

	// Stale beats nothing when there is no client.
	meta, err := offline.Get(context.Background(), 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if meta.About != "cached" {
		t.Errorf("about = %q, want stale cached copy", meta.About)
	}
	if _, err := offline.Get(context.Background(), 99, false); err == nil {
		t.Error("uncached channel must error offline")
	}
}

func newTestService(db *store.DB, remote RemoteClient) *Service {
	return NewService(db, remote, nil, nil, zap.NewNop())
}

func TestAddJobEnablesSync(t *testing.T) {
	db := testDB(t)
	svc := newTestService(db, newFakeRemote())
	svc.DefaultDepth = 750

	job, err := svc.AddJob(42, JobSpec{})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != store.JobPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.TargetCount != 750 {
		t.Errorf("target = %d, want the configured default 750", job.TargetCount)
	}
	ch, _ := db.GetChannel(42)
	if ch == nil || !ch.SyncEnabled {
		t.Errorf("channel = %+v, want registered and sync-enabled", ch)
	}

	// Explicit depth wins over the default.
	job, err = svc.AddJob(42, JobSpec{Depth: 10, MinDate: 500})
	if err != nil {
		t.Fatal(err)
	}
	if job.TargetCount != 10 || job.MinDate != 500 {
		t.Errorf("re-armed job = %+v", job)
	}
}

func TestGetArchivedMessageNotFound(t *testing.T) {
	db := testDB(t)
	svc := newTestService(db, nil)

	if _, err := svc.GetArchivedMessage(1, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := svc.GetArchivedMessageContext(1, 99, 2, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("context err = %v, want ErrNotFound", err)
	}
}

func TestServiceOffline(t *testing.T) {
	db := testDB(t)
	svc := newTestService(db, nil)

	if _, err := svc.SyncDialogs(context.Background()); !errors.Is(err, ErrOffline) {
		t.Errorf("SyncDialogs err = %v, want ErrOffline", err)
	}
	if _, err := svc.SyncContacts(context.Background()); !errors.Is(err, ErrOffline) {
		t.Errorf("SyncContacts err = %v, want ErrOffline", err)
	}
}

func TestSyncDialogsPullsForumTopics(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.dialogs = []telegram.Dialog{
		{ID: 1, AccessHash: 111, Title: "Plain", PeerType: "broadcast"},
		{ID: 2, AccessHash: 222, Title: "Forum", PeerType: "group", IsForum: true},
	}
	remote.topics[2] = []telegram.Topic{{ID: 3, Title: "General"}, {ID: 8, Title: "Offtopic"}}

	svc := newTestService(db, remote)
	n, err := svc.SyncDialogs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("dialogs = %d, want 2", n)
	}

	ch, _ := db.GetChannel(2)
	if ch == nil || !ch.IsForum || ch.AccessHash != 222 {
		t.Errorf("forum channel = %+v", ch)
	}
	if title, _ := db.GetTopicTitle(2, 8); title != "Offtopic" {
		t.Errorf("topic title = %q", title)
	}
	if topics, _ := db.ListTopics(1); len(topics) != 0 {
		t.Errorf("non-forum channel has topics: %+v", topics)
	}
}

func TestSyncContacts(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.contacts = []telegram.RemoteUser{
		{ID: 7, Username: "carol", Name: "Carol", IsContact: true},
		{ID: 8, Username: "davebot", Name: "Dave", IsBot: true, IsContact: true},
	}

	svc := newTestService(db, remote)
	n, err := svc.SyncContacts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("synced = %d, want 2", n)
	}
	u, _ := db.GetUser(7)
	if u == nil || u.Username != "carol" || !u.IsContact {
		t.Errorf("user = %+v", u)
	}
	if u, _ := db.GetUser(8); u == nil || !u.IsBot {
		t.Errorf("bot user = %+v", u)
	}
}

func TestAutoTagChannels(t *testing.T) {
	db := testDB(t)
	svc := newTestService(db, nil)

	if err := db.UpsertChannel(&store.Channel{ChannelID: 1, Title: "Crypto Trading News"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChannelMetadata(1, "daily bitcoin and ethereum market digest"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChannel(&store.Channel{ChannelID: 2, Title: "xkqz"}); err != nil {
		t.Fatal(err)
	}
	// A manual tag must survive re-classification.
	if err := svc.SetChannelTags(1, "manual", []string{"favorites"}); err != nil {
		t.Fatal(err)
	}

	tagged, err := svc.AutoTagChannels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tagged != 1 {
		t.Errorf("tagged channels = %d, want 1", tagged)
	}

	tags, _ := db.ListChannelTags(1)
	byName := map[string]store.ChannelTag{}
	for _, tag := range tags {
		byName[tag.Tag] = tag
	}
	if _, ok := byName["crypto"]; !ok {
		t.Errorf("tags = %v, want crypto", byName)
	}
	if _, ok := byName["favorites"]; !ok {
		t.Error("manual tag lost on auto re-run")
	}

	// Re-running is idempotent.
	if _, err := svc.AutoTagChannels(context.Background()); err != nil {
		t.Fatal(err)
	}
	again, _ := db.ListChannelTags(1)
	if len(again) != len(tags) {
		t.Errorf("tag count changed on re-run: %d -> %d", len(tags), len(again))
	}
}

func TestSeedPeersPrimesClientCache(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	svc := newTestService(db, remote)

	if err := db.UpsertChannel(&store.Channel{ChannelID: 5, AccessHash: 555, PeerType: "broadcast"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.SeedPeers(); err != nil {
		t.Fatal(err)
	}
	if remote.seeded[5] != 555 {
		t.Errorf("seeded = %v, want channel 5 with hash 555", remote.seeded)
	}
}
