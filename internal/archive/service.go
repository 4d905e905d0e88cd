package archive

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tgvault/tgvault/internal/store"
	"github.com/tgvault/tgvault/internal/tagger"
	"github.com/tgvault/tgvault/internal/telegram"
)

// ErrNotFound marks lookups of absent records. Callers branch on it with
// errors.Is.
var ErrNotFound = errors.New("not found")

// ErrOffline is returned by remote-dependent operations when the service
// was built without a client (read-only front ends).
var ErrOffline = errors.New("no remote client")

// Service is the public surface front ends call. Read paths go straight to
// the store; sync paths go through the scheduler and remote client. Every
// method returns plain records, never protocol types.
type Service struct {
	db        *store.DB
	client    RemoteClient
	scheduler *Scheduler
	metadata  *MetadataCache
	log       *zap.Logger

	// DefaultDepth is the backfill target used when a job spec leaves
	// Depth unset. Zero falls back to the engine default.
	DefaultDepth int64
}

// NewService builds the facade. client and scheduler may be nil for
// read-only callers; remote-dependent operations then return ErrOffline.
func NewService(db *store.DB, client RemoteClient, scheduler *Scheduler, metadata *MetadataCache, log *zap.Logger) *Service {
	if metadata == nil {
		metadata = NewMetadataCache(db, client, 0, log)
	}
	return &Service{
		db:        db,
		client:    client,
		scheduler: scheduler,
		metadata:  metadata,
		log:       log,
	}
}

// SeedPeers primes the remote client's peer cache from archived channels so
// history fetches work right after startup, before any dialog listing.
func (s *Service) SeedPeers() error {
	if s.client == nil {
		return nil
	}
	channels, err := s.db.ListChannels(false, 0)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	for _, ch := range channels {
		s.client.SeedPeer(ch.ChannelID, ch.AccessHash, ch.PeerType)
	}
	return nil
}

// --- archived message reads ---

func (s *Service) ListArchivedMessages(channelID, beforeID int64, limit int) ([]store.Message, error) {
	return s.db.ListMessages(channelID, beforeID, limit)
}

func (s *Service) SearchArchiveMessages(f store.SearchFilter) ([]store.SearchResult, error) {
	return s.db.SearchMessages(f)
}

func (s *Service) GetArchivedMessage(channelID, msgID int64) (*store.Message, error) {
	m, err := s.db.GetMessage(channelID, msgID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("message %d/%d: %w", channelID, msgID, ErrNotFound)
	}
	return m, nil
}

func (s *Service) GetArchivedMessageContext(channelID, msgID int64, before, after int) ([]store.Message, error) {
	msgs, err := s.db.GetMessageContext(channelID, msgID, before, after)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message %d/%d: %w", channelID, msgID, ErrNotFound)
	}
	return msgs, nil
}

// --- job queue ---

// JobSpec shapes AddJob. Zero Depth means the default backfill target; zero
// MinDate means no date floor.
type JobSpec struct {
	Depth   int64
	MinDate int64
}

// AddJob arms (or re-arms) the sync job for a channel and wakes the drain
// loop. Scheduling a job implies opting the channel into sync.
func (s *Service) AddJob(channelID int64, spec JobSpec) (*store.Job, error) {
	ch, err := s.db.GetChannel(channelID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		if err := s.db.UpsertChannel(&store.Channel{ChannelID: channelID}); err != nil {
			return nil, fmt.Errorf("register channel: %w", err)
		}
	}
	if err := s.db.SetSyncEnabled(channelID, true); err != nil {
		return nil, fmt.Errorf("enable sync: %w", err)
	}

	depth := spec.Depth
	if depth <= 0 {
		depth = s.DefaultDepth
	}
	if depth <= 0 {
		depth = defaultTargetSize
	}
	job, err := s.db.UpsertJob(channelID, depth, spec.MinDate)
	if err != nil {
		return nil, err
	}
	if s.scheduler != nil {
		s.scheduler.Kick()
	}
	return job, nil
}

func (s *Service) ListJobs(f store.JobFilter) ([]store.JobView, error) {
	return s.db.ListJobs(f)
}

// RetryJobs clears errors and re-arms the matching jobs. Returns the number
// of jobs reset; zero matches is not an error.
func (s *Service) RetryJobs(sel store.RetrySelector) (int64, error) {
	n, err := s.db.RetryJobs(sel)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.scheduler != nil {
		s.scheduler.Kick()
	}
	return n, nil
}

// CancelJobs deletes matching job rows. Archived messages stay.
func (s *Service) CancelJobs(sel store.CancelSelector) (int64, error) {
	return s.db.CancelJobs(sel)
}

func (s *Service) QueueStats() (*store.QueueStats, error) {
	return s.db.JobQueueStats()
}

// --- tags ---

// SetChannelTags replaces the channel's tags under the given source with
// full confidence. Tags under other sources are untouched.
func (s *Service) SetChannelTags(channelID int64, source string, tags []string) error {
	if source == "" {
		return errors.New("tag source required")
	}
	rows := make([]store.ChannelTag, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, store.ChannelTag{
			ChannelID:  channelID,
			Tag:        t,
			Source:     source,
			Confidence: 1,
		})
	}
	return s.db.ReplaceChannelTags(channelID, source, rows)
}

func (s *Service) ListChannelTags(channelID int64) ([]store.ChannelTag, error) {
	return s.db.ListChannelTags(channelID)
}

func (s *Service) ListTaggedChannels(tags []string, source string) ([]store.TaggedChannel, error) {
	return s.db.ListTaggedChannels(tags, source)
}

// AutoTagChannels classifies every archived channel from its profile text
// and replaces the auto-sourced tag partition. Re-running is idempotent and
// never touches manual tags. Returns the number of channels that received
// at least one tag.
func (s *Service) AutoTagChannels(ctx context.Context) (int, error) {
	channels, err := s.db.ListChannels(false, 0)
	if err != nil {
		return 0, err
	}
	tagged := 0
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return tagged, err
		}
		about := ""
		if meta, err := s.db.GetChannelMetadata(ch.ChannelID); err == nil && meta != nil {
			about = meta.About
		}
		tags := tagger.Classify(ch.Title, ch.Username, about)
		rows := make([]store.ChannelTag, 0, len(tags))
		for _, t := range tags {
			rows = append(rows, store.ChannelTag{
				ChannelID:  ch.ChannelID,
				Tag:        t.Name,
				Source:     tagger.Source,
				Confidence: t.Confidence,
			})
		}
		if err := s.db.ReplaceChannelTags(ch.ChannelID, tagger.Source, rows); err != nil {
			return tagged, fmt.Errorf("tag channel %d: %w", ch.ChannelID, err)
		}
		if len(rows) > 0 {
			tagged++
		}
	}
	return tagged, nil
}

// --- channels, metadata, dialogs ---

func (s *Service) ListChannels(syncOnly bool, limit int) ([]store.Channel, error) {
	return s.db.ListChannels(syncOnly, limit)
}

func (s *Service) SetSyncEnabled(channelID int64, enabled bool) error {
	return s.db.SetSyncEnabled(channelID, enabled)
}

func (s *Service) RefreshChannelMetadata(ctx context.Context, channelID int64, force bool) (*store.ChannelMetadata, error) {
	return s.metadata.Get(ctx, channelID, force)
}

// SyncDialogs refreshes the channel identity table from the remote dialog
// listing, and pulls forum topic titles for forum channels. Returns the
// number of dialogs observed.
func (s *Service) SyncDialogs(ctx context.Context) (int, error) {
	if s.client == nil {
		return 0, ErrOffline
	}
	dialogs, err := s.client.ListDialogs(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range dialogs {
		if err := s.db.UpsertChannel(&store.Channel{
			ChannelID:  d.ID,
			AccessHash: d.AccessHash,
			Title:      d.Title,
			Username:   d.Username,
			PeerType:   d.PeerType,
			IsForum:    d.IsForum,
		}); err != nil {
			return 0, fmt.Errorf("upsert dialog %d: %w", d.ID, err)
		}
		if d.IsForum {
			if err := s.syncTopics(ctx, d.ID); err != nil {
				s.log.Warn("sync forum topics", zap.Int64("channel_id", d.ID), zap.Error(err))
			}
		}
	}
	return len(dialogs), nil
}

func (s *Service) syncTopics(ctx context.Context, channelID int64) error {
	topics, err := s.client.ListTopics(ctx, channelID)
	if err != nil {
		return err
	}
	rows := make([]store.Topic, 0, len(topics))
	for _, t := range topics {
		rows = append(rows, store.Topic{ChannelID: channelID, TopicID: t.ID, Title: t.Title})
	}
	return s.db.UpsertTopics(channelID, rows)
}

// UpsertTopics stores topic titles supplied by a front end.
func (s *Service) UpsertTopics(channelID int64, topics []store.Topic) error {
	return s.db.UpsertTopics(channelID, topics)
}

func (s *Service) ListTopics(channelID int64) ([]store.Topic, error) {
	return s.db.ListTopics(channelID)
}

// --- contacts ---

// SyncContacts refreshes the user identity cache from the remote contact
// list. Returns the number of contacts stored.
func (s *Service) SyncContacts(ctx context.Context) (int, error) {
	if s.client == nil {
		return 0, ErrOffline
	}
	remote, err := s.client.ListContacts(ctx)
	if err != nil {
		return 0, err
	}
	users := make([]store.User, 0, len(remote))
	for _, u := range remote {
		users = append(users, store.User{
			UserID:    u.ID,
			Username:  u.Username,
			Name:      u.Name,
			Phone:     u.Phone,
			IsBot:     u.IsBot,
			IsContact: u.IsContact,
		})
	}
	if err := s.db.BulkUpsertUsers(users); err != nil {
		return 0, err
	}
	return len(users), nil
}

func (s *Service) GetContact(userID int64) (*store.Contact, error) {
	c, err := s.db.GetContact(userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("contact %d: %w", userID, ErrNotFound)
	}
	return c, nil
}

func (s *Service) ListContacts() ([]store.Contact, error) {
	return s.db.ListContacts()
}

func (s *Service) SetContactAlias(userID int64, alias string) error {
	return s.db.SetContactAlias(userID, alias)
}

func (s *Service) SetContactNotes(userID int64, notes string) error {
	return s.db.SetContactNotes(userID, notes)
}

func (s *Service) AddContactTags(userID int64, tags []string) error {
	return s.db.AddContactTags(userID, tags)
}

func (s *Service) RemoveContactTags(userID int64, tags []string) error {
	return s.db.RemoveContactTags(userID, tags)
}

// --- connection passthrough for callers that own their own remote ops ---

// Remote exposes the client for wiring-level callers; nil when offline.
func (s *Service) Remote() RemoteClient { return s.client }

// Store exposes the underlying store handle.
func (s *Service) Store() *store.DB { return s.db }

var _ RemoteClient = (*telegram.Client)(nil)
