package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tgvault/tgvault/internal/store"
)

const defaultMetadataTTL = 7 * 24 * time.Hour

// MetadataCache serves per-channel profile data, hitting the remote client
// only when the cached copy is missing, stale, or a refresh is forced.
type MetadataCache struct {
	db     *store.DB
	client RemoteClient
	log    *zap.Logger
	ttl    time.Duration
}

func NewMetadataCache(db *store.DB, client RemoteClient, ttl time.Duration, log *zap.Logger) *MetadataCache {
	if ttl <= 0 {
		ttl = defaultMetadataTTL
	}
	return &MetadataCache{db: db, client: client, log: log, ttl: ttl}
}

// Get returns the channel's metadata, refreshing from the remote client
// when needed. A refresh re-upserts the channel's display fields too, so
// metadata refresh doubles as identity refresh.
func (c *MetadataCache) Get(ctx context.Context, channelID int64, force bool) (*store.ChannelMetadata, error) {
	cached, err := c.db.GetChannelMetadata(channelID)
	if err != nil {
		return nil, err
	}
	if cached != nil && !force && !c.stale(cached) {
		return cached, nil
	}

	if c.client == nil {
		// Offline caller: stale data beats none.
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("metadata for channel %d not cached and no remote client", channelID)
	}

	meta, err := c.client.GetPeerMetadata(ctx, channelID)
	if err != nil {
		if cached != nil {
			c.log.Warn("metadata refresh failed, serving cached",
				zap.Int64("channel_id", channelID), zap.Error(err))
			return cached, nil
		}
		return nil, err
	}

	if err := c.db.UpsertChannel(&store.Channel{
		ChannelID: channelID,
		Title:     meta.Title,
		Username:  meta.Username,
		PeerType:  meta.PeerType,
		IsForum:   meta.IsForum,
	}); err != nil {
		return nil, fmt.Errorf("refresh channel identity: %w", err)
	}
	if err := c.db.UpsertChannelMetadata(channelID, meta.About); err != nil {
		return nil, fmt.Errorf("cache metadata: %w", err)
	}
	return c.db.GetChannelMetadata(channelID)
}

func (c *MetadataCache) stale(m *store.ChannelMetadata) bool {
	fetched := time.UnixMilli(m.FetchedAt)
	return time.Since(fetched) > c.ttl
}
