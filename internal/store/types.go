package store

// PeerType classifies a remote peer.
const (
	PeerUser      = "user"
	PeerGroup     = "group"
	PeerBroadcast = "broadcast"
)

// Channel represents an archived chat identity. Channels are upserted
// whenever they are observed and never hard-deleted.
type Channel struct {
	ChannelID   int64
	AccessHash  int64
	Title       string
	Username    string
	PeerType    string // user | group | broadcast
	IsForum     bool
	SyncEnabled bool
	// Newest/oldest known message cursors. Ids only move toward more
	// extreme values; dates travel with their id.
	NewestMsgID   int64
	NewestMsgDate int64
	OldestMsgID   int64
	OldestMsgDate int64
	CreatedAt     int64
	UpdatedAt     int64
}

// ChannelMetadata is the cached "about" text for a channel with its
// fetch timestamp, used for TTL staleness checks.
type ChannelMetadata struct {
	ChannelID int64
	About     string
	FetchedAt int64
}

// ChannelTag is a confidence-scored label on a channel. Source partitions
// manual tags from auto-classified ones.
type ChannelTag struct {
	ChannelID  int64
	Tag        string
	Source     string
	Confidence float64
}

// Job statuses form the sync job state machine.
const (
	JobPending    = "pending"
	JobInProgress = "in_progress"
	JobIdle       = "idle"
	JobError      = "error"
)

// Job is a persisted unit of per-channel sync work. One row per channel.
type Job struct {
	JobID         int64
	ChannelID     int64
	Status        string
	TargetCount   int64
	MessageCount  int64
	CursorMsgID   int64
	CursorMsgDate int64
	MinDate       int64 // unix seconds; 0 = no floor
	Error         string
	CreatedAt     int64
	UpdatedAt     int64
}

// JobView is a job joined with channel display data for listings.
type JobView struct {
	Job
	ChannelTitle string
	Username     string
}

// Message is an archived message, unique on (channel_id, msg_id).
// The denormalized *Text fields feed the full-text index; Raw holds the
// serialized original payload for lossless replay.
type Message struct {
	ID          int64
	ChannelID   int64
	MsgID       int64
	Date        int64 // unix seconds
	FromID      int64
	FromUser    string
	FromName    string
	FromType    string
	FromIsBot   bool
	TopicID     int64
	Text        string
	LinkText    string
	FileText    string
	SenderText  string
	TopicText   string
	Raw         []byte
	Media       *Media
	Links       []Link
}

// Media is a normalized media descriptor, 0:1 with a message.
type Media struct {
	ChannelID   int64
	MsgID       int64
	Kind        string
	FileID      string
	FileName    string
	MimeType    string
	Width       int
	Height      int
	DurationSec int
	Extra       string // free-form JSON
}

// Link is a URL extracted from message text, 0:N per message.
type Link struct {
	ChannelID int64
	MsgID     int64
	URL       string
	Domain    string
}

// Topic is a forum thread title, keyed by (channel_id, topic_id).
type Topic struct {
	ChannelID int64
	TopicID   int64
	Title     string
}

// User is the remote-network identity cache.
type User struct {
	UserID    int64
	Username  string
	Name      string
	Phone     string
	IsBot     bool
	IsContact bool
	UpdatedAt int64
}

// Contact carries user-authored annotations on top of a User.
type Contact struct {
	UserID    int64
	Username  string
	Name      string
	Alias     string
	Notes     string
	Tags      []string
	UpdatedAt int64
}

// QueueStats summarizes job queue and archive totals.
type QueueStats struct {
	JobsByStatus map[string]int64
	Channels     int64
	Messages     int64
}
