// Package telegram wraps the MTProto client and normalizes protocol types into
// plain records at the ingestion boundary, so nothing above this package
// needs protocol knowledge.
package telegram

// Media kinds form a closed set; anything the decoder does not recognize
// maps to KindOther with the concrete type name in Extra.
const (
	KindPhoto    = "photo"
	KindDocument = "document"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindVoice    = "voice"
	KindSticker  = "sticker"
	KindWebpage  = "webpage"
	KindPoll     = "poll"
	KindGeo      = "geo"
	KindContact  = "contact"
	KindOther    = "other"
)

// Dialog is one entry from the account's dialog listing.
type Dialog struct {
	ID         int64
	AccessHash int64
	Title      string
	Username   string
	PeerType   string // user | group | broadcast
	IsForum    bool
}

// Cursor marks a resumption point for incremental history fetch. Both the
// id and the date anchor the iteration: raw offsets alone are ambiguous
// once messages are deleted upstream.
type Cursor struct {
	MsgID int64
	Date  int64 // unix seconds
}

// HistoryRequest shapes a bounded history fetch.
type HistoryRequest struct {
	MinID   int64 // exclusive floor; 0 = none
	MaxID   int64 // exclusive ceiling; 0 = none
	Limit   int
	Forward bool // fetch the window immediately above MinID instead of the newest window
}

// HistoryPage is one batch of fetched history with peer display data.
type HistoryPage struct {
	PeerTitle string
	PeerType  string
	Messages  []Message // ascending by id
}

// Topic is a forum topic within a channel.
type Topic struct {
	ID    int64
	Title string
}

// PeerMetadata is the profile snapshot for a peer.
type PeerMetadata struct {
	Title    string
	Username string
	PeerType string
	IsForum  bool
	About    string
}

// RemoteUser is a contact-list entry.
type RemoteUser struct {
	ID        int64
	Username  string
	Name      string
	Phone     string
	IsBot     bool
	IsContact bool
}

// Message is a normalized archived message.
type Message struct {
	ID        int64
	Date      int64 // unix seconds
	Text      string
	FromID    int64
	FromUser  string
	FromName  string
	FromType  string
	FromIsBot bool
	TopicID   int64
	Media     *Media
	Links     []Link
	Raw       []byte // serialized original payload
}

// Media is a normalized media descriptor with per-kind fields flattened.
type Media struct {
	Kind        string
	FileID      string
	FileName    string
	MimeType    string
	Width       int
	Height      int
	DurationSec int
	Extra       string // free-form JSON for kind-specific leftovers
}

// Link is a URL extracted from message text.
type Link struct {
	URL    string
	Domain string
}

// Deletion describes a delete event. ChannelID is zero when the update
// carried no channel scope.
type Deletion struct {
	ChannelID int64
	MsgIDs    []int64
}

// ChannelGap signals that the server dropped updates for a channel and the
// missed range must be re-fetched from the stored cursor.
type ChannelGap struct {
	ChannelID int64
}

// NewMessageEvent pairs a live message with the dialog it arrived in. The
// Peer fields describe the dialog itself, not the sender; in group chats the
// two differ and the channel record must carry the dialog's identity.
type NewMessageEvent struct {
	ChannelID    int64
	PeerTitle    string
	PeerUsername string
	PeerType     string
	Message      Message
}
