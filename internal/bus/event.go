package bus

import (
	"strings"
	"time"
)

// Kind names an event. Kinds are dot-namespaced so a subscriber can match a
// whole family ("tg.", "daemon.") by prefix.
type Kind string

// In reports whether the kind falls under the namespace prefix. The empty
// namespace matches everything.
func (k Kind) In(namespace string) bool {
	return strings.HasPrefix(string(k), namespace)
}

// Event represents a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// Kinds published by the Telegram update handler and the daemon status
// machine. Kept here so producers and consumers agree on names.
const (
	KindNewMessage     Kind = "tg.message"
	KindEditMessage    Kind = "tg.edit"
	KindDeleteMessages Kind = "tg.delete"
	KindChannelGap     Kind = "tg.gap"
	KindStatusChanged  Kind = "daemon.status_changed"
)
