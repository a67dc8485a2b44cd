// Package bus decouples platform adapters from the reply pipelines.
package bus

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/aibot/internal/chat"
)

// EventKind tells the consumer what happened to a message.
type EventKind int

const (
	MessageCreated EventKind = iota
	MessageUpdated
	MessageDeleted
)

func (k EventKind) String() string {
	switch k {
	case MessageCreated:
		return "created"
	case MessageUpdated:
		return "updated"
	case MessageDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// InboundMessage is one platform event. Message is set for created and
// updated events; deletes only carry the ids.
type InboundMessage struct {
	Kind       EventKind
	Channel    string // platform adapter name, e.g. "discord"
	Message    *chat.Message
	MessageID  string
	ChannelID  string
	ReceivedAt time.Time
}

// MessageRouter abstracts inbound routing between adapters and the bot.
type MessageRouter interface {
	PublishInbound(msg InboundMessage) bool
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
