// Package channels provides the platform adapter layer. Adapters translate
// SDK events into chat messages and publish them on the message bus; the
// bot consumes the bus and talks back through the adapter's Platform
// methods.
package channels

import (
	"context"
	"sync/atomic"

	"github.com/nextlevelbuilder/aibot/internal/bus"
	"github.com/nextlevelbuilder/aibot/internal/chat"
)

// Channel defines the lifecycle every platform adapter must satisfy.
type Channel interface {
	// Name returns the adapter identifier (e.g. "discord").
	Name() string

	// Start connects to the platform. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully disconnects.
	Stop(ctx context.Context) error

	// IsRunning returns whether the adapter is connected.
	IsRunning() bool
}

// BaseChannel provides shared functionality for adapter implementations.
// Adapters should embed this struct.
type BaseChannel struct {
	name    string
	bus     bus.MessageRouter
	running atomic.Bool
}

// NewBaseChannel creates a new BaseChannel.
func NewBaseChannel(name string, router bus.MessageRouter) *BaseChannel {
	return &BaseChannel{name: name, bus: router}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message router.
func (c *BaseChannel) Bus() bus.MessageRouter { return c.bus }

// PublishMessage forwards a new or edited message to the bus.
func (c *BaseChannel) PublishMessage(kind bus.EventKind, msg *chat.Message) bool {
	return c.bus.PublishInbound(bus.InboundMessage{
		Kind:      kind,
		Channel:   c.name,
		Message:   msg,
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
	})
}

// PublishDelete forwards a deletion, which only carries ids.
func (c *BaseChannel) PublishDelete(channelID, messageID string) bool {
	return c.bus.PublishInbound(bus.InboundMessage{
		Kind:      bus.MessageDeleted,
		Channel:   c.name,
		MessageID: messageID,
		ChannelID: channelID,
	})
}

// Truncate shortens a string to maxLen bytes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
