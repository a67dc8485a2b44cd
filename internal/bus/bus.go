package bus

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the inbound queue size used when none is configured.
const DefaultBuffer = 256

// MessageBus is a bounded in-process queue. Publishing never blocks: when
// the queue is full the event is dropped and counted.
type MessageBus struct {
	inbound chan InboundMessage
	dropped atomic.Uint64
}

// New creates a bus holding up to buffer pending events.
func New(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MessageBus{inbound: make(chan InboundMessage, buffer)}
}

// PublishInbound enqueues msg. It reports false when the event was dropped.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	select {
	case b.inbound <- msg:
		return true
	default:
		n := b.dropped.Add(1)
		slog.Warn("inbound queue full, dropping event",
			"kind", msg.Kind.String(), "channel_id", msg.ChannelID, "dropped_total", n)
		return false
	}
}

// ConsumeInbound blocks until an event is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Pending returns the number of queued events.
func (b *MessageBus) Pending() int { return len(b.inbound) }

// Dropped returns how many events were discarded because the queue was full.
func (b *MessageBus) Dropped() uint64 { return b.dropped.Load() }
