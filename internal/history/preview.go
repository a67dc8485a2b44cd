package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/convert"
)

// Preview wait defaults.
const (
	DefaultPreviewCeiling  = 3 * time.Second
	DefaultPreviewInterval = time.Second
)

// FetchFunc re-reads a message from the platform.
type FetchFunc func(ctx context.Context) (*chat.Message, error)

// WaitForPreview polls until msg carries a rendered link preview or the
// ceiling elapses, then returns the latest state seen. Fetch errors end the
// wait early with the last good state.
func WaitForPreview(ctx context.Context, fetch FetchFunc, msg *chat.Message, ceiling, interval time.Duration) *chat.Message {
	if ceiling <= 0 {
		ceiling = DefaultPreviewCeiling
	}
	if interval <= 0 {
		interval = DefaultPreviewInterval
	}
	start := time.Now()
	cur := msg

	for !convert.IsEmbedValid(cur) {
		next, err := fetch(ctx)
		if err != nil {
			slog.Debug("preview refetch failed", "message_id", msg.ID, "error", err)
			return cur
		}
		if next != nil {
			cur = next
		}
		if time.Since(start) >= ceiling {
			break
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return cur
		case <-t.C:
		}
	}
	return cur
}
