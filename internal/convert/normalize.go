// Package convert turns chat messages into role-tagged exchange entries.
package convert

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/providers"
)

// Normalizer converts messages for one bot identity.
type Normalizer struct {
	BotID    string
	Renderer EmbedRenderer // nil uses DefaultRenderer
}

// NewNormalizer creates a Normalizer for botID.
func NewNormalizer(botID string, r EmbedRenderer) *Normalizer {
	if r == nil {
		r = DefaultRenderer{}
	}
	return &Normalizer{BotID: botID, Renderer: r}
}

// Convert produces the exchange entries for msg. The first matching branch
// wins: attachments, stickers, preview/video link, plain text.
// An empty result means the message contributes nothing. Convert never
// fails; renderer errors fall back to plain text.
func (n *Normalizer) Convert(ctx context.Context, msg *chat.Message) []providers.Message {
	if msg == nil {
		return nil
	}
	role := providers.RoleUser
	if msg.Author.ID == n.BotID {
		role = providers.RoleAssistant
	}

	var out []providers.Message
	add := func(content string) {
		if content == "" {
			return
		}
		out = append(out, providers.Message{Role: role, Content: content})
	}

	switch {
	case len(msg.Attachments) > 0:
		add(attachmentText(msg))
		add(FormatText(msg, n.BotID))
	case len(msg.Stickers) > 0:
		add(stickerText(msg))
	case IsEmbedValid(msg) || ContainsVideoLink(msg.Content):
		rendered := n.render(ctx, msg)
		if rendered == "" {
			add(FormatText(msg, n.BotID))
			break
		}
		add(rendered)
		add(n.strippedText(msg))
	default:
		add(FormatText(msg, n.BotID))
	}
	return out
}

func (n *Normalizer) render(ctx context.Context, msg *chat.Message) string {
	r := n.Renderer
	if r == nil {
		r = DefaultRenderer{}
	}
	s, err := r.Render(ctx, msg)
	if err != nil {
		slog.Debug("embed render failed, using plain text", "message_id", msg.ID, "error", err)
		return ""
	}
	return s
}

// strippedText is the message text without links, only when stripping
// actually removed something and left text behind.
func (n *Normalizer) strippedText(msg *chat.Message) string {
	stripped := StripLinks(msg.Content)
	if stripped == "" || stripped == msg.TrimmedContent() {
		return ""
	}
	return formatWith(msg, n.BotID, stripped)
}
