package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aibot/internal/chat"
)

const (
	maxMessageLen = 2000
	maxPageSize   = 100
)

// FetchMessage loads a single message by id.
func (c *Channel) FetchMessage(ctx context.Context, channelID, messageID string) (*chat.Message, error) {
	m, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch discord message: %w", err)
	}
	return c.convert(m), nil
}

// History pages backwards from beforeID, newest first. Discord caps a page
// at 100 messages.
func (c *Channel) History(ctx context.Context, channelID, beforeID string, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page, err := c.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch discord history: %w", err)
	}
	out := make([]*chat.Message, 0, len(page))
	for _, m := range page {
		out = append(out, c.convert(m))
	}
	return out, nil
}

// React adds a unicode emoji reaction.
func (c *Channel) React(ctx context.Context, channelID, messageID, emoji string) error {
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add discord reaction: %w", err)
	}
	return nil
}

// Typing shows the typing indicator. Discord expires it after about ten
// seconds, so callers refresh it while they work.
func (c *Channel) Typing(ctx context.Context, channelID string) error {
	return c.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

// Reply answers to, quoting it with a message reference on the first chunk.
// Messages without an id (slash command text) get a plain send.
func (c *Channel) Reply(ctx context.Context, to *chat.Message, content string) error {
	var ref *discordgo.MessageReference
	if to.ID != "" {
		failIfMissing := false
		ref = &discordgo.MessageReference{
			MessageID:       to.ID,
			ChannelID:       to.ChannelID,
			GuildID:         to.GuildID,
			FailIfNotExists: &failIfMissing,
		}
	}
	return c.sendChunked(ctx, to.ChannelID, content, ref)
}

// Send posts content to a channel.
func (c *Channel) Send(ctx context.Context, channelID, content string) error {
	return c.sendChunked(ctx, channelID, content, nil)
}

// sendChunked sends a message, splitting into multiple messages if over
// 2000 chars. Only the first chunk carries ref.
func (c *Channel) sendChunked(ctx context.Context, channelID, content string, ref *discordgo.MessageReference) error {
	for _, chunk := range splitMessage(content, maxMessageLen) {
		_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:   chunk,
			Reference: ref,
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse:       []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
				RepliedUser: true,
			},
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		ref = nil
	}
	return nil
}

// splitMessage cuts content into chunks of at most maxLen bytes,
// preferring a newline in the second half of the window and never
// splitting a UTF-8 sequence.
func splitMessage(content string, maxLen int) []string {
	var out []string
	for len(content) > 0 {
		if len(content) <= maxLen {
			out = append(out, content)
			break
		}
		cutAt := maxLen
		if idx := lastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		} else {
			for cutAt > 0 && !isRuneStart(content[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = maxLen
			}
		}
		out = append(out, content[:cutAt])
		content = content[cutAt:]
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// lastIndexByte returns the last index of byte c in s, or -1.
func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}
