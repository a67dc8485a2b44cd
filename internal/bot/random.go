package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/settings"
)

// DefaultRandomSchedule checks idle channels every ten minutes.
const DefaultRandomSchedule = "*/10 * * * *"

const randomTopicInstruction = "You are not responding to a message. " +
	"Start a new conversation in the channel about this topic: "

// RunRandomMessages fires RandomTick on the cron schedule expr until ctx is
// done.
func (b *Bot) RunRandomMessages(ctx context.Context, expr string) error {
	if expr == "" {
		expr = DefaultRandomSchedule
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid random message schedule %q", expr)
	}
	slog.Info("random messages scheduled", "schedule", expr)

	for {
		next, err := gronx.NextTickAfter(expr, b.now(), false)
		if err != nil {
			return fmt.Errorf("next random message tick: %w", err)
		}
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		b.RandomTick(ctx)
	}
}

// RandomTick posts a topic prompt in each idle whitelisted channel of every
// guild that enabled random messages, each with the guild's configured
// chance. Nothing is sent while rate limited.
func (b *Bot) RandomTick(ctx context.Context) {
	defer recoverPipeline(nil)
	if b.rate != nil && b.rate.Active(b.now()) {
		slog.Debug("skipping random messages while rate limited")
		return
	}

	guilds, err := b.settings.Guilds(ctx)
	if err != nil {
		slog.Warn("list guilds for random messages", "error", err)
		return
	}
	for _, guildID := range guilds {
		g, err := b.settings.Guild(ctx, guildID)
		if err != nil {
			slog.Warn("load guild settings", "guild_id", guildID, "error", err)
			continue
		}
		if !g.RandomMessagesEnabled || len(g.RandomMessagesTopics) == 0 {
			continue
		}
		for channelID := range g.ChannelsWhitelist {
			if ctx.Err() != nil {
				return
			}
			if err := b.randomMessage(ctx, g, channelID); err != nil {
				slog.Warn("random message failed", "guild_id", guildID, "channel_id", channelID, "error", err)
			}
		}
	}
}

func (b *Bot) randomMessage(ctx context.Context, g *settings.GuildSnapshot, channelID string) error {
	if b.rng.Float64() >= g.RandomMessagesPercent {
		return nil
	}

	page, err := b.platform.History(ctx, channelID, "", 1)
	if err != nil {
		return fmt.Errorf("fetch last message: %w", err)
	}
	now := b.now()
	if len(page) > 0 && page[0] != nil {
		last := page[0]
		if last.Author.ID == b.self.ID || now.Sub(last.CreatedAt) < g.RandomMessagesIdle {
			return nil
		}
	}

	topic := g.RandomMessagesTopics[b.rng.Intn(len(g.RandomMessagesTopics))]
	trigger := &chat.Message{
		ChannelID: channelID,
		GuildID:   g.GuildID,
		Author:    b.self,
		CreatedAt: now,
	}
	slog.Info("sending random message", "guild_id", g.GuildID, "channel_id", channelID, "topic", topic)
	return b.respond(ctx, trigger, randomTopicInstruction+topic, func(ctx context.Context, content string) error {
		return b.platform.Send(ctx, channelID, content)
	})
}
