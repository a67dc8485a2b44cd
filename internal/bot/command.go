package bot

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/eligibility"
)

// Slash command notices.
const (
	NoticeNotAllowed  = "You're not allowed to use this command here."
	NoticeNotEnabled  = "This command is not enabled."
	NoticeRateLimited = "The command is currently being ratelimited!"
	NoticeFailure     = failureNotice
)

// ChatCommand is one /chat invocation. Message carries the invoking user,
// the channel and the command text as content; it has no platform id.
type ChatCommand struct {
	Message *chat.Message
	// Respond sends a follow-up to the invocation. Ephemeral responses are
	// only visible to the invoking user.
	Respond func(ctx context.Context, content string, ephemeral bool) error
}

// HandleChatCommand answers a /chat invocation. Validity is checked, but
// triggers and sampling are skipped: the command only works where the bot
// would always answer (reply chance of one) or mentions are enabled.
// A generation failure produces exactly one failure notice.
func (b *Bot) HandleChatCommand(ctx context.Context, cmd ChatCommand) {
	defer recoverPipeline(cmd.Message)
	msg := cmd.Message
	if msg == nil || cmd.Respond == nil {
		return
	}

	notify := func(content string) {
		if err := cmd.Respond(ctx, content, true); err != nil {
			slog.Warn("send command notice", "channel_id", msg.ChannelID, "error", err)
		}
	}

	if !b.engine.Valid(ctx, msg) {
		notify(NoticeNotAllowed)
		return
	}

	pct := b.settings.ResolvePercentage(ctx, eligibility.Target(msg))
	if !eligibility.ApproxOne(pct) {
		g, err := b.settings.Guild(ctx, msg.GuildID)
		if err != nil || !g.ReplyToMentionsReplies {
			notify(NoticeNotEnabled)
			return
		}
	}

	if b.rate != nil && b.rate.Active(b.now()) {
		notify(NoticeRateLimited)
		return
	}

	runID := newRunID()
	slog.Info("chat command", "run_id", runID, "channel_id", msg.ChannelID, "user_id", msg.Author.ID)
	send := func(ctx context.Context, content string) error {
		return cmd.Respond(ctx, content, false)
	}
	if err := b.respond(ctx, msg, "", send); err != nil {
		slog.Error("chat command failed", "run_id", runID, "channel_id", msg.ChannelID, "error", err)
		notify(NoticeFailure)
	}
}
