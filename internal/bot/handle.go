package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/convert"
	"github.com/nextlevelbuilder/aibot/internal/eligibility"
	"github.com/nextlevelbuilder/aibot/internal/history"
	"github.com/nextlevelbuilder/aibot/internal/providers"
	"github.com/nextlevelbuilder/aibot/internal/ratelimit"
)

const (
	sleepEmoji    = "💤"
	failureNotice = ":warning: Error in generating response!"
)

// sendFunc delivers the final reply text.
type sendFunc func(ctx context.Context, content string) error

// HandleMessage runs the full pipeline for one inbound message. It never
// returns an error: every failure is logged and, where the user expects an
// answer, reported once.
func (b *Bot) HandleMessage(ctx context.Context, msg *chat.Message) {
	defer recoverPipeline(msg)
	if msg == nil {
		return
	}

	runID := newRunID()
	ctx, span := b.tracer.Start(ctx, "bot.handle_message", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("message.id", msg.ID),
		attribute.String("channel.id", msg.ChannelID),
		attribute.String("guild.id", msg.GuildID),
	))
	defer span.End()

	d := b.engine.Evaluate(ctx, msg)
	span.SetAttributes(
		attribute.String("decision.outcome", d.Outcome.String()),
		attribute.String("decision.trigger", string(d.Trigger.Reason)),
		attribute.Float64("decision.percentage", d.Percentage),
	)

	switch d.Outcome {
	case eligibility.Ignore:
		if d.Detail != "" {
			slog.Debug("message ignored", "message_id", msg.ID, "reason", d.Detail)
		}
	case eligibility.Defer:
		slog.Debug("want to respond but rate limited",
			"message_id", msg.ID, "until", ratelimit.FormatReset(b.rate.ResetAt()))
		b.reactQuietly(ctx, msg, sleepEmoji)
	case eligibility.Respond:
		slog.Info("responding", "run_id", runID, "message_id", msg.ID, "channel_id", msg.ChannelID,
			"trigger", string(d.Trigger.Reason), "percentage", d.Percentage)
		send := func(ctx context.Context, content string) error {
			return b.platform.Reply(ctx, msg, content)
		}
		err := b.respond(ctx, msg, "", send)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			slog.Debug("response cancelled", "run_id", runID, "message_id", msg.ID)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("generate response", "run_id", runID, "message_id", msg.ID, "error", err)
			if sendErr := send(ctx, failureNotice); sendErr != nil {
				slog.Warn("send failure notice", "message_id", msg.ID, "error", sendErr)
			}
		}
	}
}

// respond assembles the exchange for trigger, completes it and delivers the
// sanitized reply through send. Empty replies are dropped silently.
func (b *Bot) respond(ctx context.Context, trigger *chat.Message, extraSystem string, send sendFunc) error {
	stop := b.keepTyping(ctx, trigger.ChannelID)
	defer stop()

	if trigger.ID != "" && convert.ContainsURL(trigger.Content) && !convert.IsEmbedValid(trigger) {
		trigger = history.WaitForPreview(ctx, func(ctx context.Context) (*chat.Message, error) {
			return b.platform.FetchMessage(ctx, trigger.ChannelID, trigger.ID)
		}, trigger, b.previewCeiling, b.previewInterval)
	}

	g, err := b.settings.Guild(ctx, trigger.GuildID)
	if err != nil {
		return fmt.Errorf("load guild settings: %w", err)
	}
	gl, err := b.settings.Global(ctx)
	if err != nil {
		return fmt.Errorf("load global settings: %w", err)
	}

	opts := history.Options{
		Backread:    g.MessagesBackread,
		BackreadGap: g.BackreadGap,
		Since:       b.forgetTime(trigger.GuildID),
		MinLength:   g.MinLength,
		OptedOut:    gl.OptOut.Has,
		Consents:    func(id string) bool { return gl.Consents(g, id) },
		Prompt:      b.settings.ResolvePrompt(ctx, eligibility.Target(trigger)),
		ExtraSystem: extraSystem,
		BotName:     b.self.Name(),
		ServerName:  trigger.GuildName,
		ChannelName: trigger.ChannelName,
		Now:         b.now(),
		MaxTokens:   g.TokensLimit,
	}

	buildCtx, span := b.tracer.Start(ctx, "bot.assemble_history")
	msgs, err := b.assembler.Build(buildCtx, trigger, opts)
	span.SetAttributes(attribute.Int("history.entries", len(msgs)))
	span.End()
	if err != nil {
		return fmt.Errorf("assemble history: %w", err)
	}

	model := g.Model
	if model == "" {
		model = gl.Model
	}
	provider := b.completionClient(gl)
	if provider == nil {
		return errors.New("no completion provider configured")
	}

	callCtx := ctx
	if gl.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, gl.RequestTimeout)
		defer cancel()
	}
	callCtx, chatSpan := b.tracer.Start(callCtx, "provider.chat", trace.WithAttributes(
		attribute.String("provider.name", provider.Name()),
		attribute.String("model", model),
	))
	resp, err := provider.Chat(callCtx, providers.ChatRequest{Messages: msgs, Model: model, Params: g.Params})
	if err != nil {
		chatSpan.RecordError(err)
		chatSpan.SetStatus(codes.Error, err.Error())
		chatSpan.End()
		return fmt.Errorf("chat completion: %w", err)
	}
	if resp.Usage != nil {
		chatSpan.SetAttributes(
			attribute.Int("usage.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("usage.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	chatSpan.End()

	content := SanitizeResponse(resp.Content, g.RemovePatterns, b.self.Name(), trigger.Author.Name())
	if content == "" {
		slog.Info("empty response after sanitizing, not sending", "channel_id", trigger.ChannelID)
		return nil
	}
	if err := send(ctx, content); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// OnRateLimit is the completion client's hook for exhausted quotas, called
// once per limited response.
func (b *Bot) OnRateLimit(reset string) {
	if b.rate == nil {
		return
	}
	until := b.rate.Backoff(b.now(), ratelimit.ParseResetDuration(reset, b.rng))
	slog.Warn("rate limited by completion endpoint", "reset_hint", reset, "until", ratelimit.FormatReset(until))
}

func (b *Bot) reactQuietly(ctx context.Context, msg *chat.Message, emoji string) {
	if msg.ID == "" {
		return
	}
	if err := b.platform.React(ctx, msg.ChannelID, msg.ID, emoji); err != nil {
		slog.Debug("react failed", "message_id", msg.ID, "emoji", emoji, "error", err)
	}
}

// keepTyping shows the typing indicator until the returned stop is called.
func (b *Bot) keepTyping(ctx context.Context, channelID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(b.typingInterval)
		defer t.Stop()
		for {
			if err := b.platform.Typing(ctx, channelID); err != nil && ctx.Err() == nil {
				slog.Debug("typing indicator failed", "channel_id", channelID, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
