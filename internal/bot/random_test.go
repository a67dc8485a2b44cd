package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/settings"
)

func enableRandom(t *testing.T, f *fixture, idleSeconds int) {
	t.Helper()
	ctx := context.Background()
	values := map[string]any{
		settings.KeyRandomMessagesEnabled: true,
		settings.KeyRandomMessagesPercent: 1.0,
		settings.KeyRandomMessagesTopics:  []string{"favourite cats"},
		settings.KeyRandomMessagesIdle:    idleSeconds,
	}
	for k, v := range values {
		if err := f.settings.SetGuildValue(ctx, guild, k, v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRandomTick_PostsInIdleChannel(t *testing.T) {
	f := newFixture(t, 1)
	enableRandom(t, f, 600)
	m := f.message("1", "quiet in here")
	m.CreatedAt = t0.Add(-time.Hour)
	f.provider.reply = "Who has a cat?"

	f.bot.RandomTick(context.Background())

	if got := f.platform.sent["c1"]; len(got) != 1 || got[0] != "Who has a cat?" {
		t.Fatalf("sent = %q", got)
	}
	sys := f.provider.requests[0].Messages[0].Content
	if !strings.Contains(sys, "favourite cats") {
		t.Errorf("topic missing from system prompt: %q", sys)
	}
}

func TestRandomTick_Skips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
	}{
		{"disabled", func(t *testing.T, f *fixture) {
			f.message("1", "quiet in here").CreatedAt = t0.Add(-time.Hour)
		}},
		{"channel still active", func(t *testing.T, f *fixture) {
			enableRandom(t, f, 600)
			f.message("1", "just now").CreatedAt = t0.Add(-time.Minute)
		}},
		{"bot spoke last", func(t *testing.T, f *fixture) {
			enableRandom(t, f, 600)
			f.platform.add(&chat.Message{
				ID: "1", ChannelID: "c1", GuildID: guild,
				Author:    f.platform.Self(),
				Content:   "anyone?",
				CreatedAt: t0.Add(-time.Hour),
			})
		}},
		{"rate limited", func(t *testing.T, f *fixture) {
			enableRandom(t, f, 600)
			f.message("1", "quiet in here").CreatedAt = t0.Add(-time.Hour)
			f.rate.SetResetAt(t0.Add(time.Minute))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			tt.setup(t, f)
			f.bot.RandomTick(context.Background())
			if f.provider.calls() != 0 || len(f.platform.sent["c1"]) != 0 {
				t.Errorf("random message sent: %q", f.platform.sent["c1"])
			}
		})
	}
}

func TestRunRandomMessages_InvalidSchedule(t *testing.T) {
	f := newFixture(t, 1)
	if err := f.bot.RunRandomMessages(context.Background(), "not a cron"); err == nil {
		t.Error("invalid schedule should be rejected")
	}
}

func TestRunRandomMessages_StopsWithContext(t *testing.T) {
	f := newFixture(t, 1)
	f.bot.now = time.Now
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.bot.RunRandomMessages(ctx, "0 0 1 1 *"); err != nil {
		t.Errorf("RunRandomMessages: %v", err)
	}
}
