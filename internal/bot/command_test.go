package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/providers"
	"github.com/nextlevelbuilder/aibot/internal/settings"
)

type response struct {
	content   string
	ephemeral bool
}

func runCommand(f *fixture, channelID, text string) []response {
	var out []response
	cmd := ChatCommand{
		Message: &chat.Message{
			ChannelID: channelID,
			GuildID:   guild,
			Author:    chat.Author{ID: "u1", DisplayName: "alice"},
			Content:   text,
			CreatedAt: t0,
		},
		Respond: func(_ context.Context, content string, ephemeral bool) error {
			out = append(out, response{content, ephemeral})
			return nil
		},
	}
	f.bot.HandleChatCommand(context.Background(), cmd)
	return out
}

func TestHandleChatCommand(t *testing.T) {
	tests := []struct {
		name    string
		pct     float64
		channel string
		setup   func(t *testing.T, f *fixture)
		want    []response
	}{
		{
			name:    "answers in whitelisted channel",
			pct:     1,
			channel: "c1",
			want:    []response{{"hello alice", false}},
		},
		{
			name:    "outside scope",
			pct:     1,
			channel: "nowhere",
			want:    []response{{NoticeNotAllowed, true}},
		},
		{
			name:    "partial chance with mentions enabled",
			pct:     0.3,
			channel: "c1",
			want:    []response{{"hello alice", false}},
		},
		{
			name:    "partial chance with mentions disabled",
			pct:     0.3,
			channel: "c1",
			setup: func(t *testing.T, f *fixture) {
				if err := f.settings.SetGuildValue(context.Background(), guild, settings.KeyReplyToMentions, false); err != nil {
					t.Fatal(err)
				}
			},
			want: []response{{NoticeNotEnabled, true}},
		},
		{
			name:    "rate limited",
			pct:     1,
			channel: "c1",
			setup: func(t *testing.T, f *fixture) {
				f.rate.SetResetAt(t0.Add(time.Hour))
			},
			want: []response{{NoticeRateLimited, true}},
		},
		{
			name:    "generation failure gives exactly one notice",
			pct:     1,
			channel: "c1",
			setup: func(t *testing.T, f *fixture) {
				f.provider.err = errors.New("backend down")
			},
			want: []response{{NoticeFailure, true}},
		},
		{
			name:    "rate limited by the endpoint gives exactly one notice",
			pct:     1,
			channel: "c1",
			setup: func(t *testing.T, f *fixture) {
				f.provider.err = &providers.RateLimitError{Reset: "1m", Err: errors.New("429")}
			},
			want: []response{{NoticeFailure, true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.pct)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			got := runCommand(f, tt.channel, "tell me something")
			if len(got) != len(tt.want) {
				t.Fatalf("responses = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("response %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHandleChatCommand_TextIsLastEntry(t *testing.T) {
	f := newFixture(t, 1)
	f.message("1", "some context")

	runCommand(f, "c1", "what is the weather like")
	runCommand(f, "c1", "and tomorrow?")

	if f.provider.calls() != 2 {
		t.Fatalf("calls = %d", f.provider.calls())
	}
	last := f.provider.requests[1].Messages
	if got := last[len(last)-1].Content; got != `User "alice" said: and tomorrow?` {
		t.Errorf("last entry = %q; command text must never come from cache", got)
	}
}
