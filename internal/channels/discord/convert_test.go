package discord

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func testState(t *testing.T) *discordgo.State {
	t.Helper()
	s := discordgo.NewState()
	if err := s.GuildAdd(&discordgo.Guild{ID: "g1", Name: "Cats"}); err != nil {
		t.Fatal(err)
	}
	channels := []*discordgo.Channel{
		{ID: "c1", GuildID: "g1", Name: "general", Type: discordgo.ChannelTypeGuildText},
		{ID: "t1", GuildID: "g1", Name: "a thread", Type: discordgo.ChannelTypeGuildPublicThread, ParentID: "c1"},
	}
	for _, ch := range channels {
		if err := s.ChannelAdd(ch); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MemberAdd(&discordgo.Member{
		GuildID: "g1",
		User:    &discordgo.User{ID: "u2", Username: "bob"},
		Nick:    "Bobby",
		Roles:   []string{"r9"},
	}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestToChatMessage(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "t1",
		Content:   "look <@u2>",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "u1", Username: "alice", GlobalName: "Alice A"},
		Member:    &discordgo.Member{Nick: "Ally", Roles: []string{"r1", "r2"}},
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", Filename: "cat.png", URL: "https://cdn/cat.png", ContentType: "image/png", Size: 42},
		},
		StickerItems: []*discordgo.StickerItem{{ID: "s1", Name: "wave"}},
		Embeds: []*discordgo.MessageEmbed{{
			Type:     discordgo.EmbedTypeVideo,
			URL:      "https://youtu.be/x",
			Title:    "Cat video",
			Provider: &discordgo.MessageEmbedProvider{Name: "YouTube"},
			Author:   &discordgo.MessageEmbedAuthor{Name: "Cat Channel"},
			Footer:   &discordgo.MessageEmbedFooter{Text: "footer"},
			Fields:   []*discordgo.MessageEmbedField{{Name: "Views", Value: "9"}},
		}},
		Mentions:         []*discordgo.User{{ID: "u2", Username: "bob"}},
		MessageReference: &discordgo.MessageReference{MessageID: "m0"},
		ReferencedMessage: &discordgo.Message{
			ID:     "m0",
			Author: &discordgo.User{ID: "u2", Username: "bob"},
		},
	}

	got := toChatMessage(testState(t), m)

	if got.GuildID != "g1" || got.GuildName != "Cats" {
		t.Errorf("guild = %q %q", got.GuildID, got.GuildName)
	}
	if got.ParentChannelID != "c1" || got.ChannelName != "a thread" {
		t.Errorf("thread = %q %q", got.ParentChannelID, got.ChannelName)
	}
	if got.Author.DisplayName != "Ally" || strings.Join(got.Author.RoleIDs, ",") != "r1,r2" {
		t.Errorf("author = %+v", got.Author)
	}
	if !got.CreatedAt.Equal(ts) {
		t.Errorf("created = %v", got.CreatedAt)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].ContentType != "image/png" || got.Attachments[0].Size != 42 {
		t.Errorf("attachments = %+v", got.Attachments)
	}
	if len(got.Stickers) != 1 || got.Stickers[0].Name != "wave" {
		t.Errorf("stickers = %+v", got.Stickers)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %+v", got.Embeds)
	}
	e := got.Embeds[0]
	if e.Type != "video" || e.Provider != "YouTube" || e.AuthorName != "Cat Channel" || e.Footer != "footer" || len(e.Fields) != 1 {
		t.Errorf("embed = %+v", e)
	}
	if len(got.Mentions) != 1 || got.Mentions[0].DisplayName != "Bobby" {
		t.Errorf("mentions = %+v", got.Mentions)
	}
	ref := got.Reference
	if ref == nil || ref.MessageID != "m0" || ref.ChannelID != "t1" || ref.Author == nil || ref.Author.ID != "u2" {
		t.Errorf("reference = %+v", ref)
	}
}

func TestToChatMessage_WithoutState(t *testing.T) {
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "dm",
		Content:   "hi",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	}
	got := toChatMessage(nil, m)
	if !got.IsDM() || got.Author.Name() != "alice" || got.Reference != nil {
		t.Errorf("message = %+v", got)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name   string
		user   *discordgo.User
		member *discordgo.Member
		want   string
	}{
		{"nickname wins", &discordgo.User{Username: "u", GlobalName: "G"}, &discordgo.Member{Nick: "N"}, "N"},
		{"global name", &discordgo.User{Username: "u", GlobalName: "G"}, &discordgo.Member{}, "G"},
		{"username", &discordgo.User{Username: "u"}, nil, "u"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := displayName(tt.user, tt.member); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1000)
	tests := []struct {
		name    string
		content string
		max     int
		want    []int // chunk lengths
	}{
		{"short", "hello", 2000, []int{5}},
		{"empty", "", 2000, nil},
		{"newline break", long, 2000, []int{1501, 1000}},
		{"hard cut", strings.Repeat("x", 4500), 2000, []int{2000, 2000, 500}},
		{"utf8 boundary", strings.Repeat("é", 3), 5, []int{4, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitMessage(tt.content, tt.max)
			if len(got) != len(tt.want) {
				t.Fatalf("chunks = %d, want %d", len(got), len(tt.want))
			}
			for i, c := range got {
				if len(c) != tt.want[i] {
					t.Errorf("chunk %d len = %d, want %d", i, len(c), tt.want[i])
				}
			}
			if strings.Join(got, "") != tt.content {
				t.Error("chunks do not reassemble the input")
			}
		})
	}
}

func TestCooldownNotice(t *testing.T) {
	if got := cooldownNotice(2300 * time.Millisecond); got != "You're on cooldown. Try again in 3s." {
		t.Errorf("got %q", got)
	}
}

func TestOptionText(t *testing.T) {
	data := discordgo.ApplicationCommandInteractionData{
		Name: chatCommandName,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: chatTextOption, Type: discordgo.ApplicationCommandOptionString, Value: "hello there"},
		},
	}
	if got := optionText(data); got != "hello there" {
		t.Errorf("got %q", got)
	}
}
