// Package chat holds the platform-neutral view of an inbound chat message.
// Platform adapters (see channels/discord) translate their SDK types into
// these structs so the decision and history pipelines never import an SDK.
package chat

import (
	"strings"
	"time"
)

// Author identifies who wrote a message.
type Author struct {
	ID          string
	Username    string
	DisplayName string   // nickname > global name > username
	Bot         bool     // any bot account, including ours
	RoleIDs     []string // guild roles, empty in DMs
}

// Name returns the best display name available.
func (a Author) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}

// Attachment is a file uploaded with a message.
type Attachment struct {
	ID          string
	Filename    string
	URL         string
	ContentType string
	Size        int
}

// Sticker is a platform-rendered sticker.
type Sticker struct {
	ID   string
	Name string
}

// EmbedField is one name/value row of a rich embed.
type EmbedField struct {
	Name  string
	Value string
}

// Embed is a rendered link-preview card.
type Embed struct {
	Type        string
	URL         string
	Title       string
	Description string
	Provider    string
	AuthorName  string
	Footer      string
	Fields      []EmbedField
}

// Reference points at the message this one replies to.
type Reference struct {
	MessageID string
	ChannelID string
	Author    *Author // nil when the platform did not resolve it
}

// Message is one inbound chat message.
type Message struct {
	ID              string
	ChannelID       string
	ParentChannelID string // thread parent, empty otherwise
	GuildID         string // empty in DMs
	GuildName       string
	ChannelName     string
	Author          Author
	Content         string
	CreatedAt       time.Time
	Attachments     []Attachment
	Stickers        []Sticker
	Embeds          []Embed
	Mentions        []Author
	Reference       *Reference
}

// IsDM reports whether the message was sent outside a guild.
func (m *Message) IsDM() bool { return m.GuildID == "" }

// HasMedia reports whether the message carries attachments or stickers,
// which count as content even when the text is empty.
func (m *Message) HasMedia() bool {
	return len(m.Attachments) > 0 || len(m.Stickers) > 0
}

// TrimmedContent returns the text with surrounding whitespace removed.
func (m *Message) TrimmedContent() string {
	return strings.TrimSpace(m.Content)
}

// MentionsUser reports whether userID is in the message's mention list.
func (m *Message) MentionsUser(userID string) bool {
	for _, u := range m.Mentions {
		if u.ID == userID {
			return true
		}
	}
	return false
}
