package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aibot/internal/chat"
)

func (c *Channel) convert(m *discordgo.Message) *chat.Message {
	return toChatMessage(c.session.State, m)
}

// toChatMessage translates a discordgo message. state fills what gateway
// and REST payloads leave out: the guild id of fetched messages, member
// nicknames and roles, thread parents and names. state may be nil.
func toChatMessage(state *discordgo.State, m *discordgo.Message) *chat.Message {
	msg := &chat.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}

	if ch := lookupChannel(state, m.ChannelID); ch != nil {
		if msg.GuildID == "" {
			msg.GuildID = ch.GuildID
		}
		msg.ChannelName = ch.Name
		if ch.IsThread() {
			msg.ParentChannelID = ch.ParentID
		}
	}
	if msg.GuildID != "" && state != nil {
		if g, err := state.Guild(msg.GuildID); err == nil {
			msg.GuildName = g.Name
		}
	}

	if m.Author != nil {
		member := m.Member
		if member == nil {
			member = lookupMember(state, msg.GuildID, m.Author.ID)
		}
		msg.Author = toAuthor(m.Author, member)
	}

	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, chat.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	for _, s := range m.StickerItems {
		msg.Stickers = append(msg.Stickers, chat.Sticker{ID: s.ID, Name: s.Name})
	}
	for _, e := range m.Embeds {
		msg.Embeds = append(msg.Embeds, toEmbed(e))
	}
	for _, u := range m.Mentions {
		msg.Mentions = append(msg.Mentions, toAuthor(u, lookupMember(state, msg.GuildID, u.ID)))
	}

	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		msg.Reference = &chat.Reference{MessageID: ref.MessageID, ChannelID: ref.ChannelID}
		if msg.Reference.ChannelID == "" {
			msg.Reference.ChannelID = m.ChannelID
		}
		if rm := m.ReferencedMessage; rm != nil && rm.Author != nil {
			a := toAuthor(rm.Author, lookupMember(state, msg.GuildID, rm.Author.ID))
			msg.Reference.Author = &a
		}
	}
	return msg
}

func toAuthor(u *discordgo.User, member *discordgo.Member) chat.Author {
	a := chat.Author{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: displayName(u, member),
		Bot:         u.Bot,
	}
	if member != nil && len(member.Roles) > 0 {
		a.RoleIDs = append([]string(nil), member.Roles...)
	}
	return a
}

// displayName returns the best available display name.
// Priority: server nickname > global display name > username.
func displayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func toEmbed(e *discordgo.MessageEmbed) chat.Embed {
	out := chat.Embed{
		Type:        string(e.Type),
		URL:         e.URL,
		Title:       e.Title,
		Description: e.Description,
	}
	if e.Provider != nil {
		out.Provider = e.Provider.Name
	}
	if e.Author != nil {
		out.AuthorName = e.Author.Name
	}
	if e.Footer != nil {
		out.Footer = e.Footer.Text
	}
	for _, f := range e.Fields {
		if f == nil {
			continue
		}
		out.Fields = append(out.Fields, chat.EmbedField{Name: f.Name, Value: f.Value})
	}
	return out
}

func lookupChannel(state *discordgo.State, id string) *discordgo.Channel {
	if state == nil || id == "" {
		return nil
	}
	ch, err := state.Channel(id)
	if err != nil {
		return nil
	}
	return ch
}

func lookupMember(state *discordgo.State, guildID, userID string) *discordgo.Member {
	if state == nil || guildID == "" {
		return nil
	}
	m, err := state.Member(guildID, userID)
	if err != nil {
		return nil
	}
	return m
}
