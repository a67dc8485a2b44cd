package discord

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aibot/internal/bot"
	"github.com/nextlevelbuilder/aibot/internal/chat"
)

const (
	chatCommandName = "chat"
	chatTextOption  = "text"
	maxCommandText  = 2000
)

func chatCommand() *discordgo.ApplicationCommand {
	minLen := 1
	return &discordgo.ApplicationCommand{
		Name:        chatCommandName,
		Description: "Talk directly to this bot's AI. Ask it anything you want!",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        chatTextOption,
			Description: "The prompt you want to send to the AI.",
			Required:    true,
			MinLength:   &minLen,
			MaxLength:   maxCommandText,
		}},
	}
}

// registerCommands creates /chat and /aibot in each configured guild, or
// globally when none are configured.
func (c *Channel) registerCommands(appID string) error {
	guilds := []string(c.config.CommandGuildIDs)
	if len(guilds) == 0 {
		guilds = []string{""}
	}
	var created []*discordgo.ApplicationCommand
	for _, guildID := range guilds {
		for _, def := range []*discordgo.ApplicationCommand{chatCommand(), adminCommand()} {
			cmd, err := c.session.ApplicationCommandCreate(appID, guildID, def)
			if err != nil {
				return fmt.Errorf("register discord command %s in guild %q: %w", def.Name, guildID, err)
			}
			created = append(created, cmd)
			slog.Info("discord command registered", "command", cmd.Name, "guild_id", guildID)
		}
	}
	c.mu.Lock()
	c.commands = created
	c.mu.Unlock()
	return nil
}

// unregisterCommands removes guild-scoped commands. Global commands are
// kept since they take up to an hour to propagate again.
func (c *Channel) unregisterCommands() {
	c.mu.Lock()
	cmds := c.commands
	c.commands = nil
	c.mu.Unlock()
	for _, cmd := range cmds {
		if cmd.GuildID == "" {
			continue
		}
		if err := c.session.ApplicationCommandDelete(cmd.ApplicationID, cmd.GuildID, cmd.ID); err != nil {
			slog.Debug("discord command delete failed", "command", cmd.Name, "guild_id", cmd.GuildID, "error", err)
		}
	}
}

func (c *Channel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	switch data.Name {
	case chatCommandName:
	case adminCommandName:
		c.handleAdmin(i.Interaction)
		return
	default:
		return
	}

	user := interactionUser(i.Interaction)
	if user == nil {
		return
	}
	if ok, retry := c.cooldown.Allow(user.ID); !ok {
		c.respondNow(i.Interaction, cooldownNotice(retry))
		return
	}

	ctx := c.lifetime()
	// Acknowledge within Discord's three second window; the answer follows.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}, discordgo.WithContext(ctx))
	if err != nil {
		slog.Warn("discord interaction defer failed", "interaction_id", i.ID, "error", err)
		return
	}

	cmd := bot.ChatCommand{
		Message: c.commandMessage(i.Interaction, user, optionText(data)),
		Respond: func(ctx context.Context, content string, ephemeral bool) error {
			return c.followup(ctx, i.Interaction, content, ephemeral)
		},
	}

	c.mu.RLock()
	h := c.onChat
	c.mu.RUnlock()
	if h == nil {
		if err := cmd.Respond(ctx, bot.NoticeFailure, true); err != nil {
			slog.Warn("discord followup failed", "interaction_id", i.ID, "error", err)
		}
		return
	}
	h(ctx, cmd)
}

// commandMessage builds the message the pipeline sees for a /chat
// invocation: the invoking member in the invoking channel, the option text
// as content and no message id.
func (c *Channel) commandMessage(i *discordgo.Interaction, user *discordgo.User, text string) *chat.Message {
	base := &discordgo.Message{
		ChannelID: i.ChannelID,
		GuildID:   i.GuildID,
		Author:    user,
		Member:    i.Member,
		Content:   text,
		Timestamp: time.Now(),
	}
	return c.convert(base)
}

func (c *Channel) followup(ctx context.Context, i *discordgo.Interaction, content string, ephemeral bool) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	for _, chunk := range splitMessage(content, maxMessageLen) {
		_, err := c.session.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
			Content: chunk,
			Flags:   flags,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("send discord followup: %w", err)
		}
	}
	return nil
}

func (c *Channel) respondNow(i *discordgo.Interaction, content string) {
	err := c.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("discord interaction response failed", "interaction_id", i.ID, "error", err)
	}
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func optionText(data discordgo.ApplicationCommandInteractionData) string {
	for _, opt := range data.Options {
		if opt.Name == chatTextOption && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

func cooldownNotice(retry time.Duration) string {
	return fmt.Sprintf("You're on cooldown. Try again in %.0fs.", math.Ceil(retry.Seconds()))
}
