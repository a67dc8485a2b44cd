package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aibot/internal/bot"
)

const adminCommandName = "aibot"

// Admin option names.
const (
	optChannel = "channel"
	optRole    = "role"
	optUser    = "user"
	optText    = "text"
	optPercent = "percent"
	optEnabled = "enabled"
	optRemove  = "remove"
)

// AdminHandler runs an /aibot subcommand.
type AdminHandler func(ctx context.Context, cmd bot.AdminCommand)

func subcommand(name, description string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     opts,
	}
}

func option(typ discordgo.ApplicationCommandOptionType, name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: typ, Name: name, Description: description, Required: required}
}

func adminCommand() *discordgo.ApplicationCommand {
	remove := option(discordgo.ApplicationCommandOptionBoolean, optRemove, "Remove instead of add.", false)
	scopeOpts := func(extra *discordgo.ApplicationCommandOption) []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{
			extra,
			option(discordgo.ApplicationCommandOptionChannel, optChannel, "Only for this channel.", false),
			option(discordgo.ApplicationCommandOptionRole, optRole, "Only for this role.", false),
			option(discordgo.ApplicationCommandOptionUser, optUser, "Only for this member.", false),
		}
	}
	enabled := option(discordgo.ApplicationCommandOptionBoolean, optEnabled, "On or off.", true)

	return &discordgo.ApplicationCommand{
		Name:        adminCommandName,
		Description: "Manage how this bot replies in the server.",
		Options: []*discordgo.ApplicationCommandOption{
			subcommand(bot.AdminOptIn, "Let the bot read and reply to your messages."),
			subcommand(bot.AdminOptOut, "Stop the bot from using your messages."),
			subcommand(bot.AdminForgetMe, "Erase everything the bot holds about you."),
			subcommand(bot.AdminForget, "Make the bot forget the conversation so far."),
			subcommand(bot.AdminChannel, "Whitelist a channel.",
				option(discordgo.ApplicationCommandOptionChannel, optChannel, "The channel.", true), remove),
			subcommand(bot.AdminRole, "Whitelist a role.",
				option(discordgo.ApplicationCommandOptionRole, optRole, "The role.", true), remove),
			subcommand(bot.AdminMember, "Whitelist a member.",
				option(discordgo.ApplicationCommandOptionUser, optUser, "The member.", true), remove),
			subcommand(bot.AdminPercent, "Set the reply percentage. Leave empty to clear an override.",
				scopeOpts(option(discordgo.ApplicationCommandOptionNumber, optPercent, "0 to 100.", false))...),
			subcommand(bot.AdminPrompt, "Set the system prompt. Leave empty to clear it.",
				scopeOpts(option(discordgo.ApplicationCommandOptionString, optText, "The prompt.", false))...),
			subcommand(bot.AdminKeywords, "Set always-reply keywords, comma separated.",
				option(discordgo.ApplicationCommandOptionString, optText, "Keywords; empty clears.", false)),
			subcommand(bot.AdminIgnore, "Set the regex of messages to ignore.",
				option(discordgo.ApplicationCommandOptionString, optText, "Regex; empty clears.", false)),
			subcommand(bot.AdminOptinDefault, "Opt members in unless they opt out.", enabled),
			subcommand(bot.AdminMentions, "Always reply to mentions and replies.", enabled),
			subcommand(bot.AdminErase, "Erase a member's data.",
				option(discordgo.ApplicationCommandOptionUser, optUser, "The member.", true)),
		},
	}
}

// SetAdminHandler routes /aibot invocations to h.
func (c *Channel) SetAdminHandler(h AdminHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAdmin = h
}

func (c *Channel) handleAdmin(i *discordgo.Interaction) {
	cmd, ok := adminFromInteraction(i)
	if !ok {
		return
	}
	c.mu.RLock()
	h := c.onAdmin
	c.mu.RUnlock()
	if h == nil {
		c.respondNow(i, bot.NoticeSettingsFailed)
		return
	}

	answered := false
	cmd.Respond = func(_ context.Context, content string) error {
		if answered {
			return nil
		}
		answered = true
		c.respondNow(i, content)
		return nil
	}
	h(c.lifetime(), cmd)
	if !answered {
		slog.Warn("admin command left unanswered", "interaction_id", i.ID, "command", cmd.Name)
	}
}

// adminFromInteraction reads the subcommand, its options and the invoker's
// permissions. Reports false when the interaction has no subcommand.
func adminFromInteraction(i *discordgo.Interaction) (bot.AdminCommand, bool) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 || data.Options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return bot.AdminCommand{}, false
	}
	sub := data.Options[0]

	cmd := bot.AdminCommand{
		Name:      sub.Name,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	if user := interactionUser(i); user != nil {
		cmd.UserID = user.ID
	}
	if i.Member != nil {
		cmd.Manager = i.Member.Permissions&(discordgo.PermissionManageServer|discordgo.PermissionAdministrator) != 0
	}

	for _, opt := range sub.Options {
		switch opt.Name {
		case optChannel:
			cmd.Args.ChannelID = snowflake(opt)
		case optRole:
			cmd.Args.RoleID = snowflake(opt)
		case optUser:
			cmd.Args.UserID = snowflake(opt)
		case optText:
			if v, ok := opt.Value.(string); ok {
				cmd.Args.Text = v
			}
		case optPercent:
			if v, ok := opt.Value.(float64); ok {
				cmd.Args.Percent = &v
			}
		case optEnabled:
			if v, ok := opt.Value.(bool); ok {
				cmd.Args.Enabled = &v
			}
		case optRemove:
			if v, ok := opt.Value.(bool); ok {
				cmd.Args.Remove = v
			}
		}
	}
	return cmd, true
}

// snowflake returns the id carried by a channel, role or user option.
func snowflake(opt *discordgo.ApplicationCommandInteractionDataOption) string {
	id, _ := opt.Value.(string)
	return id
}
