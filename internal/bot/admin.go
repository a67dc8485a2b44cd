package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/aibot/internal/settings"
	"github.com/nextlevelbuilder/aibot/internal/store"
)

// Admin subcommands. The first group is open to every member; the rest
// need the manage-server permission.
const (
	AdminOptIn    = "optin"
	AdminOptOut   = "optout"
	AdminForgetMe = "forgetme"
	AdminForget   = "forget"

	AdminChannel      = "channel"
	AdminRole         = "role"
	AdminMember       = "member"
	AdminPercent      = "percent"
	AdminKeywords     = "keywords"
	AdminIgnore       = "ignore"
	AdminPrompt       = "prompt"
	AdminOptinDefault = "optindefault"
	AdminMentions     = "mentions"
	AdminErase        = "erase"
)

// Admin command notices.
const (
	NoticeGuildOnly      = "This command only works in a server."
	NoticeManagerOnly    = "You need the Manage Server permission to do that."
	NoticeSettingsFailed = ":warning: Could not update the settings. Try again later."
)

// AdminArgs are the options of an admin subcommand. Unused ones are zero.
type AdminArgs struct {
	ChannelID string
	RoleID    string
	UserID    string
	Text      string
	Percent   *float64
	Enabled   *bool
	Remove    bool
}

// AdminCommand is one invocation of an admin subcommand.
type AdminCommand struct {
	Name      string
	GuildID   string
	ChannelID string
	UserID    string // invoking user
	Manager   bool   // invoker may manage the server
	Args      AdminArgs
	// Respond answers the invoking user only.
	Respond func(ctx context.Context, content string) error
}

// HandleAdminCommand applies a settings or data command inside the running
// bot, so snapshots and the message cache see the change immediately.
func (b *Bot) HandleAdminCommand(ctx context.Context, cmd AdminCommand) {
	defer recoverPipeline(nil)
	if cmd.Respond == nil {
		return
	}
	reply, err := b.runAdmin(ctx, cmd)
	if err != nil {
		slog.Warn("admin command failed", "command", cmd.Name, "guild_id", cmd.GuildID, "user_id", cmd.UserID, "error", err)
		reply = NoticeSettingsFailed
	} else {
		slog.Info("admin command", "command", cmd.Name, "guild_id", cmd.GuildID, "user_id", cmd.UserID)
	}
	if err := cmd.Respond(ctx, reply); err != nil {
		slog.Warn("send admin response", "command", cmd.Name, "error", err)
	}
}

func (b *Bot) runAdmin(ctx context.Context, cmd AdminCommand) (string, error) {
	if cmd.GuildID == "" {
		return NoticeGuildOnly, nil
	}
	args := cmd.Args

	switch cmd.Name {
	case AdminOptIn:
		changed, err := b.settings.OptIn(ctx, cmd.UserID)
		if err != nil {
			return "", err
		}
		if !changed {
			return "You are already opted in.", nil
		}
		return "You are now opted in. Your messages may be used as context.", nil

	case AdminOptOut:
		changed, err := b.settings.OptOut(ctx, cmd.UserID)
		if err != nil {
			return "", err
		}
		if !changed {
			return "You are already opted out.", nil
		}
		return "You are now opted out. Your messages will not be used.", nil

	case AdminForgetMe:
		if err := b.DeleteUserData(ctx, cmd.UserID); err != nil {
			return "", err
		}
		return "Your data has been erased.", nil

	case AdminForget:
		g, err := b.settings.Guild(ctx, cmd.GuildID)
		if err != nil {
			return "", err
		}
		if !g.PublicForget && !cmd.Manager {
			return NoticeManagerOnly, nil
		}
		b.Forget(cmd.GuildID, b.now())
		return "Forgot everything said before now.", nil
	}

	if !cmd.Manager {
		return NoticeManagerOnly, nil
	}

	switch cmd.Name {
	case AdminChannel:
		return b.updateWhitelist(ctx, "Channel", args.ChannelID, args.Remove,
			b.settings.AddChannel, b.settings.RemoveChannel, cmd.GuildID)
	case AdminRole:
		return b.updateWhitelist(ctx, "Role", args.RoleID, args.Remove,
			b.settings.AddWhitelistedRole, b.settings.RemoveWhitelistedRole, cmd.GuildID)
	case AdminMember:
		return b.updateWhitelist(ctx, "Member", args.UserID, args.Remove,
			b.settings.AddWhitelistedMember, b.settings.RemoveWhitelistedMember, cmd.GuildID)

	case AdminPercent:
		sc := adminScope(cmd.GuildID, args)
		if args.Percent == nil && sc.Kind == store.KindGuild {
			return "Give a value between 0 and 100 for the server.", nil
		}
		var pct *float64
		if args.Percent != nil {
			if *args.Percent < 0 || *args.Percent > 100 {
				return "The percentage must be between 0 and 100.", nil
			}
			v := *args.Percent / 100
			pct = &v
		}
		if err := b.settings.SetReplyPercent(ctx, sc, pct); err != nil {
			return "", err
		}
		if pct == nil {
			return fmt.Sprintf("Reply percentage for %s cleared.", sc.Kind), nil
		}
		return fmt.Sprintf("Reply percentage for %s set to %.0f%%.", sc.Kind, *args.Percent), nil

	case AdminKeywords:
		words := splitWords(args.Text)
		if err := b.settings.SetKeywords(ctx, cmd.GuildID, words); err != nil {
			return "", err
		}
		if len(words) == 0 {
			return "Always-reply keywords cleared.", nil
		}
		return "Always-reply keywords set to: " + strings.Join(words, ", "), nil

	case AdminIgnore:
		if _, err := regexp.Compile(args.Text); err != nil {
			return fmt.Sprintf("Invalid regex: %v", err), nil
		}
		if err := b.settings.SetIgnoreRegex(ctx, cmd.GuildID, args.Text); err != nil {
			return "", err
		}
		if args.Text == "" {
			return "Ignore regex cleared.", nil
		}
		return "Ignore regex set.", nil

	case AdminPrompt:
		sc := adminScope(cmd.GuildID, args)
		text := strings.TrimSpace(args.Text)
		if err := b.settings.SetPrompt(ctx, sc, &text); err != nil {
			return "", err
		}
		if text == "" {
			return fmt.Sprintf("Prompt for %s cleared.", sc.Kind), nil
		}
		return fmt.Sprintf("Prompt for %s set.", sc.Kind), nil

	case AdminOptinDefault:
		if args.Enabled == nil {
			return "Say whether members are opted in by default.", nil
		}
		if err := b.settings.SetOptinByDefault(ctx, cmd.GuildID, *args.Enabled); err != nil {
			return "", err
		}
		return fmt.Sprintf("Opt-in by default is now %s.", onOff(*args.Enabled)), nil

	case AdminMentions:
		if args.Enabled == nil {
			return "Say whether mentions and replies always get an answer.", nil
		}
		if err := b.settings.SetGuildValue(ctx, cmd.GuildID, settings.KeyReplyToMentions, *args.Enabled); err != nil {
			return "", err
		}
		return fmt.Sprintf("Always replying to mentions and replies is now %s.", onOff(*args.Enabled)), nil

	case AdminErase:
		if args.UserID == "" {
			return "Pick the member whose data should be erased.", nil
		}
		if err := b.DeleteUserData(ctx, args.UserID); err != nil {
			return "", err
		}
		return "That member's data has been erased.", nil
	}
	return "Unknown command.", nil
}

type listUpdate func(ctx context.Context, guildID, id string) (bool, error)

func (b *Bot) updateWhitelist(ctx context.Context, what, id string, remove bool, add, del listUpdate, guildID string) (string, error) {
	if id == "" {
		return fmt.Sprintf("%s is required.", what), nil
	}
	if remove {
		changed, err := del(ctx, guildID, id)
		if err != nil {
			return "", err
		}
		if !changed {
			return fmt.Sprintf("%s was not whitelisted.", what), nil
		}
		return fmt.Sprintf("%s removed from the whitelist.", what), nil
	}
	changed, err := add(ctx, guildID, id)
	if err != nil {
		return "", err
	}
	if !changed {
		return fmt.Sprintf("%s is already whitelisted.", what), nil
	}
	return fmt.Sprintf("%s added to the whitelist.", what), nil
}

// adminScope picks the most specific scope named by the options: member,
// then role, then channel, else the whole server.
func adminScope(guildID string, args AdminArgs) store.Scope {
	switch {
	case args.UserID != "":
		return store.Member(guildID, args.UserID)
	case args.RoleID != "":
		return store.Role(guildID, args.RoleID)
	case args.ChannelID != "":
		return store.Channel(guildID, args.ChannelID)
	default:
		return store.Guild(guildID)
	}
}

func splitWords(s string) []string {
	var out []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
