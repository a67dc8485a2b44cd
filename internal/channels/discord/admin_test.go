package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aibot/internal/bot"
)

func adminInteraction(perms int64, sub string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member: &discordgo.Member{
			User:        &discordgo.User{ID: "u1", Username: "alice"},
			Permissions: perms,
		},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: adminCommandName,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name:    sub,
				Type:    discordgo.ApplicationCommandOptionSubCommand,
				Options: opts,
			}},
		},
	}
}

func TestAdminFromInteraction(t *testing.T) {
	cmd, ok := adminFromInteraction(adminInteraction(discordgo.PermissionManageServer, bot.AdminPercent,
		&discordgo.ApplicationCommandInteractionDataOption{Name: optPercent, Type: discordgo.ApplicationCommandOptionNumber, Value: 40.0},
		&discordgo.ApplicationCommandInteractionDataOption{Name: optRole, Type: discordgo.ApplicationCommandOptionRole, Value: "r1"},
	))
	if !ok {
		t.Fatal("subcommand not recognised")
	}
	if cmd.Name != bot.AdminPercent || cmd.GuildID != "g1" || cmd.UserID != "u1" || !cmd.Manager {
		t.Errorf("cmd = %+v", cmd)
	}
	if cmd.Args.Percent == nil || *cmd.Args.Percent != 40 || cmd.Args.RoleID != "r1" {
		t.Errorf("args = %+v", cmd.Args)
	}
}

func TestAdminFromInteraction_Options(t *testing.T) {
	tests := []struct {
		name  string
		perms int64
		sub   string
		opts  []*discordgo.ApplicationCommandInteractionDataOption
		check func(t *testing.T, cmd bot.AdminCommand)
	}{
		{
			name: "member without permissions",
			sub:  bot.AdminOptOut,
			check: func(t *testing.T, cmd bot.AdminCommand) {
				if cmd.Manager {
					t.Error("plain member treated as manager")
				}
			},
		},
		{
			name:  "administrator counts as manager",
			perms: discordgo.PermissionAdministrator,
			sub:   bot.AdminForget,
			check: func(t *testing.T, cmd bot.AdminCommand) {
				if !cmd.Manager {
					t.Error("administrator not treated as manager")
				}
			},
		},
		{
			name:  "channel removal",
			perms: discordgo.PermissionManageServer,
			sub:   bot.AdminChannel,
			opts: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: optChannel, Type: discordgo.ApplicationCommandOptionChannel, Value: "c7"},
				{Name: optRemove, Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
			},
			check: func(t *testing.T, cmd bot.AdminCommand) {
				if cmd.Args.ChannelID != "c7" || !cmd.Args.Remove {
					t.Errorf("args = %+v", cmd.Args)
				}
			},
		},
		{
			name:  "toggle and text",
			perms: discordgo.PermissionManageServer,
			sub:   bot.AdminMentions,
			opts: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: optEnabled, Type: discordgo.ApplicationCommandOptionBoolean, Value: false},
				{Name: optText, Type: discordgo.ApplicationCommandOptionString, Value: "ignored"},
			},
			check: func(t *testing.T, cmd bot.AdminCommand) {
				if cmd.Args.Enabled == nil || *cmd.Args.Enabled {
					t.Errorf("enabled = %v", cmd.Args.Enabled)
				}
				if cmd.Args.Text != "ignored" {
					t.Errorf("text = %q", cmd.Args.Text)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := adminFromInteraction(adminInteraction(tt.perms, tt.sub, tt.opts...))
			if !ok {
				t.Fatal("subcommand not recognised")
			}
			tt.check(t, cmd)
		})
	}
}

func TestAdminFromInteraction_NoSubcommand(t *testing.T) {
	i := &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{Name: adminCommandName},
	}
	if _, ok := adminFromInteraction(i); ok {
		t.Error("interaction without subcommand accepted")
	}
}

func TestAdminCommand_SubcommandsMatchBot(t *testing.T) {
	want := map[string]bool{
		bot.AdminOptIn: true, bot.AdminOptOut: true, bot.AdminForgetMe: true, bot.AdminForget: true,
		bot.AdminChannel: true, bot.AdminRole: true, bot.AdminMember: true, bot.AdminPercent: true,
		bot.AdminPrompt: true, bot.AdminKeywords: true, bot.AdminIgnore: true,
		bot.AdminOptinDefault: true, bot.AdminMentions: true, bot.AdminErase: true,
	}
	def := adminCommand()
	if len(def.Options) != len(want) {
		t.Errorf("%d subcommands registered, want %d", len(def.Options), len(want))
	}
	for _, opt := range def.Options {
		if !want[opt.Name] {
			t.Errorf("unexpected subcommand %q", opt.Name)
		}
		if opt.Type != discordgo.ApplicationCommandOptionSubCommand {
			t.Errorf("%s: type = %v", opt.Name, opt.Type)
		}
	}
}
