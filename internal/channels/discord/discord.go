// Package discord adapts a discordgo gateway session to the bot: inbound
// messages go to the bus, outbound actions implement bot.Platform.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aibot/internal/bot"
	"github.com/nextlevelbuilder/aibot/internal/bus"
	"github.com/nextlevelbuilder/aibot/internal/channels"
	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/config"
)

const channelName = "discord"

// CommandHandler runs a /chat invocation.
type CommandHandler func(ctx context.Context, cmd bot.ChatCommand)

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session  *discordgo.Session
	config   config.DiscordConfig
	cooldown *channels.Cooldown

	mu       sync.RWMutex
	self     chat.Author
	ctx      context.Context // lifetime of the gateway connection
	commands []*discordgo.ApplicationCommand
	onChat   CommandHandler
	onAdmin  AdminHandler
}

var _ bot.Platform = (*Channel)(nil)

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	session.StateEnabled = true

	return &Channel{
		BaseChannel: channels.NewBaseChannel(channelName, router),
		session:     session,
		config:      cfg,
		cooldown: channels.NewCooldown(
			time.Duration(cfg.ChatCooldown)*time.Second,
			time.Duration(cfg.ChatGlobalEvery)*time.Second,
		),
		ctx: context.Background(),
	}, nil
}

// SetCommandHandler routes /chat invocations to h. Invocations that arrive
// before a handler is set are answered with the failure notice.
func (c *Channel) SetCommandHandler(h CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChat = h
}

// Start opens the Discord gateway connection and registers /chat.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting discord bot")

	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	c.session.AddHandler(c.handleMessageCreate)
	c.session.AddHandler(c.handleMessageUpdate)
	c.session.AddHandler(c.handleMessageDelete)
	c.session.AddHandler(c.handleInteraction)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.mu.Lock()
	c.self = chat.Author{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: displayName(user, nil),
		Bot:         true,
	}
	c.mu.Unlock()

	if err := c.registerCommands(user.ID); err != nil {
		c.session.Close()
		return err
	}

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop removes registered commands and closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	c.unregisterCommands()
	return c.session.Close()
}

// Self returns the bot account. Valid after Start.
func (c *Channel) Self() chat.Author {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

func (c *Channel) lifetime() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *Channel) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.Self().ID {
		return
	}
	msg := c.convert(m.Message)
	slog.Debug("discord message received",
		"message_id", msg.ID,
		"channel_id", msg.ChannelID,
		"user_id", msg.Author.ID,
		"preview", channels.Truncate(msg.Content, 50),
	)
	c.PublishMessage(bus.MessageCreated, msg)
}

// Edits invalidate the cached conversion; an embed arriving late also
// shows up as an update.
func (c *Channel) handleMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Message == nil || m.ID == "" {
		return
	}
	if m.Author == nil {
		c.PublishDelete(m.ChannelID, m.ID)
		return
	}
	c.PublishMessage(bus.MessageUpdated, c.convert(m.Message))
}

func (c *Channel) handleMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.Message == nil || m.ID == "" {
		return
	}
	c.PublishDelete(m.ChannelID, m.ID)
}
