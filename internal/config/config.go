package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/aibot/internal/settings"
	"github.com/nextlevelbuilder/aibot/internal/store"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON. Discord ids
// are often pasted as bare numbers.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the bot process.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Provider  ProviderConfig  `json:"provider"`
	Bot       BotConfig       `json:"bot"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token           string              `json:"token"`
	CommandGuildIDs FlexibleStringSlice `json:"command_guild_ids,omitempty"`            // register /chat per guild; empty = global
	ChatCooldown    int                 `json:"chat_cooldown_seconds,omitempty"`        // per user, default 30
	ChatGlobalEvery int                 `json:"chat_global_interval_seconds,omitempty"` // default 5
}

// ProviderConfig configures the OpenAI-compatible completion endpoint.
// The API key is normally supplied through AIBOT_OPENAI_API_KEY.
type ProviderConfig struct {
	Name    string `json:"name,omitempty"` // log/trace label, default "openai"
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model"`
}

// BotConfig holds the process-wide defaults. Stored per-scope settings
// override everything here except the worker and cache sizes.
type BotConfig struct {
	Workers                int      `json:"workers,omitempty"`
	QueueSize              int      `json:"queue_size,omitempty"`
	CacheSize              int      `json:"cache_size,omitempty"`
	ReplyPercent           float64  `json:"reply_percent"`
	MessagesBackread       int      `json:"messages_backread,omitempty"`
	BackreadSeconds        int      `json:"messages_backread_seconds,omitempty"`
	MinLength              int      `json:"messages_min_length,omitempty"`
	ReplyToMentionsReplies *bool    `json:"reply_to_mentions_replies,omitempty"`
	OptinByDefault         bool     `json:"optin_by_default,omitempty"`
	Prompt                 string   `json:"prompt,omitempty"`
	RemovePatterns         []string `json:"removelist_regexes,omitempty"`
	TokensLimit            int      `json:"tokens_limit,omitempty"`
	RequestTimeout         int      `json:"request_timeout_seconds,omitempty"`
	RandomSchedule         string   `json:"random_messages_schedule,omitempty"` // cron expression
	RandomMessagesPercent  float64  `json:"random_messages_percent,omitempty"`
	RandomMessagesIdle     int      `json:"random_messages_idle_seconds,omitempty"`
	RandomMessagesTopics   []string `json:"random_messages_topics,omitempty"`
	MaxPromptLength        int      `json:"max_prompt_length,omitempty"`
	SettingsRefresh        int      `json:"settings_refresh_seconds,omitempty"` // snapshot lifetime; 0 keeps them until a local write
}

// DatabaseConfig selects the settings backend.
// PostgresDSN is NEVER read from the config file, only from AIBOT_POSTGRES_DSN.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "file" (default), "sqlite" or "postgres"
	Path        string `json:"path,omitempty"` // file or sqlite database path
	PostgresDSN string `json:"-"`
}

// TelemetryConfig configures OpenTelemetry export for traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection, for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "aibot"
	Headers     map[string]string `json:"headers,omitempty"`
}

// SettingsDefaults converts the bot section into settings defaults, filling
// gaps from the stock values.
func (c *Config) SettingsDefaults() settings.Defaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := settings.StockDefaults()
	b := c.Bot
	d.ReplyPercent = b.ReplyPercent
	if b.MessagesBackread > 0 {
		d.MessagesBackread = b.MessagesBackread
	}
	if b.BackreadSeconds > 0 {
		d.BackreadSeconds = b.BackreadSeconds
	}
	if b.MinLength > 0 {
		d.MinLength = b.MinLength
	}
	if b.ReplyToMentionsReplies != nil {
		d.ReplyToMentionsReplies = *b.ReplyToMentionsReplies
	}
	d.OptinByDefault = b.OptinByDefault
	if b.Prompt != "" {
		d.Prompt = b.Prompt
	}
	if len(b.RemovePatterns) > 0 {
		d.RemovePatterns = append([]string(nil), b.RemovePatterns...)
	}
	if b.TokensLimit > 0 {
		d.TokensLimit = b.TokensLimit
	}
	if b.RequestTimeout > 0 {
		d.RequestTimeout = time.Duration(b.RequestTimeout) * time.Second
	}
	if b.RandomMessagesPercent > 0 {
		d.RandomMessagesPercent = b.RandomMessagesPercent
	}
	if b.RandomMessagesIdle > 0 {
		d.RandomMessagesIdle = time.Duration(b.RandomMessagesIdle) * time.Second
	}
	if len(b.RandomMessagesTopics) > 0 {
		d.RandomMessagesTopics = append([]string(nil), b.RandomMessagesTopics...)
	}
	if b.MaxPromptLength > 0 {
		d.MaxPromptLength = b.MaxPromptLength
	}
	d.Model = c.Provider.Model
	return d
}

// StoreConfig returns the settings backend selection.
func (c *Config) StoreConfig() store.StoreConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return store.StoreConfig{
		Mode:        c.Database.Mode,
		Path:        ExpandHome(c.Database.Path),
		PostgresDSN: c.Database.PostgresDSN,
	}
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	src.mu.RLock()
	defer src.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Discord = src.Discord
	c.Provider = src.Provider
	c.Bot = src.Bot
	c.Database = src.Database
	c.Telemetry = src.Telemetry
}
