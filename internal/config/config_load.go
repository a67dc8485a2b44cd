package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{
			ChatCooldown:    30,
			ChatGlobalEvery: 5,
		},
		Provider: ProviderConfig{
			Name:  "openai",
			Model: "gpt-4o-mini",
		},
		Bot: BotConfig{
			Workers:          4,
			QueueSize:        256,
			CacheSize:        1000,
			ReplyPercent:     0.5,
			MessagesBackread: 10,
			BackreadSeconds:  60 * 120,
			MinLength:        2,
			RequestTimeout:   60,
			RandomSchedule:   "*/10 * * * *",
			SettingsRefresh:  30,
		},
		Database: DatabaseConfig{
			Mode: "file",
			Path: "~/.aibot/settings.json",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "aibot",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p := c.Bot.ReplyPercent; p < 0 || p > 1 {
		return fmt.Errorf("bot.reply_percent must be within [0, 1], got %v", p)
	}
	if p := c.Bot.RandomMessagesPercent; p < 0 || p > 1 {
		return fmt.Errorf("bot.random_messages_percent must be within [0, 1], got %v", p)
	}
	switch c.Database.Mode {
	case "", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.mode %q is not one of file, sqlite, postgres", c.Database.Mode)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol %q is not one of grpc, http", c.Telemetry.Protocol)
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("AIBOT_DISCORD_TOKEN", &c.Discord.Token)
	if v := os.Getenv("AIBOT_COMMAND_GUILD_IDS"); v != "" {
		c.Discord.CommandGuildIDs = strings.Split(v, ",")
	}

	envStr("AIBOT_OPENAI_API_KEY", &c.Provider.APIKey)
	envStr("AIBOT_OPENAI_API_BASE", &c.Provider.APIBase)
	envStr("AIBOT_MODEL", &c.Provider.Model)

	envInt("AIBOT_WORKERS", &c.Bot.Workers)
	envInt("AIBOT_CACHE_SIZE", &c.Bot.CacheSize)
	envStr("AIBOT_RANDOM_SCHEDULE", &c.Bot.RandomSchedule)
	envInt("AIBOT_SETTINGS_REFRESH_SECONDS", &c.Bot.SettingsRefresh)

	// Database
	envStr("AIBOT_DB_MODE", &c.Database.Mode)
	envStr("AIBOT_DB_PATH", &c.Database.Path)
	envStr("AIBOT_POSTGRES_DSN", &c.Database.PostgresDSN)
	if c.Database.PostgresDSN != "" && os.Getenv("AIBOT_DB_MODE") == "" && c.Database.Mode == "file" {
		c.Database.Mode = "postgres"
	}

	// Telemetry
	envStr("AIBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AIBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AIBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("AIBOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AIBOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config as indented JSON. Secrets sourced from env only
// (the Postgres DSN) are never written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Hash returns a short SHA-256 hash of the config, used to skip reloads
// when the file content did not change.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
