package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bot.ReplyPercent != 0.5 || cfg.Database.Mode != "file" || cfg.Bot.Workers != 4 {
		t.Errorf("unexpected defaults: %+v", cfg.Bot)
	}
}

func TestLoad_JSON5AndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{
		// comments and trailing commas are fine
		discord: { token: "from-file", command_guild_ids: ["1234", "5678"], },
		provider: { model: "llama3" },
		bot: { reply_percent: 0.25, removelist_regexes: ["^x"], },
	}`)
	t.Setenv("AIBOT_DISCORD_TOKEN", "from-env")
	t.Setenv("AIBOT_POSTGRES_DSN", "postgres://localhost/aibot")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("token = %q, env should win", cfg.Discord.Token)
	}
	if got := cfg.Discord.CommandGuildIDs; len(got) != 2 || got[0] != "1234" || got[1] != "5678" {
		t.Errorf("guild ids = %v", got)
	}
	if cfg.Database.Mode != "postgres" {
		t.Errorf("mode = %q, a DSN alone should select postgres", cfg.Database.Mode)
	}

	d := cfg.SettingsDefaults()
	if d.ReplyPercent != 0.25 || d.Model != "llama3" {
		t.Errorf("defaults = %+v", d)
	}
	if len(d.RemovePatterns) != 1 || d.RemovePatterns[0] != "^x" {
		t.Errorf("remove patterns = %v", d.RemovePatterns)
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	var got struct {
		IDs FlexibleStringSlice `json:"ids"`
	}
	if err := json.Unmarshal([]byte(`{"ids": [1234567890123456, "abc", true]}`), &got); err != nil {
		t.Fatal(err)
	}
	want := []string{"1234567890123456", "abc", "true"}
	if len(got.IDs) != len(want) {
		t.Fatalf("ids = %v", got.IDs)
	}
	for i := range want {
		if got.IDs[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, got.IDs[i], want[i])
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", `{ bot: `},
		{"percent above one", `{ bot: { reply_percent: 1.5 } }`},
		{"unknown db mode", `{ database: { mode: "redis" } }`},
		{"unknown telemetry protocol", `{ telemetry: { protocol: "udp" } }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json5")
			writeFile(t, path, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSave_RoundTripOmitsDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Discord.Token = "tok"
	cfg.Database.PostgresDSN = "postgres://secret"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) == "" || strings.Contains(string(data), "secret") {
		t.Errorf("saved config leaks dsn: %s", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v", info.Mode().Perm())
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Discord.Token != "tok" || loaded.Hash() != cfg.Hash() {
		t.Errorf("round trip mismatch")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := map[string]string{
		"":          "",
		"/abs/path": "/abs/path",
		"~":         home,
		"~/x/y":     home + "/x/y",
	}
	for in, want := range tests {
		if got := ExpandHome(in); got != want {
			t.Errorf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{ bot: { reply_percent: 0.1 } }`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	changed := make(chan float64, 1)
	w, err := NewWatcher(path, cfg, func(_ context.Context, c *Config) {
		changed <- c.SettingsDefaults().ReplyPercent
	})
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, `{ bot: { reply_percent: 0.9 } }`)

	select {
	case got := <-changed:
		if got != 0.9 {
			t.Errorf("reply percent = %v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}
