package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/aibot/internal/bot"
	"github.com/nextlevelbuilder/aibot/internal/bus"
	"github.com/nextlevelbuilder/aibot/internal/channels"
	"github.com/nextlevelbuilder/aibot/internal/channels/discord"
	"github.com/nextlevelbuilder/aibot/internal/config"
	"github.com/nextlevelbuilder/aibot/internal/history"
	"github.com/nextlevelbuilder/aibot/internal/providers"
	"github.com/nextlevelbuilder/aibot/internal/ratelimit"
	"github.com/nextlevelbuilder/aibot/internal/settings"
	"github.com/nextlevelbuilder/aibot/internal/store"
	"github.com/nextlevelbuilder/aibot/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start replying (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	st, err := openSettingsStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer st.Close()
	svc := settings.New(st, cfg.SettingsDefaults())
	svc.SetRefreshInterval(time.Duration(cfg.Bot.SettingsRefresh) * time.Second)

	rate, err := loadRateLimit(ctx, svc)
	if err != nil {
		return err
	}

	provider := newProvider(cfg, cfg.Provider.APIBase, 0)

	msgBus := bus.New(cfg.Bot.QueueSize)
	dc, err := discord.New(cfg.Discord, msgBus)
	if err != nil {
		return err
	}
	mgr := channels.NewManager()
	mgr.RegisterChannel(dc)
	if err := mgr.StartAll(ctx); err != nil {
		return err
	}
	for _, cs := range mgr.GetStatus() {
		slog.Info("channel status", "channel", cs.Name, "running", cs.Running)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		mgr.StopAll(sctx)
	}()

	var b *bot.Bot
	b = bot.New(bot.Deps{
		Settings:  svc,
		Cache:     history.NewCache(cfg.Bot.CacheSize),
		RateLimit: rate,
		Provider:  provider,
		ProviderFor: func(endpoint string, timeout time.Duration) providers.Provider {
			return newProvider(cfg, endpoint, timeout).WithRateLimitHook(b.OnRateLimit)
		},
		Platform: dc,
	})
	provider.WithRateLimitHook(b.OnRateLimit)
	dc.SetCommandHandler(b.HandleChatCommand)
	dc.SetAdminHandler(b.HandleAdminCommand)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx, msgBus, cfg.Bot.Workers)
	})
	g.Go(func() error {
		return b.RunRandomMessages(gctx, cfg.Bot.RandomSchedule)
	})
	if n, ok := st.(store.Notifier); ok {
		g.Go(func() error { return n.Watch(gctx, svc.Invalidate) })
	}
	if _, err := os.Stat(cfgPath); err == nil {
		w, err := config.NewWatcher(cfgPath, cfg, func(_ context.Context, c *config.Config) {
			svc.SetDefaults(c.SettingsDefaults())
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Start(gctx) })
	}

	slog.Info("aibot running", "version", Version, "bot_id", dc.Self().ID, "workers", cfg.Bot.Workers)
	err = g.Wait()
	slog.Info("graceful shutdown initiated", "dropped_events", msgBus.Dropped())
	return err
}

func newProvider(cfg *config.Config, apiBase string, timeout time.Duration) *providers.OpenAIProvider {
	name := cfg.Provider.Name
	if apiBase != cfg.Provider.APIBase {
		name += "-custom"
	}
	return providers.NewOpenAIProvider(name, cfg.Provider.APIKey, apiBase, cfg.Provider.Model, timeout)
}

// loadRateLimit restores the persisted reset time and persists every
// later change back to the global scope.
func loadRateLimit(ctx context.Context, svc *settings.Service) (*ratelimit.State, error) {
	gl, err := svc.Global(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global settings: %w", err)
	}
	var resetAt time.Time
	if gl.RateLimitReset != "" {
		if t, err := ratelimit.ParseReset(gl.RateLimitReset); err == nil {
			resetAt = t
		} else {
			slog.Warn("ignoring malformed ratelimit reset", "value", gl.RateLimitReset, "error", err)
		}
	}
	return ratelimit.NewState(resetAt, func(t time.Time) {
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.SetRateLimitReset(pctx, ratelimit.FormatReset(t)); err != nil {
			slog.Warn("persist ratelimit reset", "error", err)
		}
	}), nil
}
