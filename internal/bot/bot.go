// Package bot wires eligibility, history assembly, completion and the
// platform adapter into the reply pipeline.
package bot

import (
	"context"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/aibot/internal/bus"
	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/convert"
	"github.com/nextlevelbuilder/aibot/internal/eligibility"
	"github.com/nextlevelbuilder/aibot/internal/history"
	"github.com/nextlevelbuilder/aibot/internal/providers"
	"github.com/nextlevelbuilder/aibot/internal/ratelimit"
	"github.com/nextlevelbuilder/aibot/internal/settings"
)

// Platform is what the bot needs from a chat platform adapter.
type Platform interface {
	// Self returns the bot's own account.
	Self() chat.Author
	FetchMessage(ctx context.Context, channelID, messageID string) (*chat.Message, error)
	// History returns up to limit messages older than beforeID, newest
	// first. An empty beforeID pages from the latest message.
	History(ctx context.Context, channelID, beforeID string, limit int) ([]*chat.Message, error)
	React(ctx context.Context, channelID, messageID, emoji string) error
	Typing(ctx context.Context, channelID string) error
	// Reply answers to, referencing it when the platform allows.
	Reply(ctx context.Context, to *chat.Message, content string) error
	Send(ctx context.Context, channelID, content string) error
}

// ProviderFactory builds a completion client for a custom endpoint.
type ProviderFactory func(endpoint string, timeout time.Duration) providers.Provider

// Deps are the collaborators of a Bot.
type Deps struct {
	Settings    *settings.Service
	Cache       *history.Cache
	RateLimit   *ratelimit.State
	Provider    providers.Provider
	ProviderFor ProviderFactory // optional; used when a custom endpoint is configured
	Platform    Platform
	Renderer    convert.EmbedRenderer
	Tracer      trace.Tracer
}

// Bot handles inbound messages for one bot account.
type Bot struct {
	settings  *settings.Service
	cache     *history.Cache
	rate      *ratelimit.State
	engine    *eligibility.Engine
	assembler *history.Assembler
	platform  Platform
	tracer    trace.Tracer
	self      chat.Author

	provider    providers.Provider
	providerFor ProviderFactory
	custom      struct {
		sync.Mutex
		key      string
		provider providers.Provider
	}

	forgets sync.Map // guild id -> time.Time

	previewCeiling  time.Duration
	previewInterval time.Duration
	typingInterval  time.Duration

	now func() time.Time
	rng *lockedRand
}

// New creates a Bot. The platform must already be connected so that its
// own account is known.
func New(d Deps) *Bot {
	self := d.Platform.Self()
	tracer := d.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/nextlevelbuilder/aibot/internal/bot")
	}
	c := d.Cache
	if c == nil {
		c = history.NewCache(history.DefaultCacheSize)
	}

	b := &Bot{
		settings:        d.Settings,
		cache:           c,
		rate:            d.RateLimit,
		platform:        d.Platform,
		tracer:          tracer,
		self:            self,
		provider:        d.Provider,
		providerFor:     d.ProviderFor,
		previewCeiling:  history.DefaultPreviewCeiling,
		previewInterval: history.DefaultPreviewInterval,
		typingInterval:  8 * time.Second,
		now:             time.Now,
		rng:             newLockedRand(),
	}
	b.engine = eligibility.NewEngine(self.ID, d.Settings, d.RateLimit)
	b.engine.Now = func() time.Time { return b.now() }
	b.assembler = &history.Assembler{
		BotID:     self.ID,
		Source:    d.Platform,
		Converter: convert.NewNormalizer(self.ID, d.Renderer),
		Cache:     c,
	}
	return b
}

// Engine exposes the eligibility engine.
func (b *Bot) Engine() *eligibility.Engine { return b.engine }

// Cache exposes the converted-message cache.
func (b *Bot) Cache() *history.Cache { return b.cache }

// Forget makes history before at invisible for guildID. The cut-off lives
// in memory only.
func (b *Bot) Forget(guildID string, at time.Time) {
	b.forgets.Store(guildID, at)
	slog.Info("history forgotten", "guild_id", guildID, "before", at.Format(time.RFC3339))
}

func (b *Bot) forgetTime(guildID string) time.Time {
	if v, ok := b.forgets.Load(guildID); ok {
		return v.(time.Time)
	}
	return time.Time{}
}

// Run consumes the bus with the given number of workers until ctx is done.
// Messages are handled concurrently with no ordering guarantee.
func (b *Bot) Run(ctx context.Context, router bus.MessageRouter, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				ev, ok := router.ConsumeInbound(ctx)
				if !ok {
					return nil
				}
				b.dispatch(ctx, ev)
			}
		})
	}
	slog.Info("bot workers started", "workers", workers, "bot_id", b.self.ID)
	return g.Wait()
}

func (b *Bot) dispatch(ctx context.Context, ev bus.InboundMessage) {
	switch ev.Kind {
	case bus.MessageCreated:
		if ev.Message != nil {
			b.HandleMessage(ctx, ev.Message)
		}
	case bus.MessageUpdated, bus.MessageDeleted:
		if b.cache.Remove(ev.MessageID) {
			slog.Debug("invalidated cached message", "message_id", ev.MessageID, "kind", ev.Kind.String())
		}
	}
}

// recoverPipeline keeps a panicking pipeline from taking down its worker.
func recoverPipeline(msg *chat.Message) {
	if r := recover(); r != nil {
		var id string
		if msg != nil {
			id = msg.ID
		}
		slog.Error("message pipeline panicked", "message_id", id, "panic", r, "stack", string(debug.Stack()))
	}
}

// completionClient returns the completion client for the configured endpoint.
func (b *Bot) completionClient(gl *settings.GlobalSnapshot) providers.Provider {
	if gl == nil || gl.Endpoint == "" || b.providerFor == nil {
		return b.provider
	}
	key := gl.Endpoint + "|" + gl.RequestTimeout.String()
	b.custom.Lock()
	defer b.custom.Unlock()
	if b.custom.key != key || b.custom.provider == nil {
		b.custom.provider = b.providerFor(gl.Endpoint, gl.RequestTimeout)
		b.custom.key = key
		slog.Info("completion endpoint changed", "endpoint", gl.Endpoint)
	}
	return b.custom.provider
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand() *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
