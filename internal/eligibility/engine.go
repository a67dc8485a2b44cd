// Package eligibility decides whether the bot should answer an inbound
// message: validity, triggers, probability and the rate-limit gate.
package eligibility

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/aibot/internal/chat"
	"github.com/nextlevelbuilder/aibot/internal/settings"
)

// Outcome is the terminal state of an evaluation.
type Outcome int

const (
	Ignore Outcome = iota
	Respond
	Defer // rate limited; acknowledge without replying
)

func (o Outcome) String() string {
	switch o {
	case Respond:
		return "respond"
	case Defer:
		return "defer"
	default:
		return "ignore"
	}
}

// Reason names the trigger that fired.
type Reason string

const (
	ReasonNone          Reason = "none"
	ReasonMention       Reason = "mention"
	ReasonReplyToBot    Reason = "reply-to-bot"
	ReasonKeyword       Reason = "keyword"
	ReasonWhitelistOnly Reason = "whitelist-only"
)

// Trigger records whether a forcing condition matched.
type Trigger struct {
	Matched bool
	Reason  Reason
}

// Decision is the result of Evaluate.
type Decision struct {
	Outcome    Outcome
	Trigger    Trigger
	Percentage float64
	Detail     string // why the message was ignored, for logs
}

// DefaultRegexTimeout bounds ignore-pattern evaluation.
const DefaultRegexTimeout = 5 * time.Second

// Settings is the configuration the engine reads.
type Settings interface {
	Guild(ctx context.Context, guildID string) (*settings.GuildSnapshot, error)
	Global(ctx context.Context) (*settings.GlobalSnapshot, error)
	ResolvePercentage(ctx context.Context, t settings.Target) float64
}

// RateLimiter reports whether responses are currently suppressed.
type RateLimiter interface {
	Active(now time.Time) bool
}

// Engine evaluates messages. It reads settings and the rate-limit clock but
// never changes either.
type Engine struct {
	BotID        string
	Settings     Settings
	RateLimit    RateLimiter
	RegexTimeout time.Duration
	Now          func() time.Time
	Float64      func() float64 // uniform sample in [0,1)

	randMu sync.Mutex
}

// NewEngine creates an Engine with a time-seeded random source.
func NewEngine(botID string, s Settings, rl RateLimiter) *Engine {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	e := &Engine{
		BotID:        botID,
		Settings:     s,
		RateLimit:    rl,
		RegexTimeout: DefaultRegexTimeout,
		Now:          time.Now,
	}
	e.Float64 = func() float64 {
		e.randMu.Lock()
		defer e.randMu.Unlock()
		return rng.Float64()
	}
	return e
}

// ApproxOne reports whether p is 1.0 within a combined absolute and relative
// tolerance of 1e-9.
func ApproxOne(p float64) bool {
	return math.Abs(p-1) <= 1e-9+1e-9*math.Max(math.Abs(p), 1)
}

// Target builds the settings lookup target for msg.
func Target(msg *chat.Message) settings.Target {
	return settings.Target{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		ParentID:  msg.ParentChannelID,
		RoleIDs:   msg.Author.RoleIDs,
		MemberID:  msg.Author.ID,
	}
}

// Evaluate runs the full decision for msg.
func (e *Engine) Evaluate(ctx context.Context, msg *chat.Message) Decision {
	g, reason := e.validate(ctx, msg)
	if reason != "" {
		return Decision{Outcome: Ignore, Detail: reason}
	}

	trig, forcedIgnore := e.triggers(ctx, msg, g)
	if forcedIgnore {
		return Decision{Outcome: Ignore, Trigger: trig, Detail: "ignore pattern"}
	}

	pct := e.Settings.ResolvePercentage(ctx, Target(msg))
	d := Decision{Trigger: trig, Percentage: pct}

	if !trig.Matched && !ApproxOne(pct) {
		if e.Float64() >= pct {
			d.Outcome = Ignore
			d.Detail = "probability"
			return d
		}
	}

	if e.RateLimit != nil && e.RateLimit.Active(e.now()) {
		if trig.Matched || ApproxOne(pct) {
			d.Outcome = Defer
		} else {
			d.Outcome = Ignore
			d.Detail = "rate limited"
		}
		return d
	}

	d.Outcome = Respond
	return d
}

// Valid runs only the validity gate, for surfaces such as slash commands
// that bypass triggers and sampling.
func (e *Engine) Valid(ctx context.Context, msg *chat.Message) bool {
	_, reason := e.validate(ctx, msg)
	return reason == ""
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// validate returns a non-empty reason when msg must be ignored.
func (e *Engine) validate(ctx context.Context, msg *chat.Message) (*settings.GuildSnapshot, string) {
	if msg == nil {
		return nil, "nil message"
	}
	if msg.Author.ID == e.BotID || msg.Author.Bot {
		return nil, "bot author"
	}
	if msg.IsDM() {
		return nil, "direct message"
	}
	text := msg.TrimmedContent()
	if text == "" && !msg.HasMedia() {
		return nil, "empty"
	}

	g, err := e.Settings.Guild(ctx, msg.GuildID)
	if err != nil {
		slog.Warn("load guild settings", "guild_id", msg.GuildID, "error", err)
		return nil, "settings unavailable"
	}
	gl, err := e.Settings.Global(ctx)
	if err != nil {
		slog.Warn("load global settings", "error", err)
		return nil, "settings unavailable"
	}

	if !gl.Consents(g, msg.Author.ID) {
		return nil, "no consent"
	}
	if !inScope(g, msg) {
		return nil, "out of scope"
	}
	if !msg.HasMedia() && len([]rune(text)) < g.MinLength {
		return nil, "too short"
	}
	return g, ""
}

func inScope(g *settings.GuildSnapshot, msg *chat.Message) bool {
	if g.ChannelsWhitelist.Has(msg.ChannelID) {
		return true
	}
	if msg.ParentChannelID != "" && g.ChannelsWhitelist.Has(msg.ParentChannelID) {
		return true
	}
	return memberWhitelisted(g, msg)
}

func memberWhitelisted(g *settings.GuildSnapshot, msg *chat.Message) bool {
	return g.MembersWhitelist.Has(msg.Author.ID) || g.RolesWhitelist.HasAny(msg.Author.RoleIDs)
}

// triggers resolves the forcing trigger. The ignore pattern overrides any
// trigger and is reported through forcedIgnore.
func (e *Engine) triggers(ctx context.Context, msg *chat.Message, g *settings.GuildSnapshot) (Trigger, bool) {
	if g.IgnoreRegex != nil && e.matchWithTimeout(ctx, g.IgnoreRegex, msg.Content) {
		return Trigger{Reason: ReasonNone}, true
	}

	if g.ReplyToMentionsReplies {
		if msg.MentionsUser(e.BotID) {
			return Trigger{Matched: true, Reason: ReasonMention}, false
		}
		if ref := msg.Reference; ref != nil && ref.Author != nil && ref.Author.ID == e.BotID {
			return Trigger{Matched: true, Reason: ReasonReplyToBot}, false
		}
	}

	if len(g.AlwaysReplyOnWords) > 0 {
		lower := strings.ToLower(msg.Content)
		for _, w := range g.AlwaysReplyOnWords {
			if strings.Contains(lower, w) {
				return Trigger{Matched: true, Reason: ReasonKeyword}, false
			}
		}
	}

	// Members admitted only through the member/role whitelist (channel not
	// whitelisted) are always answered.
	if !g.ChannelsWhitelist.Has(msg.ChannelID) && !g.ChannelsWhitelist.Has(msg.ParentChannelID) && memberWhitelisted(g, msg) {
		return Trigger{Matched: true, Reason: ReasonWhitelistOnly}, false
	}

	return Trigger{Reason: ReasonNone}, false
}

// matchWithTimeout runs re against text, giving up after the configured
// timeout. A timeout counts as no match.
func (e *Engine) matchWithTimeout(ctx context.Context, re *regexp.Regexp, text string) bool {
	timeout := e.RegexTimeout
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() { done <- re.MatchString(text) }()

	select {
	case m := <-done:
		return m
	case <-ctx.Done():
		slog.Debug("ignore regex timed out", "pattern", re.String(), "timeout", timeout)
		return false
	}
}
