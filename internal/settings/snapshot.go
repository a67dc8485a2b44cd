package settings

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/aibot/internal/providers"
	"github.com/nextlevelbuilder/aibot/internal/store"
)

// IDSet is a set of snowflake ids.
type IDSet map[string]struct{}

func newIDSet(ids []string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set has nothing.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// HasAny reports whether any of ids is in the set.
func (s IDSet) HasAny(ids []string) bool {
	for _, id := range ids {
		if s.Has(id) {
			return true
		}
	}
	return false
}

// GuildSnapshot is the resolved, read-only view of one guild's settings.
// Snapshots are shared between goroutines and must not be modified.
type GuildSnapshot struct {
	GuildID                string
	ReplyPercent           *float64
	ChannelsWhitelist      IDSet
	RolesWhitelist         IDSet
	MembersWhitelist       IDSet
	IgnorePattern          string
	IgnoreRegex            *regexp.Regexp // nil when unset or invalid
	OptinByDefault         bool
	ReplyToMentionsReplies bool
	MessagesBackread       int
	BackreadGap            time.Duration
	MinLength              int
	AlwaysReplyOnWords     []string // lower-cased
	Prompt                 string   // guild custom prompt, "" when unset
	Model                  string
	Params                 providers.Params
	RemovePatterns         []string
	TokensLimit            int
	PublicForget           bool
	RandomMessagesEnabled  bool
	RandomMessagesPercent  float64
	RandomMessagesTopics   []string
	RandomMessagesIdle     time.Duration

	loadedAt time.Time
}

// GlobalSnapshot is the resolved view of bot-wide settings.
type GlobalSnapshot struct {
	OptIn          IDSet
	OptOut         IDSet
	Prompt         string
	Endpoint       string
	RequestTimeout time.Duration
	RateLimitReset string
	Model          string

	loadedAt time.Time
}

// Consents reports whether userID's messages may be used in guild g: not
// opted out, and opted in or the guild opts everyone in by default.
func (gl *GlobalSnapshot) Consents(g *GuildSnapshot, userID string) bool {
	if gl.OptOut.Has(userID) {
		return false
	}
	return gl.OptIn.Has(userID) || (g != nil && g.OptinByDefault)
}

func buildGuildSnapshot(guildID string, vals store.Values, d Defaults) *GuildSnapshot {
	g := &GuildSnapshot{
		GuildID:                guildID,
		ReplyPercent:           decodeValue[*float64](vals, KeyReplyPercent, &d.ReplyPercent),
		ChannelsWhitelist:      newIDSet(decodeValue[[]string](vals, KeyChannelsWhitelist, nil)),
		RolesWhitelist:         newIDSet(decodeValue[[]string](vals, KeyRolesWhitelist, nil)),
		MembersWhitelist:       newIDSet(decodeValue[[]string](vals, KeyMembersWhitelist, nil)),
		IgnorePattern:          decodeValue(vals, KeyIgnoreRegex, ""),
		OptinByDefault:         decodeValue(vals, KeyOptinByDefault, d.OptinByDefault),
		ReplyToMentionsReplies: decodeValue(vals, KeyReplyToMentions, d.ReplyToMentionsReplies),
		MessagesBackread:       decodeValue(vals, KeyBackread, d.MessagesBackread),
		BackreadGap:            time.Duration(decodeValue(vals, KeyBackreadSeconds, d.BackreadSeconds)) * time.Second,
		MinLength:              decodeValue(vals, KeyMinLength, d.MinLength),
		Prompt:                 decodeValue(vals, KeyPrompt, ""),
		Model:                  decodeValue(vals, KeyModel, d.Model),
		Params:                 decodeValue(vals, KeyParameters, providers.Params{}),
		RemovePatterns:         decodeValue(vals, KeyRemovelistRegexes, d.RemovePatterns),
		TokensLimit:            decodeValue(vals, KeyTokensLimit, d.TokensLimit),
		PublicForget:           decodeValue(vals, KeyPublicForget, false),
		RandomMessagesEnabled:  decodeValue(vals, KeyRandomMessagesEnabled, false),
		RandomMessagesPercent:  decodeValue(vals, KeyRandomMessagesPercent, d.RandomMessagesPercent),
		RandomMessagesTopics:   decodeValue(vals, KeyRandomMessagesTopics, d.RandomMessagesTopics),
		RandomMessagesIdle:     d.RandomMessagesIdle,
	}
	if secs := decodeValue(vals, KeyRandomMessagesIdle, 0); secs > 0 {
		g.RandomMessagesIdle = time.Duration(secs) * time.Second
	}
	if w := decodeValue[map[string]int](vals, KeyWeights, nil); len(w) > 0 {
		g.Params.LogitBias = w
	}
	for _, word := range decodeValue[[]string](vals, KeyAlwaysReplyOnWords, nil) {
		if word = strings.ToLower(strings.TrimSpace(word)); word != "" {
			g.AlwaysReplyOnWords = append(g.AlwaysReplyOnWords, word)
		}
	}
	if g.IgnorePattern != "" {
		re, err := regexp.Compile(g.IgnorePattern)
		if err != nil {
			slog.Warn("invalid ignore regex, ignoring", "guild_id", guildID, "error", err)
		} else {
			g.IgnoreRegex = re
		}
	}
	return g
}

func buildGlobalSnapshot(vals store.Values, d Defaults) *GlobalSnapshot {
	gl := &GlobalSnapshot{
		OptIn:          newIDSet(decodeValue[[]string](vals, KeyOptIn, nil)),
		OptOut:         newIDSet(decodeValue[[]string](vals, KeyOptOut, nil)),
		Prompt:         decodeValue(vals, KeyPrompt, ""),
		Endpoint:       decodeValue(vals, KeyEndpoint, ""),
		RequestTimeout: d.RequestTimeout,
		RateLimitReset: decodeValue(vals, KeyRateLimitReset, ""),
		Model:          decodeValue(vals, KeyModel, d.Model),
	}
	if secs := decodeValue(vals, KeyRequestTimeout, 0); secs > 0 {
		gl.RequestTimeout = time.Duration(secs) * time.Second
	}
	return gl
}

// decodeValue reads key from vals, falling back to def when the key is
// missing or malformed. A stored JSON null decodes to the zero value, which
// lets a scope explicitly clear a pointer setting.
func decodeValue[T any](vals store.Values, key string, def T) T {
	raw, ok := vals[key]
	if !ok {
		return def
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Debug("malformed setting, using default", "key", key, "error", err)
		return def
	}
	return v
}
