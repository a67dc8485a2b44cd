// Package settings is the typed configuration service over a scoped
// store.SettingsStore. Reads go through in-memory snapshots that every write
// explicitly invalidates. Snapshots also expire after the refresh interval so
// writes made by other processes are picked up.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/aibot/internal/cache"
	"github.com/nextlevelbuilder/aibot/internal/store"
)

const scopeCacheSize = 4096

// DefaultRefreshInterval bounds how long a snapshot is served without
// re-reading the store.
const DefaultRefreshInterval = 30 * time.Second

type scopeValues struct {
	vals     store.Values
	loadedAt time.Time
}

// Service resolves settings across scopes with the precedence
// member > role > channel > guild > global > default.
type Service struct {
	store    store.SettingsStore
	defaults atomic.Pointer[Defaults]

	guilds sync.Map // guild id -> *GuildSnapshot
	global atomic.Pointer[GlobalSnapshot]
	scopes *cache.LRU[store.Scope, scopeValues] // member, role and channel scopes
	ttl    atomic.Int64                         // time.Duration; <= 0 never expires
	now    func() time.Time

	gen   atomic.Uint64 // bumped on every invalidation
	group singleflight.Group

	locksMu sync.Mutex
	locks   map[store.Scope]*sync.Mutex
}

// New creates a Service reading from st with defaults d.
func New(st store.SettingsStore, d Defaults) *Service {
	s := &Service{
		store:  st,
		scopes: cache.New[store.Scope, scopeValues](scopeCacheSize),
		locks:  make(map[store.Scope]*sync.Mutex),
		now:    time.Now,
	}
	s.defaults.Store(&d)
	s.ttl.Store(int64(DefaultRefreshInterval))
	return s
}

// SetRefreshInterval changes how long snapshots live. Zero or less keeps
// them until the next write in this process.
func (s *Service) SetRefreshInterval(d time.Duration) { s.ttl.Store(int64(d)) }

func (s *Service) fresh(loadedAt time.Time) bool {
	ttl := time.Duration(s.ttl.Load())
	return ttl <= 0 || s.now().Sub(loadedAt) < ttl
}

// Store exposes the underlying store.
func (s *Service) Store() store.SettingsStore { return s.store }

// Defaults returns the current fallback values.
func (s *Service) Defaults() Defaults { return *s.defaults.Load() }

// SetDefaults swaps the fallback values and drops every snapshot built from
// the old ones.
func (s *Service) SetDefaults(d Defaults) {
	s.defaults.Store(&d)
	s.Invalidate()
}

// Guild returns the snapshot for guildID, loading it on first use.
// Concurrent loads of the same guild are collapsed into one store read.
func (s *Service) Guild(ctx context.Context, guildID string) (*GuildSnapshot, error) {
	if v, ok := s.guilds.Load(guildID); ok {
		if snap := v.(*GuildSnapshot); s.fresh(snap.loadedAt) {
			return snap, nil
		}
	}
	gen := s.gen.Load()
	v, err, _ := s.group.Do("guild:"+guildID, func() (any, error) {
		vals, err := s.store.Load(ctx, store.Guild(guildID))
		if err != nil {
			return nil, fmt.Errorf("load guild settings: %w", err)
		}
		snap := buildGuildSnapshot(guildID, vals, s.Defaults())
		snap.loadedAt = s.now()
		if s.gen.Load() == gen {
			s.guilds.Store(guildID, snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*GuildSnapshot), nil
}

// Global returns the bot-wide snapshot.
func (s *Service) Global(ctx context.Context) (*GlobalSnapshot, error) {
	if g := s.global.Load(); g != nil && s.fresh(g.loadedAt) {
		return g, nil
	}
	gen := s.gen.Load()
	v, err, _ := s.group.Do("global", func() (any, error) {
		vals, err := s.store.Load(ctx, store.Global())
		if err != nil {
			return nil, fmt.Errorf("load global settings: %w", err)
		}
		snap := buildGlobalSnapshot(vals, s.Defaults())
		snap.loadedAt = s.now()
		if s.gen.Load() == gen {
			s.global.Store(snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*GlobalSnapshot), nil
}

// values returns the settings of each narrow scope, fetching the uncached
// ones in a single store call. Absent scopes are cached as empty.
func (s *Service) values(ctx context.Context, scopes []store.Scope) (map[store.Scope]store.Values, error) {
	out := make(map[store.Scope]store.Values, len(scopes))
	var missing []store.Scope
	for _, sc := range scopes {
		if v, ok := s.scopes.Get(sc); ok && s.fresh(v.loadedAt) {
			out[sc] = v.vals
			continue
		}
		missing = append(missing, sc)
	}
	if len(missing) == 0 {
		return out, nil
	}

	gen := s.gen.Load()
	loadedAt := s.now()
	loaded, err := s.store.LoadMany(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load scopes: %w", err)
	}
	for _, sc := range missing {
		vals := loaded[sc]
		if vals == nil {
			vals = store.Values{}
		}
		out[sc] = vals
		if s.gen.Load() == gen {
			s.scopes.Put(sc, scopeValues{vals: vals, loadedAt: loadedAt})
		}
	}
	return out, nil
}

// Target identifies who and where a message is, for precedence lookups.
type Target struct {
	GuildID   string
	ChannelID string
	ParentID  string // thread parent channel, optional
	RoleIDs   []string
	MemberID  string
}

func (t Target) scopes() []store.Scope {
	scopes := []store.Scope{store.Member(t.GuildID, t.MemberID)}
	for _, r := range t.RoleIDs {
		scopes = append(scopes, store.Role(t.GuildID, r))
	}
	scopes = append(scopes, store.Channel(t.GuildID, t.ChannelID))
	if t.ParentID != "" {
		scopes = append(scopes, store.Channel(t.GuildID, t.ParentID))
	}
	return scopes
}

// resolve walks member, roles (in the member's role order), channel, thread
// parent and returns the first scope value that decodes to a non-nil T.
func resolve[T any](ctx context.Context, s *Service, t Target, key string) (*T, error) {
	vals, err := s.values(ctx, t.scopes())
	if err != nil {
		return nil, err
	}
	for _, sc := range t.scopes() {
		if v := decodeValue[*T](vals[sc], key, nil); v != nil {
			return v, nil
		}
	}
	return nil, nil
}

// ResolvePercentage returns the reply chance for t. The most specific
// non-nil value wins; values are never blended. Store errors fall back to
// the guild and default values.
func (s *Service) ResolvePercentage(ctx context.Context, t Target) float64 {
	if p, err := resolve[float64](ctx, s, t, KeyReplyPercent); err != nil {
		slog.Warn("resolve reply percent", "guild_id", t.GuildID, "error", err)
	} else if p != nil {
		return *p
	}
	g, err := s.Guild(ctx, t.GuildID)
	if err == nil && g.ReplyPercent != nil {
		return *g.ReplyPercent
	}
	return s.Defaults().ReplyPercent
}

// ResolvePrompt returns the system prompt template for t with precedence
// member > role > channel > guild > global > default.
func (s *Service) ResolvePrompt(ctx context.Context, t Target) string {
	if p, err := resolve[string](ctx, s, t, KeyPrompt); err != nil {
		slog.Warn("resolve prompt", "guild_id", t.GuildID, "error", err)
	} else if p != nil && *p != "" {
		return *p
	}
	if g, err := s.Guild(ctx, t.GuildID); err == nil && g.Prompt != "" {
		return g.Prompt
	}
	if gl, err := s.Global(ctx); err == nil && gl.Prompt != "" {
		return gl.Prompt
	}
	return s.Defaults().Prompt
}

// --- writes ---

func (s *Service) lockScope(sc store.Scope) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[sc]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sc] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Service) invalidate(sc store.Scope) {
	s.gen.Add(1)
	switch sc.Kind {
	case store.KindGlobal:
		s.global.Store(nil)
	case store.KindGuild:
		s.guilds.Delete(sc.GuildID)
	default:
		s.scopes.Remove(sc)
	}
}

// Invalidate drops every snapshot so the next read goes to the store.
func (s *Service) Invalidate() {
	s.gen.Add(1)
	s.global.Store(nil)
	s.guilds.Range(func(k, _ any) bool { s.guilds.Delete(k); return true })
	s.scopes.Reset()
}

// SetValue stores value (JSON-encoded) under key in scope.
func (s *Service) SetValue(ctx context.Context, sc store.Scope, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	defer s.invalidate(sc)
	if err := s.store.Set(ctx, sc, key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// DeleteValue removes key from scope so lookups fall through to the next
// scope.
func (s *Service) DeleteValue(ctx context.Context, sc store.Scope, key string) error {
	defer s.invalidate(sc)
	if err := s.store.Delete(ctx, sc, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// SetGuildValue sets an arbitrary guild key.
func (s *Service) SetGuildValue(ctx context.Context, guildID, key string, value any) error {
	return s.SetValue(ctx, store.Guild(guildID), key, value)
}

// SetReplyPercent sets the reply chance of a scope. nil clears it for
// member, role and channel scopes; guild and global scopes require a value.
func (s *Service) SetReplyPercent(ctx context.Context, sc store.Scope, pct *float64) error {
	if pct == nil {
		if sc.Kind == store.KindGuild || sc.Kind == store.KindGlobal {
			return errors.New("no percent provided")
		}
		return s.DeleteValue(ctx, sc, KeyReplyPercent)
	}
	if *pct < 0 || *pct > 1 {
		return fmt.Errorf("reply percent %v out of range [0,1]", *pct)
	}
	return s.SetValue(ctx, sc, KeyReplyPercent, *pct)
}

// SetPrompt sets or (nil) clears a scope's custom prompt.
func (s *Service) SetPrompt(ctx context.Context, sc store.Scope, prompt *string) error {
	if prompt == nil || *prompt == "" {
		return s.DeleteValue(ctx, sc, KeyPrompt)
	}
	return s.SetValue(ctx, sc, KeyPrompt, *prompt)
}

// SetIgnoreRegex validates and stores a guild's ignore pattern. An empty
// pattern clears it.
func (s *Service) SetIgnoreRegex(ctx context.Context, guildID, pattern string) error {
	if pattern == "" {
		return s.DeleteValue(ctx, store.Guild(guildID), KeyIgnoreRegex)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid ignore regex: %w", err)
	}
	return s.SetValue(ctx, store.Guild(guildID), KeyIgnoreRegex, pattern)
}

// SetKeywords replaces a guild's always-reply keywords.
func (s *Service) SetKeywords(ctx context.Context, guildID string, words []string) error {
	return s.SetValue(ctx, store.Guild(guildID), KeyAlwaysReplyOnWords, words)
}

// SetOptinByDefault toggles whether guild members are opted in unless they
// opt out.
func (s *Service) SetOptinByDefault(ctx context.Context, guildID string, on bool) error {
	return s.SetValue(ctx, store.Guild(guildID), KeyOptinByDefault, on)
}

// updateList performs a read-modify-write of a string list under the
// scope's lock. fn returns the new list and whether anything changed.
func (s *Service) updateList(ctx context.Context, sc store.Scope, key string, fn func([]string) ([]string, bool)) (bool, error) {
	unlock := s.lockScope(sc)
	defer unlock()

	raw, _, err := s.store.Get(ctx, sc, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	var list []string
	if raw != nil {
		if err := json.Unmarshal(raw, &list); err != nil {
			slog.Warn("malformed list setting, resetting", "scope", sc.String(), "key", key, "error", err)
			list = nil
		}
	}
	next, changed := fn(list)
	if !changed {
		return false, nil
	}
	if next == nil {
		next = []string{}
	}
	return true, s.SetValue(ctx, sc, key, next)
}

func addID(id string) func([]string) ([]string, bool) {
	return func(list []string) ([]string, bool) {
		if slices.Contains(list, id) {
			return list, false
		}
		return append(list, id), true
	}
}

func removeID(id string) func([]string) ([]string, bool) {
	return func(list []string) ([]string, bool) {
		i := slices.Index(list, id)
		if i < 0 {
			return list, false
		}
		return slices.Delete(list, i, i+1), true
	}
}

// AddChannel whitelists a channel. Returns false if it already was.
func (s *Service) AddChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	return s.updateList(ctx, store.Guild(guildID), KeyChannelsWhitelist, addID(channelID))
}

// RemoveChannel removes a channel from the whitelist.
func (s *Service) RemoveChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	return s.updateList(ctx, store.Guild(guildID), KeyChannelsWhitelist, removeID(channelID))
}

func (s *Service) AddWhitelistedRole(ctx context.Context, guildID, roleID string) (bool, error) {
	return s.updateList(ctx, store.Guild(guildID), KeyRolesWhitelist, addID(roleID))
}

func (s *Service) RemoveWhitelistedRole(ctx context.Context, guildID, roleID string) (bool, error) {
	return s.updateList(ctx, store.Guild(guildID), KeyRolesWhitelist, removeID(roleID))
}

func (s *Service) AddWhitelistedMember(ctx context.Context, guildID, userID string) (bool, error) {
	return s.updateList(ctx, store.Guild(guildID), KeyMembersWhitelist, addID(userID))
}

func (s *Service) RemoveWhitelistedMember(ctx context.Context, guildID, userID string) (bool, error) {
	return s.updateList(ctx, store.Guild(guildID), KeyMembersWhitelist, removeID(userID))
}

// OptIn adds userID to the bot-wide opt-in list and removes it from the
// opt-out list. Returns false if the user was already opted in.
func (s *Service) OptIn(ctx context.Context, userID string) (bool, error) {
	if _, err := s.updateList(ctx, store.Global(), KeyOptOut, removeID(userID)); err != nil {
		return false, err
	}
	return s.updateList(ctx, store.Global(), KeyOptIn, addID(userID))
}

// OptOut is the inverse of OptIn.
func (s *Service) OptOut(ctx context.Context, userID string) (bool, error) {
	if _, err := s.updateList(ctx, store.Global(), KeyOptIn, removeID(userID)); err != nil {
		return false, err
	}
	return s.updateList(ctx, store.Global(), KeyOptOut, addID(userID))
}

// SetRateLimitReset persists the rate-limit reset timestamp.
func (s *Service) SetRateLimitReset(ctx context.Context, formatted string) error {
	return s.SetValue(ctx, store.Global(), KeyRateLimitReset, formatted)
}

// ClearMember removes every member-scope setting of userID.
func (s *Service) ClearMember(ctx context.Context, userID string) error {
	n, err := s.store.ClearMember(ctx, userID)
	s.gen.Add(1)
	s.scopes.RemoveFunc(func(sc store.Scope, _ scopeValues) bool {
		return sc.Kind == store.KindMember && sc.TargetID == userID
	})
	if err != nil {
		return fmt.Errorf("clear member settings: %w", err)
	}
	slog.Debug("cleared member settings", "user_id", userID, "keys", n)
	return nil
}

// Guilds lists every guild with stored settings.
func (s *Service) Guilds(ctx context.Context) ([]string, error) {
	scopes, err := s.store.Scopes(ctx, store.KindGuild)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		out = append(out, sc.GuildID)
	}
	return out, nil
}
