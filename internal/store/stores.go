// Package store defines the scoped key/value settings storage the bot reads
// its configuration from. Backends live in sub-packages: file (JSON file or
// in-memory), sqlite (standalone), pg (managed Postgres).
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ScopeKind is a configuration level.
type ScopeKind string

const (
	KindGlobal  ScopeKind = "global"
	KindGuild   ScopeKind = "guild"
	KindChannel ScopeKind = "channel"
	KindRole    ScopeKind = "role"
	KindMember  ScopeKind = "member"
)

// Scope addresses one bag of settings. GuildID is empty for global scope;
// TargetID is the channel, role or user id for the narrower kinds.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	GuildID  string    `json:"guild_id,omitempty"`
	TargetID string    `json:"target_id,omitempty"`
}

func Global() Scope              { return Scope{Kind: KindGlobal} }
func Guild(guildID string) Scope { return Scope{Kind: KindGuild, GuildID: guildID} }
func Channel(guildID, id string) Scope {
	return Scope{Kind: KindChannel, GuildID: guildID, TargetID: id}
}
func Role(guildID, id string) Scope { return Scope{Kind: KindRole, GuildID: guildID, TargetID: id} }
func Member(guildID, userID string) Scope {
	return Scope{Kind: KindMember, GuildID: guildID, TargetID: userID}
}

// String renders the scope as kind[:guild[:target]].
func (s Scope) String() string {
	out := string(s.Kind)
	if s.GuildID != "" {
		out += ":" + s.GuildID
	}
	if s.TargetID != "" {
		out += ":" + s.TargetID
	}
	return out
}

// Validate checks that the ids required by the kind are present.
func (s Scope) Validate() error {
	switch s.Kind {
	case KindGlobal:
		return nil
	case KindGuild:
		if s.GuildID == "" {
			return errors.New("guild scope requires a guild id")
		}
		return nil
	case KindChannel, KindRole, KindMember:
		if s.GuildID == "" || s.TargetID == "" {
			return errors.New(string(s.Kind) + " scope requires guild and target ids")
		}
		return nil
	default:
		return errors.New("unknown scope kind " + string(s.Kind))
	}
}

// Values is every key set in one scope, JSON-encoded.
type Values map[string]json.RawMessage

// SettingsStore is an opaque scoped key/value store. Missing scopes and keys
// are not errors: Load returns an empty map and Get reports ok=false.
type SettingsStore interface {
	Load(ctx context.Context, scope Scope) (Values, error)
	// LoadMany loads several scopes at once. Scopes without keys are absent
	// from the result.
	LoadMany(ctx context.Context, scopes []Scope) (map[Scope]Values, error)
	Get(ctx context.Context, scope Scope, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, scope Scope, key string, value json.RawMessage) error
	Delete(ctx context.Context, scope Scope, key string) error

	// Scopes lists every scope of kind that holds at least one key.
	Scopes(ctx context.Context, kind ScopeKind) ([]Scope, error)

	// ClearMember drops every member scope of userID across all guilds and
	// returns the number of keys removed.
	ClearMember(ctx context.Context, userID string) (int, error)

	Close() error
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Mode        string // "file" (default), "sqlite", "postgres"
	Path        string // file or sqlite path; empty file path = in-memory
	PostgresDSN string
}

// Notifier is implemented by stores that can report changes written by
// other processes.
type Notifier interface {
	// Watch calls onChange after an external change until ctx is done.
	Watch(ctx context.Context, onChange func()) error
}
