// Package pg implements store.SettingsStore on Postgres.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/aibot/internal/store"
)

// SettingsStore implements store.SettingsStore backed by the bot_settings
// table.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Load(ctx context.Context, scope store.Scope) (store.Values, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM bot_settings
		 WHERE scope = $1 AND guild_id = $2 AND target_id = $3`,
		string(scope.Kind), scope.GuildID, scope.TargetID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", scope, err)
	}
	defer rows.Close()

	out := make(store.Values)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", scope, err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// LoadMany fetches all requested scopes in one round trip by joining against
// three parallel arrays.
func (s *SettingsStore) LoadMany(ctx context.Context, scopes []store.Scope) (map[store.Scope]store.Values, error) {
	out := make(map[store.Scope]store.Values, len(scopes))
	if len(scopes) == 0 {
		return out, nil
	}

	kinds := make([]string, len(scopes))
	guilds := make([]string, len(scopes))
	targets := make([]string, len(scopes))
	for i, sc := range scopes {
		kinds[i] = string(sc.Kind)
		guilds[i] = sc.GuildID
		targets[i] = sc.TargetID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT b.scope, b.guild_id, b.target_id, b.key, b.value
		 FROM bot_settings b
		 JOIN unnest($1::text[], $2::text[], $3::text[]) AS q(scope, guild_id, target_id)
		   ON b.scope = q.scope AND b.guild_id = q.guild_id AND b.target_id = q.target_id`,
		pq.Array(kinds), pq.Array(guilds), pq.Array(targets))
	if err != nil {
		return nil, fmt.Errorf("load scopes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, key string
			value     []byte
			sc        store.Scope
		)
		if err := rows.Scan(&kind, &sc.GuildID, &sc.TargetID, &key, &value); err != nil {
			return nil, fmt.Errorf("scan scopes: %w", err)
		}
		sc.Kind = store.ScopeKind(kind)
		vals, ok := out[sc]
		if !ok {
			vals = make(store.Values)
			out[sc] = vals
		}
		vals[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

func (s *SettingsStore) Get(ctx context.Context, scope store.Scope, key string) (json.RawMessage, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM bot_settings
		 WHERE scope = $1 AND guild_id = $2 AND target_id = $3 AND key = $4`,
		string(scope.Kind), scope.GuildID, scope.TargetID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", scope, key, err)
	}
	return json.RawMessage(value), true, nil
}

func (s *SettingsStore) Set(ctx context.Context, scope store.Scope, key string, value json.RawMessage) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("set %s/%s: value is not valid JSON", scope, key)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_settings (scope, guild_id, target_id, key, value, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (scope, guild_id, target_id, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		string(scope.Kind), scope.GuildID, scope.TargetID, key, []byte(value))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *SettingsStore) Delete(ctx context.Context, scope store.Scope, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bot_settings
		 WHERE scope = $1 AND guild_id = $2 AND target_id = $3 AND key = $4`,
		string(scope.Kind), scope.GuildID, scope.TargetID, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *SettingsStore) Scopes(ctx context.Context, kind store.ScopeKind) ([]store.Scope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT guild_id, target_id FROM bot_settings
		 WHERE scope = $1 ORDER BY guild_id, target_id`,
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s scopes: %w", kind, err)
	}
	defer rows.Close()

	var out []store.Scope
	for rows.Next() {
		sc := store.Scope{Kind: kind}
		if err := rows.Scan(&sc.GuildID, &sc.TargetID); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SettingsStore) ClearMember(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bot_settings WHERE scope = $1 AND target_id = $2`,
		string(store.KindMember), userID)
	if err != nil {
		return 0, fmt.Errorf("clear member %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SettingsStore) Close() error { return s.db.Close() }
