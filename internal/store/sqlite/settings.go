// Package sqlite implements store.SettingsStore on an embedded SQLite file
// for standalone deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/aibot/internal/store"
)

type SettingsStore struct {
	db *sql.DB
}

// New opens the database at path and creates the schema if missing.
func New(ctx context.Context, path string) (*SettingsStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	s := &SettingsStore{db: db}
	if err := s.AutoMigrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SettingsStore) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bot_settings (
			scope TEXT NOT NULL,
			guild_id TEXT NOT NULL DEFAULT '',
			target_id TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (scope, guild_id, target_id, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_settings_target ON bot_settings(scope, target_id);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate sqlite settings: %w", err)
		}
	}
	return nil
}

func (s *SettingsStore) Load(ctx context.Context, scope store.Scope) (store.Values, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM bot_settings WHERE scope = ? AND guild_id = ? AND target_id = ?`,
		string(scope.Kind), scope.GuildID, scope.TargetID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", scope, err)
	}
	defer rows.Close()

	out := make(store.Values)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", scope, err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

func (s *SettingsStore) LoadMany(ctx context.Context, scopes []store.Scope) (map[store.Scope]store.Values, error) {
	out := make(map[store.Scope]store.Values, len(scopes))
	for _, sc := range scopes {
		vals, err := s.Load(ctx, sc)
		if err != nil {
			return nil, err
		}
		if len(vals) > 0 {
			out[sc] = vals
		}
	}
	return out, nil
}

func (s *SettingsStore) Get(ctx context.Context, scope store.Scope, key string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM bot_settings WHERE scope = ? AND guild_id = ? AND target_id = ? AND key = ?`,
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
		 VALUES (?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT (scope, guild_id, target_id, key)
		 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		string(scope.Kind), scope.GuildID, scope.TargetID, key, string(value))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *SettingsStore) Delete(ctx context.Context, scope store.Scope, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bot_settings WHERE scope = ? AND guild_id = ? AND target_id = ? AND key = ?`,
		string(scope.Kind), scope.GuildID, scope.TargetID, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *SettingsStore) Scopes(ctx context.Context, kind store.ScopeKind) ([]store.Scope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT guild_id, target_id FROM bot_settings WHERE scope = ? ORDER BY guild_id, target_id`,
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
		`DELETE FROM bot_settings WHERE scope = ? AND target_id = ?`,
		string(store.KindMember), userID)
	if err != nil {
		return 0, fmt.Errorf("clear member %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SettingsStore) Close() error { return s.db.Close() }
