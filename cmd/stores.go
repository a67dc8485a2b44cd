package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"

	"github.com/nextlevelbuilder/aibot/internal/config"
	"github.com/nextlevelbuilder/aibot/internal/store"
	"github.com/nextlevelbuilder/aibot/internal/store/file"
	"github.com/nextlevelbuilder/aibot/internal/store/pg"
	"github.com/nextlevelbuilder/aibot/internal/store/sqlite"
	"github.com/nextlevelbuilder/aibot/internal/upgrade"
)

// openSettingsStore opens the backend selected by database.mode.
func openSettingsStore(ctx context.Context, cfg *config.Config) (store.SettingsStore, error) {
	sc := cfg.StoreConfig()
	switch sc.Mode {
	case "postgres":
		if err := checkSchemaOrAutoMigrate(ctx, sc.PostgresDSN); err != nil {
			return nil, err
		}
		st, err := pg.NewPGSettingsStore(sc)
		if err != nil {
			return nil, err
		}
		slog.Info("settings store opened", "mode", sc.Mode)
		return st, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		st, err := sqlite.New(ctx, sc.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("settings store opened", "mode", sc.Mode, "path", sc.Path)
		return st, nil
	default:
		st, err := file.NewSettingsStore(sc.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("settings store opened", "mode", "file", "path", sc.Path)
		return st, nil
	}
}

// checkSchemaOrAutoMigrate gates startup on schema compatibility.
// If AIBOT_AUTO_MIGRATE=true and the schema is outdated, migrations run inline.
func checkSchemaOrAutoMigrate(ctx context.Context, dsn string) error {
	if dsn == "" {
		return fmt.Errorf("postgres mode requires AIBOT_POSTGRES_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("schema check: connect: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("schema check: ping: %w", err)
	}

	s, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	if s.Compatible {
		slog.Info("schema check passed", "current", s.CurrentVersion, "required", s.RequiredVersion)
		return nil
	}
	if !s.NeedsMigration || os.Getenv("AIBOT_AUTO_MIGRATE") != "true" {
		return s.Err()
	}

	slog.Info("auto-migrate: applying migrations", "from", s.CurrentVersion, "to", s.RequiredVersion)
	m, err := newMigrator(dsn)
	if err != nil {
		return fmt.Errorf("auto-migrate: create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("auto-migrate: migrate up: %w", err)
	}
	v, _, _ := m.Version()
	slog.Info("auto-migrate complete", "version", v)
	return nil
}
