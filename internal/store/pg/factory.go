package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/aibot/internal/store"
)

// OpenDB opens a pooled Postgres connection through the pgx stdlib driver
// and verifies it with a ping.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPGSettingsStore opens the managed-mode settings store. The schema is
// owned by the migrations directory (see `aibot migrate up`).
func NewPGSettingsStore(cfg store.StoreConfig) (*SettingsStore, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres mode requires AIBOT_POSTGRES_DSN")
	}
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewSettingsStore(db), nil
}
