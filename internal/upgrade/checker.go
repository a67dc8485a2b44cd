// Package upgrade gates startup on the Postgres schema version.
package upgrade

import (
	"context"
	"database/sql"
	"fmt"
)

// RequiredSchemaVersion is the migration version this binary expects.
// Bump it together with a new file in migrations/.
const RequiredSchemaVersion uint = 1

// SchemaStatus represents the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// CheckSchema queries the schema_migrations table written by
// golang-migrate and compares it against RequiredSchemaVersion.
func CheckSchema(ctx context.Context, db *sql.DB) (*SchemaStatus, error) {
	var version uint
	var dirty bool

	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("query schema version: %w", ctxErr)
		}
		// No rows, or the table does not exist yet (fresh DB).
		return &SchemaStatus{
			RequiredVersion: RequiredSchemaVersion,
			NeedsMigration:  true,
		}, nil
	}

	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s, nil
	}
	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Err converts a non-compatible status into an error with a fix hint.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Compatible:
		return nil
	case s.Dirty:
		return fmt.Errorf("database schema is dirty at version %d (a migration failed partway); fix with `aibot migrate force %d` then `aibot migrate up`",
			s.CurrentVersion, prevVersion(s.CurrentVersion))
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Errorf("database schema v%d is newer than this binary (requires v%d); upgrade aibot",
			s.CurrentVersion, s.RequiredVersion)
	default:
		return fmt.Errorf("database schema is outdated: current v%d, required v%d; run `aibot migrate up` or set AIBOT_AUTO_MIGRATE=true",
			s.CurrentVersion, s.RequiredVersion)
	}
}

func prevVersion(v uint) uint {
	if v == 0 {
		return 0
	}
	return v - 1
}
