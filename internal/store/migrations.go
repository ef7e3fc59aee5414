package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one forward step of the history schema.
type Migration struct {
	Version     int
	Description string
	Up          string
}

// migrations lists every schema step in order. Versions are never reused.
var migrations = []Migration{
	{
		Version:     1,
		Description: "checkouts table",
		Up: `
CREATE TABLE IF NOT EXISTS checkouts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id    TEXT NOT NULL,
    event_kind  TEXT NOT NULL,
    path        TEXT NOT NULL,
    status      TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    started_ns  INTEGER NOT NULL,
    duration_ns INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_checkouts_started ON checkouts(started_ns);
CREATE INDEX IF NOT EXISTS idx_checkouts_path ON checkouts(path, started_ns);
CREATE INDEX IF NOT EXISTS idx_checkouts_event ON checkouts(event_id);
`,
	},
	{
		Version:     2,
		Description: "backend name and captured output",
		Up: `
ALTER TABLE checkouts ADD COLUMN backend TEXT NOT NULL DEFAULT '';
ALTER TABLE checkouts ADD COLUMN output TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_checkouts_status ON checkouts(status);
`,
	},
	{
		Version:     3,
		Description: "case-insensitive path index",
		Up: `
CREATE INDEX IF NOT EXISTS idx_checkouts_path_nocase ON checkouts(path COLLATE NOCASE, started_ns);
`,
	},
}

// requiredTables must exist once migrations have run.
var requiredTables = []string{"checkouts", "schema_migrations"}

// LatestVersion is the schema version this build writes.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// migrate brings db up to LatestVersion, one transaction per step.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > LatestVersion() {
		return fmt.Errorf("database schema v%d is newer than supported v%d", current, LatestVersion())
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)`,
		m.Version, time.Now().UnixNano(), m.Description,
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// validateSchema checks that the tables the store queries are present.
func validateSchema(ctx context.Context, db *sql.DB) error {
	for _, table := range requiredTables {
		var n int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&n); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}
	return nil
}

// SchemaStatus describes the applied schema of an open store.
type SchemaStatus struct {
	Version   int       `json:"version" yaml:"version"`
	Latest    int       `json:"latest" yaml:"latest"`
	AppliedAt time.Time `json:"applied_at" yaml:"applied_at"`
}

// Schema reports the applied schema version and when it was applied.
func (s *Store) Schema(ctx context.Context) (SchemaStatus, error) {
	st := SchemaStatus{Latest: LatestVersion()}

	var appliedNs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT version, applied_at FROM schema_migrations
		ORDER BY version DESC LIMIT 1`).Scan(&st.Version, &appliedNs)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read schema status: %w", err)
	}
	if appliedNs.Valid {
		st.AppliedAt = time.Unix(0, appliedNs.Int64)
	}
	return st, nil
}
