package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultLimit bounds queries that do not set Filter.Limit.
const DefaultLimit = 50

// Store is the SQLite checkout history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := context.Background()
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := validateSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Insert records a checkout attempt and returns its row ID.
func (s *Store) Insert(ctx context.Context, r *Record) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO checkouts (event_id, event_kind, backend, path, status, reason, output, started_ns, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.EventID, r.EventKind, r.Backend, r.Path, r.Status, r.Reason, r.Output, r.StartedNs, r.DurationNs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert checkout: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

// Query returns checkout attempts matching f, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Path != "" {
		if f.FoldCase {
			where = append(where, "path = ? COLLATE NOCASE")
		} else {
			where = append(where, "path = ?")
		}
		args = append(args, f.Path)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, f.EventID)
	}
	if !f.Since.IsZero() {
		where = append(where, "started_ns >= ?")
		args = append(args, f.Since.UnixNano())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `
		SELECT id, event_id, event_kind, backend, path, status, reason, output, started_ns, duration_ns
		FROM checkouts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_ns DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkouts: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// StatusCounts returns the number of attempts per status.
func (s *Store) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM checkouts
		GROUP BY status
		ORDER BY status ASC`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// Prune deletes attempts that started before cutoff and returns how many
// rows were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM checkouts WHERE started_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune checkouts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// scanRecords is a helper to scan checkout rows into a slice.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record

	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.EventID, &r.EventKind, &r.Backend, &r.Path, &r.Status, &r.Reason, &r.Output, &r.StartedNs, &r.DurationNs); err != nil {
			return nil, fmt.Errorf("scan checkout: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkouts: %w", err)
	}

	return records, nil
}
