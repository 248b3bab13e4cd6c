// Package sqlite implements ports.SnapshotStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/labrun/pkg/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	run_id TEXT PRIMARY KEY,
	protocol TEXT NOT NULL DEFAULT '',
	snapshot_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// Store keeps one row per run.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. The special path ":memory:"
// opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize snapshot db: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, runID string, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, protocol, snapshot_json, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		 protocol = excluded.protocol,
		 snapshot_json = excluded.snapshot_json,
		 updated_at = excluded.updated_at`,
		runID,
		snap.Protocol,
		string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", runID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, runID string) (*domain.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM snapshots WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("query snapshot %q: %w", runID, err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %q: %w", runID, err)
	}
	return &snap, nil
}

func (s *Store) Delete(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", runID, err)
	}
	return nil
}

// List returns run IDs, most recently updated first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM snapshots ORDER BY updated_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return ids, nil
}
