// Package store implements the session store of spec §4's component
// table (L): save/restore of supervisor snapshots. The core only ever
// reads and writes an opaque JSON blob — this package never interprets
// the snapshot's contents.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists opaque supervisor snapshots to a local sqlite file.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the session store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_snapshots (
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			snapshot_json TEXT NOT NULL,
			saved_at_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, symbol)
		)
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save upserts the opaque snapshot for (runID, symbol).
func (s *Store) Save(runID, symbol string, snapshot any) error {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO session_snapshots (run_id, symbol, snapshot_json, saved_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, symbol) DO UPDATE SET
			snapshot_json = excluded.snapshot_json,
			saved_at_ms = excluded.saved_at_ms
	`, runID, symbol, string(blob), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}

// Restore loads the opaque snapshot for (runID, symbol) into out. It
// returns (false, nil) if no snapshot exists yet.
func (s *Store) Restore(runID, symbol string, out any) (bool, error) {
	var blob string
	err := s.db.QueryRow(`
		SELECT snapshot_json FROM session_snapshots WHERE run_id = ? AND symbol = ?
	`, runID, symbol).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: restore: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), out); err != nil {
		return false, fmt.Errorf("store: unmarshal snapshot: %w", err)
	}
	return true, nil
}

// Delete removes a persisted snapshot, e.g. after a clean shutdown.
func (s *Store) Delete(runID, symbol string) error {
	_, err := s.db.Exec(`DELETE FROM session_snapshots WHERE run_id = ? AND symbol = ?`, runID, symbol)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
