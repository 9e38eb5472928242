// Package optstore provides persistent storage for per-track option overrides using SQLite.
package optstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deltabar-tiles/server/internal/deltabar"
)

// Record is the stored option override of one track.
type Record struct {
	TrackID   string           `json:"track_id"`
	Options   deltabar.Options `json:"options"`
	Revision  int64            `json:"revision"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Store provides persistent storage for track options using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based option store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS track_options (
		track_id TEXT PRIMARY KEY,
		options_json TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get retrieves the override of a track. It returns nil, nil when none is stored.
func (s *Store) Get(trackID string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT track_id, options_json, revision, updated_at
		FROM track_options WHERE track_id = ?
	`, trackID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put stores the options of a track, bumping its revision, and returns the stored record.
func (s *Store) Put(trackID string, opts deltabar.Options) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(`
		INSERT INTO track_options (track_id, options_json, revision, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			options_json = excluded.options_json,
			revision = track_options.revision + 1,
			updated_at = excluded.updated_at
	`, trackID, string(optsJSON), now)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(`
		SELECT track_id, options_json, revision, updated_at
		FROM track_options WHERE track_id = ?
	`, trackID)
	return scanRecord(row)
}

// Delete removes the override of a track. Deleting a missing track is not an error.
func (s *Store) Delete(trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM track_options WHERE track_id = ?", trackID)
	return err
}

// List returns every stored override ordered by track id.
func (s *Store) List() ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT track_id, options_json, revision, updated_at
		FROM track_options ORDER BY track_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var optsJSON, updatedAtStr string
	if err := row.Scan(&rec.TrackID, &optsJSON, &rec.Revision, &updatedAtStr); err != nil {
		return nil, err
	}

	// Stored options decode on top of the defaults so absent fields keep them.
	rec.Options = deltabar.DefaultOptions()
	if err := json.Unmarshal([]byte(optsJSON), &rec.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return &rec, nil
}
