package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs migrations. A
// non-positive busyTimeoutMs falls back to five seconds.
func Open(path string, busyTimeoutMs int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	if busyTimeoutMs <= 0 {
		busyTimeoutMs = 5000
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
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

// RecordBatch atomically writes a batch row and its history entries.
// Entry AppliedAt and BatchID fields are filled in from the batch.
func (s *Store) RecordBatch(b *Batch, entries []HistoryEntry) error {
	if b.AppliedAt == 0 {
		b.AppliedAt = time.Now().UnixNano()
	}
	b.EntryCount = len(entries)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO batches (batch_id, applied_at, entry_count, fingerprint)
		VALUES (?, ?, ?, ?)`,
		b.BatchID, b.AppliedAt, b.EntryCount, b.Fingerprint,
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO history (batch_id, applied_at, address, old_value, new_value)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var old any
		if e.OldValue != nil {
			old = int64(*e.OldValue)
		}
		if _, err := stmt.Exec(b.BatchID, b.AppliedAt, e.Address, old, e.NewValue); err != nil {
			return fmt.Errorf("insert history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// History returns the most recent entries, newest first.
func (s *Store) History(limit, offset int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, batch_id, applied_at, address, old_value, new_value
		FROM history
		ORDER BY applied_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows)
}

// HistoryForBatch returns the entries of one batch in applied order.
func (s *Store) HistoryForBatch(batchID string) ([]HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, batch_id, applied_at, address, old_value, new_value
		FROM history
		WHERE batch_id = ?
		ORDER BY id ASC`, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query batch history: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows)
}

// Batches returns the most recent batches, newest first.
func (s *Store) Batches(limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT batch_id, applied_at, entry_count, fingerprint
		FROM batches
		ORDER BY applied_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.BatchID, &b.AppliedAt, &b.EntryCount, &b.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}

	return batches, nil
}

// SaveSnapshot stores a named layout, replacing any previous snapshot
// under the same name.
func (s *Store) SaveSnapshot(name, fingerprint string, layout []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (name, created_at, fingerprint, layout)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			created_at = excluded.created_at,
			fingerprint = excluded.fingerprint,
			layout = excluded.layout`,
		name, time.Now().UnixNano(), fingerprint, string(layout),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by name, nil when absent.
func (s *Store) GetSnapshot(name string) (*LayoutSnapshot, error) {
	var snap LayoutSnapshot
	var layout string

	err := s.db.QueryRow(`
		SELECT id, name, created_at, fingerprint, layout
		FROM snapshots WHERE name = ?`, name,
	).Scan(&snap.ID, &snap.Name, &snap.CreatedAt, &snap.Fingerprint, &layout)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	snap.Layout = []byte(layout)
	return &snap, nil
}

// ListSnapshots returns snapshot metadata, newest first. Layout bodies
// are not loaded.
func (s *Store) ListSnapshots() ([]LayoutSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, name, created_at, fingerprint
		FROM snapshots
		ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []LayoutSnapshot
	for rows.Next() {
		var snap LayoutSnapshot
		if err := rows.Scan(&snap.ID, &snap.Name, &snap.CreatedAt, &snap.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	return snaps, nil
}

// DeleteSnapshot removes a named snapshot.
func (s *Store) DeleteSnapshot(name string) error {
	result, err := s.db.Exec(`DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot not found: %s", name)
	}
	return nil
}

func scanHistory(rows *sql.Rows) ([]HistoryEntry, error) {
	var entries []HistoryEntry

	for rows.Next() {
		var e HistoryEntry
		var old sql.NullInt64

		if err := rows.Scan(&e.ID, &e.BatchID, &e.AppliedAt, &e.Address, &old, &e.NewValue); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if old.Valid {
			v := uint16(old.Int64)
			e.OldValue = &v
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return entries, nil
}
