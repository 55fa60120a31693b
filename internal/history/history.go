// Package history keeps a local SQLite copy of flushed records fetched
// from the remote service, so the history view works offline, plus the
// flush journal recording every flush attempt's state transitions.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"token-tally/internal/flush"
	"token-tally/internal/model"
)

// FilePath returns the history database path inside the data dir.
func FilePath(base string) string {
	return filepath.Join(base, "history.db")
}

// DB wraps the history database.
type DB struct {
	conn *sql.DB
}

// Open opens (and migrates) the history database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging history db: %w", err)
	}
	d := &DB{conn: conn}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating history db: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY,
			date TEXT NOT NULL,
			time_slot TEXT NOT NULL,
			entries TEXT NOT NULL,
			counts TEXT NOT NULL,
			saved_at TEXT,
			fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_date ON records(date)`,
		`CREATE TABLE IF NOT EXISTS flush_attempts (
			id TEXT PRIMARY KEY,
			slot_key TEXT NOT NULL,
			entry_count INTEGER NOT NULL,
			total_quantity INTEGER NOT NULL,
			state TEXT NOT NULL,
			detail TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, q := range queries {
		if _, err := d.conn.Exec(q); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.conn.Close()
}

// UpsertRecords stores fetched remote records, replacing stale copies.
func (d *DB) UpsertRecords(recs []model.Record) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO records (id, date, time_slot, entries, counts, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			time_slot = excluded.time_slot,
			entries = excluded.entries,
			counts = excluded.counts,
			saved_at = excluded.saved_at,
			fetched_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		entries, err := json.Marshal(r.Entries)
		if err != nil {
			return fmt.Errorf("marshalling entries: %w", err)
		}
		counts, err := json.Marshal(r.Counts)
		if err != nil {
			return fmt.Errorf("marshalling counts: %w", err)
		}
		if _, err := stmt.Exec(r.ID, r.Date, r.TimeSlot, string(entries), string(counts), r.SavedAt); err != nil {
			return fmt.Errorf("upserting record %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Records returns cached records, newest first, with optional date-range
// and slot filters. Empty filter strings match everything.
func (d *DB) Records(startDate, endDate, slot string, limit int) ([]model.Record, error) {
	query := `SELECT id, date, time_slot, entries, counts, COALESCE(saved_at, '') FROM records WHERE 1=1`
	var args []any
	if startDate != "" {
		query += ` AND date >= ?`
		args = append(args, startDate)
	}
	if endDate != "" {
		query += ` AND date <= ?`
		args = append(args, endDate)
	}
	if slot != "" {
		query += ` AND time_slot = ?`
		args = append(args, slot)
	}
	query += ` ORDER BY date DESC, time_slot DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var r model.Record
		var entries, counts string
		if err := rows.Scan(&r.ID, &r.Date, &r.TimeSlot, &entries, &counts, &r.SavedAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(entries), &r.Entries); err != nil {
			return nil, fmt.Errorf("decoding cached entries: %w", err)
		}
		if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
			return nil, fmt.Errorf("decoding cached counts: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Begin records a new flush attempt in the pending state.
func (d *DB) Begin(attemptID, slotKey string, entryCount, totalQuantity int) error {
	_, err := d.conn.Exec(
		`INSERT INTO flush_attempts (id, slot_key, entry_count, total_quantity, state) VALUES (?, ?, ?, ?, ?)`,
		attemptID, slotKey, entryCount, totalQuantity, string(flush.StatePending))
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// Transition advances a flush attempt's state.
func (d *DB) Transition(attemptID string, state flush.State, detail string) error {
	_, err := d.conn.Exec(
		`UPDATE flush_attempts SET state = ?, detail = ?, updated_at = ? WHERE id = ?`,
		string(state), detail, time.Now().UTC().Format(time.RFC3339), attemptID)
	if err != nil {
		return fmt.Errorf("updating attempt: %w", err)
	}
	return nil
}

// Attempt is one row of the flush journal.
type Attempt struct {
	ID            string
	SlotKey       string
	EntryCount    int
	TotalQuantity int
	State         flush.State
	Detail        string
}

// Attempts returns the most recent flush attempts, newest first.
func (d *DB) Attempts(limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(
		`SELECT id, slot_key, entry_count, total_quantity, state, detail
		 FROM flush_attempts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var state string
		if err := rows.Scan(&a.ID, &a.SlotKey, &a.EntryCount, &a.TotalQuantity, &state, &a.Detail); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.State = flush.State(state)
		out = append(out, a)
	}
	return out, rows.Err()
}
