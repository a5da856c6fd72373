package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	-- Session slots (worker/admin identity, active route, mailboxes)
	CREATE TABLE IF NOT EXISTS session_slots (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Last state snapshot for instant paint
	CREATE TABLE IF NOT EXISTS state_cache (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload BLOB NOT NULL,
		server_time TEXT,
		fetched_at DATETIME NOT NULL
	);

	-- Every QR scan handled by this client
	CREATE TABLE IF NOT EXISTS scan_journal (
		id TEXT PRIMARY KEY,
		raw TEXT NOT NULL,
		kind TEXT,
		worker TEXT,
		route_id TEXT,
		outcome TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_scan_journal_created ON scan_journal(created_at);
	CREATE INDEX IF NOT EXISTS idx_scan_journal_route ON scan_journal(route_id);

	-- Highest stop index seen per route
	CREATE TABLE IF NOT EXISTS route_progress (
		route_id TEXT PRIMARY KEY,
		stop_idx INTEGER NOT NULL,
		status TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// --- Session Slot Operations ---

// GetSlot returns the stored value for key
func (db *DB) GetSlot(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM session_slots WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSlot inserts or replaces the value for key
func (db *DB) SetSlot(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO session_slots (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query, key, value, time.Now())
	return err
}

// DeleteSlot removes key
func (db *DB) DeleteSlot(ctx context.Context, key string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM session_slots WHERE key = ?", key)
	return err
}

// TakeSlot reads and removes key in one transaction
func (db *DB) TakeSlot(ctx context.Context, key string) (string, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	var value string
	err = tx.QueryRowContext(ctx, "SELECT value FROM session_slots WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM session_slots WHERE key = ?", key); err != nil {
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return value, true, nil
}

// ListSlots returns all stored slots ordered by key
func (db *DB) ListSlots(ctx context.Context) ([]*Slot, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT key, value, updated_at FROM session_slots ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []*Slot
	for rows.Next() {
		s := &Slot{}
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// --- State Cache Operations ---

// SaveSnapshot replaces the cached state
func (db *DB) SaveSnapshot(ctx context.Context, snap *CachedSnapshot) error {
	query := `
		INSERT INTO state_cache (id, payload, server_time, fetched_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			server_time = excluded.server_time,
			fetched_at = excluded.fetched_at
	`
	_, err := db.conn.ExecContext(ctx, query, snap.Payload, snap.ServerTime, snap.FetchedAt)
	return err
}

// LoadSnapshot returns the cached state, or nil when nothing is cached
func (db *DB) LoadSnapshot(ctx context.Context) (*CachedSnapshot, error) {
	snap := &CachedSnapshot{}
	var serverTime sql.NullString
	err := db.conn.QueryRowContext(ctx,
		"SELECT payload, server_time, fetched_at FROM state_cache WHERE id = 1").
		Scan(&snap.Payload, &serverTime, &snap.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.ServerTime = serverTime.String
	return snap, nil
}

// ClearSnapshot drops the cached state
func (db *DB) ClearSnapshot(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM state_cache")
	return err
}

// --- Scan Journal Operations ---

// InsertScan appends a journal entry
func (db *DB) InsertScan(ctx context.Context, e *ScanEntry) error {
	query := `INSERT INTO scan_journal
		(id, raw, kind, worker, route_id, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query, e.ID, e.Raw, e.Kind, e.Worker, e.RouteID,
		string(e.Outcome), e.Detail, e.CreatedAt)
	return err
}

// RecentScans returns the newest journal entries first
func (db *DB) RecentScans(ctx context.Context, limit int) ([]*ScanEntry, error) {
	query := `SELECT id, raw, kind, worker, route_id, outcome, detail, created_at
		FROM scan_journal ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ScanEntry
	for rows.Next() {
		e := &ScanEntry{}
		var kind, worker, routeID, detail sql.NullString
		var outcome string
		if err := rows.Scan(&e.ID, &e.Raw, &kind, &worker, &routeID, &outcome, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = kind.String
		e.Worker = worker.String
		e.RouteID = routeID.String
		e.Detail = detail.String
		e.Outcome = ScanOutcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Route Progress Operations ---

// GetRouteProgress returns the recorded progress for a route
func (db *DB) GetRouteProgress(ctx context.Context, routeID string) (*RouteProgress, error) {
	p := &RouteProgress{}
	err := db.conn.QueryRowContext(ctx,
		"SELECT route_id, stop_idx, status, updated_at FROM route_progress WHERE route_id = ?", routeID).
		Scan(&p.RouteID, &p.StopIdx, &p.Status, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AdvanceRouteProgress stores the stop index unless a higher one is already
// recorded. It returns the index that was stored before the call, or -1.
func (db *DB) AdvanceRouteProgress(ctx context.Context, routeID string, stopIdx int, status string) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return -1, err
	}
	defer tx.Rollback()

	prev := -1
	err = tx.QueryRowContext(ctx, "SELECT stop_idx FROM route_progress WHERE route_id = ?", routeID).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return -1, err
	}
	if stopIdx < prev {
		return prev, nil
	}

	query := `
		INSERT INTO route_progress (route_id, stop_idx, status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(route_id) DO UPDATE SET
			stop_idx = excluded.stop_idx,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, routeID, stopIdx, status, time.Now()); err != nil {
		return -1, err
	}
	return prev, tx.Commit()
}

// PruneRouteProgress removes progress rows not updated since cutoff
func (db *DB) PruneRouteProgress(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM route_progress WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
