// Package store is the durable local cache: conversation lists, per-
// conversation message history, unread counters, the offline outbox, and
// last-connection timestamps. Everything the UI reloads verbatim at startup
// lives here, in one SQLite file under the profile's data dir.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite cache database.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the cache database in the given directory.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "cache.db")

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL so a crash mid-write never loses committed queue state
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			key           TEXT PRIMARY KEY,
			kind          TEXT NOT NULL DEFAULT 'direct',
			role          TEXT DEFAULT '',
			unread        INTEGER DEFAULT 0,
			last_activity INTEGER DEFAULT 0
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create conversations table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation TEXT NOT NULL,
			server_id    TEXT DEFAULT '',
			local_id     TEXT DEFAULT '',
			sender       TEXT NOT NULL,
			receiver     TEXT DEFAULT '',
			group_name   TEXT DEFAULT '',
			content      TEXT DEFAULT '',
			media_url    TEXT DEFAULT '',
			filename     TEXT DEFAULT '',
			mimetype     TEXT DEFAULT '',
			is_own       INTEGER DEFAULT 0,
			is_media     INTEGER DEFAULT 0,
			ts           INTEGER DEFAULT 0,
			display_time TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation, seq);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS outbox (
			id           TEXT PRIMARY KEY,
			conversation TEXT NOT NULL,
			sender       TEXT NOT NULL,
			receiver     TEXT DEFAULT '',
			group_name   TEXT DEFAULT '',
			text         TEXT NOT NULL,
			mode         TEXT NOT NULL,
			enqueued_at  INTEGER NOT NULL,
			retries      INTEGER DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'pending'
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create outbox table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS last_seen (
			peer TEXT PRIMARY KEY,
			ts   INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create last_seen table: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// Wipe deletes all cached state. Used on logout.
func (d *DB) Wipe() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, table := range []string{"conversations", "messages", "outbox", "last_seen", "_meta"} {
		if _, err := d.db.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	return nil
}

// GetMeta returns a metadata value, or "" if unset.
func (d *DB) GetMeta(key string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var v string
	if err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = ?`, key).Scan(&v); err != nil {
		return ""
	}
	return v
}

// SetMeta stores a metadata value.
func (d *DB) SetMeta(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO _meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// SetLastSeen records the last connection timestamp (unix millis) for a peer.
func (d *DB) SetLastSeen(peer string, ts int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO last_seen (peer, ts) VALUES (?, ?)
		ON CONFLICT(peer) DO UPDATE SET ts = excluded.ts`, peer, ts)
	return err
}

// GetLastSeen returns the last connection timestamp for a peer, or false if unknown.
func (d *DB) GetLastSeen(peer string) (int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ts int64
	if err := d.db.QueryRow(`SELECT ts FROM last_seen WHERE peer = ?`, peer).Scan(&ts); err != nil {
		return 0, false
	}
	return ts, true
}
