// Package store owns the on-disk index. The daemon holds the only
// read-write handle; clients and the status command open read-only
// handles against the same file and rely on WAL for concurrency.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/novik133/novasearch/internal/apperr"
)

// schemaVersion is the version this build writes. Version 1 predates
// usage tracking; opening a v1 index migrates it forward.
const schemaVersion = 2

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 1600 * time.Millisecond
	retryAttempts  = 5
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	filename      TEXT NOT NULL,
	path          TEXT NOT NULL UNIQUE,
	size          INTEGER NOT NULL,
	modified_time INTEGER NOT NULL,
	file_type     TEXT NOT NULL,
	indexed_time  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_stats (
	file_id       INTEGER PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE,
	launch_count  INTEGER NOT NULL DEFAULT 0,
	last_launched INTEGER
);

CREATE TABLE IF NOT EXISTS desktop_entries (
	file_id      INTEGER PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE,
	name         TEXT NOT NULL DEFAULT '',
	generic_name TEXT NOT NULL DEFAULT '',
	comment      TEXT NOT NULL DEFAULT '',
	exec         TEXT NOT NULL DEFAULT '',
	icon         TEXT NOT NULL DEFAULT '',
	no_display   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_filename ON files(filename COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_path ON files(path COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_modified_time ON files(modified_time);
CREATE INDEX IF NOT EXISTS idx_usage_launch_count ON usage_stats(launch_count DESC);
`

// Store wraps the read-write database handle.
type Store struct {
	conn *sql.DB
}

// ReadStore wraps a read-only database handle.
type ReadStore struct {
	conn *sql.DB
}

// OpenReadWrite opens (or creates) the index, applies pragmas, and
// migrates the schema forward. An index written by a newer build fails
// with apperr.ErrSchemaTooNew; an unreadable file with apperr.ErrCorrupt.
func OpenReadWrite(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3",
		path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// The write handle is a single connection: the daemon is the sole
	// writer and SQLite serializes writers anyway.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", classify(err))
	}

	s := &Store{conn: conn}
	if err := s.initialize(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens the index without write access. A missing file is
// apperr.ErrNotAvailable (the daemon has not produced an index yet);
// busy or locked is retried with exponential backoff.
func OpenReadOnly(path string) (*ReadStore, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("store: %s: %w", path, apperr.ErrNotAvailable)
	}

	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=0")
	if err != nil {
		return nil, fmt.Errorf("store: open read-only %s: %w", path, err)
	}

	if err := withRetry(func() error { return conn.Ping() }); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: open read-only %s: %w", path, classify(err))
	}
	return &ReadStore{conn: conn}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

// Close closes the underlying connection.
func (r *ReadStore) Close() error { return r.conn.Close() }

// initialize creates a fresh schema or migrates an existing one.
func (s *Store) initialize() error {
	current, err := s.currentVersion()
	if err != nil {
		return err
	}

	switch {
	case current == 0:
		if _, err := s.conn.Exec(createSchemaSQL); err != nil {
			return fmt.Errorf("store: create schema: %w", classify(err))
		}
		return s.SetMetadata("schema_version", strconv.Itoa(schemaVersion))
	case current > schemaVersion:
		return fmt.Errorf("store: index has schema v%d, this build supports up to v%d: %w",
			current, schemaVersion, apperr.ErrSchemaTooNew)
	case current < schemaVersion:
		return s.migrate(current)
	default:
		return nil
	}
}

// currentVersion reads metadata.schema_version; 0 means a fresh file.
func (s *Store) currentVersion() (int, error) {
	var n int
	err := s.conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='metadata'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", classify(err))
	}
	if n == 0 {
		return 0, nil
	}
	var v string
	err = s.conn.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", classify(err))
	}
	ver, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("store: schema version %q: %w", v, apperr.ErrCorrupt)
	}
	return ver, nil
}

// migrate applies forward-only migrations from version from up to the
// current schemaVersion.
func (s *Store) migrate(from int) error {
	for v := from; v < schemaVersion; v++ {
		switch v {
		case 1:
			if err := s.migrateV1ToV2(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("store: no migration path from schema v%d: %w", v, apperr.ErrCorrupt)
		}
	}
	return s.SetMetadata("schema_version", strconv.Itoa(schemaVersion))
}

// migrateV1ToV2 adds the usage-tracking and desktop-entry tables.
func (s *Store) migrateV1ToV2() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS usage_stats (
	file_id       INTEGER PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE,
	launch_count  INTEGER NOT NULL DEFAULT 0,
	last_launched INTEGER
);
CREATE TABLE IF NOT EXISTS desktop_entries (
	file_id      INTEGER PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE,
	name         TEXT NOT NULL DEFAULT '',
	generic_name TEXT NOT NULL DEFAULT '',
	comment      TEXT NOT NULL DEFAULT '',
	exec         TEXT NOT NULL DEFAULT '',
	icon         TEXT NOT NULL DEFAULT '',
	no_display   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_usage_launch_count ON usage_stats(launch_count DESC);
`
	if _, err := s.conn.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate v1 to v2: %w", classify(err))
	}
	return nil
}

// SetMetadata upserts one metadata key.
func (s *Store) SetMetadata(key, value string) error {
	return withRetry(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	})
}

// Metadata reads one metadata key; missing keys return "".
func (s *Store) Metadata(key string) (string, error) {
	var v string
	err := s.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: metadata %s: %w", key, classify(err))
	}
	return v, nil
}

// StampFullScan records the completion time of a full scan.
func (s *Store) StampFullScan(t time.Time) error {
	return s.SetMetadata("last_full_scan", t.UTC().Format(time.RFC3339))
}

// CountFiles returns the number of indexed rows.
func (s *Store) CountFiles() (int64, error) { return countFiles(s.conn) }

// CountFiles returns the number of indexed rows.
func (r *ReadStore) CountFiles() (int64, error) { return countFiles(r.conn) }

func countFiles(conn *sql.DB) (int64, error) {
	var n int64
	if err := conn.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count files: %w", classify(err))
	}
	return n, nil
}

// retryable reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func retryable(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// classify maps driver corruption codes onto apperr sentinels so callers
// can distinguish fatal states without importing the driver.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.Code == sqlite3.ErrCorrupt || se.Code == sqlite3.ErrNotADB {
			return fmt.Errorf("%v: %w", err, apperr.ErrCorrupt)
		}
	}
	return err
}

// withRetry runs op, retrying busy/locked with exponential backoff
// (100 ms doubling, capped at 1.6 s, five attempts).
func withRetry(op func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = op()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt < retryAttempts-1 {
			time.Sleep(delay)
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}
	}
	return err
}
