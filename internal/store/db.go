package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout formats timestamps with a fixed-width, zero-padded fractional
// second (unlike time.RFC3339Nano, which trims trailing zeros). Checks and
// catalog rows are ordered by these TEXT columns lexicographically, and a
// variable-width fractional part sorts a whole-second stamp after a
// sub-second one within the same second; the fixed width keeps lexicographic
// and chronological order identical. All stamps are written in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// DB wraps the shared SQLite connection pool and exposes the per-table
// stores built on top of it.
type DB struct {
	conn *sql.DB

	Catalog    *CatalogStore
	Checks     *CheckStore
	Tables     *TablesIndexStore
	Exceptions *ResourceExceptionStore
}

// Open opens (creating if absent) the SQLite database at path and runs the
// schema migration. path follows the sql.Open("sqlite", ...)
// pattern (pure-Go driver, no cgo).
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	db := &DB{conn: conn}
	db.Catalog = &CatalogStore{db: conn}
	db.Checks = &CheckStore{db: conn}
	db.Tables = &TablesIndexStore{db: conn}
	db.Exceptions = &ResourceExceptionStore{db: conn}
	return db, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error { return d.conn.Close() }

// Conn exposes the raw *sql.DB for the table materializer, which needs to
// run per-resource DDL and bulk inserts outside the catalog/check schema.
func (d *DB) Conn() *sql.DB { return d.conn }

const schema = `
CREATE TABLE IF NOT EXISTS catalog (
	resource_id TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL,
	url TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	deleted INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT '',
	harvest_modified_at TEXT,
	last_check_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_catalog_due ON catalog (deleted, status);
CREATE INDEX IF NOT EXISTS idx_catalog_url ON catalog (url);

CREATE TABLE IF NOT EXISTS checks (
	id TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL,
	url TEXT NOT NULL,
	created_at TEXT NOT NULL,
	status INTEGER,
	headers TEXT,
	timeout INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	response_time_ms INTEGER,
	checksum TEXT,
	filesize INTEGER,
	mime_type TEXT,
	parsing_table TEXT,
	parsing_error TEXT,
	parsing_started_at TEXT,
	parsing_finished_at TEXT,
	detected_last_modified_at TEXT,
	detected_last_modified_source TEXT NOT NULL DEFAULT '',
	deleted INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_checks_resource ON checks (resource_id, created_at);
CREATE INDEX IF NOT EXISTS idx_checks_url ON checks (url, created_at);

CREATE TABLE IF NOT EXISTS tables_index (
	resource_id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	csv_detective TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS resources_exceptions (
	resource_id TEXT PRIMARY KEY,
	table_indexes TEXT NOT NULL DEFAULT '{}'
);
`

func migrate(conn *sql.DB) error {
	_, err := conn.Exec(schema)
	return err
}
