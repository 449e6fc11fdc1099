package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SchemaVersion is stored in PRAGMA user_version after InitDB.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS record_snapshot (
	collection TEXT NOT NULL,
	record_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL,
	saved_at TEXT NOT NULL,
	PRIMARY KEY (collection, record_id)
);

CREATE TABLE IF NOT EXISTS outbox (
	id TEXT PRIMARY KEY,
	action_type TEXT NOT NULL,
	dedupe_key TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 5,
	last_attempted_at TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox (status, created_at);
CREATE INDEX IF NOT EXISTS idx_outbox_dedupe ON outbox (action_type, dedupe_key);
`

// Open opens the SQLite database at path with WAL, a busy timeout and
// foreign keys, then initializes the schema.
// PRE: path is a file path or ":memory:"
// POST: Returns a reachable, initialized database
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitDB creates the tables and records the schema version.
// PRE: db is a valid database connection
// POST: All tables exist and user_version equals SchemaVersion
func InitDB(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// CurrentVersion reads PRAGMA user_version.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}
