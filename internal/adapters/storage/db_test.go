package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"testing"
)

func tableNames(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func TestOpen_InitializesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	got := tableNames(t, db)
	want := []string{"outbox", "record_snapshot"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("tables = %v, want %v", got, want)
	}
	if v, err := CurrentVersion(ctx, db); err != nil || v != SchemaVersion {
		t.Errorf("version = %d, %v", v, err)
	}
}

// Reopening a file keeps its rows.
func TestInitDB_IdempotentOnFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "academy.db")

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO record_snapshot (collection, record_id, status, payload, saved_at) VALUES ('enrollments/mine', 1, 'PENDING', '{}', 'now')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM record_snapshot").Scan(&n); err != nil || n != 1 {
		t.Errorf("rows after reopen = %d, %v", n, err)
	}
}
