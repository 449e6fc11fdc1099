package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"academy/internal/adapters/storage"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/refund"
)

// ErrProvisional is returned when a record without a server id is saved.
var ErrProvisional = errors.New("snapshot records must have a server id")

// SQLiteStore implements Store on the record_snapshot table.
type SQLiteStore struct {
	db storage.SQLDB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new snapshot store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type row struct {
	id      int64
	status  string
	payload []byte
}

// SaveEnrollments replaces the enrollment snapshot of collection.
func (s *SQLiteStore) SaveEnrollments(ctx context.Context, collection string, records []enrollment.Enrollment, savedAt time.Time) error {
	rows := make([]row, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		rows = append(rows, row{id: r.ID, status: r.Status, payload: data})
	}
	return s.replace(ctx, collection, rows, savedAt)
}

// LoadEnrollments returns the enrollment snapshot of collection.
func (s *SQLiteStore) LoadEnrollments(ctx context.Context, collection string) ([]enrollment.Enrollment, error) {
	var out []enrollment.Enrollment
	err := s.load(ctx, collection, func(data []byte) error {
		var e enrollment.Enrollment
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// SaveRefunds replaces the refund snapshot of collection.
func (s *SQLiteStore) SaveRefunds(ctx context.Context, collection string, records []refund.Refund, savedAt time.Time) error {
	rows := make([]row, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		rows = append(rows, row{id: r.ID, status: r.Status, payload: data})
	}
	return s.replace(ctx, collection, rows, savedAt)
}

// LoadRefunds returns the refund snapshot of collection.
func (s *SQLiteStore) LoadRefunds(ctx context.Context, collection string) ([]refund.Refund, error) {
	var out []refund.Refund
	err := s.load(ctx, collection, func(data []byte) error {
		var r refund.Refund
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) replace(ctx context.Context, collection string, rows []row, savedAt time.Time) error {
	for _, r := range rows {
		if r.id <= 0 {
			return ErrProvisional
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM record_snapshot WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear snapshot %s: %w", collection, err)
	}
	stamp := savedAt.UTC().Format(time.RFC3339)
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO record_snapshot (collection, record_id, status, payload, saved_at) VALUES (?, ?, ?, ?, ?)`,
			collection, r.id, r.status, string(r.payload), stamp); err != nil {
			return fmt.Errorf("save snapshot %s/%d: %w", collection, r.id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) load(ctx context.Context, collection string, each func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM record_snapshot WHERE collection = ? ORDER BY record_id`, collection)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		if err := each([]byte(payload)); err != nil {
			return fmt.Errorf("decode snapshot %s: %w", collection, err)
		}
	}
	return rows.Err()
}
