package outbox

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"academy/internal/adapters/storage"
	domain "academy/internal/domain/outbox"
)

// dateLayout is fixed width so stored timestamps sort as text.
const dateLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `SELECT id, action_type, dedupe_key, payload, status, attempts, max_attempts, last_attempted_at, created_at, external_id, error_message FROM outbox`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new outbox store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves an outbox entry by its ID.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Entry, error) {
	return scanEntry(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
}

// Save inserts or updates an entry.
func (s *SQLiteStore) Save(ctx context.Context, e domain.Entry) error {
	lastAttemptedAt := ""
	if !e.LastAttemptedAt.IsZero() {
		lastAttemptedAt = e.LastAttemptedAt.UTC().Format(dateLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (id, action_type, dedupe_key, payload, status, attempts, max_attempts, last_attempted_at, created_at, external_id, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, attempts=excluded.attempts, max_attempts=excluded.max_attempts,
		   last_attempted_at=excluded.last_attempted_at, external_id=excluded.external_id,
		   error_message=excluded.error_message, payload=excluded.payload`,
		e.ID, e.ActionType, e.DedupeKey, e.Payload, e.Status, e.Attempts, e.MaxAttempts,
		lastAttemptedAt, e.CreatedAt.UTC().Format(dateLayout), e.ExternalID, e.ErrorMessage)
	return err
}

// ListPending returns pending and retrying entries, oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status IN (?, ?) ORDER BY created_at ASC LIMIT ?`,
		domain.StatusPending, domain.StatusRetrying, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListFailed returns entries that exhausted their attempts, newest first.
func (s *SQLiteStore) ListFailed(ctx context.Context, limit int) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? AND attempts >= max_attempts ORDER BY last_attempted_at DESC LIMIT ?`,
		domain.StatusFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// FindLive returns the pending or retrying entry for actionType and dedupeKey.
func (s *SQLiteStore) FindLive(ctx context.Context, actionType, dedupeKey string) (domain.Entry, bool, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		selectColumns+` WHERE action_type = ? AND dedupe_key = ? AND status IN (?, ?) ORDER BY created_at DESC LIMIT 1`,
		actionType, dedupeKey, domain.StatusPending, domain.StatusRetrying))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entry{}, false, nil
	}
	if err != nil {
		return domain.Entry{}, false, err
	}
	return e, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (domain.Entry, error) {
	var e domain.Entry
	var createdAt, lastAttemptedAt string
	err := row.Scan(&e.ID, &e.ActionType, &e.DedupeKey, &e.Payload, &e.Status, &e.Attempts, &e.MaxAttempts,
		&lastAttemptedAt, &createdAt, &e.ExternalID, &e.ErrorMessage)
	if err != nil {
		return domain.Entry{}, err
	}
	e.CreatedAt, _ = time.Parse(dateLayout, createdAt)
	if lastAttemptedAt != "" {
		e.LastAttemptedAt, _ = time.Parse(dateLayout, lastAttemptedAt)
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]domain.Entry, error) {
	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
