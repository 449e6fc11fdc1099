package outbox

import (
	"context"

	domain "academy/internal/domain/outbox"
)

// Store defines outbox entry persistence.
type Store interface {
	// GetByID retrieves an outbox entry by its ID.
	// PRE: id is non-empty
	// POST: Returns the entry or sql.ErrNoRows
	GetByID(ctx context.Context, id string) (domain.Entry, error)

	// Save inserts or updates an entry.
	// PRE: entry has been validated
	Save(ctx context.Context, e domain.Entry) error

	// ListPending returns pending and retrying entries, oldest first.
	// PRE: limit > 0
	ListPending(ctx context.Context, limit int) ([]domain.Entry, error)

	// ListFailed returns entries that exhausted their attempts, newest first.
	// PRE: limit > 0
	ListFailed(ctx context.Context, limit int) ([]domain.Entry, error)

	// FindLive returns the non-terminal entry with the given type and dedupe key.
	// POST: ok is false when there is none
	FindLive(ctx context.Context, actionType, dedupeKey string) (e domain.Entry, ok bool, err error)
}
