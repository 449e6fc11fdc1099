// Package record persists snapshots of confirmed server records so a
// restarted client can show its last known state before the first refetch.
package record

import (
	"context"
	"time"

	"academy/internal/domain/enrollment"
	"academy/internal/domain/refund"
)

// Store defines snapshot persistence. Each Save replaces the whole
// collection.
type Store interface {
	// SaveEnrollments replaces the snapshot of collection.
	// PRE: records are confirmed (server ids set)
	// POST: Load returns exactly records
	SaveEnrollments(ctx context.Context, collection string, records []enrollment.Enrollment, savedAt time.Time) error
	LoadEnrollments(ctx context.Context, collection string) ([]enrollment.Enrollment, error)

	SaveRefunds(ctx context.Context, collection string, records []refund.Refund, savedAt time.Time) error
	LoadRefunds(ctx context.Context, collection string) ([]refund.Refund, error)
}
