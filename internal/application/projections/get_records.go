package projections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"academy/internal/application/clientstore"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/refund"
)

// ErrUnknownCollection is returned for collection names the store does not hold.
var ErrUnknownCollection = errors.New("unknown collection")

// RecordFetcher loads a whole collection from the backend.
type RecordFetcher interface {
	ListEnrollments(ctx context.Context, c clientstore.Collection) ([]enrollment.Enrollment, error)
	ListRefunds(ctx context.Context, c clientstore.Collection) ([]refund.Refund, error)
}

// GetRecordsDeps holds dependencies for QueryGetRecords.
type GetRecordsDeps struct {
	Fetcher RecordFetcher
	Store   *clientstore.Store
}

// GetRecordsResult carries one collection. Exactly one of the slices is set.
type GetRecordsResult struct {
	Collection  clientstore.Collection                      `json:"collection"`
	Enrollments []clientstore.Entry[enrollment.Enrollment] `json:"enrollments,omitempty"`
	Refunds     []clientstore.Entry[refund.Refund]         `json:"refunds,omitempty"`
	Stale       bool                                        `json:"stale"`
}

// QueryGetRecords returns a collection, refetching it first when it is stale.
// Provisional entries are included so the caller can show pending actions.
// PRE: c is one of clientstore.Collections
// POST: Collection is fresh unless the refetch failed, in which case Stale is set
func QueryGetRecords(ctx context.Context, c clientstore.Collection, force bool, deps GetRecordsDeps) (GetRecordsResult, error) {
	if c.Kind() == "" {
		return GetRecordsResult{}, fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	result := GetRecordsResult{Collection: c}
	if force || deps.Store.IsStale(c) {
		if err := RefreshCollection(ctx, c, deps); err != nil {
			slog.Warn("collection_refresh_failed", "collection", c, "error", err)
			result.Stale = true
		}
	}
	switch c.Kind() {
	case clientstore.KindEnrollment:
		result.Enrollments = deps.Store.Enrollments(c).List()
	case clientstore.KindRefund:
		result.Refunds = deps.Store.Refunds(c).List()
	}
	return result, nil
}

// RefreshCollection fetches c and installs it in the store.
func RefreshCollection(ctx context.Context, c clientstore.Collection, deps GetRecordsDeps) error {
	switch c.Kind() {
	case clientstore.KindEnrollment:
		list, err := deps.Fetcher.ListEnrollments(ctx, c)
		if err != nil {
			return err
		}
		return deps.Store.Enrollments(c).ReplaceConfirmed(list)
	case clientstore.KindRefund:
		list, err := deps.Fetcher.ListRefunds(ctx, c)
		if err != nil {
			return err
		}
		return deps.Store.Refunds(c).ReplaceConfirmed(list)
	}
	return fmt.Errorf("%w: %s", ErrUnknownCollection, c)
}
