package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"academy/internal/adapters/storage/record"
	"academy/internal/application/clientstore"
)

// SnapshotDeps holds dependencies for the record snapshot operations.
type SnapshotDeps struct {
	Store     *clientstore.Store
	Snapshots record.Store
	Now       func() time.Time
}

// ExecuteSaveSnapshot persists the confirmed records of every collection
// that has been loaded from the server. Provisional entries are skipped.
// PRE: deps.Store and deps.Snapshots are set
// POST: Each loaded collection's snapshot equals its confirmed records
func ExecuteSaveSnapshot(ctx context.Context, deps SnapshotDeps) error {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	savedAt := now()
	var errs []error
	saved := 0
	for _, c := range clientstore.Collections {
		if !deps.Store.IsLoaded(c) {
			continue
		}
		var err error
		switch c.Kind() {
		case clientstore.KindEnrollment:
			err = deps.Snapshots.SaveEnrollments(ctx, string(c), deps.Store.Enrollments(c).Confirmed(), savedAt)
		case clientstore.KindRefund:
			err = deps.Snapshots.SaveRefunds(ctx, string(c), deps.Store.Refunds(c).Confirmed(), savedAt)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", c, err))
			continue
		}
		saved++
	}
	slog.Debug("record_snapshot_saved", "collections", saved)
	return errors.Join(errs...)
}

// ExecuteHydrateFromSnapshot restores every collection from its snapshot.
// Restored collections stay stale, so the first read refetches them.
// POST: Store holds the last saved confirmed records
func ExecuteHydrateFromSnapshot(ctx context.Context, deps SnapshotDeps) error {
	var errs []error
	restored := 0
	for _, c := range clientstore.Collections {
		var n int
		var err error
		switch c.Kind() {
		case clientstore.KindEnrollment:
			list, lerr := deps.Snapshots.LoadEnrollments(ctx, string(c))
			if err = lerr; err == nil {
				n = len(list)
				err = deps.Store.Enrollments(c).Hydrate(list)
			}
		case clientstore.KindRefund:
			list, lerr := deps.Snapshots.LoadRefunds(ctx, string(c))
			if err = lerr; err == nil {
				n = len(list)
				err = deps.Store.Refunds(c).Hydrate(list)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("hydrate %s: %w", c, err))
			continue
		}
		restored += n
	}
	slog.Info("record_snapshot_hydrated", "records", restored)
	return errors.Join(errs...)
}

// StartSnapshotWorker saves a snapshot every interval and once more when
// stopCh is closed. done is closed after the final save.
// PRE: interval > 0
func StartSnapshotWorker(deps SnapshotDeps, interval time.Duration, stopCh <-chan struct{}) (done <-chan struct{}) {
	finished := make(chan struct{})
	save := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ExecuteSaveSnapshot(ctx, deps); err != nil {
			slog.Error("record_snapshot_failed", "error", err.Error())
		}
	}
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				save()
			case <-stopCh:
				save()
				slog.Info("record_snapshot_worker_stopped")
				return
			}
		}
	}()
	return finished
}
