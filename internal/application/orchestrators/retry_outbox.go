package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	outboxStore "academy/internal/adapters/storage/outbox"
	domain "academy/internal/domain/outbox"
)

// ErrPermanent marks an executor failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// ActionExecutor delivers one kind of outbox action.
type ActionExecutor interface {
	// Execute runs the action for payload and returns an external id, if any.
	// Errors wrapping ErrPermanent abandon the entry.
	Execute(ctx context.Context, payload string) (string, error)
}

// OutboxProcessor delivers queued outbox entries with exponential backoff.
type OutboxProcessor struct {
	store     outboxStore.Store
	executors map[string]ActionExecutor
	baseDelay time.Duration
	maxDelay  time.Duration
	batchSize int
	now       func() time.Time
}

// NewOutboxProcessor creates a processor with the default backoff of 30s
// doubling up to one hour.
func NewOutboxProcessor(store outboxStore.Store, executors map[string]ActionExecutor) *OutboxProcessor {
	return &OutboxProcessor{
		store:     store,
		executors: executors,
		baseDelay: 30 * time.Second,
		maxDelay:  1 * time.Hour,
		batchSize: 10,
		now:       time.Now,
	}
}

// ProcessPending attempts every due entry once.
// PRE: Context is valid
// POST: Each due entry is done, retrying with its attempt recorded, failed or abandoned
func (p *OutboxProcessor) ProcessPending(ctx context.Context) error {
	entries, err := p.store.ListPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("list pending outbox entries: %w", err)
	}
	for _, entry := range entries {
		if err := p.processEntry(ctx, entry); err != nil {
			slog.Error("outbox_process_failed", "entry_id", entry.ID, "action_type", entry.ActionType, "error", err.Error())
		}
	}
	return nil
}

func (p *OutboxProcessor) processEntry(ctx context.Context, entry domain.Entry) error {
	if p.now().Before(entry.DueAt(p.baseDelay, p.maxDelay)) {
		return nil
	}
	executor, ok := p.executors[entry.ActionType]
	if !ok {
		entry.MarkAbandoned("no executor for action type " + entry.ActionType)
		slog.Error("outbox_action_unroutable", "entry_id", entry.ID, "action_type", entry.ActionType)
		return p.store.Save(ctx, entry)
	}
	return p.attempt(ctx, &entry, executor)
}

func (p *OutboxProcessor) attempt(ctx context.Context, entry *domain.Entry, executor ActionExecutor) error {
	entry.MarkAttempt(p.now())
	externalID, err := executor.Execute(ctx, entry.Payload)
	switch {
	case err == nil:
		entry.MarkSuccess(externalID)
		slog.Info("outbox_action_succeeded", "entry_id", entry.ID, "action_type", entry.ActionType, "attempt", entry.Attempts)
	case errors.Is(err, ErrPermanent):
		entry.MarkAbandoned(err.Error())
		slog.Warn("outbox_action_abandoned", "entry_id", entry.ID, "action_type", entry.ActionType, "error", err.Error())
	default:
		entry.MarkFailed(err)
		slog.Warn("outbox_action_failed", "entry_id", entry.ID, "attempt", entry.Attempts, "max_attempts", entry.MaxAttempts, "error", err.Error())
	}
	return p.store.Save(ctx, *entry)
}

// ProcessSingle attempts one entry immediately, ignoring its backoff.
// PRE: entryID is non-empty
// POST: Entry is processed, status updated
func (p *OutboxProcessor) ProcessSingle(ctx context.Context, entryID string) error {
	entry, err := p.store.GetByID(ctx, entryID)
	if err != nil {
		return fmt.Errorf("get outbox entry: %w", err)
	}
	if entry.IsTerminal() {
		return fmt.Errorf("entry %s: %w", entryID, domain.ErrTerminal)
	}
	executor, ok := p.executors[entry.ActionType]
	if !ok {
		return fmt.Errorf("no executor registered for action type: %s", entry.ActionType)
	}
	return p.attempt(ctx, &entry, executor)
}

// StartBackgroundWorker processes pending entries once at start and then
// every interval until stopCh is closed.
// PRE: interval > 0
// POST: Worker runs until stopCh is closed
func StartBackgroundWorker(processor *OutboxProcessor, interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := processor.ProcessPending(ctx); err != nil {
				slog.Error("outbox_background_process_failed", "error", err.Error())
			}
			cancel()

			select {
			case <-ticker.C:
			case <-stopCh:
				slog.Info("outbox_background_worker_stopped")
				return
			}
		}
	}()
}
