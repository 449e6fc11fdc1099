package outbox

import (
	"errors"
	"time"
)

// Status constants for outbox entry lifecycle.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// ActionTypePushToken registers a device push token with the backend.
const ActionTypePushToken = "push_token"

// DefaultMaxAttempts applies when an entry does not set MaxAttempts.
const DefaultMaxAttempts = 5

// Domain errors.
var (
	ErrEmptyID         = errors.New("outbox entry id is required")
	ErrEmptyActionType = errors.New("action type is required")
	ErrEmptyPayload    = errors.New("payload is required")
	ErrMissingCreated  = errors.New("created_at must be set")
	ErrTerminal        = errors.New("entry is in a terminal state")
)

// Entry is one side effect queued for delivery to the backend.
type Entry struct {
	ID         string
	ActionType string
	// DedupeKey identifies the logical action; a second entry with the same
	// type and key is not queued while the first is live.
	DedupeKey       string
	Payload         string // JSON
	Status          string
	Attempts        int
	MaxAttempts     int
	LastAttemptedAt time.Time
	CreatedAt       time.Time
	ExternalID      string
	ErrorMessage    string
}

// Validate checks that the Entry has valid data and fills MaxAttempts.
// PRE: Entry struct is populated
// POST: Returns nil if valid, error otherwise
func (e *Entry) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.ActionType == "" {
		return ErrEmptyActionType
	}
	if e.Payload == "" {
		return ErrEmptyPayload
	}
	if e.CreatedAt.IsZero() {
		return ErrMissingCreated
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	return nil
}

// IsTerminal reports whether the entry will never be attempted again.
// POST: Returns true for done, abandoned, or failed with attempts exhausted
func (e *Entry) IsTerminal() bool {
	switch e.Status {
	case StatusDone, StatusAbandoned:
		return true
	case StatusFailed:
		return e.Attempts >= e.MaxAttempts
	}
	return false
}

// MarkAttempt records an attempt starting at now.
// PRE: Entry is not terminal
// POST: Attempts incremented, status set to retrying
func (e *Entry) MarkAttempt(now time.Time) {
	e.Attempts++
	e.LastAttemptedAt = now
	e.Status = StatusRetrying
}

// MarkSuccess marks the entry delivered.
func (e *Entry) MarkSuccess(externalID string) {
	e.Status = StatusDone
	e.ExternalID = externalID
	e.ErrorMessage = ""
}

// MarkFailed records err. The entry stays retrying until attempts run out.
// POST: Status is failed iff Attempts >= MaxAttempts
func (e *Entry) MarkFailed(err error) {
	e.ErrorMessage = err.Error()
	if e.Attempts >= e.MaxAttempts {
		e.Status = StatusFailed
	}
}

// MarkAbandoned stops any further attempts, e.g. for a permanent rejection.
func (e *Entry) MarkAbandoned(reason string) {
	e.Status = StatusAbandoned
	if reason != "" {
		e.ErrorMessage = reason
	}
}

// NextRetryDelay is 2^attempts * baseDelay, capped at maxDelay.
func (e *Entry) NextRetryDelay(baseDelay, maxDelay time.Duration) time.Duration {
	if e.Attempts >= 30 {
		return maxDelay
	}
	delay := baseDelay * (1 << e.Attempts)
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

// DueAt returns when the entry may next be attempted.
func (e *Entry) DueAt(baseDelay, maxDelay time.Duration) time.Time {
	if e.LastAttemptedAt.IsZero() {
		return e.CreatedAt
	}
	return e.LastAttemptedAt.Add(e.NextRetryDelay(baseDelay, maxDelay))
}
