package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"academy/internal/application/clientstore"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/mutation"
	"academy/internal/domain/refund"
)

// MutationAPI issues the state-changing backend requests.
type MutationAPI interface {
	CreateRefund(ctx context.Context, req refund.Request) (refund.Refund, error)
	BatchEnroll(ctx context.Context, req enrollment.BatchEnrollRequest) (enrollment.BatchEnrollResponse, error)
	BatchModify(ctx context.Context, req enrollment.BatchModifyRequest) (enrollment.BatchModifyResponse, error)
}

// APIStatusError is implemented by transport errors carrying an HTTP status.
type APIStatusError interface {
	error
	StatusCode() int
	FieldErrors() map[string]string
}

// CoordinatorDeps holds dependencies for the Coordinator.
type CoordinatorDeps struct {
	API   MutationAPI
	Store *clientstore.Store
	Now   func() time.Time // injectable for testing
}

// Coordinator runs optimistic mutations: it guards each target with a
// resource key, shows a provisional record at once, and replaces or removes
// it when the server answers. One Coordinator lives for the whole process so
// the pending set spans every screen.
type Coordinator struct {
	api   MutationAPI
	store *clientstore.Store
	now   func() time.Time

	mu      sync.Mutex
	pending map[string]bool
}

// NewCoordinator creates a Coordinator with an empty pending set.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	c := &Coordinator{
		api:     deps.API,
		store:   deps.Store,
		now:     deps.Now,
		pending: make(map[string]bool),
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// RefundKey returns the resource key guarding refund requests for an enrollment.
func RefundKey(enrollmentID int64) string { return fmt.Sprintf("refund_%d", enrollmentID) }

// EnrollKey returns the resource key guarding enrollment in a session.
func EnrollKey(sessionID int64) string { return fmt.Sprintf("enroll_%d", sessionID) }

// ModifyKey returns the resource key guarding a session in a modification.
func ModifyKey(sessionID int64) string { return fmt.Sprintf("modify_%d", sessionID) }

// IsPending reports whether a request for key is in flight.
func (c *Coordinator) IsPending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[key]
}

// PendingKeys returns every in-flight key, sorted.
func (c *Coordinator) PendingKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.pending))
	for k := range c.pending {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// acquire marks every key pending, or none of them.
// POST: On error no key was added
func (c *Coordinator) acquire(keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if c.pending[k] {
			slog.Info("mutation_duplicate_rejected", "key", k)
			return mutation.Duplicate(k)
		}
	}
	for _, k := range keys {
		c.pending[k] = true
	}
	return nil
}

func (c *Coordinator) release(keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.pending, k)
	}
	c.mu.Unlock()
}

// classifyError converts a transport error to a *mutation.Error.
func classifyError(err error, key string) *mutation.Error {
	var me *mutation.Error
	if errors.As(err, &me) {
		return me
	}
	var se APIStatusError
	if errors.As(err, &se) {
		code := se.StatusCode()
		switch {
		case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
			return &mutation.Error{Kind: mutation.KindValidation, Message: se.Error(), Fields: se.FieldErrors(), Key: key, Err: err}
		case code == http.StatusConflict:
			return &mutation.Error{Kind: mutation.KindConflict, Message: se.Error(), Key: key, Err: err}
		case code == http.StatusNotFound:
			return &mutation.Error{Kind: mutation.KindNotFound, Message: se.Error(), Key: key, Err: err}
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return &mutation.Error{Kind: mutation.KindUnauthorized, Message: se.Error(), Key: key, Err: err}
		case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
			e := mutation.Transient(err)
			e.Key = key
			return e
		default:
			return &mutation.Error{Kind: mutation.KindValidation, Message: se.Error(), Key: key, Err: err}
		}
	}
	if errors.Is(err, mutation.ErrMalformedResponse) {
		return &mutation.Error{Kind: mutation.KindDecode, Message: "could not read the server response", Key: key, Err: err}
	}
	e := mutation.Transient(err)
	e.Key = key
	return e
}

// storeError converts a store failure at submission time.
func storeError(err error, key string) *mutation.Error {
	switch {
	case errors.Is(err, clientstore.ErrProvisionalExists):
		return mutation.Duplicate(key)
	case errors.Is(err, clientstore.ErrClosed):
		return &mutation.Error{Kind: mutation.KindTransient, Message: "client is shutting down", Key: key, Err: err}
	}
	return &mutation.Error{Kind: mutation.KindValidation, Message: err.Error(), Key: key, Err: err}
}

// outcomeUnknown reports whether the server may have applied a request
// whose response was lost.
func outcomeUnknown(e *mutation.Error) bool {
	return e.Kind == mutation.KindTransient || e.Kind == mutation.KindDecode
}

// logLate records a server answer that arrived after the store closed.
func logLate(op string, err error, keys []string) {
	if errors.Is(err, clientstore.ErrClosed) {
		slog.Info("mutation_result_ignored", "op", op, "keys", keys, "reason", "store closed")
		return
	}
	if err != nil {
		slog.Warn("mutation_store_update_failed", "op", op, "keys", keys, "error", err)
	}
}
