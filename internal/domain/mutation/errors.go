package mutation

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation so callers can choose how to recover.
type Kind string

const (
	// KindValidation means the input was rejected; show field messages.
	KindValidation Kind = "validation"
	// KindConflict means the server state moved (session full or started);
	// the eligibility list must be refreshed.
	KindConflict Kind = "conflict"
	// KindDuplicate means the same target already has a request in flight.
	// It never reaches the network.
	KindDuplicate Kind = "duplicate"
	// KindTransient covers network failures and server errors; retryable.
	KindTransient Kind = "transient"
	// KindDecode means an inbound payload could not be understood.
	KindDecode Kind = "decode"
	// KindNotFound means the target resource does not exist.
	KindNotFound Kind = "not_found"
	// KindUnauthorized means the backend refused the credentials; the
	// request is not retried and no field is at fault.
	KindUnauthorized Kind = "unauthorized"
)

// Sentinel errors
var (
	// ErrDuplicateInFlight is matched by every duplicate-kind Error.
	ErrDuplicateInFlight = errors.New("duplicate request in progress")
	// ErrMalformedResponse is wrapped by transports when a response body
	// cannot be decoded.
	ErrMalformedResponse = errors.New("malformed server response")
)

// Error is the only error type returned by coordinator operations.
type Error struct {
	Kind    Kind
	Message string
	// Fields maps input field names to messages for validation errors.
	Fields map[string]string
	// Key is the resource key the operation ran under, if any.
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, and ErrDuplicateInFlight for
// duplicate errors.
func (e *Error) Is(target error) bool {
	if target == ErrDuplicateInFlight {
		return e.Kind == KindDuplicate
	}
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

// Validation builds a validation error for a single field.
func Validation(field, msg string) *Error {
	e := &Error{Kind: KindValidation, Message: msg}
	if field != "" {
		e.Fields = map[string]string{field: msg}
	}
	return e
}

// Duplicate builds the in-flight guard error for key.
func Duplicate(key string) *Error {
	return &Error{Kind: KindDuplicate, Message: ErrDuplicateInFlight.Error(), Key: key}
}

// Transient wraps a network or server failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Message: "request failed, please try again", Err: err}
}

// Conflict reports that the server refused the request because its state
// moved on.
func Conflict(msg string, err error) *Error {
	if msg == "" {
		msg = "the session list changed, please review your selection"
	}
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
