package enrollment

import (
	"errors"
	"strings"
	"time"
)

// Status constants for an enrollment's lifecycle.
const (
	StatusPending         = "PENDING"
	StatusConfirmed       = "CONFIRMED"
	StatusRejected        = "REJECTED"
	StatusCancelled       = "CANCELLED"
	StatusRefundRequested = "REFUND_REQUESTED"
	StatusRefunded        = "REFUNDED"
)

// ValidStatuses contains all valid status values.
var ValidStatuses = []string{StatusPending, StatusConfirmed, StatusRejected, StatusCancelled, StatusRefundRequested, StatusRefunded}

// Domain errors
var (
	ErrInvalidSessionID = errors.New("enrollment must reference a session")
	ErrInvalidStatus    = errors.New("enrollment status is not recognised")
)

// Enrollment is a student's claim on a single session.
type Enrollment struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"sessionId"`
	ClassID     int64     `json:"classId"`
	StudentID   int64     `json:"studentId,omitempty"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Validate checks if the Enrollment has valid data.
// PRE: Enrollment struct is populated
// POST: Returns nil if valid, error otherwise
func (e *Enrollment) Validate() error {
	if e.SessionID <= 0 {
		return ErrInvalidSessionID
	}
	if !IsValidStatus(e.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// IsValidStatus reports whether s is a known enrollment status.
func IsValidStatus(s string) bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// NormalizeStatus upper-cases a wire status value.
func NormalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// RecordID returns the server-assigned id (zero while provisional).
func (e Enrollment) RecordID() int64 { return e.ID }

// TargetID returns the session this enrollment claims.
func (e Enrollment) TargetID() int64 { return e.SessionID }

// RecordStatus returns the current status.
func (e Enrollment) RecordStatus() string { return e.Status }

// WithStatus returns a copy carrying status s.
func (e Enrollment) WithStatus(s string) Enrollment {
	e.Status = s
	return e
}

// IsActive reports whether the enrollment still holds its seat.
// Rejected, cancelled and refunded enrollments no longer count.
func (e Enrollment) IsActive() bool {
	switch e.Status {
	case StatusRejected, StatusCancelled, StatusRefunded:
		return false
	}
	return true
}
