package pushevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"academy/internal/domain/enrollment"
	"academy/internal/domain/refund"
	"academy/internal/domain/session"
)

// Name identifies the kind of push event.
type Name string

const (
	EnrollmentAccepted   Name = "enrollment_accepted"
	EnrollmentRejected   Name = "enrollment_rejected"
	RefundAccepted       Name = "refund_accepted"
	RefundRejected       Name = "refund_rejected"
	NewEnrollmentRequest Name = "new_enrollment_request"
	NewRefundRequest     Name = "new_refund_request"
	SessionCreated       Name = "session_created"
	SessionUpdated       Name = "session_updated"
	SessionDeleted       Name = "session_deleted"
)

// Names lists every event the client understands.
var Names = []Name{
	EnrollmentAccepted, EnrollmentRejected,
	RefundAccepted, RefundRejected,
	NewEnrollmentRequest, NewRefundRequest,
	SessionCreated, SessionUpdated, SessionDeleted,
}

// Decode errors
var (
	ErrUnknownEvent  = errors.New("unknown push event")
	ErrEmptyPayload  = errors.New("push event payload is empty")
	ErrMissingTarget = errors.New("push event does not identify its target")
	ErrInvalidStatus = errors.New("push event carries an invalid status")
)

// Event is the closed set of decoded push events.
// Only types in this package implement it.
type Event interface {
	EventName() Name
	validate() error
}

// EnrollmentStatusChanged is carried by enrollment_accepted and enrollment_rejected.
type EnrollmentStatusChanged struct {
	Name         Name   `json:"-"`
	EnrollmentID int64  `json:"enrollmentId"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

// EventName implements Event.
func (e EnrollmentStatusChanged) EventName() Name { return e.Name }

func (e EnrollmentStatusChanged) validate() error {
	if e.EnrollmentID <= 0 {
		return ErrMissingTarget
	}
	if !enrollment.IsValidStatus(e.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// RefundStatusChanged is carried by refund_accepted and refund_rejected.
type RefundStatusChanged struct {
	Name         Name   `json:"-"`
	RefundID     int64  `json:"refundId"`
	EnrollmentID int64  `json:"enrollmentId,omitempty"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

// EventName implements Event.
func (e RefundStatusChanged) EventName() Name { return e.Name }

func (e RefundStatusChanged) validate() error {
	if e.RefundID <= 0 {
		return ErrMissingTarget
	}
	if !refund.IsValidStatus(e.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// NewRequest is carried by new_enrollment_request and new_refund_request.
// It only signals that the teacher or principal inbox changed.
type NewRequest struct {
	Name         Name  `json:"-"`
	EnrollmentID int64 `json:"enrollmentId,omitempty"`
	RefundID     int64 `json:"refundId,omitempty"`
	ClassID      int64 `json:"classId,omitempty"`
}

// EventName implements Event.
func (e NewRequest) EventName() Name { return e.Name }

func (e NewRequest) validate() error { return nil }

// SessionChanged is carried by session_created and session_updated.
type SessionChanged struct {
	Name      Name   `json:"-"`
	SessionID int64  `json:"sessionId"`
	ClassID   int64  `json:"classId,omitempty"`
	Date      string `json:"date,omitempty"`
}

// EventName implements Event.
func (e SessionChanged) EventName() Name { return e.Name }

func (e SessionChanged) validate() error {
	if e.SessionID <= 0 && e.ClassID <= 0 && e.Date == "" {
		return ErrMissingTarget
	}
	return nil
}

// SessionRemoved is carried by session_deleted.
type SessionRemoved struct {
	SessionID int64 `json:"sessionId"`
}

// EventName implements Event.
func (e SessionRemoved) EventName() Name { return SessionDeleted }

func (e SessionRemoved) validate() error {
	if e.SessionID <= 0 {
		return ErrMissingTarget
	}
	return nil
}

// Envelope is the wire frame of the push channel. Servers that send the
// payload inline without a data member are also accepted.
type Envelope struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeEnvelope splits a raw frame into its name and payload.
// PRE: frame is one complete JSON message
// POST: Returns the event name and payload bytes, or an error
func DecodeEnvelope(frame []byte) (Name, []byte, error) {
	var env struct {
		Envelope
		Name Name `json:"name"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	name := env.Event
	if name == "" {
		name = env.Name
	}
	data := []byte(env.Data)
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = frame
	}
	return name, data, nil
}

// Decode validates and decodes a payload for the named event.
// PRE: name comes from the envelope
// POST: Returns a validated Event, or an error wrapping one of the decode errors
func Decode(name Name, payload []byte) (Event, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, ErrEmptyPayload
	}
	var ev Event
	var err error
	switch name {
	case EnrollmentAccepted, EnrollmentRejected:
		var p EnrollmentStatusChanged
		err = json.Unmarshal(payload, &p)
		p.Name = name
		p.Status = enrollment.NormalizeStatus(p.Status)
		if p.Status == "" {
			p.Status = enrollment.StatusConfirmed
			if name == EnrollmentRejected {
				p.Status = enrollment.StatusRejected
			}
		}
		ev = p
	case RefundAccepted, RefundRejected:
		var p RefundStatusChanged
		err = json.Unmarshal(payload, &p)
		p.Name = name
		p.Status = enrollment.NormalizeStatus(p.Status)
		if p.Status == "" {
			p.Status = refund.StatusApproved
			if name == RefundRejected {
				p.Status = refund.StatusRejected
			}
		}
		ev = p
	case NewEnrollmentRequest, NewRefundRequest:
		var p NewRequest
		err = json.Unmarshal(payload, &p)
		p.Name = name
		ev = p
	case SessionCreated, SessionUpdated:
		var p SessionChanged
		err = json.Unmarshal(payload, &p)
		p.Name = name
		ev = p
	case SessionDeleted:
		var p SessionRemoved
		err = json.Unmarshal(payload, &p)
		ev = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if err := ev.validate(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if sc, ok := ev.(SessionChanged); ok && sc.Date != "" {
		if _, err := time.Parse(session.DateLayout, sc.Date); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, session.ErrInvalidDate)
		}
	}
	return ev, nil
}
