package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects the eligibility policy applied to a session list.
type Mode string

const (
	ModeEnroll Mode = "enroll"
	ModeModify Mode = "modify"
)

// Status constants for a scheduled class occurrence.
const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
)

// Layouts used on the wire and in the store.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Domain errors
var (
	ErrInvalidID      = errors.New("session ID must be positive")
	ErrInvalidClassID = errors.New("class ID must be positive")
	ErrInvalidDate    = errors.New("date must be in YYYY-MM-DD format")
	ErrInvalidTime    = errors.New("start and end time must be in HH:MM format")
	ErrNegativeCount  = errors.New("capacity and enrolled count cannot be negative")
	ErrInvalidMode    = errors.New("mode must be enroll or modify")
)

// Session is one scheduled occurrence of a class on a specific date.
// The per-viewer flags are computed by the server for the requesting user.
type Session struct {
	ID                int64  `json:"id"`
	ClassID           int64  `json:"classId"`
	Date              string `json:"date"`      // YYYY-MM-DD
	StartTime         string `json:"startTime"` // HH:MM
	EndTime           string `json:"endTime"`   // HH:MM
	Capacity          int    `json:"capacity"`
	EnrolledCount     int    `json:"enrolledCount"`
	Status            string `json:"status,omitempty"`
	IsPastStartTime   bool   `json:"isPastStartTime"`
	IsFull            bool   `json:"isFull"`
	IsAlreadyEnrolled bool   `json:"isAlreadyEnrolled"`
}

// Validate checks if the Session has valid data.
// PRE: Session struct is populated from a feed response
// POST: Returns nil if valid, error otherwise
func (s *Session) Validate() error {
	if s.ID <= 0 {
		return ErrInvalidID
	}
	if s.ClassID <= 0 {
		return ErrInvalidClassID
	}
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return ErrInvalidDate
	}
	if _, err := time.Parse(TimeLayout, s.StartTime); err != nil {
		return ErrInvalidTime
	}
	if s.EndTime != "" {
		if _, err := time.Parse(TimeLayout, s.EndTime); err != nil {
			return ErrInvalidTime
		}
	}
	if s.Capacity < 0 || s.EnrolledCount < 0 {
		return ErrNegativeCount
	}
	return nil
}

// IsCancelled reports whether the academy cancelled this occurrence.
func (s *Session) IsCancelled() bool {
	return strings.EqualFold(s.Status, StatusCancelled)
}

// StartsAt resolves the session start in the given location.
// PRE: Date and StartTime are well formed
// POST: Returns the absolute start instant, or error if unparseable
func (s *Session) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, s.Date+" "+s.StartTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start %q %q: %w", s.Date, s.StartTime, err)
	}
	return t, nil
}

// HasStarted reports whether the session start has passed at now.
// The server flag wins; otherwise the start instant is compared against now.
func (s *Session) HasStarted(now time.Time, loc *time.Location) bool {
	if s.IsPastStartTime {
		return true
	}
	if now.IsZero() {
		return false
	}
	start, err := s.StartsAt(loc)
	if err != nil {
		return false
	}
	return !now.Before(start)
}

// ParseMode parses a wire mode value.
func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case ModeEnroll, "":
		return ModeEnroll, nil
	case ModeModify:
		return ModeModify, nil
	}
	return "", ErrInvalidMode
}
