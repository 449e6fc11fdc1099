package enrollment

import "errors"

// Batch errors
var (
	ErrEmptyBatch       = errors.New("at least one session must be selected")
	ErrDuplicateSession = errors.New("a session may appear only once per request")
	ErrOverlappingPlan  = errors.New("a session cannot be both cancelled and newly enrolled")
	ErrMissingClassID   = errors.New("modification must name the class")
)

// BatchEnrollRequest enrolls the viewer in several sessions at once.
type BatchEnrollRequest struct {
	SessionIDs []int64 `json:"sessionIds"`
}

// Validate checks the request is non-empty with unique session ids.
func (r *BatchEnrollRequest) Validate() error {
	if len(r.SessionIDs) == 0 {
		return ErrEmptyBatch
	}
	return checkUnique(r.SessionIDs)
}

// BatchEnrollResponse is the server's per-session outcome.
// Enrollments is optional; older servers only return the id lists.
type BatchEnrollResponse struct {
	Success          bool         `json:"success"`
	EnrolledSessions []int64      `json:"enrolledSessions"`
	FailedSessions   []int64      `json:"failedSessions"`
	Message          string       `json:"message"`
	Enrollments      []Enrollment `json:"enrollments,omitempty"`
}

// BatchModifyRequest swaps part of an existing enrollment for new sessions.
type BatchModifyRequest struct {
	ClassID        int64   `json:"classId"`
	Cancellations  []int64 `json:"cancellations"`
	NewEnrollments []int64 `json:"newEnrollments"`
	Reason         string  `json:"reason"`
}

// Validate checks the modification is non-empty and self-consistent.
// INVARIANT: no session id appears in both lists
func (r *BatchModifyRequest) Validate() error {
	if r.ClassID <= 0 {
		return ErrMissingClassID
	}
	if len(r.Cancellations) == 0 && len(r.NewEnrollments) == 0 {
		return ErrEmptyBatch
	}
	if err := checkUnique(r.Cancellations); err != nil {
		return err
	}
	if err := checkUnique(r.NewEnrollments); err != nil {
		return err
	}
	cancel := make(map[int64]bool, len(r.Cancellations))
	for _, id := range r.Cancellations {
		cancel[id] = true
	}
	for _, id := range r.NewEnrollments {
		if cancel[id] {
			return ErrOverlappingPlan
		}
	}
	return nil
}

// BatchModifyResponse is the server's outcome for a modification.
type BatchModifyResponse struct {
	Success           bool         `json:"success"`
	CancelledSessions []int64      `json:"cancelledSessions"`
	EnrolledSessions  []int64      `json:"enrolledSessions"`
	FailedSessions    []int64      `json:"failedSessions"`
	Message           string       `json:"message"`
	Enrollments       []Enrollment `json:"enrollments,omitempty"`
}

func checkUnique(ids []int64) error {
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return ErrInvalidSessionID
		}
		if seen[id] {
			return ErrDuplicateSession
		}
		seen[id] = true
	}
	return nil
}
