package session

// Reason explains why a session cannot be selected.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonStarted     Reason = "started"
	ReasonFull        Reason = "full"
	ReasonEnrolled    Reason = "enrolled"
	ReasonUnavailable Reason = "unavailable"
)

// Classified is a Session annotated with mode-specific eligibility.
// In enroll mode only Selectable is meaningful. In modify mode Selectable
// means "may newly enroll" and CanBeCancelled means "part of the existing
// enrollment and may be dropped".
// INVARIANT: Selectable && CanBeCancelled is never true.
type Classified struct {
	Session
	Mode           Mode   `json:"mode"`
	Selectable     bool   `json:"isSelectable"`
	CanBeCancelled bool   `json:"canBeCancelled"`
	Enrolled       bool   `json:"enrolled"`
	Reason         Reason `json:"reason,omitempty"`
}

// Toggleable reports whether the user may change this session's selection.
func (c Classified) Toggleable() bool {
	return c.Selectable || c.CanBeCancelled
}

// Window is an inclusive date range of sessions for one scope and mode.
type Window struct {
	Scope Scope  `json:"scope"`
	Mode  Mode   `json:"mode"`
	From  string `json:"from"` // YYYY-MM-DD
	To    string `json:"to"`   // YYYY-MM-DD
}

// Contains reports whether date falls inside the window.
func (w Window) Contains(date string) bool {
	return date >= w.From && date <= w.To
}

// Scope identifies whose sessions a feed query returns: an academy or a class.
type Scope struct {
	AcademyID int64 `json:"academyId,omitempty"`
	ClassID   int64 `json:"classId,omitempty"`
}

// IsZero reports whether the scope names neither an academy nor a class.
func (s Scope) IsZero() bool {
	return s.AcademyID == 0 && s.ClassID == 0
}
