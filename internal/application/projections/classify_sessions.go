package projections

import (
	"time"

	"academy/internal/domain/session"
)

// EnrollmentSet holds the session ids of the viewer's existing enrollment.
// It is unioned with each session's IsAlreadyEnrolled flag; nil means the
// flag alone decides.
type EnrollmentSet map[int64]bool

// ClassifyOptions carries the clock used to decide whether a session started.
type ClassifyOptions struct {
	Now      time.Time
	Location *time.Location // academy time zone; UTC when nil
}

// ClassifySessions applies the eligibility policy for mode to every session.
// It is pure: the same inputs always give the same output and nothing is
// mutated, so it is safe to call on every read.
// PRE: mode is ModeEnroll or ModeModify
// POST: One Classified per input session, in input order
// INVARIANT: Selectable && CanBeCancelled is never true
func ClassifySessions(sessions []session.Session, mode session.Mode, existing EnrollmentSet, opts ClassifyOptions) []session.Classified {
	out := make([]session.Classified, len(sessions))
	for i, s := range sessions {
		out[i] = ClassifySession(s, mode, s.IsAlreadyEnrolled || existing[s.ID], opts)
	}
	return out
}

// ClassifySession classifies a single session.
//
// Enroll: selectable iff not full, not started and not already enrolled.
// Modify: selectable iff a new candidate meeting the same conditions;
// cancellable iff part of the existing enrollment and not started.
func ClassifySession(s session.Session, mode session.Mode, enrolled bool, opts ClassifyOptions) session.Classified {
	started := s.HasStarted(opts.Now, opts.Location)
	full := s.IsFull || (s.Capacity > 0 && s.EnrolledCount >= s.Capacity)
	open := !full && !started && !s.IsCancelled()

	c := session.Classified{Session: s, Mode: mode, Enrolled: enrolled}
	switch mode {
	case session.ModeModify:
		c.Selectable = !enrolled && open
		c.CanBeCancelled = enrolled && !started
	default:
		c.Mode = session.ModeEnroll
		c.Selectable = !enrolled && open
	}
	if !c.Toggleable() {
		c.Reason = unavailableReason(started, full, enrolled)
	}
	return c
}

// unavailableReason picks the message shown for a session that cannot be
// toggled. A session that already started reports "started" even when it is
// also full.
func unavailableReason(started, full, enrolled bool) session.Reason {
	switch {
	case started:
		return session.ReasonStarted
	case full && !enrolled:
		return session.ReasonFull
	case enrolled:
		return session.ReasonEnrolled
	}
	return session.ReasonUnavailable
}

// SelectableCount counts sessions the user may toggle.
func SelectableCount(list []session.Classified) int {
	n := 0
	for _, c := range list {
		if c.Toggleable() {
			n++
		}
	}
	return n
}
