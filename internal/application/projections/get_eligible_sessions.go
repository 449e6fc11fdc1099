package projections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"academy/internal/application/clientstore"
	"academy/internal/domain/session"
)

// ErrInvalidWindow is returned when the query names no scope or dates.
var ErrInvalidWindow = errors.New("session query needs an academy or class and a date range")

// SessionFeed fetches sessions for a window from the backend.
type SessionFeed interface {
	GetSessions(ctx context.Context, w session.Window) ([]session.Session, error)
}

// GetEligibleSessionsDeps holds dependencies for the projection.
type GetEligibleSessionsDeps struct {
	Feed     SessionFeed
	Store    *clientstore.Store
	Now      func() time.Time // injectable for testing
	Location *time.Location
}

// GetEligibleSessionsQuery selects the window to classify.
type GetEligibleSessionsQuery struct {
	Window       session.Window
	ForceRefresh bool
}

// GetEligibleSessionsResult carries the classified window.
type GetEligibleSessionsResult struct {
	Window     session.Window       `json:"window"`
	Sessions   []session.Classified `json:"sessions"`
	Selectable int                  `json:"selectable"`
	// Stale is true when the refetch failed and cached sessions were served.
	Stale bool `json:"stale"`
}

// QueryGetEligibleSessions returns the window's sessions classified for its mode.
// The feed is only called when the window is missing or stale in the store.
// PRE: Window has a scope and From <= To
// POST: Store holds the window; result reflects local provisional enrollments
func QueryGetEligibleSessions(ctx context.Context, q GetEligibleSessionsQuery, deps GetEligibleSessionsDeps) (GetEligibleSessionsResult, error) {
	w := q.Window
	if w.Mode == "" {
		w.Mode = session.ModeEnroll
	}
	if w.Scope.IsZero() || w.From == "" || w.To == "" || w.From > w.To {
		return GetEligibleSessionsResult{}, ErrInvalidWindow
	}

	result := GetEligibleSessionsResult{Window: w}
	if q.ForceRefresh || deps.Store.WindowStale(w) {
		if err := refreshWindow(ctx, w, deps); err != nil {
			if !hasWindow(deps.Store, w) {
				return GetEligibleSessionsResult{}, err
			}
			slog.Warn("session_feed_stale_served", "from", w.From, "to", w.To, "mode", w.Mode, "error", err)
			result.Stale = true
		}
	}

	now := time.Now()
	if deps.Now != nil {
		now = deps.Now()
	}
	existing := EnrollmentSet(deps.Store.Enrollments(clientstore.MyEnrollments).ActiveTargets())
	result.Sessions = ClassifySessions(deps.Store.SessionsIn(w), w.Mode, existing, ClassifyOptions{Now: now, Location: deps.Location})
	result.Selectable = SelectableCount(result.Sessions)
	return result, nil
}

func refreshWindow(ctx context.Context, w session.Window, deps GetEligibleSessionsDeps) error {
	list, err := deps.Feed.GetSessions(ctx, w)
	if err != nil {
		return fmt.Errorf("fetch sessions %s..%s: %w", w.From, w.To, err)
	}
	n, err := deps.Store.PutSessions(w, list)
	if err != nil {
		return err
	}
	slog.Debug("session_window_loaded", "from", w.From, "to", w.To, "mode", w.Mode, "count", n)
	return nil
}

func hasWindow(s *clientstore.Store, w session.Window) bool {
	for _, have := range s.Windows(w.Scope, w.Mode) {
		if have == w {
			return true
		}
	}
	return false
}
