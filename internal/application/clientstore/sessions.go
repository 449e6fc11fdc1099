package clientstore

import (
	"errors"
	"log/slog"
	"sort"

	"academy/internal/domain/session"
)

// ErrInvalidWindow is returned for windows with no scope or reversed dates.
var ErrInvalidWindow = errors.New("session window needs a scope and from <= to")

// setKey groups sessions by the feed that produced them.
type setKey struct {
	scope session.Scope
	mode  session.Mode
}

type sessionSet struct {
	byID map[int64]session.Session
	// windows maps each loaded window to its stale flag.
	windows map[session.Window]bool
}

func validWindow(w session.Window) bool {
	return !w.Scope.IsZero() && w.From != "" && w.To != "" && w.From <= w.To
}

// PutSessions installs a fetched window, replacing every session previously
// held for dates inside it.
// PRE: w has a scope and From <= To
// POST: Window is fresh; returns how many sessions were stored
func (s *Store) PutSessions(w session.Window, list []session.Session) (int, error) {
	if !validWindow(w) {
		return 0, ErrInvalidWindow
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	key := setKey{scope: w.Scope, mode: w.Mode}
	set, ok := s.sessions[key]
	if !ok {
		set = &sessionSet{byID: make(map[int64]session.Session), windows: make(map[session.Window]bool)}
		s.sessions[key] = set
	}
	for id, existing := range set.byID {
		if w.Contains(existing.Date) {
			delete(set.byID, id)
		}
	}
	stored := 0
	for _, sess := range list {
		if err := sess.Validate(); err != nil {
			slog.Warn("clientstore_session_skipped", "session_id", sess.ID, "error", err)
			continue
		}
		set.byID[sess.ID] = sess
		stored++
	}
	set.windows[w] = false
	s.mu.Unlock()
	win := w
	s.notify(Change{Op: OpPutSessions, Kind: KindSession, Window: &win})
	return stored, nil
}

// Sessions returns every held session for scope and mode across all loaded
// windows, ordered by date, start time and id.
func (s *Store) Sessions(scope session.Scope, mode session.Mode) []session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sessions[setKey{scope: scope, mode: mode}]
	if !ok {
		return nil
	}
	out := make([]session.Session, 0, len(set.byID))
	for _, sess := range set.byID {
		out = append(out, sess)
	}
	sortSessions(out)
	return out
}

// SessionsIn returns the held sessions dated inside w.
func (s *Store) SessionsIn(w session.Window) []session.Session {
	var out []session.Session
	for _, sess := range s.Sessions(w.Scope, w.Mode) {
		if w.Contains(sess.Date) {
			out = append(out, sess)
		}
	}
	return out
}

// Session looks a session up by id in any window.
func (s *Store) Session(id int64) (session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, set := range s.sessions {
		if sess, ok := set.byID[id]; ok {
			return sess, true
		}
	}
	return session.Session{}, false
}

// WindowStale reports whether w must be fetched. Windows never loaded are stale.
func (s *Store) WindowStale(w session.Window) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sessions[setKey{scope: w.Scope, mode: w.Mode}]
	if !ok {
		return true
	}
	stale, loaded := set.windows[w]
	return !loaded || stale
}

// Windows returns the loaded windows for scope and mode, oldest dates first.
func (s *Store) Windows(scope session.Scope, mode session.Mode) []session.Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sessions[setKey{scope: scope, mode: mode}]
	if !ok {
		return nil
	}
	out := make([]session.Window, 0, len(set.windows))
	for w := range set.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// InvalidateSessionDate marks every window containing date stale.
func (s *Store) InvalidateSessionDate(date string) {
	s.invalidateSessions(func(w session.Window) bool { return w.Contains(date) })
}

// InvalidateSessionClass marks windows that may hold sessions of classID
// stale: the class's own windows and every academy-wide window.
func (s *Store) InvalidateSessionClass(classID int64) {
	s.invalidateSessions(func(w session.Window) bool {
		return w.Scope.ClassID == classID || w.Scope.ClassID == 0
	})
}

// InvalidateAllSessions marks every session window stale.
func (s *Store) InvalidateAllSessions() {
	s.invalidateSessions(func(session.Window) bool { return true })
}

func (s *Store) invalidateSessions(match func(session.Window) bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changes := s.invalidateSessionsLocked(match)
	s.mu.Unlock()
	s.notify(changes...)
}

func (s *Store) invalidateSessionsLocked(match func(session.Window) bool) []Change {
	var changes []Change
	for _, set := range s.sessions {
		for w, stale := range set.windows {
			if stale || !match(w) {
				continue
			}
			set.windows[w] = true
			win := w
			changes = append(changes, Change{Op: OpInvalidate, Kind: KindSession, Window: &win})
		}
	}
	return changes
}

// RemoveSession deletes session id from every window that holds it.
// Removing an absent session is a no-op.
// POST: Returns true if at least one copy was removed
func (s *Store) RemoveSession(id int64) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	found := false
	for _, set := range s.sessions {
		if _, ok := set.byID[id]; ok {
			delete(set.byID, id)
			found = true
		}
	}
	s.mu.Unlock()
	if found {
		s.notify(Change{Op: OpRemoveSession, Kind: KindSession, ID: id})
	}
	return found
}

func sortSessions(list []session.Session) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}
