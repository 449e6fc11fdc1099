// Package selection tracks which sessions the user picked for an enroll or
// modify submission, across every loaded date window of one scope.
package selection

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"academy/internal/application/clientstore"
	"academy/internal/application/projections"
	"academy/internal/domain/session"
)

// Selection errors
var (
	ErrNothingSelected = errors.New("nothing selected")
	ErrNotToggleable   = errors.New("session cannot be selected")
	ErrUnknownSession  = errors.New("session is not loaded")
	ErrNoSessionsOnDay = errors.New("no selectable sessions on date")
	ErrStaleSessions   = errors.New("session list is out of date")
)

// Options configures a Manager.
type Options struct {
	Now      func() time.Time
	Location *time.Location
}

// Manager holds the selection for one (scope, mode) pair.
//
// In enroll mode a selected session is one to enroll in. In modify mode a
// selected session is one the user keeps or newly joins: originally enrolled
// sessions start selected and deselecting one schedules its cancellation.
//
// The session list is read from the store on every call and keys that are no
// longer present or no longer toggleable are pruned first, so counts always
// reflect the latest fetch.
type Manager struct {
	store *clientstore.Store
	scope session.Scope
	mode  session.Mode
	now   func() time.Time
	loc   *time.Location

	mu       sync.Mutex
	selected map[int64]bool
	// seen holds originally enrolled sessions already added to the baseline,
	// so a user deselection is not undone on the next refresh.
	seen map[int64]bool
	// picked holds new candidates the user selected. Only these may turn
	// into new enrollments once their baseline enrollment is gone.
	picked map[int64]bool
}

// NewManager creates a Manager with an empty selection.
// PRE: store is non-nil; mode is ModeEnroll or ModeModify
func NewManager(store *clientstore.Store, scope session.Scope, mode session.Mode, opts Options) *Manager {
	m := &Manager{
		store:    store,
		scope:    scope,
		mode:     mode,
		now:      opts.Now,
		loc:      opts.Location,
		selected: make(map[int64]bool),
		seen:     make(map[int64]bool),
		picked:   make(map[int64]bool),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.mode == "" {
		m.mode = session.ModeEnroll
	}
	return m
}

// Mode returns the submission mode the manager builds plans for.
func (m *Manager) Mode() session.Mode { return m.mode }

// Scope returns the academy or class the manager reads sessions for.
func (m *Manager) Scope() session.Scope { return m.scope }

// refreshLocked classifies the current session list, applies the modify
// baseline and prunes keys that left the eligible set. A baseline session
// whose enrollment ended leaves the baseline and is deselected unless the
// user picked it.
func (m *Manager) refreshLocked() []session.Classified {
	existing := projections.EnrollmentSet(m.store.Enrollments(clientstore.MyEnrollments).ActiveTargets())
	list := projections.ClassifySessions(m.store.Sessions(m.scope, m.mode), m.mode, existing, projections.ClassifyOptions{
		Now:      m.now(),
		Location: m.loc,
	})

	toggleable := make(map[int64]bool, len(list))
	for _, c := range list {
		if m.seen[c.ID] && !c.CanBeCancelled {
			delete(m.seen, c.ID)
			if !m.picked[c.ID] {
				delete(m.selected, c.ID)
			}
		}
		if !c.Toggleable() {
			continue
		}
		toggleable[c.ID] = true
		if c.CanBeCancelled && !m.seen[c.ID] {
			m.seen[c.ID] = true
			m.selected[c.ID] = true
		}
	}
	for id := range m.selected {
		if !toggleable[id] {
			delete(m.selected, id)
			delete(m.picked, id)
			slog.Debug("selection_pruned", "session_id", id, "mode", m.mode)
		}
	}
	return list
}

// Toggle flips the selection of session id.
// PRE: id is a loaded, toggleable session
// POST: Returns the new selected state
func (m *Manager) Toggle(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.refreshLocked()
	c, ok := find(list, id)
	if !ok {
		return false, ErrUnknownSession
	}
	if !c.Toggleable() {
		return false, ErrNotToggleable
	}
	if m.selected[id] {
		m.deselectLocked(id)
		return false, nil
	}
	m.selectLocked(c)
	return true, nil
}

func (m *Manager) selectLocked(c session.Classified) {
	m.selected[c.ID] = true
	if c.Selectable {
		m.picked[c.ID] = true
	}
}

func (m *Manager) deselectLocked(id int64) {
	delete(m.selected, id)
	delete(m.picked, id)
}

// ToggleDate flips every toggleable session on date together: if all are
// selected they are deselected, otherwise all are selected.
// POST: Returns the new selected state of the date
func (m *Manager) ToggleDate(date string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.refreshLocked()
	var day []session.Classified
	all := true
	for _, c := range list {
		if c.Date != date || !c.Toggleable() {
			continue
		}
		day = append(day, c)
		if !m.selected[c.ID] {
			all = false
		}
	}
	if len(day) == 0 {
		return false, ErrNoSessionsOnDay
	}
	for _, c := range day {
		if all {
			m.deselectLocked(c.ID)
		} else {
			m.selectLocked(c)
		}
	}
	return !all, nil
}

// SelectAll selects every toggleable session: selectable ones in enroll
// mode, selectable-new and cancellable ones in modify mode.
// POST: SelectedCount() == SelectableCount()
func (m *Manager) SelectAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.refreshLocked() {
		if c.Toggleable() {
			m.selectLocked(c)
		}
	}
	return len(m.selected)
}

// DeselectAll clears the selection. In modify mode it reverts to the
// original enrollment: every still-cancellable enrolled session stays
// selected and only new candidates are dropped.
func (m *Manager) DeselectAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.refreshLocked()
	m.selected = make(map[int64]bool)
	m.picked = make(map[int64]bool)
	if m.mode == session.ModeModify {
		for _, c := range list {
			if c.CanBeCancelled {
				m.selected[c.ID] = true
			}
		}
	}
	return len(m.selected)
}

// Reset forgets the selection and the modify baseline. Called after a
// successful submission so the next refresh starts from the new enrollment.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.selected = make(map[int64]bool)
	m.seen = make(map[int64]bool)
	m.picked = make(map[int64]bool)
	m.mu.Unlock()
}

// StaleWindows returns the loaded windows of the manager's scope and mode
// that must be refetched before a plan can be built.
func (m *Manager) StaleWindows() []session.Window {
	var out []session.Window
	for _, w := range m.store.Windows(m.scope, m.mode) {
		if m.store.WindowStale(w) {
			out = append(out, w)
		}
	}
	return out
}

// SelectedCount returns the number of selected sessions.
func (m *Manager) SelectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
	return len(m.selected)
}

// SelectableCount returns the number of sessions the user may toggle.
func (m *Manager) SelectableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return projections.SelectableCount(m.refreshLocked())
}

// SelectedSessions returns the selected sessions in display order.
func (m *Manager) SelectedSessions() []session.Classified {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []session.Classified
	for _, c := range m.refreshLocked() {
		if m.selected[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// SelectedDates returns the distinct dates holding a selected session.
func (m *Manager) SelectedDates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool)
	for _, c := range m.refreshLocked() {
		if m.selected[c.ID] {
			set[c.Date] = true
		}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Item is one session in a State with its selection flag.
type Item struct {
	session.Classified
	Selected bool `json:"selected"`
}

// State is a consistent view of the manager for the presentation layer.
type State struct {
	Scope           session.Scope `json:"scope"`
	Mode            session.Mode  `json:"mode"`
	Items           []Item        `json:"items"`
	SelectedCount   int           `json:"selectedCount"`
	SelectableCount int           `json:"selectableCount"`
	SelectedDates   []string      `json:"selectedDates"`
}

// State returns every loaded session with its selection flag and counts,
// computed from a single refresh.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.refreshLocked()
	st := State{Scope: m.scope, Mode: m.mode, Items: make([]Item, 0, len(list)), SelectedDates: []string{}}
	dates := make(map[string]bool)
	for _, c := range list {
		sel := m.selected[c.ID]
		st.Items = append(st.Items, Item{Classified: c, Selected: sel})
		if sel && !dates[c.Date] {
			dates[c.Date] = true
			st.SelectedDates = append(st.SelectedDates, c.Date)
		}
	}
	st.SelectedCount = len(m.selected)
	st.SelectableCount = projections.SelectableCount(list)
	return st
}

func find(list []session.Classified, id int64) (session.Classified, bool) {
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return session.Classified{}, false
}
