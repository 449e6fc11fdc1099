package selection

import (
	"sort"

	"academy/internal/domain/session"
)

// Plan is a submission derived from the current selection. Exactly one of
// Enroll and Modify is set, matching the manager's mode.
type Plan struct {
	Mode   session.Mode `json:"mode"`
	Enroll *EnrollPlan  `json:"enroll,omitempty"`
	Modify *ModifyPlan  `json:"modify,omitempty"`
}

// EnrollPlan lists the sessions to enroll in.
type EnrollPlan struct {
	SessionIDs []int64 `json:"sessionIds"`
}

// ModifyPlan lists the changes to an existing enrollment.
type ModifyPlan struct {
	ClassID        int64   `json:"classId"`
	Cancellations  []int64 `json:"cancellations"`
	NewEnrollments []int64 `json:"newEnrollments"`
}

// Plan builds the submission for the current selection after pruning.
// In modify mode every cancellable session left unselected is cancelled and
// every selected new candidate is enrolled. Plan refuses to run on a stale
// session window; the caller refetches the windows from StaleWindows first.
// PRE: at least one change is selected; no loaded window is stale
// POST: Every id in the plan is toggleable in the latest session list
func (m *Manager) Plan() (Plan, error) {
	if len(m.StaleWindows()) > 0 {
		return Plan{}, ErrStaleSessions
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.refreshLocked()

	if m.mode == session.ModeModify {
		mp := &ModifyPlan{ClassID: m.scope.ClassID}
		for _, c := range list {
			switch {
			case c.CanBeCancelled && !m.selected[c.ID]:
				mp.Cancellations = append(mp.Cancellations, c.ID)
			case c.Selectable && m.selected[c.ID]:
				mp.NewEnrollments = append(mp.NewEnrollments, c.ID)
			}
		}
		if len(mp.Cancellations) == 0 && len(mp.NewEnrollments) == 0 {
			return Plan{}, ErrNothingSelected
		}
		sortIDs(mp.Cancellations)
		sortIDs(mp.NewEnrollments)
		return Plan{Mode: m.mode, Modify: mp}, nil
	}

	ep := &EnrollPlan{}
	for _, c := range list {
		if c.Selectable && m.selected[c.ID] {
			ep.SessionIDs = append(ep.SessionIDs, c.ID)
		}
	}
	if len(ep.SessionIDs) == 0 {
		return Plan{}, ErrNothingSelected
	}
	sortIDs(ep.SessionIDs)
	return Plan{Mode: m.mode, Enroll: ep}, nil
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
