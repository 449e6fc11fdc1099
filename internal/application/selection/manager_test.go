package selection

import (
	"errors"
	"testing"
	"time"

	"academy/internal/application/clientstore"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/session"
)

var testNow = time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)

var classScope = session.Scope{ClassID: 1}

func openSession(id int64, date string) session.Session {
	return session.Session{ID: id, ClassID: 1, Date: date, StartTime: "18:00", EndTime: "19:00", Capacity: 10, EnrolledCount: 2}
}

func window(mode session.Mode, from, to string) session.Window {
	return session.Window{Scope: classScope, Mode: mode, From: from, To: to}
}

func setup(t *testing.T, mode session.Mode, sessions ...session.Session) (*clientstore.Store, *Manager) {
	t.Helper()
	store := clientstore.New(clientstore.Options{})
	if _, err := store.PutSessions(window(mode, "2026-10-01", "2026-10-31"), sessions); err != nil {
		t.Fatalf("put sessions: %v", err)
	}
	return store, NewManager(store, classScope, mode, Options{Now: func() time.Time { return testNow }})
}

// TestScenarioA_SelectAllCountsOne: one open session, enroll mode, select all.
func TestScenarioA_SelectAllCountsOne(t *testing.T) {
	_, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"))
	m.SelectAll()
	if got := m.SelectedCount(); got != 1 {
		t.Errorf("selectedCount = %d, want 1", got)
	}
}

func TestSelectAll_MatchesSelectableCount(t *testing.T) {
	full := openSession(3, "2026-10-21")
	full.IsFull = true
	past := openSession(4, "2026-10-05")
	enrolled := openSession(5, "2026-10-22")
	enrolled.IsAlreadyEnrolled = true

	for _, mode := range []session.Mode{session.ModeEnroll, session.ModeModify} {
		t.Run(string(mode), func(t *testing.T) {
			_, m := setup(t, mode, openSession(1, "2026-10-20"), openSession(2, "2026-10-20"), full, past, enrolled)
			m.SelectAll()
			if m.SelectedCount() != m.SelectableCount() {
				t.Errorf("selected %d, selectable %d", m.SelectedCount(), m.SelectableCount())
			}
		})
	}
}

func TestDeselectAll_EnrollEmpties(t *testing.T) {
	_, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"), openSession(2, "2026-10-21"))
	m.SelectAll()
	if n := m.DeselectAll(); n != 0 {
		t.Errorf("expected empty selection, got %d", n)
	}
}

// TestScenarioE_DeselectAllKeepsOriginalEnrollment: in modify mode an
// untouched enrolled session stays selected after deselect all.
func TestScenarioE_DeselectAllKeepsOriginalEnrollment(t *testing.T) {
	enrolled := openSession(1, "2026-10-20")
	enrolled.IsAlreadyEnrolled = true
	_, m := setup(t, session.ModeModify, enrolled, openSession(2, "2026-10-21"))

	if _, err := m.Toggle(2); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	m.DeselectAll()

	got := m.SelectedSessions()
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected only the original session 1 selected, got %+v", got)
	}
	if _, err := m.Plan(); !errors.Is(err, ErrNothingSelected) {
		t.Errorf("reverted selection should yield no changes, got %v", err)
	}
}

func TestModifyPlan_CancellationsAndNewEnrollments(t *testing.T) {
	keep := openSession(1, "2026-10-20")
	keep.IsAlreadyEnrolled = true
	drop := openSession(2, "2026-10-21")
	drop.IsAlreadyEnrolled = true
	_, m := setup(t, session.ModeModify, keep, drop, openSession(3, "2026-10-22"), openSession(4, "2026-10-23"))

	if sel, err := m.Toggle(2); err != nil || sel {
		t.Fatalf("toggling an original session should deselect it, got %v %v", sel, err)
	}
	if sel, err := m.Toggle(3); err != nil || !sel {
		t.Fatalf("toggling a new session should select it, got %v %v", sel, err)
	}

	p, err := m.Plan()
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if p.Modify == nil || p.Enroll != nil {
		t.Fatalf("expected modify plan, got %+v", p)
	}
	if p.Modify.ClassID != 1 {
		t.Errorf("classId = %d, want 1", p.Modify.ClassID)
	}
	if len(p.Modify.Cancellations) != 1 || p.Modify.Cancellations[0] != 2 {
		t.Errorf("cancellations = %v, want [2]", p.Modify.Cancellations)
	}
	if len(p.Modify.NewEnrollments) != 1 || p.Modify.NewEnrollments[0] != 3 {
		t.Errorf("newEnrollments = %v, want [3]", p.Modify.NewEnrollments)
	}
}

func TestToggle_Errors(t *testing.T) {
	full := openSession(2, "2026-10-20")
	full.IsFull = true
	_, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"), full)

	if _, err := m.Toggle(2); !errors.Is(err, ErrNotToggleable) {
		t.Errorf("full session: expected ErrNotToggleable, got %v", err)
	}
	if _, err := m.Toggle(99); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("unknown session: expected ErrUnknownSession, got %v", err)
	}
}

func TestToggleDate_SelectsThenClearsDay(t *testing.T) {
	_, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"), openSession(2, "2026-10-20"), openSession(3, "2026-10-21"))

	if _, err := m.Toggle(1); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	sel, err := m.ToggleDate("2026-10-20")
	if err != nil || !sel {
		t.Fatalf("partially selected day should become selected, got %v %v", sel, err)
	}
	if n := m.SelectedCount(); n != 2 {
		t.Errorf("expected 2 selected, got %d", n)
	}
	if dates := m.SelectedDates(); len(dates) != 1 || dates[0] != "2026-10-20" {
		t.Errorf("selected dates = %v", dates)
	}
	if sel, _ := m.ToggleDate("2026-10-20"); sel {
		t.Error("fully selected day should clear")
	}
	if _, err := m.ToggleDate("2026-10-30"); !errors.Is(err, ErrNoSessionsOnDay) {
		t.Errorf("expected ErrNoSessionsOnDay, got %v", err)
	}
}

func TestPrune_SessionBecomesFullBeforeSubmit(t *testing.T) {
	store, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"), openSession(2, "2026-10-21"))
	m.SelectAll()

	now := openSession(2, "2026-10-21")
	now.IsFull = true
	if _, err := store.PutSessions(window(session.ModeEnroll, "2026-10-01", "2026-10-31"), []session.Session{openSession(1, "2026-10-20"), now}); err != nil {
		t.Fatalf("refetch: %v", err)
	}

	p, err := m.Plan()
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(p.Enroll.SessionIDs) != 1 || p.Enroll.SessionIDs[0] != 1 {
		t.Errorf("full session must be pruned, got %v", p.Enroll.SessionIDs)
	}
	if n := m.SelectedCount(); n != 1 {
		t.Errorf("selectedCount = %d after prune, want 1", n)
	}
}

func TestPrune_SessionRemovedFromFeed(t *testing.T) {
	store, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"), openSession(2, "2026-10-21"))
	m.SelectAll()
	store.RemoveSession(2)
	if n := m.SelectedCount(); n != 1 {
		t.Errorf("removed session must be pruned, got %d selected", n)
	}
}

func TestSelection_SpansMonths(t *testing.T) {
	store, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"))
	if _, err := store.PutSessions(window(session.ModeEnroll, "2026-11-01", "2026-11-30"), []session.Session{openSession(2, "2026-11-03")}); err != nil {
		t.Fatalf("put november: %v", err)
	}
	m.SelectAll()
	if dates := m.SelectedDates(); len(dates) != 2 {
		t.Errorf("expected selection in both months, got %v", dates)
	}
}

func TestSelection_ProvisionalEnrollmentLeavesEligibleSet(t *testing.T) {
	store, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"), openSession(2, "2026-10-21"))
	m.SelectAll()
	if _, err := store.Enrollments(clientstore.MyEnrollments).InsertProvisional(enrollment.Enrollment{SessionID: 1, Status: enrollment.StatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n := m.SelectableCount(); n != 1 {
		t.Errorf("selectableCount = %d, want 1", n)
	}
	if n := m.SelectedCount(); n != 1 {
		t.Errorf("selectedCount = %d, want 1", n)
	}
}

func TestEnrollPlan_NothingSelected(t *testing.T) {
	_, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"))
	if _, err := m.Plan(); !errors.Is(err, ErrNothingSelected) {
		t.Errorf("expected ErrNothingSelected, got %v", err)
	}
}

func TestState_ConsistentView(t *testing.T) {
	_, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"), openSession(2, "2026-10-21"))
	if _, err := m.Toggle(2); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	st := m.State()
	if st.SelectedCount != 1 || st.SelectableCount != 2 || len(st.Items) != 2 {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.Items[0].Selected || !st.Items[1].Selected {
		t.Errorf("selection flags wrong: %+v", st.Items)
	}
	if len(st.SelectedDates) != 1 || st.SelectedDates[0] != "2026-10-21" {
		t.Errorf("selected dates = %v", st.SelectedDates)
	}
}

func TestRegistry_ReusesManager(t *testing.T) {
	r := NewRegistry(clientstore.New(clientstore.Options{}), Options{})
	a := r.For(classScope, session.ModeModify)
	if r.For(classScope, session.ModeModify) != a {
		t.Error("expected the same manager for the same scope and mode")
	}
	if r.For(classScope, "") == a {
		t.Error("enroll and modify must not share a manager")
	}
}

func TestModify_EndedEnrollmentLeavesBaseline(t *testing.T) {
	store, m := setup(t, session.ModeModify, openSession(1, "2026-10-20"), openSession(2, "2026-10-21"))
	mine := store.Enrollments(clientstore.MyEnrollments)
	if err := mine.ReplaceConfirmed([]enrollment.Enrollment{{ID: 42, SessionID: 1, ClassID: 1, Status: enrollment.StatusConfirmed}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := m.SelectedSessions(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("enrolled session 1 should start selected, got %+v", got)
	}

	if _, err := store.PatchStatus(clientstore.KindEnrollment, 42, enrollment.StatusRejected); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if _, err := m.Toggle(2); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	p, err := m.Plan()
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(p.Modify.NewEnrollments) != 1 || p.Modify.NewEnrollments[0] != 2 {
		t.Errorf("newEnrollments = %v, want [2]", p.Modify.NewEnrollments)
	}
	if len(p.Modify.Cancellations) != 0 {
		t.Errorf("cancellations = %v, want none", p.Modify.Cancellations)
	}
}

func TestModify_PickedSessionSurvivesBaselineChange(t *testing.T) {
	store, m := setup(t, session.ModeModify, openSession(1, "2026-10-20"))
	mine := store.Enrollments(clientstore.MyEnrollments)
	if sel, err := m.Toggle(1); err != nil || !sel {
		t.Fatalf("selecting a new candidate: %v %v", sel, err)
	}

	// The session joins and then leaves the enrollment while the pick stands.
	mine.ReplaceConfirmed([]enrollment.Enrollment{{ID: 42, SessionID: 1, ClassID: 1, Status: enrollment.StatusConfirmed}})
	m.SelectedCount()
	store.PatchStatus(clientstore.KindEnrollment, 42, enrollment.StatusCancelled)

	p, err := m.Plan()
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(p.Modify.NewEnrollments) != 1 || p.Modify.NewEnrollments[0] != 1 {
		t.Errorf("user pick must be kept, got %v", p.Modify.NewEnrollments)
	}
}

func TestPlan_StaleWindowRefusesUntilRefetched(t *testing.T) {
	store, m := setup(t, session.ModeEnroll, openSession(1, "2026-10-20"), openSession(2, "2026-10-21"))
	if _, err := m.Toggle(1); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	store.InvalidateSessionDate("2026-10-20")
	if got := m.StaleWindows(); len(got) != 1 || got[0] != window(session.ModeEnroll, "2026-10-01", "2026-10-31") {
		t.Fatalf("stale windows = %+v", got)
	}
	if _, err := m.Plan(); !errors.Is(err, ErrStaleSessions) {
		t.Fatalf("expected ErrStaleSessions, got %v", err)
	}

	full := openSession(1, "2026-10-20")
	full.IsFull = true
	if _, err := store.PutSessions(window(session.ModeEnroll, "2026-10-01", "2026-10-31"), []session.Session{full, openSession(2, "2026-10-21")}); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if len(m.StaleWindows()) != 0 {
		t.Error("refetched window should be fresh")
	}
	if _, err := m.Plan(); !errors.Is(err, ErrNothingSelected) {
		t.Errorf("full session must be pruned after refetch, got %v", err)
	}
}
