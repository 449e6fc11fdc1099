package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"academy/internal/application/clientstore"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/session"
)

type mockSessionFeed struct {
	sessions []session.Session
	err      error
	calls    int
}

// GetSessions returns the seeded sessions dated inside w.
// PRE: w is a valid window
// POST: Returns matching sessions or the seeded error
func (m *mockSessionFeed) GetSessions(_ context.Context, w session.Window) ([]session.Session, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []session.Session
	for _, s := range m.sessions {
		if w.Contains(s.Date) {
			out = append(out, s)
		}
	}
	return out, nil
}

func octoberWindow(mode session.Mode) session.Window {
	return session.Window{Scope: session.Scope{ClassID: 1}, Mode: mode, From: "2026-10-01", To: "2026-10-31"}
}

func eligibleDeps(feed *mockSessionFeed, store *clientstore.Store) GetEligibleSessionsDeps {
	return GetEligibleSessionsDeps{
		Feed:  feed,
		Store: store,
		Now:   func() time.Time { return classifyNow },
	}
}

// TestScenarioA_SingleOpenSession: one open session in enroll mode is selectable.
func TestScenarioA_SingleOpenSession(t *testing.T) {
	feed := &mockSessionFeed{sessions: []session.Session{futureSession(1)}}
	store := clientstore.New(clientstore.Options{})

	res, err := QueryGetEligibleSessions(context.Background(), GetEligibleSessionsQuery{Window: octoberWindow(session.ModeEnroll)}, eligibleDeps(feed, store))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sessions) != 1 || !res.Sessions[0].Selectable {
		t.Fatalf("expected one selectable session, got %+v", res.Sessions)
	}
	if res.Selectable != 1 {
		t.Errorf("expected selectable count 1, got %d", res.Selectable)
	}
}

func TestQueryGetEligibleSessions_UsesCacheUntilStale(t *testing.T) {
	feed := &mockSessionFeed{sessions: []session.Session{futureSession(1)}}
	store := clientstore.New(clientstore.Options{})
	deps := eligibleDeps(feed, store)
	q := GetEligibleSessionsQuery{Window: octoberWindow(session.ModeEnroll)}

	for i := 0; i < 3; i++ {
		if _, err := QueryGetEligibleSessions(context.Background(), q, deps); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}
	if feed.calls != 1 {
		t.Errorf("expected 1 feed call, got %d", feed.calls)
	}

	store.InvalidateSessionDate("2026-10-20")
	if _, err := QueryGetEligibleSessions(context.Background(), q, deps); err != nil {
		t.Fatalf("query after invalidate: %v", err)
	}
	if feed.calls != 2 {
		t.Errorf("expected refetch after invalidation, got %d calls", feed.calls)
	}
}

func TestQueryGetEligibleSessions_ServesStaleOnFeedError(t *testing.T) {
	feed := &mockSessionFeed{sessions: []session.Session{futureSession(1)}}
	store := clientstore.New(clientstore.Options{})
	deps := eligibleDeps(feed, store)
	q := GetEligibleSessionsQuery{Window: octoberWindow(session.ModeEnroll)}
	if _, err := QueryGetEligibleSessions(context.Background(), q, deps); err != nil {
		t.Fatalf("first query: %v", err)
	}

	feed.err = errors.New("offline")
	q.ForceRefresh = true
	res, err := QueryGetEligibleSessions(context.Background(), q, deps)
	if err != nil {
		t.Fatalf("cached window should be served, got %v", err)
	}
	if !res.Stale || len(res.Sessions) != 1 {
		t.Errorf("expected stale cached result, got %+v", res)
	}
}

func TestQueryGetEligibleSessions_ErrorWithoutCache(t *testing.T) {
	feed := &mockSessionFeed{err: errors.New("offline")}
	store := clientstore.New(clientstore.Options{})
	_, err := QueryGetEligibleSessions(context.Background(), GetEligibleSessionsQuery{Window: octoberWindow(session.ModeEnroll)}, eligibleDeps(feed, store))
	if err == nil {
		t.Fatal("expected error when nothing is cached")
	}
}

func TestQueryGetEligibleSessions_InvalidWindow(t *testing.T) {
	store := clientstore.New(clientstore.Options{})
	_, err := QueryGetEligibleSessions(context.Background(), GetEligibleSessionsQuery{Window: session.Window{From: "2026-10-01", To: "2026-10-31"}}, eligibleDeps(&mockSessionFeed{}, store))
	if !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestQueryGetEligibleSessions_ProvisionalEnrollmentCountsAsEnrolled(t *testing.T) {
	feed := &mockSessionFeed{sessions: []session.Session{futureSession(1), futureSession(2)}}
	store := clientstore.New(clientstore.Options{})
	if _, err := store.Enrollments(clientstore.MyEnrollments).InsertProvisional(enrollment.Enrollment{SessionID: 2, Status: enrollment.StatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := QueryGetEligibleSessions(context.Background(), GetEligibleSessionsQuery{Window: octoberWindow(session.ModeEnroll)}, eligibleDeps(feed, store))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range res.Sessions {
		if c.ID == 2 && (c.Selectable || c.Reason != session.ReasonEnrolled) {
			t.Errorf("session 2 has a pending enrollment and should show as enrolled, got %+v", c)
		}
		if c.ID == 1 && !c.Selectable {
			t.Errorf("session 1 should stay selectable")
		}
	}
}
