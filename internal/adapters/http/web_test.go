package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"academy/internal/adapters/http/perf"
	"academy/internal/application/clientstore"
	"academy/internal/application/orchestrators"
	"academy/internal/application/selection"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/refund"
	"academy/internal/domain/session"
)

var testNow = time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)

// fakeBackend stands in for the academy REST API.
type fakeBackend struct {
	mu         sync.Mutex
	sessions   []session.Session
	feedCalls  int
	mine       []enrollment.Enrollment
	enrollReqs []enrollment.BatchEnrollRequest
	refundErr  error
}

func (f *fakeBackend) GetSessions(_ context.Context, w session.Window) ([]session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedCalls++
	var out []session.Session
	for _, s := range f.sessions {
		if w.Contains(s.Date) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeBackend) ListEnrollments(_ context.Context, _ clientstore.Collection) ([]enrollment.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mine, nil
}

func (f *fakeBackend) ListRefunds(_ context.Context, _ clientstore.Collection) ([]refund.Refund, error) {
	return nil, nil
}

func (f *fakeBackend) CreateRefund(_ context.Context, req refund.Request) (refund.Refund, error) {
	if f.refundErr != nil {
		return refund.Refund{}, f.refundErr
	}
	return refund.Refund{ID: 900, SessionEnrollmentID: req.SessionEnrollmentID, Reason: req.Reason, Status: refund.StatusPending}, nil
}

func (f *fakeBackend) BatchEnroll(_ context.Context, req enrollment.BatchEnrollRequest) (enrollment.BatchEnrollResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollReqs = append(f.enrollReqs, req)
	resp := enrollment.BatchEnrollResponse{Success: true, EnrolledSessions: req.SessionIDs}
	for _, id := range req.SessionIDs {
		resp.Enrollments = append(resp.Enrollments, enrollment.Enrollment{ID: 100 + id, SessionID: id, ClassID: 1, Status: enrollment.StatusConfirmed})
	}
	return resp, nil
}

func (f *fakeBackend) BatchModify(_ context.Context, req enrollment.BatchModifyRequest) (enrollment.BatchModifyResponse, error) {
	return enrollment.BatchModifyResponse{Success: true, CancelledSessions: req.Cancellations, EnrolledSessions: req.NewEnrollments}, nil
}

// backendStatus is a backend error response with an HTTP status.
type backendStatus int

func (b backendStatus) Error() string                  { return http.StatusText(int(b)) }
func (b backendStatus) StatusCode() int                { return int(b) }
func (b backendStatus) FieldErrors() map[string]string { return nil }

func openSession(id int64, date string) session.Session {
	return session.Session{ID: id, ClassID: 1, Date: date, StartTime: "18:00", EndTime: "19:00", Capacity: 10, EnrolledCount: 2}
}

type testEnv struct {
	srv       *httptest.Server
	client    *http.Client
	backend   *fakeBackend
	store     *clientstore.Store
	collector *perf.Collector
	token     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	oldNow := timeNow
	timeNow = func() time.Time { return testNow }
	t.Cleanup(func() { timeNow = oldNow })

	backend := &fakeBackend{sessions: []session.Session{
		openSession(1, "2026-10-20"),
		openSession(2, "2026-10-20"),
		openSession(3, "2026-11-03"),
	}}
	store := clientstore.New(clientstore.Options{Now: timeNow})
	collector := perf.NewCollector(100)
	now := func() time.Time { return testNow }
	svc := &Services{
		Store:       store,
		Feed:        backend,
		Fetcher:     backend,
		Coordinator: orchestrators.NewCoordinator(orchestrators.CoordinatorDeps{API: backend, Store: store, Now: now}),
		Selections:  selection.NewRegistry(store, selection.Options{Now: now, Location: time.UTC}),
		Location:    time.UTC,
	}
	h := NewMux(svc, collector, Options{Context: t.Context(), CSRFKey: bytes.Repeat([]byte{7}, 32), RatePerSecond: 1000})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return &testEnv{srv: srv, client: &http.Client{Jar: jar}, backend: backend, store: store, collector: collector}
}

func (e *testEnv) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

// post sends body with the CSRF token fetched from /api/csrf.
func (e *testEnv) post(t *testing.T, path string, body, out any) int {
	t.Helper()
	if e.token == "" {
		var tok map[string]string
		e.get(t, "/api/csrf", &tok)
		e.token = tok["token"]
	}
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", e.token)
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestHealthzCarriesSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.client.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" || resp.Header.Get("Cache-Control") != "no-store" {
		t.Errorf("missing security headers: %v", resp.Header)
	}
}

func TestGetSessions(t *testing.T) {
	env := newTestEnv(t)

	var body struct {
		Sessions   []session.Classified `json:"sessions"`
		Selectable int                  `json:"selectable"`
	}
	if code := env.get(t, "/api/sessions?classId=1&month=2026-10", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Sessions) != 2 || body.Selectable != 2 || !body.Sessions[0].Selectable {
		t.Errorf("body = %+v", body)
	}

	env.get(t, "/api/sessions?classId=1&from=2026-10-01&to=2026-10-31", nil)
	if env.backend.feedCalls != 1 {
		t.Errorf("feed calls = %d, a fresh window must be served from the store", env.backend.feedCalls)
	}
	env.get(t, "/api/sessions?classId=1&from=2026-10-01&to=2026-10-31&refresh=1", nil)
	if env.backend.feedCalls != 2 {
		t.Errorf("feed calls = %d after forced refresh", env.backend.feedCalls)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"from=2026-10-01&to=2026-10-31", http.StatusBadRequest},
		{"classId=abc&from=2026-10-01&to=2026-10-31", http.StatusBadRequest},
		{"classId=1&from=2026-10-31&to=2026-10-01", http.StatusBadRequest},
		{"classId=1&month=October", http.StatusBadRequest},
		{"classId=1&month=2026-10&mode=swap", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if code := env.get(t, "/api/sessions?"+tt.query, nil); code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.query, code, tt.want)
		}
	}
}

func TestSelection_ToggleAndSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/api/sessions?classId=1&month=2026-10", nil)
	scope := map[string]any{"classId": 1}

	var toggled struct {
		Selected      bool `json:"selected"`
		SelectedCount int  `json:"selectedCount"`
	}
	if code := env.post(t, "/api/selection/toggle", map[string]any{"classId": 1, "sessionId": 2}, &toggled); code != http.StatusOK {
		t.Fatalf("toggle status = %d", code)
	}
	if !toggled.Selected || toggled.SelectedCount != 1 {
		t.Errorf("toggle = %+v", toggled)
	}

	var st selection.State
	env.post(t, "/api/selection/select-all", scope, &st)
	if st.SelectedCount != 2 || len(st.SelectedDates) != 1 {
		t.Errorf("after select-all: %+v", st)
	}

	var submitted submitResponse
	if code := env.post(t, "/api/selection/submit", scope, &submitted); code != http.StatusOK {
		t.Fatalf("submit status = %d", code)
	}
	if submitted.Result.Outcome != "applied" || len(submitted.Result.Succeeded) != 2 {
		t.Errorf("result = %+v", submitted.Result)
	}
	if submitted.State.SelectedCount != 0 || submitted.State.SelectableCount != 0 {
		t.Errorf("state after submit = %+v, enrolled sessions are no longer selectable", submitted.State)
	}
	if len(env.backend.enrollReqs) != 1 || len(env.backend.enrollReqs[0].SessionIDs) != 2 {
		t.Errorf("enroll requests = %+v", env.backend.enrollReqs)
	}
	if got := env.store.Enrollments(clientstore.MyEnrollments).Confirmed(); len(got) != 2 {
		t.Errorf("confirmed enrollments = %+v", got)
	}
}

func TestSelection_SubmitRefetchesStaleWindow(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/api/sessions?classId=1&month=2026-10", nil)
	if code := env.post(t, "/api/selection/toggle", map[string]any{"classId": 1, "sessionId": 1}, nil); code != http.StatusOK {
		t.Fatalf("toggle status = %d", code)
	}

	// A session_updated push reports session 1 full.
	env.backend.mu.Lock()
	env.backend.sessions[0].IsFull = true
	env.backend.mu.Unlock()
	env.store.InvalidateSessionDate("2026-10-20")

	if code := env.post(t, "/api/selection/submit", map[string]any{"classId": 1}, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("submit status = %d, the full session must be pruned", code)
	}
	if env.backend.feedCalls != 2 {
		t.Errorf("feed calls = %d, the stale window must be refetched", env.backend.feedCalls)
	}
	if len(env.backend.enrollReqs) != 0 {
		t.Errorf("enroll requests = %+v", env.backend.enrollReqs)
	}
}

func TestSelection_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/api/sessions?classId=1&month=2026-10", nil)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown session", "/api/selection/toggle", map[string]any{"classId": 1, "sessionId": 99}, http.StatusNotFound},
		{"no scope", "/api/selection/toggle", map[string]any{"sessionId": 1}, http.StatusBadRequest},
		{"unknown field", "/api/selection/toggle", map[string]any{"classId": 1, "session": 1}, http.StatusBadRequest},
		{"modify without class", "/api/selection/select-all", map[string]any{"academyId": 4, "mode": "modify"}, http.StatusBadRequest},
		{"empty date", "/api/selection/toggle-date", map[string]any{"classId": 1, "date": "2026-10-21"}, http.StatusUnprocessableEntity},
		{"nothing selected", "/api/selection/submit", map[string]any{"classId": 1}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := env.post(t, tt.path, tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.client.Post(env.srv.URL+"/api/selection/toggle", "application/json", bytes.NewReader([]byte(`{"classId":1,"sessionId":1}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestCreateRefund(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]any
		apiErr   error
		want     int
		wantKind string
	}{
		{"created", map[string]any{"sessionEnrollmentId": 42, "reason": "moving"}, nil, http.StatusCreated, ""},
		{"missing reason", map[string]any{"sessionEnrollmentId": 42}, nil, http.StatusUnprocessableEntity, "validation"},
		{"network failure", map[string]any{"sessionEnrollmentId": 42, "reason": "moving"}, errors.New("connection reset"), http.StatusServiceUnavailable, "transient"},
		{"token rejected", map[string]any{"sessionEnrollmentId": 42, "reason": "moving"}, backendStatus(http.StatusForbidden), http.StatusUnauthorized, "unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.backend.refundErr = tt.apiErr
			var body errorResponse
			if code := env.post(t, "/api/refunds", tt.body, &body); code != tt.want {
				t.Fatalf("status = %d, want %d", code, tt.want)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", body.Kind, tt.wantKind)
			}
			list := env.store.Refunds(clientstore.MyRefunds).List()
			if tt.want == http.StatusCreated && (len(list) != 1 || list[0].ServerID != 900) {
				t.Errorf("refunds = %+v", list)
			}
			if tt.want != http.StatusCreated && len(list) != 0 {
				t.Errorf("failed refund left %+v", list)
			}
		})
	}
}

func TestGetRecords(t *testing.T) {
	env := newTestEnv(t)
	env.backend.mine = []enrollment.Enrollment{{ID: 42, SessionID: 1, ClassID: 1, Status: enrollment.StatusConfirmed}}

	var body struct {
		Collection  string                                     `json:"collection"`
		Enrollments []clientstore.Entry[enrollment.Enrollment] `json:"enrollments"`
	}
	if code := env.get(t, "/api/records/enrollments/mine", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Collection != "enrollments/mine" || len(body.Enrollments) != 1 || body.Enrollments[0].ServerID != 42 {
		t.Errorf("body = %+v", body)
	}

	env.backend.mine = []enrollment.Enrollment{
		{ID: 42, SessionID: 1, ClassID: 1, Status: enrollment.StatusConfirmed},
		{ID: 43, SessionID: 2, ClassID: 1, Status: enrollment.StatusPending},
		{ID: 44, SessionID: 3, ClassID: 1, Status: enrollment.StatusPending},
	}
	var paged struct {
		Enrollments []clientstore.Entry[enrollment.Enrollment] `json:"enrollments"`
		Page        struct {
			Total      int `json:"total"`
			TotalPages int `json:"totalPages"`
		} `json:"page"`
	}
	env.get(t, "/api/records/enrollments/mine?refresh=1&status=pending&page=1&per_page=10", &paged)
	if len(paged.Enrollments) != 2 || paged.Page.Total != 2 || paged.Page.TotalPages != 1 {
		t.Errorf("filtered page = %+v", paged)
	}

	if code := env.get(t, "/api/records/payments/mine", nil); code != http.StatusNotFound {
		t.Errorf("unknown collection status = %d", code)
	}
}

func TestDebugPerf(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/api/sessions?classId=1&month=2026-10", nil)

	var report perfReport
	if code := env.get(t, "/debug/perf?minutes=5", &report); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if report.Perf.TotalRecorded < 1 || report.PendingKeys == nil {
		t.Errorf("report = %+v", report)
	}
	if report.Listener != nil || report.Push != nil {
		t.Error("listener and push stats are omitted when not wired")
	}
	if code := env.get(t, "/debug/outbox", nil); code != http.StatusNotFound {
		t.Errorf("outbox status = %d without a store", code)
	}
}
