package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"academy/internal/adapters/http/perf"
	"academy/internal/application/clientstore"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/mutation"
	"academy/internal/domain/refund"
	"academy/internal/domain/session"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *perf.Collector) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	collector := perf.NewCollector(50)
	return NewClient(srv.URL+"/", "tok-123", WithCollector(collector)), collector
}

func TestGetSessions_QueryAndAuth(t *testing.T) {
	c, collector := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("classId") != "1" || q.Get("academyId") != "" || q.Get("from") != "2026-10-01" || q.Get("to") != "2026-10-31" || q.Get("mode") != "modify" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode([]session.Session{{ID: 5, ClassID: 1, Date: "2026-10-20", StartTime: "18:00", Capacity: 10}})
	})

	w := session.Window{Scope: session.Scope{ClassID: 1}, Mode: session.ModeModify, From: "2026-10-01", To: "2026-10-31"}
	got, err := c.GetSessions(context.Background(), w)
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if len(got) != 1 || got[0].ID != 5 {
		t.Errorf("sessions = %+v", got)
	}
	snap := collector.Snapshot(time.Now().Add(-time.Minute), 5)
	if len(snap.SlowestCalls) != 1 || snap.SlowestCalls[0].Path != "GET /api/sessions" {
		t.Errorf("calls = %+v, want the route without its query", snap.SlowestCalls)
	}
}

func TestGetSessions_AcademyScope(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("academyId") != "9" {
			t.Errorf("query = %v", r.URL.Query())
		}
		w.Write([]byte(`[]`))
	})
	w := session.Window{Scope: session.Scope{AcademyID: 9}, Mode: session.ModeEnroll, From: "2026-10-01", To: "2026-10-31"}
	if _, err := c.GetSessions(context.Background(), w); err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
}

func TestListEnrollments_NormalizesStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/enrollments/mine" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[{"id":1,"sessionId":5,"status":" confirmed "}]`))
	})
	got, err := c.ListEnrollments(context.Background(), clientstore.MyEnrollments)
	if err != nil {
		t.Fatalf("ListEnrollments: %v", err)
	}
	if got[0].Status != enrollment.StatusConfirmed {
		t.Errorf("status = %q", got[0].Status)
	}
}

func TestCreateRefund_SendsBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("method = %s content-type = %s", r.Method, r.Header.Get("Content-Type"))
		}
		var req refund.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(refund.Refund{ID: 77, SessionEnrollmentID: req.SessionEnrollmentID, Reason: req.Reason, Status: "pending"})
	})
	got, err := c.CreateRefund(context.Background(), refund.Request{SessionEnrollmentID: 42, Reason: "moving"})
	if err != nil {
		t.Fatalf("CreateRefund: %v", err)
	}
	if got.ID != 77 || got.SessionEnrollmentID != 42 || got.Status != refund.StatusPending {
		t.Errorf("refund = %+v", got)
	}
}

func TestStatusError_Fields(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		wantField string
	}{
		{"message and errors", 422, `{"message":"invalid","errors":{"reason":"required"}}`, "invalid", "reason"},
		{"legacy names", 400, `{"error":"bad","fieldErrors":{"accountNumber":"digits"}}`, "bad", "accountNumber"},
		{"plain text", 409, "session full", "session full", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.BatchEnroll(context.Background(), enrollment.BatchEnrollRequest{SessionIDs: []int64{5}})
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StatusError, got %T %v", err, err)
			}
			if se.StatusCode() != tt.status || se.Message != tt.wantMsg {
				t.Errorf("got %d %q", se.StatusCode(), se.Message)
			}
			if tt.wantField != "" && se.FieldErrors()[tt.wantField] == "" {
				t.Errorf("missing field %q in %v", tt.wantField, se.FieldErrors())
			}
		})
	}
}

func TestMalformedResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":tru`))
	})
	_, err := c.BatchModify(context.Background(), enrollment.BatchModifyRequest{ClassID: 1, NewEnrollments: []int64{5}})
	if !errors.Is(err, mutation.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestNetworkFailureRecordsCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	collector := perf.NewCollector(10)
	c := NewClient(url, "", WithCollector(collector))
	if err := c.RegisterPushToken(context.Background(), PushToken{Token: "t", Platform: "web"}); err == nil {
		t.Fatal("expected a connection error")
	}
	if got := collector.Snapshot(time.Now().Add(-time.Minute), 5).FailedCalls; got != 1 {
		t.Errorf("FailedCalls = %d, want 1", got)
	}
}
