package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/csrf"

	"academy/internal/adapters/http/perf"
	"academy/internal/application/reconcile"
	"academy/internal/domain/outbox"
)

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCSRFToken hands the UI shell the token it must echo in X-CSRF-Token
// on every POST.
func handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token := csrf.Token(r)
	w.Header().Set("X-CSRF-Token", token)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// perfReport is the body of GET /debug/perf.
type perfReport struct {
	Perf        perf.Snapshot    `json:"perf"`
	Listener    *reconcile.Stats `json:"listener,omitempty"`
	Push        *pushStats       `json:"push,omitempty"`
	PendingKeys []string         `json:"pendingKeys"`
}

type pushStats struct {
	Connected bool  `json:"connected"`
	Connects  int64 `json:"connects"`
	Frames    int64 `json:"frames"`
}

// handleDebugPerf serves GET /debug/perf?minutes=15&limit=10.
func handleDebugPerf(w http.ResponseWriter, r *http.Request) {
	minutes := 15
	if n, err := strconv.Atoi(r.URL.Query().Get("minutes")); err == nil && n > 0 && n <= 24*60 {
		minutes = n
	}
	limit := 10
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	var report perfReport
	if perfCollector != nil {
		report.Perf = perfCollector.Snapshot(time.Now().Add(-time.Duration(minutes)*time.Minute), limit)
	}
	if services.Listener != nil {
		st := services.Listener.Stats()
		report.Listener = &st
	}
	if services.Subscriber != nil {
		connects, frames := services.Subscriber.Stats()
		report.Push = &pushStats{Connected: services.Subscriber.Connected(), Connects: connects, Frames: frames}
	}
	report.PendingKeys = services.Coordinator.PendingKeys()
	if report.PendingKeys == nil {
		report.PendingKeys = []string{}
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDebugOutbox serves GET /debug/outbox?status=failed|pending&limit=50.
func handleDebugOutbox(w http.ResponseWriter, r *http.Request) {
	if services.Outbox == nil {
		writeError(w, http.StatusNotFound, "outbox disabled")
		return
	}
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	var entries []outbox.Entry
	var err error
	if r.URL.Query().Get("status") == "pending" {
		entries, err = services.Outbox.ListPending(r.Context(), limit)
	} else {
		entries, err = services.Outbox.ListFailed(r.Context(), limit)
	}
	if err != nil {
		internalError(w, err)
		return
	}
	if entries == nil {
		entries = []outbox.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleDebugOutboxRetry serves POST /debug/outbox/{id}/retry.
func handleDebugOutboxRetry(w http.ResponseWriter, r *http.Request) {
	if services.Processor == nil {
		writeError(w, http.StatusNotFound, "outbox disabled")
		return
	}
	if err := services.Processor.ProcessSingle(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, outbox.ErrTerminal) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retry triggered"})
}
