package web

import (
	"errors"
	"net/http"
	"time"

	"academy/internal/application/projections"
	"academy/internal/domain/session"
)

// handleGetSessions serves GET /api/sessions?classId|academyId&from&to&mode,
// or month=YYYY-MM in place of from and to.
func handleGetSessions(w http.ResponseWriter, r *http.Request) {
	scope, mode, err := scopeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if month := q.Get("month"); month != "" {
		start, err := time.Parse("2006-01", month)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		from = start.Format(session.DateLayout)
		to = start.AddDate(0, 1, -1).Format(session.DateLayout)
	}

	result, err := projections.QueryGetEligibleSessions(r.Context(), projections.GetEligibleSessionsQuery{
		Window:       session.Window{Scope: scope, Mode: mode, From: from, To: to},
		ForceRefresh: isTruthy(q.Get("refresh")),
	}, projections.GetEligibleSessionsDeps{
		Feed:     services.Feed,
		Store:    services.Store,
		Now:      timeNow,
		Location: services.Location,
	})
	switch {
	case errors.Is(err, projections.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, "session feed unavailable")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
