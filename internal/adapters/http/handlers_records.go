package web

import (
	"errors"
	"net/http"

	"academy/internal/application/clientstore"
	"academy/internal/application/listutil"
	"academy/internal/application/projections"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/refund"
)

// recordsResponse is a collection, optionally filtered by status and paged.
type recordsResponse struct {
	projections.GetRecordsResult
	Page *listutil.PageInfo `json:"page,omitempty"`
}

// handleCreateRefund serves POST /api/refunds. The refund shows as pending in
// refunds/mine until the backend answers.
func handleCreateRefund(w http.ResponseWriter, r *http.Request) {
	var req refund.Request
	if err := strictDecode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := services.Coordinator.SubmitRefund(r.Context(), req)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleGetRecords serves GET /api/records/{collection}, e.g.
// /api/records/enrollments/requests?status=PENDING&page=2&per_page=20.
func handleGetRecords(w http.ResponseWriter, r *http.Request) {
	c := clientstore.Collection(r.PathValue("collection"))
	result, err := projections.QueryGetRecords(r.Context(), c, isTruthy(r.URL.Query().Get("refresh")), projections.GetRecordsDeps{
		Fetcher: services.Fetcher,
		Store:   services.Store,
	})
	if errors.Is(err, projections.ErrUnknownCollection) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}

	lp := listutil.ParseParams(r.URL.Query())
	resp := recordsResponse{GetRecordsResult: result}
	resp.Enrollments = listutil.Filter(resp.Enrollments, lp.Status, func(e clientstore.Entry[enrollment.Enrollment]) string { return e.Data.Status })
	resp.Refunds = listutil.Filter(resp.Refunds, lp.Status, func(e clientstore.Entry[refund.Refund]) string { return e.Data.Status })
	if lp.Paged {
		var info listutil.PageInfo
		switch c.Kind() {
		case clientstore.KindEnrollment:
			resp.Enrollments, info = listutil.Paginate(resp.Enrollments, lp)
		case clientstore.KindRefund:
			resp.Refunds, info = listutil.Paginate(resp.Refunds, lp)
		}
		resp.Page = &info
	}
	writeJSON(w, http.StatusOK, resp)
}
