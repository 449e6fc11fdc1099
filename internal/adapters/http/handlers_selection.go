package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"academy/internal/application/projections"
	"academy/internal/application/selection"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/mutation"
	"academy/internal/domain/session"
)

// selectionRequest is the body of every POST /api/selection/* call.
type selectionRequest struct {
	AcademyID int64  `json:"academyId,omitempty"`
	ClassID   int64  `json:"classId,omitempty"`
	Mode      string `json:"mode,omitempty"`
	SessionID int64  `json:"sessionId,omitempty"`
	Date      string `json:"date,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// selectionResponse carries the manager state after a change.
type selectionResponse struct {
	Selected *bool `json:"selected,omitempty"`
	selection.State
}

// submitResponse reports a submission and the state after it.
type submitResponse struct {
	Result mutation.Result `json:"result"`
	State  selection.State `json:"state"`
}

func (req selectionRequest) manager() (*selection.Manager, error) {
	scope := session.Scope{AcademyID: req.AcademyID, ClassID: req.ClassID}
	if scope.IsZero() {
		return nil, errors.New("academyId or classId is required")
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if mode == session.ModeModify && scope.ClassID == 0 {
		return nil, errors.New("modify mode needs a classId")
	}
	return services.Selections.For(scope, mode), nil
}

func decodeSelection(w http.ResponseWriter, r *http.Request) (selectionRequest, *selection.Manager, bool) {
	var req selectionRequest
	if err := strictDecode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, nil, false
	}
	m, err := req.manager()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, nil, false
	}
	return req, m, true
}

// handleGetSelection serves GET /api/selection?classId|academyId&mode.
func handleGetSelection(w http.ResponseWriter, r *http.Request) {
	scope, mode, err := scopeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{State: services.Selections.For(scope, mode).State()})
}

func handleSelectionToggle(w http.ResponseWriter, r *http.Request) {
	req, m, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	selected, err := m.Toggle(req.SessionID)
	if err != nil {
		writeSelectionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{Selected: &selected, State: m.State()})
}

func handleSelectionToggleDate(w http.ResponseWriter, r *http.Request) {
	req, m, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	selected, err := m.ToggleDate(req.Date)
	if err != nil {
		writeSelectionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{Selected: &selected, State: m.State()})
}

func handleSelectionSelectAll(w http.ResponseWriter, r *http.Request) {
	_, m, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	m.SelectAll()
	writeJSON(w, http.StatusOK, selectionResponse{State: m.State()})
}

func handleSelectionDeselectAll(w http.ResponseWriter, r *http.Request) {
	_, m, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	m.DeselectAll()
	writeJSON(w, http.StatusOK, selectionResponse{State: m.State()})
}

// handleSelectionSubmit turns the pruned selection into a batch request and
// runs it through the coordinator. Stale session windows are refetched first
// so pruning sees the latest seats. The selection is reset once anything was
// applied so the next view starts from the new enrollment.
func handleSelectionSubmit(w http.ResponseWriter, r *http.Request) {
	req, m, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	if err := refreshStaleWindows(r.Context(), m); err != nil {
		slog.Warn("selection_refresh_failed", "mode", m.Mode(), "error", err)
		writeError(w, http.StatusBadGateway, "session feed unavailable")
		return
	}
	plan, err := m.Plan()
	if err != nil {
		writeSelectionError(w, err)
		return
	}

	res, err := submitPlan(r.Context(), plan, req.Reason)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	if res.Outcome != mutation.OutcomeNone {
		m.Reset()
	}
	slog.Info("selection_submitted", "mode", plan.Mode, "outcome", res.Outcome, "succeeded", len(res.Succeeded), "failed", len(res.Failed))
	writeJSON(w, http.StatusOK, submitResponse{Result: res, State: m.State()})
}

// refreshStaleWindows refetches every stale window the manager reads.
func refreshStaleWindows(ctx context.Context, m *selection.Manager) error {
	for _, win := range m.StaleWindows() {
		_, err := projections.QueryGetEligibleSessions(ctx, projections.GetEligibleSessionsQuery{Window: win}, projections.GetEligibleSessionsDeps{
			Feed:     services.Feed,
			Store:    services.Store,
			Now:      timeNow,
			Location: services.Location,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func submitPlan(ctx context.Context, plan selection.Plan, reason string) (mutation.Result, error) {
	if plan.Modify != nil {
		return services.Coordinator.SubmitBatchModify(ctx, enrollment.BatchModifyRequest{
			ClassID:        plan.Modify.ClassID,
			Cancellations:  plan.Modify.Cancellations,
			NewEnrollments: plan.Modify.NewEnrollments,
			Reason:         reason,
		})
	}
	return services.Coordinator.SubmitBatchEnroll(ctx, enrollment.BatchEnrollRequest{SessionIDs: plan.Enroll.SessionIDs})
}

func writeSelectionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, selection.ErrUnknownSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, selection.ErrStaleSessions):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, selection.ErrNotToggleable),
		errors.Is(err, selection.ErrNoSessionsOnDay),
		errors.Is(err, selection.ErrNothingSelected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		internalError(w, err)
	}
}
