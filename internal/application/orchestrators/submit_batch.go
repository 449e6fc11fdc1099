package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"academy/internal/application/clientstore"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/mutation"
)

// SubmitBatchEnroll enrolls the viewer in several sessions at once.
// Each session gets a provisional PENDING enrollment before the request is
// sent. Sessions the server refused are rolled back one by one; accepted
// ones are promoted to the returned records, or settled and refetched when
// the server sent none.
// PRE: req passes Validate; none of the sessions has a pending request
// POST: No provisional entry added by this call remains
// INVARIANT: Keys are acquired all-or-nothing
func (c *Coordinator) SubmitBatchEnroll(ctx context.Context, req enrollment.BatchEnrollRequest) (mutation.Result, error) {
	if err := req.Validate(); err != nil {
		return mutation.Result{Outcome: mutation.OutcomeNone}, mutation.Validation("sessionIds", err.Error())
	}
	keys := make([]string, len(req.SessionIDs))
	for i, id := range req.SessionIDs {
		keys[i] = EnrollKey(id)
	}
	if err := c.acquire(keys...); err != nil {
		return mutation.Result{Outcome: mutation.OutcomeNone}, err
	}
	defer c.release(keys...)

	temps, err := c.insertEnrollments(req.SessionIDs, 0, keys)
	if err != nil {
		return mutation.Result{Outcome: mutation.OutcomeNone}, err
	}

	resp, err := c.api.BatchEnroll(ctx, req)
	if err != nil {
		return c.rollbackBatch("batch_enroll", temps, req.SessionIDs, keys, err)
	}

	res := c.resolveEnrollments(temps, resp.EnrolledSessions, resp.FailedSessions, resp.Enrollments, resp.Success)
	res.Keys = keys
	res.Message = resp.Message
	c.invalidateSessions(req.SessionIDs)
	return c.finishBatch("batch_enroll", res)
}

// SubmitBatchModify swaps part of an existing enrollment for new sessions.
// New sessions are shown as provisional enrollments and the cancelled ones
// are marked CANCELLED at once. Marks the server refused are restored; the
// enrollment list is refetched once any cancellation is accepted.
// PRE: req passes Validate; none of the sessions has a pending request
// POST: No provisional entry added by this call remains
// INVARIANT: Keys are acquired all-or-nothing
func (c *Coordinator) SubmitBatchModify(ctx context.Context, req enrollment.BatchModifyRequest) (mutation.Result, error) {
	if err := req.Validate(); err != nil {
		return mutation.Result{Outcome: mutation.OutcomeNone}, mutation.Validation(modifyField(err), err.Error())
	}
	all := make([]int64, 0, len(req.Cancellations)+len(req.NewEnrollments))
	all = append(all, req.Cancellations...)
	all = append(all, req.NewEnrollments...)
	keys := make([]string, len(all))
	for i, id := range all {
		keys[i] = ModifyKey(id)
	}
	if err := c.acquire(keys...); err != nil {
		return mutation.Result{Outcome: mutation.OutcomeNone}, err
	}
	defer c.release(keys...)

	temps, err := c.insertEnrollments(req.NewEnrollments, req.ClassID, keys)
	if err != nil {
		return mutation.Result{Outcome: mutation.OutcomeNone}, err
	}
	table := c.store.Enrollments(clientstore.MyEnrollments)
	marks, err := table.MarkTargets(req.Cancellations, enrollment.StatusCancelled)
	if err != nil {
		for _, t := range temps {
			table.Discard(t)
		}
		return mutation.Result{Outcome: mutation.OutcomeNone}, storeError(err, strings.Join(keys, ","))
	}

	resp, err := c.api.BatchModify(ctx, req)
	if err != nil {
		table.RestoreMarks(marks, enrollment.StatusCancelled)
		return c.rollbackBatch("batch_modify", temps, all, keys, err)
	}

	res := c.resolveEnrollments(temps, resp.EnrolledSessions, resp.FailedSessions, resp.Enrollments, resp.Success)
	res.Keys = keys
	res.Message = resp.Message
	cancelled := cancelledSessions(req.Cancellations, resp)
	c.restoreRefused(marks, cancelled)
	res.Succeeded = append(cancelled, res.Succeeded...)
	if len(cancelled) > 0 {
		c.store.Invalidate(clientstore.MyEnrollments, clientstore.EnrollmentRequests)
	}
	res.Outcome = outcomeOf(res)
	c.invalidateSessions(all)
	return c.finishBatch("batch_modify", res)
}

// cancelledSessions returns the cancellations the server applied. A
// successful response that lists no sessions at all applied every one.
func cancelledSessions(requested []int64, resp enrollment.BatchModifyResponse) []int64 {
	if len(resp.CancelledSessions) > 0 {
		return append([]int64(nil), resp.CancelledSessions...)
	}
	if resp.Success && len(resp.EnrolledSessions) == 0 && len(resp.FailedSessions) == 0 {
		return append([]int64(nil), requested...)
	}
	return nil
}

// restoreRefused undoes the CANCELLED marks of sessions not in cancelled.
func (c *Coordinator) restoreRefused(marks []clientstore.StatusMark, cancelled []int64) {
	done := make(map[int64]bool, len(cancelled))
	for _, id := range cancelled {
		done[id] = true
	}
	var refused []clientstore.StatusMark
	for _, m := range marks {
		if !done[m.Target] {
			refused = append(refused, m)
		}
	}
	if n := c.store.Enrollments(clientstore.MyEnrollments).RestoreMarks(refused, enrollment.StatusCancelled); n > 0 {
		slog.Info("cancellation_mark_restored", "count", n)
	}
}

// insertEnrollments adds one provisional enrollment per session.
// POST: On error every entry added here was discarded
func (c *Coordinator) insertEnrollments(sessionIDs []int64, classID int64, keys []string) (map[int64]string, error) {
	table := c.store.Enrollments(clientstore.MyEnrollments)
	temps := make(map[int64]string, len(sessionIDs))
	now := c.now()
	for _, sid := range sessionIDs {
		cid := classID
		if cid == 0 {
			if s, ok := c.store.Session(sid); ok {
				cid = s.ClassID
			}
		}
		tempID, err := table.InsertProvisional(enrollment.Enrollment{
			SessionID:   sid,
			ClassID:     cid,
			Status:      enrollment.StatusPending,
			RequestedAt: now,
		})
		if err != nil {
			for _, t := range temps {
				table.Discard(t)
			}
			return nil, storeError(err, strings.Join(keys, ","))
		}
		temps[sid] = tempID
	}
	slog.Info("enrollment_provisional_inserted", "count", len(temps))
	return temps, nil
}

// rollbackBatch removes every provisional entry after a failed request.
func (c *Coordinator) rollbackBatch(op string, temps map[int64]string, sessionIDs []int64, keys []string, err error) (mutation.Result, error) {
	table := c.store.Enrollments(clientstore.MyEnrollments)
	for _, t := range temps {
		table.Discard(t)
	}
	me := classifyError(err, strings.Join(keys, ","))
	switch {
	case me.Kind == mutation.KindConflict:
		c.invalidateSessions(sessionIDs)
		c.store.Invalidate(clientstore.MyEnrollments)
	case outcomeUnknown(me):
		c.store.Invalidate(clientstore.MyEnrollments)
	}
	slog.Warn("mutation_failed", "op", op, "keys", keys, "kind", me.Kind, "error", err)
	return mutation.Result{Outcome: mutation.OutcomeNone, Keys: keys, Failed: sessionIDs}, me
}

// resolveEnrollments applies a batch response to the provisional entries.
// An entry is promoted when the response carries its record, discarded when
// its session failed, and settled otherwise.
func (c *Coordinator) resolveEnrollments(temps map[int64]string, enrolled, failed []int64, records []enrollment.Enrollment, success bool) mutation.Result {
	table := c.store.Enrollments(clientstore.MyEnrollments)
	done := make(map[int64]bool, len(temps))

	var res mutation.Result
	for _, sid := range failed {
		if t, ok := temps[sid]; ok && !done[sid] {
			table.Discard(t)
			done[sid] = true
		}
		res.Failed = append(res.Failed, sid)
	}
	for _, rec := range records {
		t, ok := temps[rec.SessionID]
		if !ok || done[rec.SessionID] {
			continue
		}
		if _, err := table.Promote(t, rec); err != nil {
			if !errors.Is(err, clientstore.ErrInvalidServerID) {
				logLate("promote_enrollment", err, nil)
				done[rec.SessionID] = true
			}
			continue
		}
		done[rec.SessionID] = true
	}
	var settle []string
	for sid, t := range temps {
		if !done[sid] {
			settle = append(settle, t)
		}
	}
	if len(settle) > 0 {
		table.Settle(settle...)
	}

	res.Succeeded = enrolled
	if len(enrolled) == 0 && len(failed) == 0 && success {
		for sid := range temps {
			res.Succeeded = append(res.Succeeded, sid)
		}
		sortIDs(res.Succeeded)
	}
	res.Outcome = outcomeOf(res)
	return res
}

func outcomeOf(res mutation.Result) mutation.Outcome {
	switch {
	case len(res.Failed) == 0 && len(res.Succeeded) > 0:
		return mutation.OutcomeApplied
	case len(res.Succeeded) > 0:
		return mutation.OutcomePartial
	}
	return mutation.OutcomeNone
}

// finishBatch turns a response where nothing was applied into a conflict.
func (c *Coordinator) finishBatch(op string, res mutation.Result) (mutation.Result, error) {
	if res.Outcome == mutation.OutcomeNone {
		slog.Warn("mutation_refused", "op", op, "keys", res.Keys, "failed", res.Failed, "message", res.Message)
		return res, mutation.Conflict(res.Message, nil)
	}
	slog.Info("mutation_applied", "op", op, "outcome", res.Outcome, "succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res, nil
}

// invalidateSessions marks the windows holding sessionIDs stale so seat
// counts are refetched. Sessions not held locally invalidate every window.
func (c *Coordinator) invalidateSessions(sessionIDs []int64) {
	dates := make(map[string]bool)
	for _, id := range sessionIDs {
		s, ok := c.store.Session(id)
		if !ok {
			c.store.InvalidateAllSessions()
			return
		}
		dates[s.Date] = true
	}
	for d := range dates {
		c.store.InvalidateSessionDate(d)
	}
}

func modifyField(err error) string {
	switch {
	case errors.Is(err, enrollment.ErrMissingClassID):
		return "classId"
	case errors.Is(err, enrollment.ErrOverlappingPlan):
		return "newEnrollments"
	}
	return "cancellations"
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
