package orchestrators

import (
	"context"
	"errors"
	"log/slog"

	"academy/internal/application/clientstore"
	"academy/internal/domain/mutation"
	"academy/internal/domain/refund"
)

// SubmitRefund requests a refund for a session enrollment.
// A provisional refund appears in the viewer's refund list before the
// request is sent and is replaced by the server record on success or
// removed on failure.
// PRE: req passes Validate; no refund for the same enrollment is pending
// POST: On success exactly one confirmed refund exists for the enrollment;
// on failure no record added by this call remains
// INVARIANT: At most one in-flight refund per enrollment
func (c *Coordinator) SubmitRefund(ctx context.Context, req refund.Request) (mutation.Result, error) {
	key := RefundKey(req.SessionEnrollmentID)
	if err := req.Validate(); err != nil {
		e := mutation.Validation(refund.Field(err), err.Error())
		e.Key = key
		return mutation.Result{Outcome: mutation.OutcomeNone}, e
	}
	if err := c.acquire(key); err != nil {
		return mutation.Result{Outcome: mutation.OutcomeNone}, err
	}
	defer c.release(key)

	refunds := c.store.Refunds(clientstore.MyRefunds)
	tempID, err := refunds.InsertProvisional(refund.FromRequest(req, c.now()))
	if err != nil {
		return mutation.Result{Outcome: mutation.OutcomeNone}, storeError(err, key)
	}
	slog.Info("refund_provisional_inserted", "key", key, "temp_id", tempID)

	confirmed, err := c.api.CreateRefund(ctx, req)
	if err != nil {
		refunds.Discard(tempID)
		me := classifyError(err, key)
		if me.Kind == mutation.KindConflict || outcomeUnknown(me) {
			c.store.Invalidate(clientstore.MyRefunds, clientstore.MyEnrollments)
		}
		slog.Warn("refund_submit_failed", "key", key, "kind", me.Kind, "error", err)
		return mutation.Result{Outcome: mutation.OutcomeNone, Keys: []string{key}}, me
	}

	if _, err := refunds.Promote(tempID, confirmed); err != nil {
		if errors.Is(err, clientstore.ErrInvalidServerID) {
			refunds.Settle(tempID)
		} else {
			logLate("refund", err, []string{key})
		}
	}
	// The enrollment now shows REFUND_REQUESTED on the server.
	c.store.Invalidate(clientstore.MyEnrollments)
	slog.Info("refund_submitted", "key", key, "refund_id", confirmed.ID)
	return mutation.Result{
		Outcome:   mutation.OutcomeApplied,
		Keys:      []string{key},
		Succeeded: []int64{confirmed.ID},
	}, nil
}
