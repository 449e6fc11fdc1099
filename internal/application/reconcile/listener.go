// Package reconcile applies push events from other actors to the client
// store. Events are queued and applied one at a time by a single dispatcher,
// through the same store operations the mutation coordinator uses.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"academy/internal/application/clientstore"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/pushevent"
	"academy/internal/domain/refund"
)

// DefaultQueueSize bounds the number of undelivered events.
const DefaultQueueSize = 256

// Listener errors
var (
	ErrAlreadyStarted = errors.New("listener already started")
	ErrStopped        = errors.New("listener stopped")
)

// Options configures a Listener.
type Options struct {
	QueueSize int
}

type frame struct {
	name    pushevent.Name
	payload []byte
	raw     []byte
}

// Stats counts what the listener did with incoming events.
type Stats struct {
	Received int64 `json:"received"`
	Applied  int64 `json:"applied"`
	Rejected int64 `json:"rejected"`
	Dropped  int64 `json:"dropped"`
}

// Listener is a long-lived subscription that maps push events to store
// invalidations and status patches.
type Listener struct {
	store *clientstore.Store
	queue chan frame

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	received atomic.Int64
	applied  atomic.Int64
	rejected atomic.Int64
	dropped  atomic.Int64
}

// NewListener creates a stopped listener for store.
func NewListener(store *clientstore.Store, opts Options) *Listener {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Listener{
		store: store,
		queue: make(chan frame, size),
		done:  make(chan struct{}),
	}
}

// Start launches the dispatcher. It runs until ctx ends or Stop is called.
// PRE: Start has not been called before
// POST: Queued events are applied in arrival order
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}
	if l.started {
		return ErrAlreadyStarted
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
	slog.Info("reconcile_listener_started", "queue_size", cap(l.queue))
	return nil
}

// Stop ends the dispatcher and waits for the event being applied to finish.
// Events still queued are discarded. Stop is safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	started := l.started
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
	if started {
		<-l.done
	}
	slog.Info("reconcile_listener_stopped", "dropped", l.dropped.Load())
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.queue:
			if err := l.handle(f); err != nil {
				l.rejected.Add(1)
				slog.Warn("push_event_rejected", "event", f.name, "error", err)
			}
		}
	}
}

// Enqueue accepts one raw push frame. It never blocks: when the queue is
// full the frame is dropped and every cached collection is invalidated,
// since the lost event may have touched any of them.
// POST: Returns false if the frame was dropped
func (l *Listener) Enqueue(raw []byte) bool {
	return l.push(frame{raw: append([]byte(nil), raw...)})
}

// OnEvent accepts an event whose name and payload were already split.
func (l *Listener) OnEvent(name pushevent.Name, payload []byte) bool {
	return l.push(frame{name: name, payload: append([]byte(nil), payload...)})
}

func (l *Listener) push(f frame) bool {
	l.received.Add(1)
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		l.dropped.Add(1)
		return false
	}
	select {
	case l.queue <- f:
		return true
	default:
		l.dropped.Add(1)
		slog.Warn("push_event_dropped", "event", f.name, "reason", "queue full")
		l.store.InvalidateAll()
		return false
	}
}

// Stats returns the event counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Received: l.received.Load(),
		Applied:  l.applied.Load(),
		Rejected: l.rejected.Load(),
		Dropped:  l.dropped.Load(),
	}
}

// handle decodes and applies one frame. A panic in a handler is recovered
// and reported as an error so the dispatcher keeps running.
func (l *Listener) handle(f frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	name, payload := f.name, f.payload
	if f.raw != nil {
		name, payload, err = pushevent.DecodeEnvelope(f.raw)
		if err != nil {
			return err
		}
	}
	ev, err := pushevent.Decode(name, payload)
	if err != nil {
		return err
	}
	if err := l.Apply(ev); err != nil {
		return err
	}
	l.applied.Add(1)
	return nil
}

// Apply maps a decoded event to store operations. Every operation is either
// set-to-value or an invalidation, so applying an event twice leaves the
// store as applying it once does.
// POST: Store reflects the event or the affected collections are stale
func (l *Listener) Apply(ev pushevent.Event) error {
	switch e := ev.(type) {
	case pushevent.EnrollmentStatusChanged:
		return l.applyEnrollmentStatus(e)
	case pushevent.RefundStatusChanged:
		return l.applyRefundStatus(e)
	case pushevent.NewRequest:
		l.applyNewRequest(e)
	case pushevent.SessionChanged:
		l.applySessionChanged(e)
	case pushevent.SessionRemoved:
		l.applySessionRemoved(e)
	default:
		return fmt.Errorf("%w: %T", pushevent.ErrUnknownEvent, ev)
	}
	return nil
}

func (l *Listener) applyEnrollmentStatus(e pushevent.EnrollmentStatusChanged) error {
	res, err := l.store.PatchStatus(clientstore.KindEnrollment, e.EnrollmentID, e.Status)
	if err != nil {
		return ignoreClosed(err)
	}
	// A rejected enrollment frees the seat and the viewer may pick the
	// session again, so cached session flags are out of date.
	if !(enrollment.Enrollment{Status: e.Status}).IsActive() {
		l.store.InvalidateAllSessions()
	}
	slog.Info("push_enrollment_status_applied", "enrollment_id", e.EnrollmentID, "status", e.Status, "found", res.Found, "changed", res.Changed)
	return nil
}

func (l *Listener) applyRefundStatus(e pushevent.RefundStatusChanged) error {
	res, err := l.store.PatchStatus(clientstore.KindRefund, e.RefundID, e.Status)
	if err != nil {
		return ignoreClosed(err)
	}
	// The refunded enrollment changes status server side.
	l.store.InvalidateKind(clientstore.KindEnrollment)
	if e.Status == refund.StatusApproved {
		l.store.InvalidateAllSessions()
	}
	slog.Info("push_refund_status_applied", "refund_id", e.RefundID, "status", e.Status, "found", res.Found, "changed", res.Changed)
	return nil
}

func (l *Listener) applyNewRequest(e pushevent.NewRequest) {
	switch e.Name {
	case pushevent.NewEnrollmentRequest:
		l.store.Invalidate(clientstore.EnrollmentRequests)
	case pushevent.NewRefundRequest:
		l.store.Invalidate(clientstore.RefundRequests)
	}
	slog.Info("push_request_inbox_invalidated", "event", e.Name)
}

func (l *Listener) applySessionChanged(e pushevent.SessionChanged) {
	switch {
	case e.Date != "":
		l.store.InvalidateSessionDate(e.Date)
	case e.ClassID > 0:
		l.store.InvalidateSessionClass(e.ClassID)
	default:
		if s, ok := l.store.Session(e.SessionID); ok {
			l.store.InvalidateSessionDate(s.Date)
		} else {
			l.store.InvalidateAllSessions()
		}
	}
	slog.Info("push_session_invalidated", "event", e.Name, "session_id", e.SessionID, "class_id", e.ClassID, "date", e.Date)
}

func (l *Listener) applySessionRemoved(e pushevent.SessionRemoved) {
	removed := l.store.RemoveSession(e.SessionID)
	if len(l.store.Enrollments(clientstore.MyEnrollments).ByTarget(e.SessionID)) > 0 {
		l.store.Invalidate(clientstore.MyEnrollments)
	}
	slog.Info("push_session_removed", "session_id", e.SessionID, "removed", removed)
}

func ignoreClosed(err error) error {
	if errors.Is(err, clientstore.ErrClosed) {
		slog.Debug("push_event_ignored", "reason", "store closed")
		return nil
	}
	return err
}
