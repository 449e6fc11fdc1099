// Package clientstore is the single in-memory state container shared by the
// selection manager, the mutation coordinator and the push reconciler.
// Every mutation goes through a named operation that runs under one lock, so
// no caller can observe a half-applied change.
package clientstore

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"academy/internal/domain/enrollment"
	"academy/internal/domain/refund"
	"academy/internal/domain/session"

	"github.com/google/uuid"
)

// Store errors
var (
	ErrClosed            = errors.New("store is closed")
	ErrProvisionalExists = errors.New("a provisional record already exists for this target")
	ErrInvalidServerID   = errors.New("confirmed record must carry a server id")
	ErrInvalidTarget     = errors.New("record must reference a target")
)

// Kind is the record type held by a collection.
type Kind string

const (
	KindEnrollment Kind = "enrollment"
	KindRefund     Kind = "refund"
	KindSession    Kind = "session"
)

// Collection names a cached server collection.
type Collection string

const (
	MyEnrollments      Collection = "enrollments/mine"
	EnrollmentRequests Collection = "enrollments/requests"
	MyRefunds          Collection = "refunds/mine"
	RefundRequests     Collection = "refunds/requests"
)

// Collections lists every record collection the store knows about.
var Collections = []Collection{MyEnrollments, EnrollmentRequests, MyRefunds, RefundRequests}

// Kind returns the record type held by c.
func (c Collection) Kind() Kind {
	switch {
	case strings.HasPrefix(string(c), "enrollments/"):
		return KindEnrollment
	case strings.HasPrefix(string(c), "refunds/"):
		return KindRefund
	}
	return ""
}

// ParseCollection validates a collection name from the wire.
func ParseCollection(v string) (Collection, bool) {
	for _, c := range Collections {
		if string(c) == v {
			return c, true
		}
	}
	return "", false
}

// Op names a store operation in change notifications.
type Op string

const (
	OpInsert        Op = "insert_provisional"
	OpPromote       Op = "promote"
	OpDiscard       Op = "discard"
	OpSettle        Op = "settle"
	OpReplace       Op = "replace_confirmed"
	OpHydrate       Op = "hydrate"
	OpPatch         Op = "patch"
	OpInvalidate    Op = "invalidate"
	OpPutSessions   Op = "put_sessions"
	OpRemoveSession Op = "remove_session"
)

// Change is delivered to subscribers after each effective mutation.
type Change struct {
	Op         Op
	Kind       Kind
	Collection Collection
	ID         int64
	TempID     string
	Window     *session.Window
}

// Options configures a Store.
type Options struct {
	Now        func() time.Time
	GenerateID func() string
}

// Store holds every cached record, session window and staleness flag.
type Store struct {
	mu     sync.RWMutex
	closed bool

	now        func() time.Time
	generateID func() string

	enrollments map[Collection]*Table[enrollment.Enrollment]
	refunds     map[Collection]*Table[refund.Refund]
	sessions    map[setKey]*sessionSet

	// loaded tracks collections that received at least one server response;
	// stale marks collections whose cached contents must be refetched.
	loaded map[Collection]bool
	stale  map[Collection]bool

	subMu     sync.Mutex
	subs      map[int]func(Change)
	nextSubID int
}

// New creates an empty store.
// POST: every collection is unloaded and therefore stale
func New(opts Options) *Store {
	s := &Store{
		now:         opts.Now,
		generateID:  opts.GenerateID,
		enrollments: make(map[Collection]*Table[enrollment.Enrollment]),
		refunds:     make(map[Collection]*Table[refund.Refund]),
		sessions:    make(map[setKey]*sessionSet),
		loaded:      make(map[Collection]bool),
		stale:       make(map[Collection]bool),
		subs:        make(map[int]func(Change)),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.generateID == nil {
		s.generateID = func() string { return uuid.New().String() }
	}
	for _, c := range Collections {
		switch c.Kind() {
		case KindEnrollment:
			s.enrollments[c] = newTable[enrollment.Enrollment](s, c)
		case KindRefund:
			s.refunds[c] = newTable[refund.Refund](s, c)
		}
	}
	return s
}

// Enrollments returns the table behind an enrollment collection.
// PRE: c.Kind() == KindEnrollment
func (s *Store) Enrollments(c Collection) *Table[enrollment.Enrollment] {
	t, ok := s.enrollments[c]
	if !ok {
		panic("clientstore: not an enrollment collection: " + string(c))
	}
	return t
}

// Refunds returns the table behind a refund collection.
// PRE: c.Kind() == KindRefund
func (s *Store) Refunds(c Collection) *Table[refund.Refund] {
	t, ok := s.refunds[c]
	if !ok {
		panic("clientstore: not a refund collection: " + string(c))
	}
	return t
}

// Close marks the store as gone. Later mutations are ignored with ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	slog.Info("clientstore_closed")
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Subscribe registers fn to receive changes. fn runs outside the store lock
// and may read the store. The returned func removes the subscription.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()
	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// IsStale reports whether a collection must be refetched before it is shown.
// Collections that were never loaded are stale.
func (s *Store) IsStale(c Collection) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.loaded[c] || s.stale[c]
}

// IsLoaded reports whether a collection ever received a server response.
func (s *Store) IsLoaded(c Collection) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded[c]
}

// Invalidate marks collections stale. Re-marking is a no-op.
func (s *Store) Invalidate(cols ...Collection) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changes := s.invalidateLocked(cols...)
	s.mu.Unlock()
	s.notify(changes...)
}

// InvalidateKind marks every collection holding records of kind k stale.
func (s *Store) InvalidateKind(k Kind) {
	var cols []Collection
	for _, c := range Collections {
		if c.Kind() == k {
			cols = append(cols, c)
		}
	}
	s.Invalidate(cols...)
}

// InvalidateAll marks every record collection and session window stale.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changes := s.invalidateLocked(Collections...)
	changes = append(changes, s.invalidateSessionsLocked(func(session.Window) bool { return true })...)
	s.mu.Unlock()
	s.notify(changes...)
}

func (s *Store) invalidateLocked(cols ...Collection) []Change {
	var changes []Change
	for _, c := range cols {
		if s.stale[c] {
			continue
		}
		s.stale[c] = true
		changes = append(changes, Change{Op: OpInvalidate, Kind: c.Kind(), Collection: c})
	}
	return changes
}

// PatchResult reports where a status patch landed.
type PatchResult struct {
	Found       bool
	Changed     bool
	Collections []Collection
}

// PatchStatus sets the status of every confirmed record with server id id in
// all collections of kind k. Patching is set-to-value, so repeating it is a
// no-op. When no collection holds the id yet, the collections of that kind
// are invalidated so the next read refetches them.
// PRE: id > 0
// POST: Found records carry status; otherwise the kind's collections are stale
func (s *Store) PatchStatus(k Kind, id int64, status string) (PatchResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return PatchResult{}, ErrClosed
	}
	var res PatchResult
	var changes []Change
	apply := func(c Collection, found, changed bool) {
		if !found {
			return
		}
		res.Found = true
		res.Collections = append(res.Collections, c)
		if changed {
			res.Changed = true
			changes = append(changes, Change{Op: OpPatch, Kind: k, Collection: c, ID: id})
		}
	}
	now := s.now()
	for _, c := range Collections {
		switch {
		case k == KindEnrollment && c.Kind() == k:
			found, changed := s.enrollments[c].patchLocked(id, status, now)
			apply(c, found, changed)
		case k == KindRefund && c.Kind() == k:
			found, changed := s.refunds[c].patchLocked(id, status, now)
			apply(c, found, changed)
		}
	}
	if !res.Found {
		for _, c := range Collections {
			if c.Kind() == k {
				changes = append(changes, s.invalidateLocked(c)...)
			}
		}
	}
	s.mu.Unlock()
	s.notify(changes...)
	return res, nil
}

func (s *Store) markLoadedLocked(c Collection) {
	s.loaded[c] = true
	s.stale[c] = false
}
