package clientstore

import (
	"log/slog"
	"time"
)

// Record is implemented by every domain record a Table can hold.
type Record[T any] interface {
	RecordID() int64
	TargetID() int64
	RecordStatus() string
	WithStatus(status string) T
	IsActive() bool
}

// Phase is the lifecycle stage of an Entry.
type Phase uint8

const (
	// PhaseProvisional entries exist only locally and carry a TempID.
	PhaseProvisional Phase = iota + 1
	// PhaseConfirmed entries mirror a server record and carry a ServerID.
	PhaseConfirmed
)

func (p Phase) String() string {
	switch p {
	case PhaseProvisional:
		return "provisional"
	case PhaseConfirmed:
		return "confirmed"
	}
	return "unknown"
}

// Entry is one record in a Table. Promote is the only path from
// PhaseProvisional to PhaseConfirmed.
type Entry[T any] struct {
	Phase     Phase     `json:"phase"`
	TempID    string    `json:"tempId,omitempty"`
	ServerID  int64     `json:"serverId,omitempty"`
	Data      T         `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	// PatchedAt is set when a push event last changed the status.
	PatchedAt time.Time `json:"patchedAt,omitempty"`
}

// IsOptimistic reports whether the entry awaits server confirmation.
func (e Entry[T]) IsOptimistic() bool { return e.Phase == PhaseProvisional }

// Table is one collection of records of type T. All methods lock the owning
// Store, so operations on different tables are serialized too.
type Table[T Record[T]] struct {
	s       *Store
	col     Collection
	entries []Entry[T]
	// aliases maps temp ids that a refetch folded into a server record.
	aliases map[string]int64
}

func newTable[T Record[T]](s *Store, c Collection) *Table[T] {
	return &Table[T]{s: s, col: c, aliases: make(map[string]int64)}
}

// Collection returns the collection this table backs.
func (t *Table[T]) Collection() Collection { return t.col }

// InsertProvisional adds a local record shown before the server confirms it.
// PRE: data.TargetID() > 0
// POST: Returns the temp id; at most one provisional entry exists per target
func (t *Table[T]) InsertProvisional(data T) (string, error) {
	t.s.mu.Lock()
	if t.s.closed {
		t.s.mu.Unlock()
		return "", ErrClosed
	}
	target := data.TargetID()
	if target <= 0 {
		t.s.mu.Unlock()
		return "", ErrInvalidTarget
	}
	for _, e := range t.entries {
		if e.Phase == PhaseProvisional && e.Data.TargetID() == target {
			t.s.mu.Unlock()
			return "", ErrProvisionalExists
		}
	}
	tempID := t.s.generateID()
	t.entries = append(t.entries, Entry[T]{
		Phase:     PhaseProvisional,
		TempID:    tempID,
		Data:      data,
		CreatedAt: t.s.now(),
	})
	t.s.mu.Unlock()
	t.s.notify(Change{Op: OpInsert, Kind: t.col.Kind(), Collection: t.col, TempID: tempID})
	return tempID, nil
}

// Promote replaces the provisional entry tempID with the server's record in
// a single step. If a refetch already brought in the same server record, the
// provisional entry is dropped and the confirmed one updated, so the table
// never holds both forms. A status set by a push patch is newer than the
// response and is kept.
// PRE: confirmed.RecordID() > 0
// POST: Exactly one confirmed entry with that server id; no entry for tempID
func (t *Table[T]) Promote(tempID string, confirmed T) (Entry[T], error) {
	id := confirmed.RecordID()
	if id <= 0 {
		return Entry[T]{}, ErrInvalidServerID
	}
	t.s.mu.Lock()
	if t.s.closed {
		t.s.mu.Unlock()
		return Entry[T]{}, ErrClosed
	}
	now := t.s.now()
	i := t.indexTemp(tempID)
	j := t.indexServer(id)
	if alias, ok := t.aliases[tempID]; ok {
		if j < 0 {
			j = t.indexServer(alias)
		}
		delete(t.aliases, tempID)
	}
	next := Entry[T]{Phase: PhaseConfirmed, ServerID: id, Data: confirmed, CreatedAt: now}
	switch {
	case j >= 0:
		next = merge(t.entries[j], confirmed)
		t.entries[j] = next
		if i >= 0 {
			t.removeAt(i)
		}
	case i >= 0:
		next.CreatedAt = t.entries[i].CreatedAt
		t.entries[i] = next
	default:
		t.entries = append(t.entries, next)
	}
	t.s.mu.Unlock()
	t.s.notify(Change{Op: OpPromote, Kind: t.col.Kind(), Collection: t.col, ID: id, TempID: tempID})
	return next, nil
}

// merge applies a server response to an existing confirmed entry.
func merge[T Record[T]](existing Entry[T], incoming T) Entry[T] {
	if !existing.PatchedAt.IsZero() && existing.Data.RecordStatus() != incoming.RecordStatus() {
		incoming = incoming.WithStatus(existing.Data.RecordStatus())
	}
	existing.Phase = PhaseConfirmed
	existing.TempID = ""
	existing.ServerID = incoming.RecordID()
	existing.Data = incoming
	return existing
}

// Discard removes the provisional entry tempID (rollback).
// POST: Returns true if an entry was removed
func (t *Table[T]) Discard(tempID string) bool {
	t.s.mu.Lock()
	if t.s.closed {
		t.s.mu.Unlock()
		return false
	}
	delete(t.aliases, tempID)
	i := t.indexTemp(tempID)
	if i < 0 {
		t.s.mu.Unlock()
		return false
	}
	t.removeAt(i)
	t.s.mu.Unlock()
	t.s.notify(Change{Op: OpDiscard, Kind: t.col.Kind(), Collection: t.col, TempID: tempID})
	return true
}

// Settle removes provisional entries the server acknowledged without
// returning records, and marks the collection stale in the same step so the
// next read fetches the confirmed versions.
// POST: Returns the number of entries removed
func (t *Table[T]) Settle(tempIDs ...string) int {
	t.s.mu.Lock()
	if t.s.closed {
		t.s.mu.Unlock()
		return 0
	}
	removed := 0
	for _, id := range tempIDs {
		delete(t.aliases, id)
		if i := t.indexTemp(id); i >= 0 {
			t.removeAt(i)
			removed++
		}
	}
	changes := []Change{{Op: OpSettle, Kind: t.col.Kind(), Collection: t.col}}
	changes = append(changes, t.s.invalidateLocked(t.col)...)
	t.s.mu.Unlock()
	t.s.notify(changes...)
	return removed
}

// ReplaceConfirmed installs a freshly fetched server collection. Provisional
// entries survive unless the fetch already contains their record: an active
// record for the same target that was not known before. Those are folded and
// their temp id remembered for the pending Promote.
// POST: Collection is loaded and fresh
func (t *Table[T]) ReplaceConfirmed(records []T) error {
	t.s.mu.Lock()
	if t.s.closed {
		t.s.mu.Unlock()
		return ErrClosed
	}
	t.replaceLocked(records, true)
	t.s.markLoadedLocked(t.col)
	t.s.mu.Unlock()
	t.s.notify(Change{Op: OpReplace, Kind: t.col.Kind(), Collection: t.col})
	return nil
}

// Hydrate installs records restored from a local snapshot. The collection
// stays stale so the first read still refetches.
func (t *Table[T]) Hydrate(records []T) error {
	t.s.mu.Lock()
	if t.s.closed {
		t.s.mu.Unlock()
		return ErrClosed
	}
	t.replaceLocked(records, false)
	t.s.mu.Unlock()
	t.s.notify(Change{Op: OpHydrate, Kind: t.col.Kind(), Collection: t.col})
	return nil
}

func (t *Table[T]) replaceLocked(records []T, fold bool) {
	now := t.s.now()
	known := make(map[int64]Entry[T])
	for _, e := range t.entries {
		if e.Phase == PhaseConfirmed {
			known[e.ServerID] = e
		}
	}
	next := make([]Entry[T], 0, len(records)+len(t.entries))
	index := make(map[int64]int, len(records))
	for _, r := range records {
		id := r.RecordID()
		if id <= 0 {
			slog.Warn("clientstore_record_skipped", "collection", t.col, "reason", "missing server id")
			continue
		}
		e := Entry[T]{Phase: PhaseConfirmed, ServerID: id, Data: r, CreatedAt: now}
		if old, ok := known[id]; ok {
			e.CreatedAt = old.CreatedAt
		}
		if k, dup := index[id]; dup {
			next[k] = e
			continue
		}
		index[id] = len(next)
		next = append(next, e)
	}
	for _, e := range t.entries {
		if e.Phase != PhaseProvisional {
			continue
		}
		if fold {
			if id, ok := foldTarget(records, known, e.Data.TargetID()); ok {
				t.aliases[e.TempID] = id
				slog.Debug("clientstore_provisional_folded", "collection", t.col, "temp_id", e.TempID, "server_id", id)
				continue
			}
		}
		next = append(next, e)
	}
	t.entries = next
}

func foldTarget[T Record[T]](records []T, known map[int64]Entry[T], target int64) (int64, bool) {
	for _, r := range records {
		if r.TargetID() != target || !r.IsActive() {
			continue
		}
		if _, ok := known[r.RecordID()]; ok {
			continue
		}
		return r.RecordID(), true
	}
	return 0, false
}

func (t *Table[T]) patchLocked(id int64, status string, now time.Time) (found, changed bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.Phase != PhaseConfirmed || e.ServerID != id {
			continue
		}
		found = true
		if e.Data.RecordStatus() == status {
			continue
		}
		e.Data = e.Data.WithStatus(status)
		e.PatchedAt = now
		changed = true
	}
	return found, changed
}

// StatusMark is a confirmed status replaced by MarkTargets.
type StatusMark struct {
	ServerID int64
	Target   int64
	Status   string
}

// MarkTargets sets status on every active confirmed entry claiming one of
// targets before the server has confirmed the change.
// POST: Returns one mark per changed entry, for RestoreMarks
func (t *Table[T]) MarkTargets(targets []int64, status string) ([]StatusMark, error) {
	want := make(map[int64]bool, len(targets))
	for _, id := range targets {
		want[id] = true
	}
	t.s.mu.Lock()
	if t.s.closed {
		t.s.mu.Unlock()
		return nil, ErrClosed
	}
	var marks []StatusMark
	var changes []Change
	for i := range t.entries {
		e := &t.entries[i]
		if e.Phase != PhaseConfirmed || !want[e.Data.TargetID()] || !e.Data.IsActive() || e.Data.RecordStatus() == status {
			continue
		}
		marks = append(marks, StatusMark{ServerID: e.ServerID, Target: e.Data.TargetID(), Status: e.Data.RecordStatus()})
		e.Data = e.Data.WithStatus(status)
		changes = append(changes, Change{Op: OpPatch, Kind: t.col.Kind(), Collection: t.col, ID: e.ServerID})
	}
	t.s.mu.Unlock()
	t.s.notify(changes...)
	return marks, nil
}

// RestoreMarks puts back the statuses recorded in marks. Only entries still
// carrying status are restored, so a push patch or refetch that landed in
// between wins.
// POST: Returns the number of entries restored
func (t *Table[T]) RestoreMarks(marks []StatusMark, status string) int {
	if len(marks) == 0 {
		return 0
	}
	t.s.mu.Lock()
	if t.s.closed {
		t.s.mu.Unlock()
		return 0
	}
	var changes []Change
	for _, m := range marks {
		i := t.indexServer(m.ServerID)
		if i < 0 || t.entries[i].Data.RecordStatus() != status {
			continue
		}
		t.entries[i].Data = t.entries[i].Data.WithStatus(m.Status)
		changes = append(changes, Change{Op: OpPatch, Kind: t.col.Kind(), Collection: t.col, ID: m.ServerID})
	}
	t.s.mu.Unlock()
	t.s.notify(changes...)
	return len(changes)
}

// List returns a copy of every entry in display order.
func (t *Table[T]) List() []Entry[T] {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make([]Entry[T], len(t.entries))
	copy(out, t.entries)
	return out
}

// Confirmed returns the data of every confirmed entry.
func (t *Table[T]) Confirmed() []T {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []T
	for _, e := range t.entries {
		if e.Phase == PhaseConfirmed {
			out = append(out, e.Data)
		}
	}
	return out
}

// Get returns the confirmed entry with server id id.
func (t *Table[T]) Get(id int64) (Entry[T], bool) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if i := t.indexServer(id); i >= 0 {
		return t.entries[i], true
	}
	return Entry[T]{}, false
}

// Provisional returns the provisional entry with temp id tempID.
func (t *Table[T]) Provisional(tempID string) (Entry[T], bool) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if i := t.indexTemp(tempID); i >= 0 {
		return t.entries[i], true
	}
	return Entry[T]{}, false
}

// ByTarget returns every entry, provisional or confirmed, for target.
func (t *Table[T]) ByTarget(target int64) []Entry[T] {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []Entry[T]
	for _, e := range t.entries {
		if e.Data.TargetID() == target {
			out = append(out, e)
		}
	}
	return out
}

// ActiveTargets returns the targets of active entries, provisional included.
func (t *Table[T]) ActiveTargets() map[int64]bool {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make(map[int64]bool)
	for _, e := range t.entries {
		if e.Data.IsActive() {
			out[e.Data.TargetID()] = true
		}
	}
	return out
}

// Len returns the number of entries.
func (t *Table[T]) Len() int {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return len(t.entries)
}

func (t *Table[T]) indexTemp(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i, e := range t.entries {
		if e.Phase == PhaseProvisional && e.TempID == tempID {
			return i
		}
	}
	return -1
}

func (t *Table[T]) indexServer(id int64) int {
	for i, e := range t.entries {
		if e.Phase == PhaseConfirmed && e.ServerID == id {
			return i
		}
	}
	return -1
}

func (t *Table[T]) removeAt(i int) {
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
}
