// Package merge implements the per-field last-writer-wins algorithm as
// a pure function of (local task, inbound delta, now). It decides what
// should change; it never touches a database, so it can be exhaustively
// unit tested without a store.
package merge

import (
	"github.com/erauner12/syncwatch/internal/model"
	"github.com/google/uuid"
)

// Delta is an inbound task delta as received off the wire. A nil
// pointer means "field absent from the payload, no opinion"; a
// non-nil pointer (even to a zero value) means "field present, apply
// it subject to the field's own merge rule".
type Delta struct {
	TaskID uuid.UUID
	PeerID *int64

	Title          *string
	TitleUpdatedAt int64 // meaningful only if Title != nil

	Notes          *string
	NotesUpdatedAt int64 // meaningful only if Notes != nil

	Completed          *bool
	CompletedUpdatedAt int64 // meaningful only if Completed != nil

	Deleted *bool

	Priority *int

	// DueDate uses the wire convention: nil means "absent from
	// payload", a pointer to 0 means "explicitly unset".
	DueDate *int64
}

// Action is the closed set of outcomes Merge can decide on.
type Action int

const (
	// NoOp: nothing in the delta beat the local state; no write needed.
	NoOp Action = iota
	// HardDelete: the remote tombstone wins; delete the local row.
	HardDelete
	// CreateTask: no local row existed; insert NewTask.
	CreateTask
	// ApplyToExisting: one or more FieldWrites/PeerID/DueDate updates
	// should be applied to the existing local row.
	ApplyToExisting
)

// FieldWrite is one per-field LWW write the caller should apply via
// the store's conditional update-if-newer primitive.
type FieldWrite struct {
	Value     any
	Timestamp int64
}

// Result is Merge's pure decision: what SyncCore should do next, all
// expressed as data so it requires no I/O to assert against in tests.
type Result struct {
	Action Action

	NewTask model.Task // valid when Action == CreateTask

	Title     *FieldWrite // valid when Action == ApplyToExisting
	Notes     *FieldWrite
	Completed *FieldWrite

	// SetPeerID is non-nil when the local row's peer_id should be set
	// (only happens when it was previously unset).
	SetPeerID *int64

	// DueDateSet is true when the peer-authoritative due date should
	// overwrite the local value with DueDateValue. A nil DueDateValue
	// clears it; Merge maps wire 0 to nil.
	DueDateSet   bool
	DueDateValue *int64

	// AnyWrite reports whether anything changed, driving step 6:
	// syncedAt=now, dirty=false.
	AnyWrite bool
}

// Merge runs the per-field last-writer-wins decision. local is the
// caller's already-resolved local row (via SyncCore's three-step
// resolveLocal reconciliation); pass nil when no local row was found
// by any lookup.
func Merge(local *model.Task, in Delta, now int64) Result {
	// Step 1: delete wins a tombstone unconditionally.
	if in.Deleted != nil && *in.Deleted {
		return Result{Action: HardDelete}
	}

	// Step 2: create-if-absent.
	if local == nil {
		return Result{Action: CreateTask, NewTask: createFrom(in, now), AnyWrite: true}
	}

	res := Result{Action: ApplyToExisting}

	// Step 3: per-field update-if-newer for title/notes/completed.
	if in.Title != nil && in.TitleUpdatedAt > local.TitleUpdatedAt {
		res.Title = &FieldWrite{Value: *in.Title, Timestamp: in.TitleUpdatedAt}
		res.AnyWrite = true
	}
	if in.Notes != nil && in.NotesUpdatedAt > local.NotesUpdatedAt {
		res.Notes = &FieldWrite{Value: *in.Notes, Timestamp: in.NotesUpdatedAt}
		res.AnyWrite = true
	}
	if in.Completed != nil && in.CompletedUpdatedAt > local.CompletedUpdatedAt {
		res.Completed = &FieldWrite{Value: *in.Completed, Timestamp: in.CompletedUpdatedAt}
		res.AnyWrite = true
	}

	// Step 4: peer linkage, only when locally unset.
	if local.PeerID == nil && in.PeerID != nil {
		peerID := *in.PeerID
		res.SetPeerID = &peerID
		res.AnyWrite = true
	}

	// Step 5: due-date authority — peer always wins when it differs.
	// No dueDateUpdatedAt field exists; the peer is trusted
	// unconditionally whenever it sends a dueDate at all.
	if in.DueDate != nil {
		var incoming *int64
		if *in.DueDate != 0 {
			v := *in.DueDate
			incoming = &v
		}
		if !int64PtrEqual(incoming, local.DueDate) {
			res.DueDateSet = true
			res.DueDateValue = incoming
			res.AnyWrite = true
		}
	}

	if !res.AnyWrite {
		return Result{Action: NoOp}
	}
	return res
}

func createFrom(in Delta, now int64) model.Task {
	t := model.Task{
		ID:      in.TaskID,
		Dirty:   false,
		PeerID:  in.PeerID,
		SyncedAt: &now,
	}

	if in.Title != nil {
		t.Title = *in.Title
	}
	t.TitleUpdatedAt = orNow(in.Title != nil, in.TitleUpdatedAt, now)

	if in.Notes != nil {
		t.Notes = in.Notes
	}
	t.NotesUpdatedAt = orNow(in.Notes != nil, in.NotesUpdatedAt, now)

	if in.Completed != nil {
		t.Completed = *in.Completed
	}
	t.CompletedUpdatedAt = orNow(in.Completed != nil, in.CompletedUpdatedAt, now)

	if in.Priority != nil {
		t.Priority = *in.Priority
	}

	if in.DueDate != nil && *in.DueDate != 0 {
		v := *in.DueDate
		t.DueDate = &v
		// Every create-if-absent (snapshot or single op) derives
		// reminder from the presence of a due date, treating "has a
		// due date" as "wants a reminder".
		t.Reminder = true
	}

	t.UpdatedAt = now
	return t
}

func orNow(present bool, ts, now int64) int64 {
	if present && ts > 0 {
		return ts
	}
	return now
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
