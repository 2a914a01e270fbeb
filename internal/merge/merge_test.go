package merge

import (
	"testing"

	"github.com/erauner12/syncwatch/internal/model"
	"github.com/google/uuid"
)

func ptr[T any](v T) *T { return &v }

func TestMerge_CreateIfAbsent(t *testing.T) {
	id := uuid.New()
	res := Merge(nil, Delta{
		TaskID:         id,
		Title:          ptr("Buy milk"),
		TitleUpdatedAt: 100,
		PeerID:         ptr(int64(7)),
	}, 200)

	if res.Action != CreateTask {
		t.Fatalf("want CreateTask, got %v", res.Action)
	}
	if res.NewTask.Title != "Buy milk" || res.NewTask.TitleUpdatedAt != 100 {
		t.Fatalf("unexpected new task: %+v", res.NewTask)
	}
	if res.NewTask.PeerID == nil || *res.NewTask.PeerID != 7 {
		t.Fatalf("expected peer id copied on create, got %+v", res.NewTask.PeerID)
	}
	// notes/completed timestamps absent from the delta default to now.
	if res.NewTask.NotesUpdatedAt != 200 || res.NewTask.CompletedUpdatedAt != 200 {
		t.Fatalf("expected absent field timestamps to default to now, got %+v", res.NewTask)
	}
}

func TestMerge_ConcurrentTitleEdit_NewerWins(t *testing.T) {
	local := &model.Task{
		ID:             uuid.New(),
		Title:          "old title",
		TitleUpdatedAt: 1000,
	}
	res := Merge(local, Delta{Title: ptr("new title"), TitleUpdatedAt: 1500}, 2000)

	if res.Action != ApplyToExisting {
		t.Fatalf("want ApplyToExisting, got %v", res.Action)
	}
	if res.Title == nil || res.Title.Value != "new title" || res.Title.Timestamp != 1500 {
		t.Fatalf("expected newer title to win, got %+v", res.Title)
	}
}

func TestMerge_TieBreak_KeepsLocal(t *testing.T) {
	local := &model.Task{ID: uuid.New(), Title: "local title", TitleUpdatedAt: 1000}
	res := Merge(local, Delta{Title: ptr("remote title"), TitleUpdatedAt: 1000}, 2000)

	if res.Action != NoOp {
		t.Fatalf("equal timestamps must not overwrite; got %v", res.Action)
	}
}

func TestMerge_NotesAndTitleMergeIndependently(t *testing.T) {
	local := &model.Task{
		ID:                 uuid.New(),
		Title:              "local title",
		TitleUpdatedAt:     1000,
		Notes:              ptr("old notes"),
		NotesUpdatedAt:     500,
	}
	res := Merge(local, Delta{
		Title:          ptr("older title"),
		TitleUpdatedAt: 900, // stale, must not apply
		Notes:          ptr("fresh notes"),
		NotesUpdatedAt: 1200, // newer, must apply
	}, 2000)

	if res.Title != nil {
		t.Fatalf("stale title delta must not produce a write, got %+v", res.Title)
	}
	if res.Notes == nil || res.Notes.Value != "fresh notes" {
		t.Fatalf("fresh notes delta must produce a write, got %+v", res.Notes)
	}
}

func TestMerge_DeleteWinsOverOlderUpdate(t *testing.T) {
	local := &model.Task{ID: uuid.New(), Title: "x", TitleUpdatedAt: 50000}
	res := Merge(local, Delta{Deleted: ptr(true)}, 60000)

	if res.Action != HardDelete {
		t.Fatalf("tombstone must win unconditionally, got %v", res.Action)
	}
}

func TestMerge_PeerIDLateBinding(t *testing.T) {
	local := &model.Task{ID: uuid.New(), Title: "shared", TitleUpdatedAt: 10, PeerID: nil}
	res := Merge(local, Delta{PeerID: ptr(int64(42))}, 20)

	if res.Action != ApplyToExisting {
		t.Fatalf("want ApplyToExisting, got %v", res.Action)
	}
	if res.SetPeerID == nil || *res.SetPeerID != 42 {
		t.Fatalf("expected peer id to bind, got %+v", res.SetPeerID)
	}
}

func TestMerge_PeerIDNeverOverwritesExisting(t *testing.T) {
	local := &model.Task{ID: uuid.New(), PeerID: ptr(int64(1))}
	res := Merge(local, Delta{PeerID: ptr(int64(2))}, 20)

	if res.Action != NoOp {
		t.Fatalf("an already-linked peer id must never be replaced, got %v / %+v", res.Action, res.SetPeerID)
	}
}

func TestMerge_DueDateAuthority_PeerAlwaysWins(t *testing.T) {
	local := &model.Task{ID: uuid.New(), DueDate: ptr(int64(111))}
	res := Merge(local, Delta{DueDate: ptr(int64(222))}, 20)

	if !res.DueDateSet || res.DueDateValue == nil || *res.DueDateValue != 222 {
		t.Fatalf("peer due date must win unconditionally, got %+v", res)
	}
}

func TestMerge_DueDateZeroMeansUnset(t *testing.T) {
	local := &model.Task{ID: uuid.New(), DueDate: ptr(int64(111))}
	res := Merge(local, Delta{DueDate: ptr(int64(0))}, 20)

	if !res.DueDateSet || res.DueDateValue != nil {
		t.Fatalf("wire 0 must clear the due date, got %+v", res)
	}
}

func TestMerge_DueDateUnchanged_NoOp(t *testing.T) {
	local := &model.Task{ID: uuid.New(), DueDate: ptr(int64(111))}
	res := Merge(local, Delta{DueDate: ptr(int64(111))}, 20)

	if res.Action != NoOp {
		t.Fatalf("identical due date must not produce a write, got %v", res.Action)
	}
}

func TestMerge_NoOpWhenNothingBeatsLocal(t *testing.T) {
	local := &model.Task{
		ID: uuid.New(), Title: "t", TitleUpdatedAt: 100,
		Notes: ptr("n"), NotesUpdatedAt: 100,
		Completed: true, CompletedUpdatedAt: 100,
		PeerID: ptr(int64(1)),
	}
	res := Merge(local, Delta{
		Title: ptr("stale"), TitleUpdatedAt: 50,
		Notes: ptr("stale"), NotesUpdatedAt: 50,
		Completed: ptr(false), CompletedUpdatedAt: 50,
		PeerID: ptr(int64(9)),
	}, 200)

	if res.Action != NoOp {
		t.Fatalf("want NoOp when every field is stale and peer already linked, got %+v", res)
	}
}
