package store

import (
	"context"
	"os"
	"testing"

	"github.com/erauner12/syncwatch/internal/model"
	"github.com/google/uuid"
)

func getTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}
	s, err := Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := s.WipeAndRecreate(context.Background()); err != nil {
		t.Fatalf("failed to reset schema: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newTask(title string, now int64) model.Task {
	return model.Task{
		ID: uuid.New(), Title: title,
		TitleUpdatedAt: now, NotesUpdatedAt: now, CompletedUpdatedAt: now, UpdatedAt: now,
	}
}

func TestTasks_InsertOrReplaceAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	task := newTask("groceries", 100)

	if err := (Tasks{}).InsertOrReplace(ctx, s.Pool, task); err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}

	got, err := (Tasks{}).Get(ctx, s.Pool, task.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %v err=%v", got, err)
	}
	if got.Title != "groceries" {
		t.Fatalf("unexpected title %q", got.Title)
	}
}

func TestTasks_UpdateTitleIfNewer_TieDoesNotWrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	task := newTask("original", 100)
	if err := (Tasks{}).InsertOrReplace(ctx, s.Pool, task); err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}

	rows, err := (Tasks{}).UpdateTitleIfNewer(ctx, s.Pool, task.ID, "tied", 100)
	if err != nil {
		t.Fatalf("UpdateTitleIfNewer: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected tie to leave local untouched, got %d rows affected", rows)
	}

	rows, err = (Tasks{}).UpdateTitleIfNewer(ctx, s.Pool, task.ID, "newer", 101)
	if err != nil {
		t.Fatalf("UpdateTitleIfNewer: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected strictly-newer write to apply, got %d rows affected", rows)
	}

	got, _ := (Tasks{}).Get(ctx, s.Pool, task.ID)
	if got.Title != "newer" {
		t.Fatalf("expected title 'newer', got %q", got.Title)
	}
}

func TestTasks_SetPeerID_OnlyWhenUnset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	task := newTask("linked", 100)
	if err := (Tasks{}).InsertOrReplace(ctx, s.Pool, task); err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}

	rows, err := (Tasks{}).SetPeerID(ctx, s.Pool, task.ID, 5)
	if err != nil || rows != 1 {
		t.Fatalf("first SetPeerID: rows=%d err=%v", rows, err)
	}

	rows, err = (Tasks{}).SetPeerID(ctx, s.Pool, task.ID, 9)
	if err != nil {
		t.Fatalf("second SetPeerID: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected second SetPeerID to be a no-op, got %d rows affected", rows)
	}

	got, _ := (Tasks{}).Get(ctx, s.Pool, task.ID)
	if got.PeerID == nil || *got.PeerID != 5 {
		t.Fatalf("expected peerId to remain 5, got %+v", got.PeerID)
	}
}

func TestOutbox_ListPendingInOrder_IsFIFO(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	taskID := uuid.New()

	var opIDs []int64
	for i, createdAt := range []int64{100, 200, 300} {
		opID, err := (Outbox{}).Insert(ctx, s.Pool, taskID, model.OpUpdate, []byte(`{}`), createdAt)
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		opIDs = append(opIDs, opID)
	}

	entries, err := (Outbox{}).ListPendingInOrder(ctx, s.Pool)
	if err != nil {
		t.Fatalf("ListPendingInOrder: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.OpID != opIDs[i] {
			t.Fatalf("expected FIFO order %v, got entry %d at position %d", opIDs, e.OpID, i)
		}
	}
}

func TestOutbox_MarkFailed_HitsCeilingAndStops(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	taskID := uuid.New()

	opID, err := (Outbox{}).Insert(ctx, s.Pool, taskID, model.OpUpdate, []byte(`{}`), 100)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := (Outbox{}).MarkSending(ctx, s.Pool, opID, int64(200+i)); err != nil {
			t.Fatalf("MarkSending %d: %v", i, err)
		}
		if err := (Outbox{}).MarkFailed(ctx, s.Pool, opID, "boom", 3); err != nil {
			t.Fatalf("MarkFailed %d: %v", i, err)
		}
	}

	entry, err := (Outbox{}).Get(ctx, s.Pool, opID)
	if err != nil || entry == nil {
		t.Fatalf("Get: %v err=%v", entry, err)
	}
	if entry.State != model.StateFailed {
		t.Fatalf("expected FAILED after hitting ceiling, got %s", entry.State)
	}

	pending, err := (Outbox{}).ListPendingInOrder(ctx, s.Pool)
	if err != nil {
		t.Fatalf("ListPendingInOrder: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected FAILED entry excluded from drain, got %d pending", len(pending))
	}
}

func TestOutbox_ResetStuck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	taskID := uuid.New()

	opID, err := (Outbox{}).Insert(ctx, s.Pool, taskID, model.OpUpdate, []byte(`{}`), 100)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := (Outbox{}).MarkSending(ctx, s.Pool, opID, 100); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}

	reset, err := (Outbox{}).ResetStuck(ctx, s.Pool, 50)
	if err != nil {
		t.Fatalf("ResetStuck (below threshold): %v", err)
	}
	if reset != 0 {
		t.Fatalf("expected no reset when last_attempt_at is after threshold, got %d", reset)
	}

	reset, err = (Outbox{}).ResetStuck(ctx, s.Pool, 150)
	if err != nil {
		t.Fatalf("ResetStuck (above threshold): %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 entry reset, got %d", reset)
	}

	entry, _ := (Outbox{}).Get(ctx, s.Pool, opID)
	if entry.State != model.StatePending {
		t.Fatalf("expected reset entry back to PENDING, got %s", entry.State)
	}
}

func TestProcessed_MarkAndIsProcessed_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()

	processed, err := (Processed{}).IsProcessed(ctx, s.Pool, "op-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if processed {
		t.Fatalf("expected unprocessed op to report false")
	}

	if err := (Processed{}).MarkProcessed(ctx, s.Pool, "op-1", 100); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := (Processed{}).MarkProcessed(ctx, s.Pool, "op-1", 200); err != nil {
		t.Fatalf("MarkProcessed (duplicate): %v", err)
	}

	processed, err = (Processed{}).IsProcessed(ctx, s.Pool, "op-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !processed {
		t.Fatalf("expected marked op to report true")
	}
}

func TestStore_Run_RejectsReentrantTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()

	err := s.Run(ctx, func(ctx context.Context, ex Execer) error {
		return s.Run(ctx, func(ctx context.Context, ex Execer) error { return nil })
	})
	if err == nil {
		t.Fatalf("expected re-entrant Run to be rejected")
	}
}
