package maintenance

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/erauner12/syncwatch/internal/alarm"
	"github.com/erauner12/syncwatch/internal/model"
	"github.com/erauner12/syncwatch/internal/outboxpump"
	"github.com/erauner12/syncwatch/internal/store"
	"github.com/erauner12/syncwatch/internal/synccore"
	"github.com/erauner12/syncwatch/internal/transport"
	"github.com/google/uuid"
)

func getTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}
	s, err := store.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := s.WipeAndRecreate(context.Background()); err != nil {
		t.Fatalf("failed to reset schema: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestTick_PurgesAckedOutboxAndOldProcessedOps(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	core := synccore.New(s, alarm.NoopScheduler{})
	pump := outboxpump.New(s, core, transport.NewMemoryBus(), "watch", time.Minute, 12)
	sched := New(s, pump, alarm.NoopScheduler{}, time.Hour, time.Hour)

	taskID := uuid.New()
	opID, err := (store.Outbox{}).Insert(ctx, s.Pool, taskID, model.OpUpdate, []byte(`{}`), 100)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := (store.Outbox{}).MarkSending(ctx, s.Pool, opID, 100); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	if err := (store.Outbox{}).MarkSent(ctx, s.Pool, opID); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if err := (store.Outbox{}).MarkAcked(ctx, s.Pool, opID); err != nil {
		t.Fatalf("MarkAcked: %v", err)
	}

	longAgo := time.Now().Add(-2 * time.Hour).UnixMilli()
	if err := (store.Processed{}).MarkProcessed(ctx, s.Pool, "stale-op", longAgo); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	entry, err := (store.Outbox{}).Get(ctx, s.Pool, opID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected acked outbox entry purged, still present: %+v", entry)
	}

	processed, err := (store.Processed{}).IsProcessed(ctx, s.Pool, "stale-op")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if processed {
		t.Fatalf("expected stale processed-op purged by TTL")
	}
}

func TestTick_PurgesAgedTombstones(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	core := synccore.New(s, alarm.NoopScheduler{})
	pump := outboxpump.New(s, core, transport.NewMemoryBus(), "watch", time.Minute, 12)
	sched := New(s, pump, alarm.NoopScheduler{}, time.Hour, time.Hour)

	longAgo := time.Now().Add(-2 * time.Hour).UnixMilli()
	task := model.Task{
		ID: uuid.New(), Title: "gone", Deleted: true, SyncedAt: &longAgo,
		TitleUpdatedAt: longAgo, NotesUpdatedAt: longAgo, CompletedUpdatedAt: longAgo, UpdatedAt: longAgo,
	}
	if err := (store.Tasks{}).InsertOrReplace(ctx, s.Pool, task); err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, err := (store.Tasks{}).Get(ctx, s.Pool, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected aged tombstone purged, still present: %+v", got)
	}
}
