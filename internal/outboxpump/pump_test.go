package outboxpump

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/erauner12/syncwatch/internal/alarm"
	"github.com/erauner12/syncwatch/internal/model"
	"github.com/erauner12/syncwatch/internal/store"
	"github.com/erauner12/syncwatch/internal/synccore"
	"github.com/erauner12/syncwatch/internal/transport"
	"github.com/erauner12/syncwatch/internal/wire"
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

func TestDrain_SendsPendingEntryToBus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	core := synccore.New(s, alarm.NoopScheduler{})
	bus := transport.NewMemoryBus()
	pump := New(s, core, bus, "watch", time.Minute, 12)

	id, err := core.CreateTask(ctx, synccore.CreateFields{Title: "drain me"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := pump.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	var opID int64
	var state model.OutboxState
	err = s.Pool.QueryRow(ctx, `SELECT op_id, state FROM outbox WHERE task_id = $1`, id).Scan(&opID, &state)
	if err != nil {
		t.Fatalf("query outbox: %v", err)
	}
	if state != model.StateSent {
		t.Fatalf("expected SENT, got %s", state)
	}

	snap := bus.Snapshot()
	path := transport.OutboxPath("watch", transport.FormatOpID(opID))
	payload, ok := snap[path]
	if !ok {
		t.Fatalf("expected a put at %s, got paths %v", path, keys(snap))
	}

	var env wire.OpEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.TaskID != id.String() || env.Title == nil || *env.Title != "drain me" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if pump.State() != StateIdle {
		t.Fatalf("expected pump idle after successful drain, got %s", pump.State())
	}
}

func TestDrain_ResetsStuckSendingEntries(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	core := synccore.New(s, alarm.NoopScheduler{})
	bus := transport.NewMemoryBus()
	pump := New(s, core, bus, "watch", 100*time.Millisecond, 12)

	id, err := core.CreateTask(ctx, synccore.CreateFields{Title: "stuck"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	var opID int64
	err = s.Pool.QueryRow(ctx, `SELECT op_id FROM outbox WHERE task_id = $1`, id).Scan(&opID)
	if err != nil {
		t.Fatalf("query opID: %v", err)
	}

	staleAttempt := time.Now().Add(-time.Hour).UnixMilli()
	if err := core.MarkSending(ctx, opID, staleAttempt); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}

	if err := pump.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	var state model.OutboxState
	err = s.Pool.QueryRow(ctx, `SELECT state FROM outbox WHERE op_id = $1`, opID).Scan(&state)
	if err != nil {
		t.Fatalf("query state: %v", err)
	}
	if state != model.StateSent {
		t.Fatalf("expected stuck entry to be reset and resent, got %s", state)
	}
}

func TestDrain_PushesDirtySettings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	core := synccore.New(s, alarm.NoopScheduler{})
	bus := transport.NewMemoryBus()
	pump := New(s, core, bus, "watch", time.Minute, 12)

	if err := core.UpdateSettings(ctx, synccore.SettingsFields{ShowHidden: true, Filter: "today"}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	if err := pump.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	snap := bus.Snapshot()
	payload, ok := snap[transport.SettingsPath("watch")]
	if !ok {
		t.Fatalf("expected settings pushed at %s", transport.SettingsPath("watch"))
	}
	var s2 wire.SettingsPayload
	if err := json.Unmarshal(payload, &s2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s2.Filter != "today" || !s2.ShowHidden {
		t.Fatalf("unexpected settings payload: %+v", s2)
	}

	_, dirty, err := core.PushSettingsIfDirty(ctx, 100)
	if err != nil {
		t.Fatalf("PushSettingsIfDirty: %v", err)
	}
	if dirty {
		t.Fatalf("expected settings clean after drain pushed them")
	}
}

// TestDrain_ConcurrentCallsDoNotDoubleSend exercises the single-flight
// guard: several goroutines calling Drain on the same pump at once
// (as the ticker, a maintenance tick, and an operator sync-now could
// in practice) must not both claim and resend the same entry.
func TestDrain_ConcurrentCallsDoNotDoubleSend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := getTestStore(t)
	ctx := context.Background()
	core := synccore.New(s, alarm.NoopScheduler{})
	bus := transport.NewMemoryBus()
	pump := New(s, core, bus, "watch", time.Minute, 12)

	id, err := core.CreateTask(ctx, synccore.CreateFields{Title: "race me"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = pump.Drain(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Drain call %d: %v", i, err)
		}
	}

	var opID int64
	var state model.OutboxState
	var attempts int
	err = s.Pool.QueryRow(ctx, `SELECT op_id, state, attempts FROM outbox WHERE task_id = $1`, id).Scan(&opID, &state, &attempts)
	if err != nil {
		t.Fatalf("query outbox: %v", err)
	}
	if state != model.StateSent {
		t.Fatalf("expected SENT, got %s", state)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one send attempt across %d concurrent drains, got %d", callers, attempts)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
