// Package synccore wires the merge engine to the store: every local
// mutation writes the task and enqueues exactly one outbox entry in a
// single transaction, and every inbound operation is
// applied through merge under the idempotency log in another.
package synccore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erauner12/syncwatch/internal/alarm"
	"github.com/erauner12/syncwatch/internal/merge"
	"github.com/erauner12/syncwatch/internal/model"
	"github.com/erauner12/syncwatch/internal/store"
	"github.com/erauner12/syncwatch/internal/syncerr"
	"github.com/erauner12/syncwatch/internal/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrTaskNotFound = errors.New("synccore: task not found")

// SyncCore is the process-wide singleton that every other
// component calls into to read or mutate task state.
type SyncCore struct {
	store *store.Store
	alarm alarm.Scheduler
}

func New(s *store.Store, sched alarm.Scheduler) *SyncCore {
	return &SyncCore{store: s, alarm: sched}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// CreateFields are the client-supplied fields for a new task.
type CreateFields struct {
	Title        string
	Notes        *string
	Priority     int
	DueDate      *int64
	DueTime      *int64
	Reminder     bool
	ReminderTime *int64
	Repeating    bool
}

// CreateTask inserts a new task and enqueues its CREATE outbox entry.
func (c *SyncCore) CreateTask(ctx context.Context, f CreateFields) (uuid.UUID, error) {
	now := nowMs()
	t := model.Task{
		ID:                 uuid.New(),
		Title:              f.Title,
		Notes:              f.Notes,
		Priority:           f.Priority,
		DueDate:            f.DueDate,
		DueTime:            f.DueTime,
		Reminder:           f.Reminder,
		ReminderTime:       f.ReminderTime,
		Repeating:          f.Repeating,
		TitleUpdatedAt:     now,
		NotesUpdatedAt:     now,
		CompletedUpdatedAt: now,
		UpdatedAt:          now,
		Dirty:              true,
	}

	delta := wire.TaskDelta{
		Title:          &t.Title,
		TitleUpdatedAt: &now,
		Notes:          t.Notes,
		NotesUpdatedAt: &now,
		Priority:       &t.Priority,
		DueDate:        t.DueDate,
	}

	err := c.store.Run(ctx, func(ctx context.Context, ex store.Execer) error {
		if err := (store.Tasks{}).InsertOrReplace(ctx, ex, t); err != nil {
			return err
		}
		return c.enqueue(ctx, ex, t.ID, model.OpCreate, delta, now)
	})
	if err != nil {
		return uuid.Nil, &syncerr.StoreTransaction{Err: err}
	}

	c.notifyAlarm(t)
	return t.ID, nil
}

// UpdateTitle writes a new title and enqueues an UPDATE outbox entry.
func (c *SyncCore) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	return c.mutate(ctx, id, func(t *model.Task, now int64) wire.TaskDelta {
		t.Title = title
		t.TitleUpdatedAt = now
		return wire.TaskDelta{Title: &t.Title, TitleUpdatedAt: &now}
	})
}

// UpdateNotes writes new notes and enqueues an UPDATE outbox entry.
func (c *SyncCore) UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error {
	return c.mutate(ctx, id, func(t *model.Task, now int64) wire.TaskDelta {
		t.Notes = notes
		t.NotesUpdatedAt = now
		return wire.TaskDelta{Notes: notes, NotesUpdatedAt: &now}
	})
}

// UpdateTitleAndNotes writes both fields under the same timestamp and
// enqueues a single UPDATE outbox entry carrying both.
func (c *SyncCore) UpdateTitleAndNotes(ctx context.Context, id uuid.UUID, title string, notes *string) error {
	return c.mutate(ctx, id, func(t *model.Task, now int64) wire.TaskDelta {
		t.Title = title
		t.TitleUpdatedAt = now
		t.Notes = notes
		t.NotesUpdatedAt = now
		return wire.TaskDelta{Title: &t.Title, TitleUpdatedAt: &now, Notes: notes, NotesUpdatedAt: &now}
	})
}

// SetCompleted flips the completed flag and enqueues a COMPLETE outbox
// entry.
func (c *SyncCore) SetCompleted(ctx context.Context, id uuid.UUID, completed bool) error {
	return c.mutateTyped(ctx, id, model.OpComplete, func(t *model.Task, now int64) wire.TaskDelta {
		t.Completed = completed
		t.CompletedUpdatedAt = now
		return wire.TaskDelta{Completed: &t.Completed, CompletedUpdatedAt: &now}
	})
}

// UpdateSchedule rewrites due date/time and reminder fields. None of
// these carry a dedicated per-field timestamp; the write
// is unconditional and bumps only the record-level updatedAt.
func (c *SyncCore) UpdateSchedule(ctx context.Context, id uuid.UUID, dueDate, dueTime *int64, reminder bool, reminderTime *int64) error {
	return c.mutate(ctx, id, func(t *model.Task, now int64) wire.TaskDelta {
		t.DueDate = dueDate
		t.DueTime = dueTime
		t.Reminder = reminder
		t.ReminderTime = reminderTime
		return wire.TaskDelta{DueDate: dueDate}
	})
}

// DeleteTask soft-deletes the task (tombstone) and enqueues a DELETE
// outbox entry; the alarm collaborator is told to cancel any reminder.
func (c *SyncCore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	return c.mutateTyped(ctx, id, model.OpDelete, func(t *model.Task, now int64) wire.TaskDelta {
		t.Deleted = true
		deleted := true
		return wire.TaskDelta{Deleted: &deleted}
	})
}

// mutate is the common shape of every local-mutation API: load,
// transform, write, enqueue, notify.
func (c *SyncCore) mutate(ctx context.Context, id uuid.UUID, fn func(t *model.Task, now int64) wire.TaskDelta) error {
	return c.mutateTyped(ctx, id, model.OpUpdate, fn)
}

func (c *SyncCore) mutateTyped(ctx context.Context, id uuid.UUID, opType model.OpType, fn func(t *model.Task, now int64) wire.TaskDelta) error {
	now := nowMs()
	var final model.Task

	err := c.store.Run(ctx, func(ctx context.Context, ex store.Execer) error {
		t, err := (store.Tasks{}).Get(ctx, ex, id)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrTaskNotFound
		}

		delta := fn(t, now)
		t.UpdatedAt = now
		t.Dirty = true

		if err := (store.Tasks{}).UpdateLocal(ctx, ex, *t); err != nil {
			return err
		}
		final = *t
		return c.enqueue(ctx, ex, id, opType, delta, now)
	})
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return err
		}
		return &syncerr.StoreTransaction{Err: err}
	}

	c.notifyAlarm(final)
	return nil
}

// enqueue inserts exactly one outbox entry carrying the minimal field
// delta. The payload omits opId/taskId/opType —
// those live on the outbox row itself; the pump assembles the full
// wire.OpEnvelope at send time.
func (c *SyncCore) enqueue(ctx context.Context, ex store.Execer, id uuid.UUID, opType model.OpType, delta wire.TaskDelta, now int64) error {
	payload, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	_, err = (store.Outbox{}).Insert(ctx, ex, id, opType, payload, now)
	return err
}

func (c *SyncCore) notifyAlarm(t model.Task) {
	if t.Reminder && !t.Completed && !t.Deleted {
		c.alarm.Schedule(t)
	} else {
		c.alarm.Cancel(t.ID.String())
	}
}

// ApplyInbound is the inbound-apply entry point: idempotent in opID,
// guarded by the processed-op log, applied through Merge.
func (c *SyncCore) ApplyInbound(ctx context.Context, opID string, w wire.TaskDelta, now int64) error {
	err := c.store.Run(ctx, func(ctx context.Context, ex store.Execer) error {
		processed, err := (store.Processed{}).IsProcessed(ctx, ex, opID)
		if err != nil {
			return err
		}
		if processed {
			return syncerr.ErrDuplicateDelivery
		}

		delta, err := deltaFromWire(w)
		if err != nil {
			return err
		}

		local, err := c.resolveLocal(ctx, ex, delta)
		if err != nil {
			return err
		}

		if err := c.applyResult(ctx, ex, targetID(local, delta), merge.Merge(local, delta, now), now); err != nil {
			return err
		}
		return (store.Processed{}).MarkProcessed(ctx, ex, opID, now)
	})

	if syncerr.IsDuplicateDelivery(err) {
		log.Debug().Str("op_id", opID).Msg("synccore: duplicate inbound op, skipping")
		return nil
	}
	return err
}

// BuildSnapshot reads every active task into a wire.SnapshotPayload,
// for the inbox router to answer a peer's /sync/request with a full
// task list.
func (c *SyncCore) BuildSnapshot(ctx context.Context, now int64) (wire.SnapshotPayload, error) {
	tasks, err := (store.Tasks{}).ListActive(ctx, c.store.Pool)
	if err != nil {
		return wire.SnapshotPayload{}, err
	}

	deltas := make([]wire.TaskDelta, 0, len(tasks))
	for _, t := range tasks {
		title := t.Title
		completed := t.Completed
		deleted := t.Deleted
		priority := t.Priority
		titleUpdatedAt := t.TitleUpdatedAt
		notesUpdatedAt := t.NotesUpdatedAt
		completedUpdatedAt := t.CompletedUpdatedAt
		deltas = append(deltas, wire.TaskDelta{
			ID:                 t.ID.String(),
			Title:              &title,
			TitleUpdatedAt:     &titleUpdatedAt,
			Notes:              t.Notes,
			NotesUpdatedAt:     &notesUpdatedAt,
			Completed:          &completed,
			CompletedUpdatedAt: &completedUpdatedAt,
			Deleted:            &deleted,
			Priority:           &priority,
			DueDate:            t.DueDate,
			PeerID:             t.PeerID,
		})
	}

	return wire.SnapshotPayload{SnapshotTimestamp: now, Tasks: deltas}, nil
}

// ApplySnapshot applies a full task snapshot: every element runs
// through Merge without consulting the processed-op log, since
// re-delivery of a snapshot is safe (merge is a no-op on equal
// timestamps) but never itself skipped.
func (c *SyncCore) ApplySnapshot(ctx context.Context, tasks []wire.TaskDelta, now int64) error {
	return c.store.Run(ctx, func(ctx context.Context, ex store.Execer) error {
		for _, w := range tasks {
			delta, err := deltaFromWire(w)
			if err != nil {
				log.Warn().Err(err).Str("task_id", w.ID).Msg("synccore: malformed snapshot entry, skipping")
				continue
			}

			local, err := c.resolveLocal(ctx, ex, delta)
			if err != nil {
				return err
			}

			if err := c.applyResult(ctx, ex, targetID(local, delta), merge.Merge(local, delta, now), now); err != nil {
				return err
			}
		}
		return nil
	})
}

// resolveLocal is the duplicate-reconciliation lookup chain: by id,
// then by peerId, then by dirty+title+no-peerId.
func (c *SyncCore) resolveLocal(ctx context.Context, ex store.Execer, delta merge.Delta) (*model.Task, error) {
	t, err := (store.Tasks{}).Get(ctx, ex, delta.TaskID)
	if err != nil || t != nil {
		return t, err
	}

	if delta.PeerID != nil {
		t, err = (store.Tasks{}).GetByPeerID(ctx, ex, *delta.PeerID)
		if err != nil || t != nil {
			return t, err
		}
	}

	if delta.Title != nil {
		t, err = (store.Tasks{}).FindDirtyByTitleNoPeer(ctx, ex, *delta.Title)
		if err != nil || t != nil {
			return t, err
		}
	}

	return nil, nil
}

// targetID is the row the merge result should be written to: the
// resolved local row's own id when reconciliation found one (it may
// differ from delta.TaskID, e.g. the peer-id late-binding scenario),
// or the delta's own id when nothing matched (create-if-absent path,
// where merge.Merge ignores it anyway and uses NewTask.ID).
func targetID(local *model.Task, delta merge.Delta) uuid.UUID {
	if local != nil {
		return local.ID
	}
	return delta.TaskID
}

func (c *SyncCore) applyResult(ctx context.Context, ex store.Execer, id uuid.UUID, res merge.Result, now int64) error {
	switch res.Action {
	case merge.NoOp:
		return nil

	case merge.HardDelete:
		return (store.Tasks{}).HardDelete(ctx, ex, id)

	case merge.CreateTask:
		return (store.Tasks{}).InsertOrReplace(ctx, ex, res.NewTask)

	case merge.ApplyToExisting:
		if res.Title != nil {
			if _, err := (store.Tasks{}).UpdateTitleIfNewer(ctx, ex, id, res.Title.Value.(string), res.Title.Timestamp); err != nil {
				return err
			}
		}
		if res.Notes != nil {
			notes, _ := res.Notes.Value.(*string)
			if _, err := (store.Tasks{}).UpdateNotesIfNewer(ctx, ex, id, notes, res.Notes.Timestamp); err != nil {
				return err
			}
		}
		if res.Completed != nil {
			if _, err := (store.Tasks{}).UpdateCompletedIfNewer(ctx, ex, id, res.Completed.Value.(bool), res.Completed.Timestamp); err != nil {
				return err
			}
		}
		if res.SetPeerID != nil {
			if _, err := (store.Tasks{}).SetPeerID(ctx, ex, id, *res.SetPeerID); err != nil {
				return err
			}
		}
		if res.DueDateSet {
			if _, err := (store.Tasks{}).UpdateDueDate(ctx, ex, id, res.DueDateValue, now); err != nil {
				return err
			}
		}
		if res.AnyWrite {
			return (store.Tasks{}).MarkSynced(ctx, ex, id, now)
		}
		return nil
	}
	return nil
}

func deltaFromWire(w wire.TaskDelta) (merge.Delta, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return merge.Delta{}, err
	}
	d := merge.Delta{
		TaskID:    id,
		PeerID:    w.PeerID,
		Title:     w.Title,
		Notes:     w.Notes,
		Completed: w.Completed,
		Deleted:   w.Deleted,
		Priority:  w.Priority,
		DueDate:   w.DueDate,
	}
	if w.TitleUpdatedAt != nil {
		d.TitleUpdatedAt = *w.TitleUpdatedAt
	}
	if w.NotesUpdatedAt != nil {
		d.NotesUpdatedAt = *w.NotesUpdatedAt
	}
	if w.CompletedUpdatedAt != nil {
		d.CompletedUpdatedAt = *w.CompletedUpdatedAt
	}
	return d, nil
}

// SettingsFields are the client-supplied fields for a settings update.
type SettingsFields struct {
	ShowHidden      bool
	ShowCompleted   bool
	Filter          string
	CollapsedGroups string
}

// UpdateSettings writes a local settings change, marking the singleton
// row dirty. Unlike tasks, no outbox entry is enqueued:
// settings are pushed whole by the pump's opportunistic
// PushSettingsIfDirty rather than through the per-op outbox state
// machine, since there is nothing to retry-in-order for a
// last-write-wins singleton.
func (c *SyncCore) UpdateSettings(ctx context.Context, f SettingsFields) error {
	return c.store.Run(ctx, func(ctx context.Context, ex store.Execer) error {
		return (store.Settings{}).UpdateLocal(ctx, ex, model.Settings{
			ShowHidden: f.ShowHidden, ShowCompleted: f.ShowCompleted,
			Filter: f.Filter, CollapsedGroups: f.CollapsedGroups,
		})
	})
}

// PushSettingsIfDirty returns the current settings as a wire payload
// when dirty, for the pump to push to the bus. Returns ok=false when
// there is nothing to push.
func (c *SyncCore) PushSettingsIfDirty(ctx context.Context, now int64) (wire.SettingsPayload, bool, error) {
	s, err := (store.Settings{}).Get(ctx, c.store.Pool)
	if err != nil || s == nil || !s.Dirty {
		return wire.SettingsPayload{}, false, err
	}
	return wire.SettingsPayload{
		ShowHidden: s.ShowHidden, ShowCompleted: s.ShowCompleted,
		Filter: s.Filter, CollapsedGroups: s.CollapsedGroups, Timestamp: now,
	}, true, nil
}

// MarkSettingsSynced clears the dirty flag after a successful push.
func (c *SyncCore) MarkSettingsSynced(ctx context.Context, now int64) error {
	return (store.Settings{}).MarkSynced(ctx, c.store.Pool, now)
}

// ApplyInboundSettings applies a peer settings payload under the
// dirty-override rule: it overwrites only if the local row has no
// uncommitted change.
func (c *SyncCore) ApplyInboundSettings(ctx context.Context, w wire.SettingsPayload, now int64) error {
	_, err := (store.Settings{}).ApplyInboundIfNotDirty(ctx, c.store.Pool, model.Settings{
		ShowHidden: w.ShowHidden, ShowCompleted: w.ShowCompleted,
		Filter: w.Filter, CollapsedGroups: w.CollapsedGroups,
	}, now)
	return err
}

// Outbox-state transitions API, called by the outbox
// pump. These touch a single table and don't need a transaction of
// their own, except MarkAcked which also clears the task's dirty flag.

func (c *SyncCore) MarkSending(ctx context.Context, opID int64, now int64) error {
	return (store.Outbox{}).MarkSending(ctx, c.store.Pool, opID, now)
}

func (c *SyncCore) MarkSent(ctx context.Context, opID int64) error {
	return (store.Outbox{}).MarkSent(ctx, c.store.Pool, opID)
}

func (c *SyncCore) MarkAcked(ctx context.Context, opID int64, now int64) error {
	return c.store.Run(ctx, func(ctx context.Context, ex store.Execer) error {
		entry, err := (store.Outbox{}).Get(ctx, ex, opID)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		if err := (store.Outbox{}).MarkAcked(ctx, ex, opID); err != nil {
			return err
		}
		return (store.Tasks{}).MarkSynced(ctx, ex, entry.TaskID, now)
	})
}

// MarkFailed records a put failure and, once the entry has exhausted
// its retry ceiling, reports ErrUnrecoverableOutbox so the pump can
// distinguish a permanent stop from an ordinary retryable failure.
func (c *SyncCore) MarkFailed(ctx context.Context, opID int64, errMsg string, attemptCeiling int) error {
	entry, err := (store.Outbox{}).Get(ctx, c.store.Pool, opID)
	if err != nil {
		return err
	}
	if err := (store.Outbox{}).MarkFailed(ctx, c.store.Pool, opID, errMsg, attemptCeiling); err != nil {
		return err
	}
	if entry != nil && entry.Attempts >= attemptCeiling {
		return fmt.Errorf("op %d: %s: %w", opID, errMsg, syncerr.ErrUnrecoverableOutbox)
	}
	return nil
}
