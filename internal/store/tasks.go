package store

import (
	"context"
	"errors"

	"github.com/erauner12/syncwatch/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Tasks is a zero-size namespace for the task-table operations. Every
// method takes an Execer so it can run either standalone against the
// pool or inside a Store.Run transaction.
type Tasks struct{}

const taskColumns = `id, title, notes, completed, priority, due_date_ms, due_time_ms,
	reminder, reminder_time_ms, repeating, deleted,
	title_updated_at, notes_updated_at, completed_updated_at,
	updated_at, synced_at, dirty, peer_id`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID, &t.Title, &t.Notes, &t.Completed, &t.Priority, &t.DueDate, &t.DueTime,
		&t.Reminder, &t.ReminderTime, &t.Repeating, &t.Deleted,
		&t.TitleUpdatedAt, &t.NotesUpdatedAt, &t.CompletedUpdatedAt,
		&t.UpdatedAt, &t.SyncedAt, &t.Dirty, &t.PeerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Get returns the task by id, or (nil, nil) if absent.
func (Tasks) Get(ctx context.Context, ex Execer, id uuid.UUID) (*model.Task, error) {
	row := ex.QueryRow(ctx, `SELECT `+taskColumns+` FROM task WHERE id = $1`, id)
	return scanTask(row)
}

// GetByPeerID returns the task linked to a given remote peer id, or
// (nil, nil) if none exists. Used by the merge engine's duplicate
// reconciliation.
func (Tasks) GetByPeerID(ctx context.Context, ex Execer, peerID int64) (*model.Task, error) {
	row := ex.QueryRow(ctx, `SELECT `+taskColumns+` FROM task WHERE peer_id = $1`, peerID)
	return scanTask(row)
}

// FindDirtyByTitleNoPeer resolves the watch-created-before-ack race
// during duplicate reconciliation: a dirty local task with the given
// title and no peer_id yet assigned.
func (Tasks) FindDirtyByTitleNoPeer(ctx context.Context, ex Execer, title string) (*model.Task, error) {
	row := ex.QueryRow(ctx, `SELECT `+taskColumns+` FROM task
		WHERE dirty = true AND peer_id IS NULL AND title = $1
		ORDER BY updated_at DESC LIMIT 1`, title)
	return scanTask(row)
}

func queryTasks(ctx context.Context, ex Execer, query string, args ...any) ([]model.Task, error) {
	rows, err := ex.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, rows.Err()
}

// ListActive returns every non-deleted task.
func (Tasks) ListActive(ctx context.Context, ex Execer) ([]model.Task, error) {
	return queryTasks(ctx, ex, `SELECT `+taskColumns+` FROM task WHERE deleted = false ORDER BY updated_at`)
}

// ListDirty returns every task with uncommitted local changes.
func (Tasks) ListDirty(ctx context.Context, ex Execer) ([]model.Task, error) {
	return queryTasks(ctx, ex, `SELECT `+taskColumns+` FROM task WHERE dirty = true ORDER BY updated_at`)
}

// ListWithReminders returns active, incomplete tasks with a reminder
// set, for the maintenance loop's alarm rescheduling.
func (Tasks) ListWithReminders(ctx context.Context, ex Execer) ([]model.Task, error) {
	return queryTasks(ctx, ex, `SELECT `+taskColumns+` FROM task
		WHERE reminder = true AND completed = false AND deleted = false
		ORDER BY reminder_time_ms`)
}

// InsertOrReplace upserts the full row, used by local creation and by
// the merge engine's create-if-absent path.
func (Tasks) InsertOrReplace(ctx context.Context, ex Execer, t model.Task) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO task (id, title, notes, completed, priority, due_date_ms, due_time_ms,
			reminder, reminder_time_ms, repeating, deleted,
			title_updated_at, notes_updated_at, completed_updated_at,
			updated_at, synced_at, dirty, peer_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, notes = EXCLUDED.notes, completed = EXCLUDED.completed,
			priority = EXCLUDED.priority, due_date_ms = EXCLUDED.due_date_ms, due_time_ms = EXCLUDED.due_time_ms,
			reminder = EXCLUDED.reminder, reminder_time_ms = EXCLUDED.reminder_time_ms,
			repeating = EXCLUDED.repeating, deleted = EXCLUDED.deleted,
			title_updated_at = EXCLUDED.title_updated_at, notes_updated_at = EXCLUDED.notes_updated_at,
			completed_updated_at = EXCLUDED.completed_updated_at, updated_at = EXCLUDED.updated_at,
			synced_at = EXCLUDED.synced_at, dirty = EXCLUDED.dirty, peer_id = EXCLUDED.peer_id
	`, t.ID, t.Title, t.Notes, t.Completed, t.Priority, t.DueDate, t.DueTime,
		t.Reminder, t.ReminderTime, t.Repeating, t.Deleted,
		t.TitleUpdatedAt, t.NotesUpdatedAt, t.CompletedUpdatedAt,
		t.UpdatedAt, t.SyncedAt, t.Dirty, t.PeerID)
	if err != nil {
		return err
	}
	markTasksChanged(ctx)
	return nil
}

// SetPeerID links a local task to the remote peer's id for the task,
// only if unset.
func (Tasks) SetPeerID(ctx context.Context, ex Execer, id uuid.UUID, peerID int64) (int64, error) {
	tag, err := ex.Exec(ctx, `UPDATE task SET peer_id = $2 WHERE id = $1 AND peer_id IS NULL`, id, peerID)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() > 0 {
		markTasksChanged(ctx)
	}
	return tag.RowsAffected(), nil
}

// MarkSynced clears dirty and stamps synced_at=now for a task whose
// outbox entry was just acked.
func (Tasks) MarkSynced(ctx context.Context, ex Execer, id uuid.UUID, now int64) error {
	_, err := ex.Exec(ctx, `UPDATE task SET dirty = false, synced_at = $2 WHERE id = $1`, id, now)
	if err == nil {
		markTasksChanged(ctx)
	}
	return err
}

// HardDelete removes the row entirely (tombstone purge, or a remote
// delete-wins tombstone).
func (Tasks) HardDelete(ctx context.Context, ex Execer, id uuid.UUID) error {
	tag, err := ex.Exec(ctx, `DELETE FROM task WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		markTasksChanged(ctx)
	}
	return nil
}

// CleanupDeleted hard-deletes tombstones that are synced and older
// than threshold.
func (Tasks) CleanupDeleted(ctx context.Context, ex Execer, threshold int64) (int64, error) {
	tag, err := ex.Exec(ctx, `DELETE FROM task WHERE deleted = true AND synced_at IS NOT NULL AND synced_at < $1`, threshold)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() > 0 {
		markTasksChanged(ctx)
	}
	return tag.RowsAffected(), nil
}

// updateIfNewer is the conditional field write the merge engine is
// built on: the incoming value is written iff its timestamp is
// strictly greater than the stored one. Equal timestamps do not
// update (tie -> keep local).
func updateIfNewer(ctx context.Context, ex Execer, id uuid.UUID, setClause, tsColumn string, value any, ts int64) (int64, error) {
	sql := `UPDATE task SET ` + setClause + `, ` + tsColumn + ` = $3, updated_at = GREATEST(updated_at, $3)
		WHERE id = $1 AND ` + tsColumn + ` < $3`
	tag, err := ex.Exec(ctx, sql, id, value, ts)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() > 0 {
		markTasksChanged(ctx)
	}
	return tag.RowsAffected(), nil
}

// UpdateTitleIfNewer is the per-field LWW primitive for title.
func (Tasks) UpdateTitleIfNewer(ctx context.Context, ex Execer, id uuid.UUID, title string, ts int64) (int64, error) {
	return updateIfNewer(ctx, ex, id, "title = $2", "title_updated_at", title, ts)
}

// UpdateNotesIfNewer is the per-field LWW primitive for notes.
func (Tasks) UpdateNotesIfNewer(ctx context.Context, ex Execer, id uuid.UUID, notes *string, ts int64) (int64, error) {
	return updateIfNewer(ctx, ex, id, "notes = $2", "notes_updated_at", notes, ts)
}

// UpdateCompletedIfNewer is the per-field LWW primitive for completed.
func (Tasks) UpdateCompletedIfNewer(ctx context.Context, ex Execer, id uuid.UUID, completed bool, ts int64) (int64, error) {
	return updateIfNewer(ctx, ex, id, "completed = $2", "completed_updated_at", completed, ts)
}

// UpdateDueDate writes the peer-authoritative due date unconditionally
// when it differs.
func (Tasks) UpdateDueDate(ctx context.Context, ex Execer, id uuid.UUID, dueDate *int64, now int64) (int64, error) {
	tag, err := ex.Exec(ctx, `UPDATE task SET due_date_ms = $2, updated_at = GREATEST(updated_at, $3)
		WHERE id = $1 AND due_date_ms IS DISTINCT FROM $2`, id, dueDate, now)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() > 0 {
		markTasksChanged(ctx)
	}
	return tag.RowsAffected(), nil
}

// UpdateLocal writes a local mutation: every content column, the
// per-field timestamps, updated_at and dirty are set from t in one
// statement. Callers pass the current value for fields they aren't
// changing so the SET is a no-op for those columns.
func (Tasks) UpdateLocal(ctx context.Context, ex Execer, t model.Task) error {
	_, err := ex.Exec(ctx, `
		UPDATE task SET
			title = $2, notes = $3, completed = $4, priority = $5,
			due_date_ms = $6, due_time_ms = $7, reminder = $8, reminder_time_ms = $9, repeating = $10,
			deleted = $11,
			title_updated_at = $12, notes_updated_at = $13, completed_updated_at = $14,
			updated_at = $15, dirty = $16
		WHERE id = $1
	`, t.ID, t.Title, t.Notes, t.Completed, t.Priority, t.DueDate, t.DueTime,
		t.Reminder, t.ReminderTime, t.Repeating, t.Deleted,
		t.TitleUpdatedAt, t.NotesUpdatedAt, t.CompletedUpdatedAt,
		t.UpdatedAt, t.Dirty)
	if err == nil {
		markTasksChanged(ctx)
	}
	return err
}
