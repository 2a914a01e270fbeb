package store

import (
	"context"
	"errors"

	"github.com/erauner12/syncwatch/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox is a zero-size namespace for the outbox-table operations.
type Outbox struct{}

const outboxColumns = `op_id, task_id, op_type, payload, created_at, attempts, state, last_attempt_at, error_message`

func scanOutbox(row pgx.Row) (*model.OutboxEntry, error) {
	var e model.OutboxEntry
	err := row.Scan(&e.OpID, &e.TaskID, &e.Type, &e.Payload, &e.CreatedAt, &e.Attempts, &e.State, &e.LastAttemptAt, &e.ErrorMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// Insert creates a new PENDING outbox entry; opId is auto-assigned.
func (Outbox) Insert(ctx context.Context, ex Execer, taskID uuid.UUID, opType model.OpType, payload []byte, createdAt int64) (int64, error) {
	var opID int64
	err := ex.QueryRow(ctx, `
		INSERT INTO outbox (task_id, op_type, payload, created_at, attempts, state)
		VALUES ($1, $2, $3, $4, 0, $5)
		RETURNING op_id
	`, taskID, opType, payload, createdAt, model.StatePending).Scan(&opID)
	return opID, err
}

// Get returns the outbox entry by opId, or (nil, nil) if absent.
func (Outbox) Get(ctx context.Context, ex Execer, opID int64) (*model.OutboxEntry, error) {
	row := ex.QueryRow(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE op_id = $1`, opID)
	return scanOutbox(row)
}

// ListPendingInOrder returns every PENDING/SENDING entry ordered by
// createdAt ascending, the FIFO-per-task drain order.
func (Outbox) ListPendingInOrder(ctx context.Context, ex Execer) ([]model.OutboxEntry, error) {
	rows, err := ex.Query(ctx, `SELECT `+outboxColumns+` FROM outbox
		WHERE state IN ($1, $2) ORDER BY created_at ASC`, model.StatePending, model.StateSending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	return out, rows.Err()
}

// MarkSending transitions an entry to SENDING and increments attempts.
func (Outbox) MarkSending(ctx context.Context, ex Execer, opID int64, now int64) error {
	_, err := ex.Exec(ctx, `UPDATE outbox SET state = $2, last_attempt_at = $3, attempts = attempts + 1
		WHERE op_id = $1`, opID, model.StateSending, now)
	return err
}

// MarkSent transitions SENDING -> SENT on a successful put.
func (Outbox) MarkSent(ctx context.Context, ex Execer, opID int64) error {
	_, err := ex.Exec(ctx, `UPDATE outbox SET state = $2 WHERE op_id = $1`, opID, model.StateSent)
	return err
}

// MarkAcked transitions SENT -> ACKED on receipt of a peer ack.
func (Outbox) MarkAcked(ctx context.Context, ex Execer, opID int64) error {
	_, err := ex.Exec(ctx, `UPDATE outbox SET state = $2 WHERE op_id = $1`, opID, model.StateAcked)
	return err
}

// MarkFailed records a put error. If attempts has reached ceiling the
// entry is moved to FAILED and excluded from further drains;
// otherwise it stays PENDING for retry.
func (Outbox) MarkFailed(ctx context.Context, ex Execer, opID int64, errMsg string, attemptCeiling int) error {
	var attempts int
	if err := ex.QueryRow(ctx, `SELECT attempts FROM outbox WHERE op_id = $1`, opID).Scan(&attempts); err != nil {
		return err
	}

	state := model.StatePending
	if attempts >= attemptCeiling {
		state = model.StateFailed
	}

	_, err := ex.Exec(ctx, `UPDATE outbox SET state = $2, error_message = $3 WHERE op_id = $1`, opID, state, errMsg)
	return err
}

// ResetStuck moves any SENDING entry whose lastAttemptAt predates
// threshold back to PENDING.
func (Outbox) ResetStuck(ctx context.Context, ex Execer, threshold int64) (int64, error) {
	tag, err := ex.Exec(ctx, `UPDATE outbox SET state = $1
		WHERE state = $2 AND last_attempt_at < $3`, model.StatePending, model.StateSending, threshold)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteAcked purges ACKED entries.
func (Outbox) DeleteAcked(ctx context.Context, ex Execer) (int64, error) {
	tag, err := ex.Exec(ctx, `DELETE FROM outbox WHERE state = $1`, model.StateAcked)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
