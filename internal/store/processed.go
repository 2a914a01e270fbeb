package store

import "context"

// Processed is a zero-size namespace for the idempotency-log
// operations.
type Processed struct{}

// IsProcessed reports whether opId has already been applied.
func (Processed) IsProcessed(ctx context.Context, ex Execer, opID string) (bool, error) {
	var exists bool
	err := ex.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_op WHERE op_id = $1)`, opID).Scan(&exists)
	return exists, err
}

// MarkProcessed records opId as applied. Idempotent: a second insert
// of the same opId is a silent no-op (set semantics).
func (Processed) MarkProcessed(ctx context.Context, ex Execer, opID string, now int64) error {
	_, err := ex.Exec(ctx, `INSERT INTO processed_op (op_id, processed_at) VALUES ($1, $2)
		ON CONFLICT (op_id) DO NOTHING`, opID, now)
	return err
}

// CleanupOld purges processed-op rows older than threshold.
func (Processed) CleanupOld(ctx context.Context, ex Execer, threshold int64) (int64, error) {
	tag, err := ex.Exec(ctx, `DELETE FROM processed_op WHERE processed_at < $1`, threshold)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
