package store

import (
	"context"
	"errors"

	"github.com/erauner12/syncwatch/internal/model"
	"github.com/jackc/pgx/v5"
)

// Settings is a zero-size namespace for the singleton settings row.
// The row always exists (seeded by the schema); Get never returns
// (nil, nil) on a correctly migrated database.
type Settings struct{}

// Get reads the singleton settings row.
func (Settings) Get(ctx context.Context, ex Execer) (*model.Settings, error) {
	row := ex.QueryRow(ctx, `SELECT show_hidden, show_completed, filter, collapsed_groups, dirty, synced_at FROM settings WHERE id = true`)
	var s model.Settings
	err := row.Scan(&s.ShowHidden, &s.ShowCompleted, &s.Filter, &s.CollapsedGroups, &s.Dirty, &s.SyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpdateLocal writes a local settings change and marks the row dirty.
func (Settings) UpdateLocal(ctx context.Context, ex Execer, s model.Settings) error {
	_, err := ex.Exec(ctx, `UPDATE settings SET show_hidden=$1, show_completed=$2, filter=$3,
		collapsed_groups=$4, dirty=true WHERE id = true`,
		s.ShowHidden, s.ShowCompleted, s.Filter, s.CollapsedGroups)
	return err
}

// ApplyInboundIfNotDirty applies a peer settings snapshot, but only if
// the local row has no uncommitted local change. Unlike tasks, inbound
// settings never merge per-field against a dirty local row — dirty
// local settings simply win until they are synced.
func (Settings) ApplyInboundIfNotDirty(ctx context.Context, ex Execer, s model.Settings, now int64) (bool, error) {
	tag, err := ex.Exec(ctx, `UPDATE settings SET show_hidden=$1, show_completed=$2, filter=$3,
		collapsed_groups=$4, dirty=false, synced_at=$5
		WHERE id = true AND dirty = false`,
		s.ShowHidden, s.ShowCompleted, s.Filter, s.CollapsedGroups, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSynced clears dirty after a successful settings push to the bus.
func (Settings) MarkSynced(ctx context.Context, ex Execer, now int64) error {
	_, err := ex.Exec(ctx, `UPDATE settings SET dirty = false, synced_at = $1 WHERE id = true`, now)
	return err
}
