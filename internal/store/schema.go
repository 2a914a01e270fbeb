package store

import (
	"context"

	"github.com/rs/zerolog/log"
)

// schemaVersion is bumped whenever the table layout changes
// incompatibly. Migrate wipes and recreates on a version mismatch
// instead of running incremental migrations — acceptable because this
// peer is never the source of truth; a fresh snapshot from the other
// peer repopulates the store.
const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_meta (
	id      boolean PRIMARY KEY DEFAULT true CHECK (id),
	version int NOT NULL
);

CREATE TABLE IF NOT EXISTS task (
	id                   uuid PRIMARY KEY,
	title                text NOT NULL,
	notes                text,
	completed            boolean NOT NULL DEFAULT false,
	priority             int NOT NULL DEFAULT 0,
	due_date_ms          bigint,
	due_time_ms          bigint,
	reminder             boolean NOT NULL DEFAULT false,
	reminder_time_ms     bigint,
	repeating            boolean NOT NULL DEFAULT false,
	deleted              boolean NOT NULL DEFAULT false,
	title_updated_at     bigint NOT NULL,
	notes_updated_at     bigint NOT NULL,
	completed_updated_at bigint NOT NULL,
	updated_at           bigint NOT NULL,
	synced_at            bigint,
	dirty                boolean NOT NULL DEFAULT false,
	peer_id              bigint UNIQUE
);
CREATE INDEX IF NOT EXISTS task_dirty_idx ON task (dirty) WHERE dirty = true;
CREATE INDEX IF NOT EXISTS task_deleted_idx ON task (deleted);
CREATE INDEX IF NOT EXISTS task_reminder_idx ON task (reminder, completed, deleted);

CREATE TABLE IF NOT EXISTS outbox (
	op_id           bigserial PRIMARY KEY,
	task_id         uuid NOT NULL,
	op_type         text NOT NULL,
	payload         bytea NOT NULL,
	created_at      bigint NOT NULL,
	attempts        int NOT NULL DEFAULT 0,
	state           text NOT NULL DEFAULT 'PENDING',
	last_attempt_at bigint,
	error_message   text
);
CREATE INDEX IF NOT EXISTS outbox_state_idx ON outbox (state, created_at);
CREATE INDEX IF NOT EXISTS outbox_task_idx ON outbox (task_id, created_at);

CREATE TABLE IF NOT EXISTS processed_op (
	op_id        text PRIMARY KEY,
	processed_at bigint NOT NULL
);
CREATE INDEX IF NOT EXISTS processed_op_age_idx ON processed_op (processed_at);

CREATE TABLE IF NOT EXISTS settings (
	id               boolean PRIMARY KEY DEFAULT true CHECK (id),
	show_hidden      boolean NOT NULL DEFAULT false,
	show_completed   boolean NOT NULL DEFAULT true,
	filter           text NOT NULL DEFAULT '',
	collapsed_groups text NOT NULL DEFAULT '',
	dirty            boolean NOT NULL DEFAULT false,
	synced_at        bigint
);
INSERT INTO settings (id) VALUES (true) ON CONFLICT (id) DO NOTHING;
`

const dropAllDDL = `
DROP TABLE IF EXISTS task, outbox, processed_op, settings CASCADE;
`

// WipeAndRecreate drops and recreates every table unconditionally, for
// the control plane's admin wipe endpoint.
func (s *Store) WipeAndRecreate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, dropAllDDL); err != nil {
		return err
	}
	if _, err := s.Pool.Exec(ctx, schemaDDL); err != nil {
		return err
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO schema_meta (id, version) VALUES (true, $1)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version`, schemaVersion)
	if err == nil {
		s.NotifyTasksChanged()
	}
	return err
}

// Migrate ensures the schema exists at the current version, performing
// a destructive wipe-and-recreate if an older version is found.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_meta (id boolean PRIMARY KEY DEFAULT true CHECK (id), version int NOT NULL)`); err != nil {
		return err
	}

	var current int
	err := s.Pool.QueryRow(ctx, `SELECT version FROM schema_meta WHERE id = true`).Scan(&current)
	if err == nil && current == schemaVersion {
		return nil
	}

	if err == nil && current != schemaVersion {
		log.Warn().Int("from", current).Int("to", schemaVersion).
			Msg("schema version changed; performing destructive reset (peer is not the source of truth)")
		if _, err := s.Pool.Exec(ctx, dropAllDDL); err != nil {
			return err
		}
	}

	if _, err := s.Pool.Exec(ctx, schemaDDL); err != nil {
		return err
	}

	_, err = s.Pool.Exec(ctx, `INSERT INTO schema_meta (id, version) VALUES (true, $1)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version`, schemaVersion)
	return err
}
