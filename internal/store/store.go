// Package store is the transactional persistence layer: tasks, outbox,
// processed-ops and settings behind one Postgres pool, with a
// single-transaction-per-call-chain contract and a reactive
// observation of the active task list.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// query method in this package run either standalone or inside a
// caller-supplied transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a Postgres connection pool with the four-table schema
// (task, outbox, processed_op, settings) and the reactive task-list
// broadcaster UIs observe.
type Store struct {
	Pool *pgxpool.Pool

	broadcaster *broadcaster
}

type txKey struct{}

// txState is threaded through context.Context for the lifetime of a
// Run call so nested Run calls on the same logical chain are rejected
// and so task-table writes can mark the transaction dirty
// for the post-commit notify.
type txState struct {
	tx           pgx.Tx
	tasksChanged bool
}

// Open creates the connection pool and verifies connectivity.
func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return &Store{Pool: pool, broadcaster: newBroadcaster()}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.Pool.Close() }

// Run executes fn atomically: every effect commits, or none do. Reads
// performed through fn's tx see a consistent snapshot. Calling Run
// again with a context already carrying an open transaction is a
// programming error (re-entrant transactions are forbidden) and
// returns an error rather than silently nesting.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, ex Execer) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return errors.New("store: re-entrant transaction on the same context")
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st := &txState{tx: tx}
	txCtx := context.WithValue(ctx, txKey{}, st)

	if err := fn(txCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if st.tasksChanged {
		s.broadcaster.notify()
	}
	return nil
}

// markTasksChanged flags the enclosing transaction (if any) as having
// mutated the task table, so Run fires the reactive broadcaster after
// commit. Calling it outside a Run (e.g. from maintenance's standalone
// hard-deletes) is a no-op for the flag but the caller is expected to
// invoke NotifyTasksChanged directly in that case.
func markTasksChanged(ctx context.Context) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		st.tasksChanged = true
	}
}

// NotifyTasksChanged lets callers outside a Run block (maintenance's
// standalone statements) trigger the reactive stream explicitly.
func (s *Store) NotifyTasksChanged() { s.broadcaster.notify() }

// Exec runs a one-shot statement directly against the pool, for
// read-only or maintenance statements that don't need a multi-step
// transaction.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
