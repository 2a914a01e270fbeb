// Package outboxpump drains PENDING outbox entries to the transport
// bus: reset stuck sends, fetch FIFO, send one at a
// time, advance state. It is grounded on the claim-then-publish shape
// of the outbox worker pattern in the example pack, generalized from a
// batched SELECT FOR UPDATE SKIP LOCKED loop to the store's own
// single-row state-machine primitives.
package outboxpump

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erauner12/syncwatch/internal/metrics"
	"github.com/erauner12/syncwatch/internal/model"
	"github.com/erauner12/syncwatch/internal/store"
	"github.com/erauner12/syncwatch/internal/synccore"
	"github.com/erauner12/syncwatch/internal/syncerr"
	"github.com/erauner12/syncwatch/internal/transport"
	"github.com/erauner12/syncwatch/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// State is the coarse observable sync-state reported to the control plane.
type State string

const (
	StateIdle    State = "IDLE"
	StateSyncing State = "SYNCING"
	StateError   State = "ERROR"
)

type Pump struct {
	store         *store.Store
	core          *synccore.SyncCore
	bus           transport.Bus
	localLabel    string
	stuckThreshold time.Duration
	maxAttempts   int

	drainGroup singleflight.Group

	stateMu sync.Mutex
	state   State
}

func New(s *store.Store, core *synccore.SyncCore, bus transport.Bus, localLabel string, stuckThreshold time.Duration, maxAttempts int) *Pump {
	return &Pump{
		store:          s,
		core:           core,
		bus:            bus,
		localLabel:     localLabel,
		stuckThreshold: stuckThreshold,
		maxAttempts:    maxAttempts,
		state:          StateIdle,
	}
}

// State reports the pump's coarse observable status for the control
// plane.
func (p *Pump) State() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *Pump) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

// Run ticks Drain on interval until ctx is canceled.
func (p *Pump) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil {
				log.Error().Err(err).Msg("outboxpump: drain tick failed")
			}
		}
	}
}

// Drain is the single-flight entry point: the outbox pump is one
// logical instance per process, so concurrent callers (the periodic
// ticker, a maintenance tick, an operator-triggered sync-now) collapse
// into the one drain already in flight and share its result, rather
// than racing each other's claim-then-publish steps.
func (p *Pump) Drain(ctx context.Context) error {
	_, err, _ := p.drainGroup.Do("drain", func() (interface{}, error) {
		return nil, p.drain(ctx)
	})
	return err
}

// drain runs the core drain loop: reset stuck sends, fetch
// every PENDING/SENDING entry in createdAt order, send one at a time.
// Only Drain may call this; it is what the single-flight group
// serializes.
func (p *Pump) drain(ctx context.Context) error {
	timer := prometheus.NewTimer(metrics.DrainDuration)
	defer timer.ObserveDuration()

	now := time.Now().UnixMilli()
	threshold := now - p.stuckThreshold.Milliseconds()

	reset, err := (store.Outbox{}).ResetStuck(ctx, p.store.Pool, threshold)
	if err != nil {
		p.setState(StateError)
		return err
	}
	if reset > 0 {
		log.Warn().Int64("count", reset).Msg("outboxpump: reset stuck sends to PENDING")
	}

	entries, err := (store.Outbox{}).ListPendingInOrder(ctx, p.store.Pool)
	if err != nil {
		p.setState(StateError)
		return err
	}
	metrics.OutboxDepth.WithLabelValues("pending_or_sending").Set(float64(len(entries)))

	var lastErr error
	if len(entries) == 0 {
		p.setState(StateIdle)
	} else {
		p.setState(StateSyncing)
		for _, entry := range entries {
			if err := p.send(ctx, entry); err != nil {
				if errors.Is(err, syncerr.ErrUnrecoverableOutbox) {
					log.Error().Err(err).Int64("op_id", entry.OpID).
						Msg("outboxpump: entry exceeded retry ceiling, excluded from further drains")
					p.setState(StateError)
					continue
				}
				lastErr = err
			}
		}
	}

	if err := p.pushSettings(ctx); err != nil {
		log.Warn().Err(err).Msg("outboxpump: settings push failed")
	}

	if lastErr != nil {
		p.setState(StateError)
		return lastErr
	}
	if p.State() != StateError {
		p.setState(StateIdle)
	}
	return nil
}

// pushSettings opportunistically pushes the singleton settings row
// when dirty. It has no state machine of its own: a
// failed push is simply retried on the next drain since dirty stays
// set until a successful push.
func (p *Pump) pushSettings(ctx context.Context) error {
	now := time.Now().UnixMilli()
	payload, dirty, err := p.core.PushSettingsIfDirty(ctx, now)
	if err != nil || !dirty {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.bus.Put(ctx, transport.SettingsPath(p.localLabel), data); err != nil {
		return err
	}
	return p.core.MarkSettingsSynced(ctx, now)
}

// send is one FIFO step: mark_sending, put, mark_sent|mark_failed.
// Single-threaded drain (Drain iterates sequentially, not concurrently)
// is what actually enforces per-task ordering; Kafka
// per-key ordering is a bonus on top, not load-bearing.
func (p *Pump) send(ctx context.Context, entry model.OutboxEntry) error {
	now := time.Now().UnixMilli()

	if err := p.core.MarkSending(ctx, entry.OpID, now); err != nil {
		return err
	}

	var delta wire.TaskDelta
	if err := json.Unmarshal(entry.Payload, &delta); err != nil {
		// payload corruption is not retryable; fail immediately (a
		// ceiling of 0 moves the entry straight to FAILED).
		_ = p.core.MarkFailed(ctx, entry.OpID, err.Error(), 0)
		return err
	}

	envelope := wire.OpEnvelope{
		OpID:      transport.FormatOpID(entry.OpID),
		TaskID:    entry.TaskID.String(),
		OpType:    wire.OpType(entry.Type),
		Timestamp: entry.CreatedAt,
		TaskDelta: delta,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		_ = p.core.MarkFailed(ctx, entry.OpID, err.Error(), p.maxAttempts)
		return err
	}

	path := transport.OutboxPath(p.localLabel, transport.FormatOpID(entry.OpID))

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Second
	putErr := backoff.Retry(func() error {
		return p.bus.Put(ctx, path, payload)
	}, backoff.WithContext(bo, ctx))

	if putErr != nil {
		wrapped := &syncerr.TransientTransport{Op: "put " + path, Err: putErr}
		log.Warn().Err(wrapped).Int64("op_id", entry.OpID).
			Msg("outboxpump: put failed, will retry next tick")
		return p.core.MarkFailed(ctx, entry.OpID, wrapped.Error(), p.maxAttempts)
	}

	return p.core.MarkSent(ctx, entry.OpID)
}
