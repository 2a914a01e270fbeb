// Package inbox demultiplexes bus events by path prefix and dispatches
// them to SyncCore. Event payloads are materialized into owned values
// before any suspendable work begins — the transport layer already
// copies bytes on delivery, and this package never retains a
// reference back into transport-owned memory.
package inbox

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/erauner12/syncwatch/internal/metrics"
	"github.com/erauner12/syncwatch/internal/synccore"
	"github.com/erauner12/syncwatch/internal/syncerr"
	"github.com/erauner12/syncwatch/internal/transport"
	"github.com/erauner12/syncwatch/internal/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Router struct {
	core        *synccore.SyncCore
	bus         transport.Bus
	localLabel  string
	peerLabel   string
	maxAttempts int
}

func New(core *synccore.SyncCore, bus transport.Bus, localLabel, peerLabel string, maxAttempts int) *Router {
	return &Router{core: core, bus: bus, localLabel: localLabel, peerLabel: peerLabel, maxAttempts: maxAttempts}
}

// Listen blocks, consuming the bus until ctx is canceled.
func (r *Router) Listen(ctx context.Context) error {
	return r.bus.Subscribe(ctx, r.handle)
}

// RequestSync asks the peer for a fresh snapshot, the reconnect path:
// every process start behaves like a reconnect, so the caller issues
// this once on startup.
func (r *Router) RequestSync(ctx context.Context) error {
	req := wire.SyncRequestPayload{Timestamp: time.Now().UnixMilli(), Nonce: uuid.NewString()}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return r.bus.Put(ctx, transport.SyncRequestPath, payload)
}

func (r *Router) handle(ctx context.Context, ev transport.Event) {
	ackLocalPrefix := "/ack/" + r.localLabel + "/"
	outboxPeerPrefix := "/outbox/" + r.peerLabel + "/"
	settingsPeerPath := transport.SettingsPath(r.peerLabel)

	switch {
	case strings.HasPrefix(ev.Path, ackLocalPrefix):
		r.handleAck(ctx, strings.TrimPrefix(ev.Path, ackLocalPrefix), ev.Payload)

	case strings.HasPrefix(ev.Path, outboxPeerPrefix):
		r.handleOutboxPeer(ctx, strings.TrimPrefix(ev.Path, outboxPeerPrefix), ev.Payload)

	case strings.HasPrefix(ev.Path, "/tasks/"):
		r.handleTaskUpdate(ctx, strings.TrimPrefix(ev.Path, "/tasks/"), ev.Payload)

	case ev.Path == transport.SnapshotTasksPath:
		r.handleSnapshot(ctx, ev.Payload)

	case ev.Path == settingsPeerPath:
		r.handleSettings(ctx, ev.Payload)

	case ev.Path == transport.SyncRequestPath:
		r.handleSyncRequest(ctx)

	default:
		log.Debug().Str("path", ev.Path).Msg("inbox: ignoring unrecognized path")
	}
}

// handleAck applies the peer's acknowledgment (or failure) of one of
// our own outbox entries, then cleans up the bus entry.
func (r *Router) handleAck(ctx context.Context, opIDStr string, payload []byte) {
	var ack wire.AckPayload
	if err := json.Unmarshal(payload, &ack); err != nil {
		malformed := &syncerr.MalformedInbound{Path: transport.AckPath(r.localLabel, opIDStr), Reason: err.Error()}
		log.Warn().Err(malformed).Msg("inbox: dropping ack")
		return
	}

	opID, err := strconv.ParseInt(opIDStr, 10, 64)
	if err != nil {
		log.Warn().Err(err).Str("op_id", opIDStr).Msg("inbox: non-numeric local opId in ack path, dropping")
		return
	}

	now := time.Now().UnixMilli()
	if ack.Success {
		err = r.core.MarkAcked(ctx, opID, now)
	} else {
		errMsg := "peer reported failure"
		if ack.Error != nil {
			errMsg = *ack.Error
		}
		err = r.core.MarkFailed(ctx, opID, errMsg, r.maxAttempts)
	}
	if err != nil {
		log.Error().Err(err).Int64("op_id", opID).Msg("inbox: failed to record ack")
		return
	}

	if err := r.bus.Delete(ctx, transport.AckPath(r.localLabel, opIDStr)); err != nil {
		log.Warn().Err(err).Int64("op_id", opID).Msg("inbox: failed to clean up ack entry")
	}
}

// handleOutboxPeer applies one of the peer's queued operations, then
// acks it back at /ack/<peer>/<opId>.
func (r *Router) handleOutboxPeer(ctx context.Context, opID string, payload []byte) {
	var env wire.OpEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		malformed := &syncerr.MalformedInbound{Path: transport.OutboxPath(r.peerLabel, opID), Reason: err.Error()}
		log.Warn().Err(malformed).Msg("inbox: dropping outbox entry, peer will redeliver")
		return
	}

	delta := env.TaskDelta
	delta.ID = env.TaskID

	now := time.Now().UnixMilli()
	applyErr := r.core.ApplyInbound(ctx, opID, delta, now)

	ack := wire.AckPayload{OpID: opID, Success: applyErr == nil, Timestamp: now}
	if applyErr != nil {
		msg := applyErr.Error()
		ack.Error = &msg
		metrics.InboundApplied.WithLabelValues("error").Inc()
		log.Error().Err(applyErr).Str("op_id", opID).Msg("inbox: failed to apply peer op")
	} else {
		metrics.InboundApplied.WithLabelValues("ok").Inc()
	}

	ackPayload, err := json.Marshal(ack)
	if err != nil {
		log.Error().Err(err).Msg("inbox: failed to marshal ack payload")
		return
	}
	if err := r.bus.Put(ctx, transport.AckPath(r.peerLabel, opID), ackPayload); err != nil {
		log.Warn().Err(err).Str("op_id", opID).Msg("inbox: failed to send ack")
	}
}

// handleTaskUpdate applies a single incremental task update, deriving
// a deterministic opId from the path and the payload's timestamp.
func (r *Router) handleTaskUpdate(ctx context.Context, taskID string, payload []byte) {
	var body struct {
		wire.TaskDelta
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		malformed := &syncerr.MalformedInbound{Path: transport.TaskPath(taskID), Reason: err.Error()}
		log.Warn().Err(malformed).Msg("inbox: dropping task update")
		return
	}

	delta := body.TaskDelta
	delta.ID = taskID
	opID := "task:" + taskID + ":" + strconv.FormatInt(body.Timestamp, 10)

	if err := r.core.ApplyInbound(ctx, opID, delta, time.Now().UnixMilli()); err != nil {
		metrics.InboundApplied.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("task_id", taskID).Msg("inbox: failed to apply task update")
		return
	}
	metrics.InboundApplied.WithLabelValues("ok").Inc()
}

// handleSettings applies an inbound settings push under the
// dirty-override rule. No ack is sent back — settings
// pushes are fire-and-forget, like task snapshots.
func (r *Router) handleSettings(ctx context.Context, payload []byte) {
	var s wire.SettingsPayload
	if err := json.Unmarshal(payload, &s); err != nil {
		malformed := &syncerr.MalformedInbound{Path: transport.SettingsPath(r.peerLabel), Reason: err.Error()}
		log.Warn().Err(malformed).Msg("inbox: dropping settings push")
		return
	}

	if err := r.core.ApplyInboundSettings(ctx, s, time.Now().UnixMilli()); err != nil {
		metrics.InboundApplied.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("inbox: failed to apply inbound settings")
		return
	}
	metrics.InboundApplied.WithLabelValues("ok").Inc()
}

// handleSnapshot applies a full task-list snapshot.
func (r *Router) handleSnapshot(ctx context.Context, payload []byte) {
	var snap wire.SnapshotPayload
	if err := json.Unmarshal(payload, &snap); err != nil {
		malformed := &syncerr.MalformedInbound{Path: transport.SnapshotTasksPath, Reason: err.Error()}
		log.Warn().Err(malformed).Msg("inbox: dropping snapshot")
		return
	}

	if err := r.core.ApplySnapshot(ctx, snap.Tasks, time.Now().UnixMilli()); err != nil {
		metrics.InboundApplied.WithLabelValues("error").Inc()
		log.Error().Err(err).Int("task_count", len(snap.Tasks)).Msg("inbox: failed to apply snapshot")
		return
	}
	metrics.InboundApplied.WithLabelValues("ok").Inc()
}

// handleSyncRequest answers the peer's request for a fresh snapshot by
// publishing the full active task list.
func (r *Router) handleSyncRequest(ctx context.Context) {
	snap, err := r.core.BuildSnapshot(ctx, time.Now().UnixMilli())
	if err != nil {
		log.Error().Err(err).Msg("inbox: failed to build snapshot for sync request")
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("inbox: failed to marshal snapshot")
		return
	}
	if err := r.bus.Put(ctx, transport.SnapshotTasksPath, payload); err != nil {
		log.Warn().Err(err).Msg("inbox: failed to send snapshot")
	}
}
