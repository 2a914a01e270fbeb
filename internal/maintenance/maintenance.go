// Package maintenance runs the periodic housekeeping tick: reset stuck
// sends, drain the outbox, purge acked/old/aged rows, and reschedule
// reminders. Every step is idempotent, so a failed tick is simply
// retried on the next one.
package maintenance

import (
	"context"
	"time"

	"github.com/erauner12/syncwatch/internal/alarm"
	"github.com/erauner12/syncwatch/internal/metrics"
	"github.com/erauner12/syncwatch/internal/outboxpump"
	"github.com/erauner12/syncwatch/internal/store"
	"github.com/rs/zerolog/log"
)

type Scheduler struct {
	store            *store.Store
	pump             *outboxpump.Pump
	alarm            alarm.Scheduler
	processedOpTTL   time.Duration
	tombstoneTTL     time.Duration
}

func New(s *store.Store, pump *outboxpump.Pump, sched alarm.Scheduler, processedOpTTL, tombstoneTTL time.Duration) *Scheduler {
	return &Scheduler{
		store:          s,
		pump:           pump,
		alarm:          sched,
		processedOpTTL: processedOpTTL,
		tombstoneTTL:   tombstoneTTL,
	}
}

// Run ticks on interval until ctx is canceled, and once immediately on
// entry so a freshly started process doesn't wait a full interval
// before its first sweep.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if err := s.Tick(ctx); err != nil {
		log.Error().Err(err).Msg("maintenance: initial tick failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				metrics.MaintenanceTickErrors.Inc()
				log.Error().Err(err).Msg("maintenance: tick failed")
			}
		}
	}
}

// Tick runs the ordered housekeeping steps in sequence.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now().UnixMilli()

	// Step 1 is folded into Drain itself (outboxpump.Drain resets stuck
	// sends before fetching), so steps 1-2 are a single call.
	if err := s.pump.Drain(ctx); err != nil {
		return err
	}

	acked, err := (store.Outbox{}).DeleteAcked(ctx, s.store.Pool)
	if err != nil {
		return err
	}
	if acked > 0 {
		log.Debug().Int64("count", acked).Msg("maintenance: purged acked outbox entries")
	}

	processedThreshold := now - s.processedOpTTL.Milliseconds()
	purgedOps, err := (store.Processed{}).CleanupOld(ctx, s.store.Pool, processedThreshold)
	if err != nil {
		return err
	}
	if purgedOps > 0 {
		log.Debug().Int64("count", purgedOps).Msg("maintenance: purged processed-op log")
	}

	tombstoneThreshold := now - s.tombstoneTTL.Milliseconds()
	purgedTasks, err := (store.Tasks{}).CleanupDeleted(ctx, s.store.Pool, tombstoneThreshold)
	if err != nil {
		return err
	}
	if purgedTasks > 0 {
		s.store.NotifyTasksChanged()
		log.Debug().Int64("count", purgedTasks).Msg("maintenance: purged aged tombstones")
	}

	return s.rescheduleReminders(ctx, now)
}

// rescheduleReminders asks the alarm collaborator to reschedule every
// active, incomplete task carrying a future reminder.
func (s *Scheduler) rescheduleReminders(ctx context.Context, now int64) error {
	tasks, err := (store.Tasks{}).ListWithReminders(ctx, s.store.Pool)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if t.ReminderTime == nil || *t.ReminderTime <= now {
			continue
		}
		s.alarm.Schedule(t)
	}
	return nil
}
