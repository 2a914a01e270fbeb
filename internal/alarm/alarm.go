// Package alarm declares the reminder scheduler collaborator that
// SyncCore and the maintenance loop call out to. The scheduler itself
// is out of scope: it lives on the UI/OS side of the
// process and is injected as a Scheduler implementation.
package alarm

import (
	"github.com/erauner12/syncwatch/internal/model"
	"github.com/rs/zerolog/log"
)

// Scheduler receives reminder lifecycle notifications. Implementations
// must not block the caller's store transaction; calls happen after
// commit.
type Scheduler interface {
	// Schedule asks the collaborator to fire a reminder for task at its
	// ReminderTime. Called on create/update when reminder=true.
	Schedule(task model.Task)
	// Cancel asks the collaborator to drop any pending reminder for
	// taskID. Called on complete/delete.
	Cancel(taskID string)
}

// NoopScheduler logs what it would have done and does nothing else. It
// is the default Scheduler until a real platform-side alarm manager is
// wired in, and is sufficient for integration tests.
type NoopScheduler struct{}

func (NoopScheduler) Schedule(task model.Task) {
	log.Debug().Str("task_id", task.ID.String()).Bool("reminder", task.Reminder).
		Msg("alarm: schedule (noop)")
}

func (NoopScheduler) Cancel(taskID string) {
	log.Debug().Str("task_id", taskID).Msg("alarm: cancel (noop)")
}
