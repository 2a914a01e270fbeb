// Package model defines the persisted shapes shared by the store, the
// merge engine, and SyncCore: tasks, outbox entries, processed-op
// records, and settings.
package model

import "github.com/google/uuid"

// Task is a single to-do item, identified by a stable UUID minted by
// whichever peer created it.
type Task struct {
	ID uuid.UUID

	Title    string
	Notes    *string
	Completed bool
	Priority  int // 0..3
	DueDate   *int64
	DueTime   *int64
	Reminder     bool
	ReminderTime *int64
	Repeating    bool

	Deleted bool

	TitleUpdatedAt     int64
	NotesUpdatedAt     int64
	CompletedUpdatedAt int64

	UpdatedAt int64
	SyncedAt  *int64
	Dirty     bool
	PeerID    *int64
}
