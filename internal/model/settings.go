package model

// Settings is the singleton UI-preference record. Exactly one row
// exists at all times (enforced by the store's boolean-PK trick, see
// internal/store/schema.go).
type Settings struct {
	ShowHidden      bool
	ShowCompleted   bool
	Filter          string
	CollapsedGroups string // comma-delimited decimal ids
	Dirty           bool
	SyncedAt        *int64
}
