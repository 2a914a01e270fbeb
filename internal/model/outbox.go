package model

import "github.com/google/uuid"

// OpType is the closed set of outbound operation kinds, a sum type
// over the four mutations the engine can enqueue.
type OpType string

const (
	OpCreate   OpType = "CREATE"
	OpUpdate   OpType = "UPDATE"
	OpDelete   OpType = "DELETE"
	OpComplete OpType = "COMPLETE"
)

// OutboxState is the closed state-machine alphabet an outbox entry
// moves through from enqueue to ack.
type OutboxState string

const (
	StatePending OutboxState = "PENDING"
	StateSending OutboxState = "SENDING"
	StateSent    OutboxState = "SENT"
	StateAcked   OutboxState = "ACKED"
	StateFailed  OutboxState = "FAILED"
)

// OutboxEntry is a single queued outbound operation.
type OutboxEntry struct {
	OpID          int64
	TaskID        uuid.UUID
	Type          OpType
	Payload       []byte
	CreatedAt     int64
	Attempts      int
	State         OutboxState
	LastAttemptAt *int64
	ErrorMessage  *string
}

// ProcessedOp is a row in the idempotency log: one per remote-generated
// opId that has already been applied.
type ProcessedOp struct {
	OpID        string
	ProcessedAt int64
}
