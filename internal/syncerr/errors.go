// Package syncerr defines the engine's error kinds. Each kind carries
// just enough data to drive the caller's retry/ack/log decision; they
// are wrapped, not sentinel-compared by string.
package syncerr

import (
	"errors"
	"fmt"
)

// TransientTransport wraps a bus put/delete failure. The outbox entry
// stays PENDING, attempts increments, errorMessage captures Err.
type TransientTransport struct {
	Op  string
	Err error
}

func (e *TransientTransport) Error() string {
	return fmt.Sprintf("transient transport error during %s: %v", e.Op, e.Err)
}

func (e *TransientTransport) Unwrap() error { return e.Err }

// MalformedInbound means a bus event matched a path pattern but was
// missing required fields. Callers must log and drop the event without
// acking — the peer will redeliver.
type MalformedInbound struct {
	Path   string
	Reason string
}

func (e *MalformedInbound) Error() string {
	return fmt.Sprintf("malformed inbound payload at %s: %s", e.Path, e.Reason)
}

// ErrDuplicateDelivery short-circuits ApplyInbound's transaction when
// the op was already processed. ApplyInbound itself converts it back
// to a nil error so the caller still acks.
var ErrDuplicateDelivery = errors.New("duplicate delivery: op already processed")

// StoreTransaction wraps any error that aborted a store transaction.
// No partial state is visible to the caller.
type StoreTransaction struct {
	Err error
}

func (e *StoreTransaction) Error() string { return fmt.Sprintf("store transaction failed: %v", e.Err) }
func (e *StoreTransaction) Unwrap() error  { return e.Err }

// ErrUnrecoverableOutbox marks an outbox entry that exceeded the
// attempt ceiling. It transitions to FAILED, is excluded from drain,
// and is surfaced via the pump's observable sync state.
var ErrUnrecoverableOutbox = errors.New("outbox entry exceeded retry ceiling")

// IsDuplicateDelivery reports whether err is (or wraps) ErrDuplicateDelivery.
func IsDuplicateDelivery(err error) bool { return errors.Is(err, ErrDuplicateDelivery) }
