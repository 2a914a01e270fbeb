// Package wire defines the bus payload shapes: the DataMap-style KV
// object format shared by task deltas, acks, and snapshots. It has no
// dependency on the bus transport or the store — SyncCore uses it to
// build outbox payloads, the outbox pump and the inbox router use it to
// encode and decode bus payloads.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// OpType is the closed set of operation kinds an outbox entry can carry.
type OpType string

const (
	OpCreate   OpType = "CREATE"
	OpUpdate   OpType = "UPDATE"
	OpDelete   OpType = "DELETE"
	OpComplete OpType = "COMPLETE"
)

// TaskDelta is the task-delta key set carried on the bus. Every field
// except ID is a pointer so its presence, not its zero value, carries
// meaning.
type TaskDelta struct {
	ID                 string  `json:"id,omitempty"`
	Title              *string `json:"title,omitempty"`
	TitleUpdatedAt     *int64  `json:"titleUpdatedAt,omitempty"`
	Notes              *string `json:"notes,omitempty"`
	NotesUpdatedAt     *int64  `json:"notesUpdatedAt,omitempty"`
	Completed          *bool   `json:"completed,omitempty"`
	CompletedUpdatedAt *int64  `json:"completedUpdatedAt,omitempty"`
	Deleted            *bool   `json:"deleted,omitempty"`
	Priority           *int    `json:"priority,omitempty"`
	DueDate            *int64  `json:"dueDate,omitempty"`
	PeerID             *int64  `json:"peerId,omitempty"`
}

// OpEnvelope is a full `/outbox/...` payload: common keys plus a
// TaskDelta. OpID is carried as a string on the wire regardless of
// whether it originated as a local u64 or a peer-opaque string.
type OpEnvelope struct {
	OpID      string `json:"opId"`
	TaskID    string `json:"taskId"`
	OpType    OpType `json:"opType"`
	Timestamp int64  `json:"timestamp"`
	TaskDelta
}

// AckPayload is an `/ack/...` payload.
type AckPayload struct {
	OpID      string  `json:"opId"`
	Success   bool    `json:"success"`
	Error     *string `json:"error,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// SyncRequestPayload is a `/sync/request` payload; Nonce defeats
// bus-level de-dup suppressing a repeated request.
type SyncRequestPayload struct {
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// SettingsPayload is the `/settings/<label>` payload: the singleton UI
// preference record, pushed whole (no per-field timestamps — settings
// use a coarser dirty-override rule rather than per-field LWW).
type SettingsPayload struct {
	ShowHidden      bool   `json:"showHidden"`
	ShowCompleted   bool   `json:"showCompleted"`
	Filter          string `json:"filter"`
	CollapsedGroups string `json:"collapsedGroups"`
	Timestamp       int64  `json:"timestamp"`
}

// SnapshotPayload is the `/snapshot/tasks` payload: fields prefixed
// task_<i>_ rather than a JSON array, for interop with the peer's
// flat DataMap encoding.
type SnapshotPayload struct {
	SnapshotTimestamp int64
	Tasks             []TaskDelta
}

// MarshalJSON flattens Tasks into taskCount plus task_<i>_<field> keys.
func (s SnapshotPayload) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"taskCount":         len(s.Tasks),
		"snapshotTimestamp": s.SnapshotTimestamp,
	}
	for i, t := range s.Tasks {
		prefix := "task_" + strconv.Itoa(i) + "_"
		out[prefix+"id"] = t.ID
		if t.Title != nil {
			out[prefix+"title"] = *t.Title
		}
		if t.TitleUpdatedAt != nil {
			out[prefix+"titleUpdatedAt"] = *t.TitleUpdatedAt
		}
		if t.Notes != nil {
			out[prefix+"notes"] = *t.Notes
		}
		if t.NotesUpdatedAt != nil {
			out[prefix+"notesUpdatedAt"] = *t.NotesUpdatedAt
		}
		if t.Completed != nil {
			out[prefix+"completed"] = *t.Completed
		}
		if t.CompletedUpdatedAt != nil {
			out[prefix+"completedUpdatedAt"] = *t.CompletedUpdatedAt
		}
		if t.Deleted != nil {
			out[prefix+"deleted"] = *t.Deleted
		}
		if t.Priority != nil {
			out[prefix+"priority"] = *t.Priority
		}
		if t.PeerID != nil {
			out[prefix+"phoneId"] = *t.PeerID
		}
		if t.DueDate != nil {
			out[prefix+"dueDate"] = *t.DueDate
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON, tolerant of missing per-task keys.
func (s *SnapshotPayload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	count := 0
	if v, ok := raw["taskCount"]; ok {
		if err := json.Unmarshal(v, &count); err != nil {
			return fmt.Errorf("wire: taskCount: %w", err)
		}
	}
	if v, ok := raw["snapshotTimestamp"]; ok {
		if err := json.Unmarshal(v, &s.SnapshotTimestamp); err != nil {
			return fmt.Errorf("wire: snapshotTimestamp: %w", err)
		}
	}

	s.Tasks = make([]TaskDelta, 0, count)
	for i := 0; i < count; i++ {
		prefix := "task_" + strconv.Itoa(i) + "_"
		var t TaskDelta
		if v, ok := raw[prefix+"id"]; ok {
			_ = json.Unmarshal(v, &t.ID)
		}
		t.Title = extractString(raw, prefix+"title")
		t.TitleUpdatedAt = extractInt64(raw, prefix+"titleUpdatedAt")
		t.Notes = extractString(raw, prefix+"notes")
		t.NotesUpdatedAt = extractInt64(raw, prefix+"notesUpdatedAt")
		t.Completed = extractBool(raw, prefix+"completed")
		t.CompletedUpdatedAt = extractInt64(raw, prefix+"completedUpdatedAt")
		t.Deleted = extractBool(raw, prefix+"deleted")
		t.Priority = extractInt(raw, prefix+"priority")
		t.PeerID = extractInt64(raw, prefix+"phoneId")
		t.DueDate = extractInt64(raw, prefix+"dueDate")
		s.Tasks = append(s.Tasks, t)
	}
	return nil
}

func extractString(raw map[string]json.RawMessage, key string) *string {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	var s string
	if json.Unmarshal(v, &s) != nil {
		return nil
	}
	return &s
}

func extractInt64(raw map[string]json.RawMessage, key string) *int64 {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	var n int64
	if json.Unmarshal(v, &n) != nil {
		return nil
	}
	return &n
}

func extractInt(raw map[string]json.RawMessage, key string) *int {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	var n int
	if json.Unmarshal(v, &n) != nil {
		return nil
	}
	return &n
}

func extractBool(raw map[string]json.RawMessage, key string) *bool {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	var b bool
	if json.Unmarshal(v, &b) != nil {
		return nil
	}
	return &b
}
