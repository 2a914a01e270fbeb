package transport

import "strconv"

// Path builders for the bus's bit-exact key patterns. Label is
// whichever of peer_label_local/peer_label_peer names the writer.

func OutboxPath(label string, opID string) string { return "/outbox/" + label + "/" + opID }
func AckPath(label string, opID string) string     { return "/ack/" + label + "/" + opID }
func TaskPath(taskID string) string                { return "/tasks/" + taskID }
func SettingsPath(label string) string             { return "/settings/" + label }

const (
	SnapshotTasksPath = "/snapshot/tasks"
	SyncRequestPath   = "/sync/request"
)

// FormatOpID renders a local outbox opId (a monotonic int64) as the
// decimal string the wire format requires.
func FormatOpID(opID int64) string { return strconv.FormatInt(opID, 10) }
