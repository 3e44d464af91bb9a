// Package presence implements the server-side session registry, presence
// broadcaster, and stale-session reaper, plus the wire frames shared with
// the client.
package presence

// Frame types exchanged over the presence channel.
const (
	FrameSnapshot  = "snapshot"
	FrameOnline    = "online"
	FrameOffline   = "offline"
	FrameHeartbeat = "heartbeat"
)

// Frame is a single presence wire message. The zero value is invalid; use
// the constructors so the type field is always set.
type Frame struct {
	Type          string   `json:"type"`
	UserID        string   `json:"userId,omitempty"`
	OnlineUserIDs []string `json:"onlineUserIds,omitempty"`
}

// SnapshotFrame builds the one-shot full online set sent to a client
// immediately after a successful (re)connection.
func SnapshotFrame(onlineUserIDs []string) Frame {
	return Frame{Type: FrameSnapshot, OnlineUserIDs: onlineUserIDs}
}

// OnlineFrame builds a became-online diff.
func OnlineFrame(userID string) Frame {
	return Frame{Type: FrameOnline, UserID: userID}
}

// OfflineFrame builds a became-offline diff.
func OfflineFrame(userID string) Frame {
	return Frame{Type: FrameOffline, UserID: userID}
}

// HeartbeatFrame builds a liveness frame. Both directions use the same shape.
func HeartbeatFrame() Frame {
	return Frame{Type: FrameHeartbeat}
}
