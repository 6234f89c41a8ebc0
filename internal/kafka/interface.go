package kafka

import "context"

// CallEvent represents a room call state change event.
type CallEvent struct {
	Type      string `json:"type"` // "call_started" | "call_ended"
	RoomID    int64  `json:"room_id"`
	UserID    int64  `json:"user_id"`
	Reason    string `json:"reason,omitempty"` // "explicit" | "disconnect"
	Timestamp int64  `json:"timestamp"`
}

// Event types
const (
	EventCallStarted = "call_started"
	EventCallEnded   = "call_ended"
)

// End reasons
const (
	ReasonExplicit   = "explicit"
	ReasonDisconnect = "disconnect"
)

// CallEventProducer defines the interface for producing call events.
type CallEventProducer interface {
	ProduceCallStarted(ctx context.Context, roomID, userID int64) error
	ProduceCallEnded(ctx context.Context, roomID, userID int64, reason string) error
	Close() error
}
