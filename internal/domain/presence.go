package domain

// Per-user call states within a room.
const (
	StateIdle       = "idle"
	StateConnecting = "connecting"
	StateActive     = "active"
	StateEnded      = "ended"
)

// Room-level aggregate states.
const (
	RoomIdle   = "idle"
	RoomActive = "active"
)

// Participant is one user's transient call state within a room.
type Participant struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	State    string `json:"state"`
}

// Aggregate derives the room-level state from its participants.
// A room is active while anyone is connecting or in the call; ended
// entries count the same as absence.
func Aggregate(participants []Participant) string {
	for _, p := range participants {
		if p.State == StateActive || p.State == StateConnecting {
			return RoomActive
		}
	}
	return RoomIdle
}
