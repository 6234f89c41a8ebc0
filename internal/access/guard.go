package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikhailOznobikhin/moznods/internal/client"
	"github.com/MikhailOznobikhin/moznods/internal/domain"
	"github.com/MikhailOznobikhin/moznods/pkg/log"
)

// ErrAccessDenied means the user may not join the room. Handlers map it
// to the policy-violation close code.
var ErrAccessDenied = errors.New("access to room denied")

// Guard decides whether a user may open a session against a room.
type Guard struct {
	rooms client.RoomDirectory
}

// NewGuard creates a room access guard.
func NewGuard(rooms client.RoomDirectory) *Guard {
	return &Guard{rooms: rooms}
}

// Authorize admits room participants, and superusers for any existing
// room. Every superuser admission that bypassed the membership check is
// logged. Directory failures deny access rather than admit blindly.
func (g *Guard) Authorize(ctx context.Context, roomID int64, user *domain.User) error {
	member, err := g.rooms.IsParticipant(ctx, roomID, user.ID)
	if err != nil && !errors.Is(err, client.ErrRoomNotFound) {
		return fmt.Errorf("membership lookup failed: %w", err)
	}
	if member {
		return nil
	}

	if !user.Superuser {
		return ErrAccessDenied
	}

	exists, err := g.rooms.RoomExists(ctx, roomID)
	if err != nil {
		return fmt.Errorf("room lookup failed: %w", err)
	}
	if !exists {
		return ErrAccessDenied
	}

	log.Ctx(ctx).Warn().
		Int64(log.FieldUserID, user.ID).
		Str(log.FieldUsername, user.Username).
		Int64(log.FieldRoomID, roomID).
		Msg("Superuser admitted to room without membership")
	return nil
}
