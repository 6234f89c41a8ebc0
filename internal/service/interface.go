package service

import (
	"context"

	"github.com/MikhailOznobikhin/moznods/internal/hub"
)

// SignalService implements the call signaling protocol for one room
// connection: presence transitions, membership announcements, and
// peer-to-peer relay of session descriptions and ICE candidates.
type SignalService interface {
	// HandleConnect runs after the handshake is accepted: group join and
	// initial presence state.
	HandleConnect(ctx context.Context, c *hub.Client) error

	// HandleFrame dispatches one inbound frame.
	HandleFrame(ctx context.Context, c *hub.Client, raw []byte)

	// HandleDisconnect runs exactly once when the connection ends,
	// whatever the cause.
	HandleDisconnect(ctx context.Context, c *hub.Client)
}

// ChatService relays chat messages through the message store to every
// member of the room's chat group.
type ChatService interface {
	HandleConnect(ctx context.Context, c *hub.Client) error
	HandleFrame(ctx context.Context, c *hub.Client, raw []byte)
	HandleDisconnect(ctx context.Context, c *hub.Client)
}
