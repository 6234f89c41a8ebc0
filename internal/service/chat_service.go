package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MikhailOznobikhin/moznods/internal/client"
	"github.com/MikhailOznobikhin/moznods/internal/domain"
	"github.com/MikhailOznobikhin/moznods/internal/hub"
	"github.com/MikhailOznobikhin/moznods/pkg/log"
)

type chatService struct {
	fabric   hub.Fabric
	messages client.MessageService
}

// NewChatService creates a new ChatService instance.
func NewChatService(fabric hub.Fabric, messages client.MessageService) ChatService {
	return &chatService{
		fabric:   fabric,
		messages: messages,
	}
}

// HandleConnect joins the room's chat group.
func (s *chatService) HandleConnect(_ context.Context, c *hub.Client) error {
	s.fabric.Join(c, domain.ChatGroup(c.Session.RoomID))
	return nil
}

// HandleFrame dispatches one inbound chat frame.
func (s *chatService) HandleFrame(ctx context.Context, c *hub.Client, raw []byte) {
	c.Session.UpdateActivity()

	var frame domain.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.SendMessage(domain.NewErrorMessage("Invalid message format"))
		return
	}

	switch frame.Type {
	case domain.MsgTypeChatMessage:
		s.handleChatMessage(ctx, c, frame.Data)
	default:
		c.SendMessage(domain.NewErrorMessage(fmt.Sprintf("Unknown message type: %s", frame.Type)))
	}
}

// handleChatMessage persists the message and fans the canonical stored
// record out to the whole chat group, sender included, so every member
// renders the same record.
func (s *chatService) handleChatMessage(ctx context.Context, c *hub.Client, data json.RawMessage) {
	var payload domain.ChatPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			c.SendMessage(domain.NewErrorMessage("Invalid message format"))
			return
		}
	}

	record, err := s.messages.SendMessage(ctx, c.Session.RoomID, c.Session.UserID(), payload)
	if err != nil {
		var valErr *client.ValidationError
		if errors.As(err, &valErr) {
			c.SendMessage(domain.NewErrorMessage(valErr.Detail))
			return
		}

		log.Ctx(ctx).Error().Err(err).
			Int64(log.FieldRoomID, c.Session.RoomID).
			Int64(log.FieldUserID, c.Session.UserID()).
			Msg("Failed to persist chat message")
		c.SendMessage(domain.NewErrorMessage("Failed to send message"))
		return
	}

	group := domain.ChatGroup(c.Session.RoomID)
	if err := s.fabric.BroadcastToGroup(group, domain.NewChatMessageOut(record), ""); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Int64(log.FieldRoomID, c.Session.RoomID).
			Msg("Failed to broadcast chat message")
	}
}

// HandleDisconnect is a no-op; the hub removes the client from its
// groups on unregister.
func (s *chatService) HandleDisconnect(_ context.Context, _ *hub.Client) {}
