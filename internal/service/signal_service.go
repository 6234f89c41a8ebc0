package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MikhailOznobikhin/moznods/internal/domain"
	"github.com/MikhailOznobikhin/moznods/internal/hub"
	"github.com/MikhailOznobikhin/moznods/internal/kafka"
	"github.com/MikhailOznobikhin/moznods/internal/presence"
	"github.com/MikhailOznobikhin/moznods/pkg/log"
)

type signalService struct {
	fabric        hub.Fabric
	store         presence.Store
	kafkaProducer kafka.CallEventProducer
}

// NewSignalService creates a new SignalService instance. kafkaProducer
// may be nil; call lifecycle events are then skipped.
func NewSignalService(fabric hub.Fabric, store presence.Store, kafkaProducer kafka.CallEventProducer) SignalService {
	return &signalService{
		fabric:        fabric,
		store:         store,
		kafkaProducer: kafkaProducer,
	}
}

// HandleConnect joins the call group and records the user as connecting.
// No announcement goes out until the explicit join_call.
func (s *signalService) HandleConnect(ctx context.Context, c *hub.Client) error {
	roomID := c.Session.RoomID
	s.fabric.Join(c, domain.CallGroup(roomID))

	wasActive := s.store.AggregateState(ctx, roomID) == domain.RoomActive
	s.store.Set(ctx, roomID, c.Session.UserID(), c.Session.Username(), domain.StateConnecting)
	s.emitFlip(ctx, roomID, c.Session.UserID(), wasActive, kafka.ReasonExplicit)

	return nil
}

// HandleFrame dispatches one inbound signaling frame.
func (s *signalService) HandleFrame(ctx context.Context, c *hub.Client, raw []byte) {
	c.Session.UpdateActivity()

	var frame domain.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.SendMessage(domain.NewErrorMessage("Invalid message format"))
		return
	}

	switch frame.Type {
	case domain.MsgTypeJoinCall:
		s.handleJoinCall(ctx, c)
	case domain.MsgTypeLeaveCall:
		s.handleLeaveCall(ctx, c)
	case domain.MsgTypeOffer, domain.MsgTypeAnswer, domain.MsgTypeICECandidate:
		s.handleRelay(ctx, c, frame.Type, frame.Data)
	default:
		c.SendMessage(domain.NewErrorMessage(fmt.Sprintf("Unknown message type: %s", frame.Type)))
	}
}

func (s *signalService) handleJoinCall(ctx context.Context, c *hub.Client) {
	roomID := c.Session.RoomID
	group := domain.CallGroup(roomID)

	wasActive := s.store.AggregateState(ctx, roomID) == domain.RoomActive
	s.store.Set(ctx, roomID, c.Session.UserID(), c.Session.Username(), domain.StateActive)
	s.emitFlip(ctx, roomID, c.Session.UserID(), wasActive, kafka.ReasonExplicit)

	s.broadcastSnapshot(ctx, roomID)

	if err := s.fabric.BroadcastToGroup(group, domain.NewUserJoined(c.Session.User), c.ID); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Int64(log.FieldRoomID, roomID).
			Msg("Failed to announce call join")
	}
}

func (s *signalService) handleLeaveCall(ctx context.Context, c *hub.Client) {
	s.removeFromCall(ctx, c, kafka.ReasonExplicit)
}

// removeFromCall drops the user's presence entry and tells the room.
// Shared by the explicit leave_call and the disconnect path.
func (s *signalService) removeFromCall(ctx context.Context, c *hub.Client, reason string) {
	roomID := c.Session.RoomID
	group := domain.CallGroup(roomID)

	wasActive := s.store.AggregateState(ctx, roomID) == domain.RoomActive
	s.store.Remove(ctx, roomID, c.Session.UserID())
	s.emitFlip(ctx, roomID, c.Session.UserID(), wasActive, reason)

	s.broadcastSnapshot(ctx, roomID)

	if err := s.fabric.BroadcastToGroup(group, domain.NewUserLeft(c.Session.UserID()), ""); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Int64(log.FieldRoomID, roomID).
			Msg("Failed to announce call leave")
	}
}

func (s *signalService) handleRelay(ctx context.Context, c *hub.Client, msgType string, data json.RawMessage) {
	targetID, message, err := domain.BuildRelay(msgType, c.Session.UserID(), data)
	if err != nil {
		if errors.Is(err, domain.ErrMissingTarget) {
			c.SendMessage(domain.NewErrorMessage("target_user_id required"))
			return
		}
		c.SendMessage(domain.NewErrorMessage("Invalid message format"))
		return
	}

	group := domain.CallGroup(c.Session.RoomID)
	if err := s.fabric.SendToUser(group, targetID, message); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Int64(log.FieldRoomID, c.Session.RoomID).
			Int64(log.FieldUserID, targetID).
			Str("message_type", msgType).
			Msg("Failed to relay signaling message")
	}
}

// HandleDisconnect tears the user out of the call exactly as an explicit
// leave would, with the disconnect reason on the lifecycle event. Group
// membership itself is removed by the hub on unregister.
func (s *signalService) HandleDisconnect(ctx context.Context, c *hub.Client) {
	s.removeFromCall(ctx, c, kafka.ReasonDisconnect)
}

// broadcastSnapshot sends the room's full recomputed presence view to
// every call group member.
func (s *signalService) broadcastSnapshot(ctx context.Context, roomID int64) {
	participants := s.store.ListParticipants(ctx, roomID)
	roomState := domain.Aggregate(participants)

	message := domain.NewCallState(participants, roomState)
	if err := s.fabric.BroadcastToGroup(domain.CallGroup(roomID), message, ""); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Int64(log.FieldRoomID, roomID).
			Msg("Failed to broadcast call state snapshot")
	}
}

// emitFlip produces a call lifecycle event when the room's aggregate
// state changed across the surrounding presence write. Best-effort.
func (s *signalService) emitFlip(ctx context.Context, roomID, userID int64, wasActive bool, reason string) {
	if s.kafkaProducer == nil {
		return
	}

	isActive := s.store.AggregateState(ctx, roomID) == domain.RoomActive
	switch {
	case !wasActive && isActive:
		if err := s.kafkaProducer.ProduceCallStarted(ctx, roomID, userID); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Int64(log.FieldRoomID, roomID).
				Msg("Failed to produce call_started event")
		}
	case wasActive && !isActive:
		if err := s.kafkaProducer.ProduceCallEnded(ctx, roomID, userID, reason); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Int64(log.FieldRoomID, roomID).
				Msg("Failed to produce call_ended event")
		}
	}
}
