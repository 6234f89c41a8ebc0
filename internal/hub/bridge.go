package hub

import (
	"context"

	"github.com/MikhailOznobikhin/moznods/pkg/log"
	"github.com/MikhailOznobikhin/moznods/pkg/pubsub"
)

// Bridge subscribes to the group fanout channels and re-injects frames
// published by other instances into this hub's local members. Frames
// tagged with our own instance ID are skipped.
type Bridge struct {
	hub        *Hub
	ps         pubsub.Subscriber
	instanceID string
}

// NewBridge creates a fanout bridge for the hub.
func NewBridge(h *Hub, ps pubsub.Subscriber, instanceID string) *Bridge {
	return &Bridge{
		hub:        h,
		ps:         ps,
		instanceID: instanceID,
	}
}

// Run consumes remote frames until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	eventCh, err := b.ps.SubscribePattern(ctx, pubsub.GroupFanoutPattern)
	if err != nil {
		return err
	}

	l := log.L()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			if event.Type != pubsub.EventGroupFrame {
				continue
			}

			var payload pubsub.GroupFramePayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				l.Warn().Err(err).Msg("bridge: bad group frame payload")
				continue
			}
			if payload.Origin == b.instanceID {
				continue
			}

			b.hub.deliverRemote(payload.Group, payload.Data, payload.TargetUserID)
		}
	}
}
