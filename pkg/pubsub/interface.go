package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the wire envelope carried across instances. The payload
// stays opaque until the receiver knows the event type.
type Event struct {
	Type      string          `json:"type"`
	Group     string          `json:"group"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent wraps a payload in an envelope stamped with the current time.
func NewEvent(eventType, group string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Group:     group,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload decodes the opaque payload into v.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher is the write side of the fabric bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber is the read side: single-channel, pattern, and teardown.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub is a bus that can do both ends and be shut down.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
