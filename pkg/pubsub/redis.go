package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// subscriberBuffer is the per-subscription event buffer. When a consumer
// falls this far behind, newer events are dropped rather than blocking
// the Redis read loop.
const subscriberBuffer = 100

// RedisPubSub is the Redis-channel implementation of PubSub. Each
// Subscribe opens its own go-redis subscription and forwards decoded
// events on a buffered channel.
type RedisPubSub struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*redis.PubSub // channel or pattern -> subscription
}

// NewRedisPubSub connects to Redis and verifies the connection.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis pubsub: ping: %w", err)
	}

	return &RedisPubSub{
		client: client,
		subs:   make(map[string]*redis.PubSub),
	}, nil
}

// Publish sends one event on a channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis pubsub: marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens a subscription on one channel.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return r.track(ctx, channel, r.client.Subscribe(ctx, channel))
}

// SubscribePattern opens a subscription on every channel matching a
// Redis glob pattern.
func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return r.track(ctx, pattern, r.client.PSubscribe(ctx, pattern))
}

func (r *RedisPubSub) track(ctx context.Context, key string, sub *redis.PubSub) (<-chan *Event, error) {
	r.mu.Lock()
	r.subs[key] = sub
	r.mu.Unlock()

	events := make(chan *Event, subscriberBuffer)
	go r.pump(ctx, sub, events)
	return events, nil
}

// Unsubscribe closes the subscription opened for a channel or pattern.
// Unknown keys are a no-op.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[channel]
	if !ok {
		return nil
	}
	delete(r.subs, channel)
	return sub.Close()
}

// Close tears down every open subscription and the client itself.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		sub.Close()
	}
	r.subs = make(map[string]*redis.PubSub)

	return r.client.Close()
}

// pump decodes raw Redis messages into events until the subscription
// closes or the context ends. Undecodable payloads are skipped.
func (r *RedisPubSub) pump(ctx context.Context, sub *redis.PubSub, events chan<- *Event) {
	defer close(events)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}

			select {
			case events <- &event:
			case <-ctx.Done():
				return
			default:
				// Consumer is behind; drop rather than stall the reader.
			}
		}
	}
}
