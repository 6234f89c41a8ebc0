package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/MikhailOznobikhin/moznods/internal/domain"
)

// Store keeps per-room call presence with a sliding expiry. Presence is
// best-effort: a backend outage degrades writes to no-ops and reads to
// empty results, it never surfaces errors to the signaling path.
type Store interface {
	// Set upserts one user's call state in a room and refreshes the
	// room's expiry clock.
	Set(ctx context.Context, roomID, userID int64, username, state string)

	// Remove deletes one user's entry; the room collection is deleted
	// when the last entry goes.
	Remove(ctx context.Context, roomID, userID int64)

	// ListParticipants returns the room's entries, empty if the room is
	// unknown or the backend unavailable. Order is unspecified.
	ListParticipants(ctx context.Context, roomID int64) []domain.Participant

	// AggregateState reports idle or active for the room.
	AggregateState(ctx context.Context, roomID int64) string

	Close() error
}

// Config selects and tunes the presence backend.
type Config struct {
	Driver string        `mapstructure:"driver"` // "redis", "memory"
	TTL    time.Duration `mapstructure:"ttl"`
	Redis  RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DefaultTTL is the sliding expiry for a room's presence collection.
const DefaultTTL = time.Hour

// New creates a presence store from configuration.
func New(cfg Config) (Store, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	switch cfg.Driver {
	case "", "redis":
		return NewRedisStore(cfg.Redis, ttl)
	case "memory":
		return NewMemoryStore(ttl), nil
	default:
		return nil, fmt.Errorf("unknown presence driver: %s", cfg.Driver)
	}
}
