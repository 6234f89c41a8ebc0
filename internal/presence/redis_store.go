package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikhailOznobikhin/moznods/internal/domain"
	"github.com/MikhailOznobikhin/moznods/pkg/log"
)

// RedisStore keeps call presence in one hash per room, field per user.
// The whole hash carries a sliding TTL refreshed on every write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

type redisEntry struct {
	State    string `json:"state"`
	Username string `json:"username"`
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(cfg RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func roomKey(roomID int64) string {
	return fmt.Sprintf("call:state:%d", roomID)
}

func userField(userID int64) string {
	return fmt.Sprintf("%d", userID)
}

// Set upserts the user's entry and refreshes the room TTL in one pipeline.
func (s *RedisStore) Set(ctx context.Context, roomID, userID int64, username, state string) {
	raw, err := json.Marshal(redisEntry{State: state, Username: username})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Int64(log.FieldRoomID, roomID).
			Int64(log.FieldUserID, userID).
			Msg("Failed to marshal presence entry")
		return
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, roomKey(roomID), userField(userID), raw)
	pipe.Expire(ctx, roomKey(roomID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Int64(log.FieldRoomID, roomID).
			Int64(log.FieldUserID, userID).
			Str(log.FieldState, state).
			Msg("Presence write failed, continuing without")
	}
}

// Remove deletes the user's entry and drops the room key when it was the
// last one.
func (s *RedisStore) Remove(ctx context.Context, roomID, userID int64) {
	key := roomKey(roomID)

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, key, userField(userID))
	lenCmd := pipe.HLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Int64(log.FieldRoomID, roomID).
			Int64(log.FieldUserID, userID).
			Msg("Presence remove failed, continuing without")
		return
	}

	if lenCmd.Val() == 0 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Int64(log.FieldRoomID, roomID).
				Msg("Failed to delete empty presence room")
		}
	}
}

// ListParticipants returns every entry in the room hash, skipping entries
// that fail to decode.
func (s *RedisStore) ListParticipants(ctx context.Context, roomID int64) []domain.Participant {
	fields, err := s.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Int64(log.FieldRoomID, roomID).
			Msg("Presence read failed, treating room as empty")
		return nil
	}

	participants := make([]domain.Participant, 0, len(fields))
	for field, raw := range fields {
		var userID int64
		if _, err := fmt.Sscanf(field, "%d", &userID); err != nil {
			log.Ctx(ctx).Warn().
				Str("field", field).
				Int64(log.FieldRoomID, roomID).
				Msg("Skipping presence entry with malformed user id")
			continue
		}

		var entry redisEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Int64(log.FieldRoomID, roomID).
				Int64(log.FieldUserID, userID).
				Msg("Skipping undecodable presence entry")
			continue
		}

		participants = append(participants, domain.Participant{
			UserID:   userID,
			Username: entry.Username,
			State:    entry.State,
		})
	}

	return participants
}

// AggregateState reports the room-level call state.
func (s *RedisStore) AggregateState(ctx context.Context, roomID int64) string {
	return domain.Aggregate(s.ListParticipants(ctx, roomID))
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
