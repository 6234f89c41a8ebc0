package presence

import (
	"context"
	"sync"
	"time"

	"github.com/MikhailOznobikhin/moznods/internal/domain"
)

// MemoryStore is an in-process presence store for single-instance
// deployments and tests. Rooms carry the same sliding expiry as the
// Redis store, enforced lazily on read and by a background janitor.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[int64]*memoryRoom
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

type memoryRoom struct {
	participants map[int64]domain.Participant
	expiresAt    time.Time
}

// NewMemoryStore creates an in-memory store with the given sliding TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		rooms: make(map[int64]*memoryRoom),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for roomID, room := range s.rooms {
		if now.After(room.expiresAt) {
			delete(s.rooms, roomID)
		}
	}
}

// room returns the live room entry or nil, expiring it lazily.
// Callers must hold at least the read lock; expired rooms are only
// reaped here when the write lock is held.
func (s *MemoryStore) room(roomID int64, canDelete bool) *memoryRoom {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if s.now().After(room.expiresAt) {
		if canDelete {
			delete(s.rooms, roomID)
		}
		return nil
	}
	return room
}

// Set upserts the user's entry and refreshes the room expiry.
func (s *MemoryStore) Set(_ context.Context, roomID, userID int64, username, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.room(roomID, true)
	if room == nil {
		room = &memoryRoom{participants: make(map[int64]domain.Participant)}
		s.rooms[roomID] = room
	}
	room.participants[userID] = domain.Participant{
		UserID:   userID,
		Username: username,
		State:    state,
	}
	room.expiresAt = s.now().Add(s.ttl)
}

// Remove deletes the user's entry and the room when it empties.
func (s *MemoryStore) Remove(_ context.Context, roomID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.room(roomID, true)
	if room == nil {
		return
	}
	delete(room.participants, userID)
	if len(room.participants) == 0 {
		delete(s.rooms, roomID)
	}
}

// ListParticipants returns the room's live entries.
func (s *MemoryStore) ListParticipants(_ context.Context, roomID int64) []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room := s.room(roomID, false)
	if room == nil {
		return nil
	}

	participants := make([]domain.Participant, 0, len(room.participants))
	for _, p := range room.participants {
		participants = append(participants, p)
	}
	return participants
}

// AggregateState reports the room-level call state.
func (s *MemoryStore) AggregateState(ctx context.Context, roomID int64) string {
	return domain.Aggregate(s.ListParticipants(ctx, roomID))
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
