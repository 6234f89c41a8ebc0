package domain

import (
	"sync"
	"time"
)

// User is the authenticated identity behind a connection, resolved once
// during the handshake and immutable afterwards.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Superuser bool   `json:"-"`
}

// Session represents one authenticated, live connection. User and RoomID
// are fixed at handshake time; only activity tracking mutates afterwards.
type Session struct {
	ID           string
	User         User
	RoomID       int64
	CreatedAt    time.Time
	lastActiveAt time.Time
	mu           sync.RWMutex
}

// NewSession creates a session for an accepted connection.
func NewSession(id string, user User, roomID int64) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		User:         user,
		RoomID:       roomID,
		CreatedAt:    now,
		lastActiveAt: now,
	}
}

// UserID returns the authenticated user's id.
func (s *Session) UserID() int64 {
	return s.User.ID
}

// Username returns the authenticated user's username.
func (s *Session) Username() string {
	return s.User.Username
}

// UpdateActivity updates the last active timestamp.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

// LastActiveAt returns the time of the last inbound frame.
func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}
