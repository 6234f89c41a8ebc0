package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RoomDirectory answers room existence and membership questions.
type RoomDirectory interface {
	RoomExists(ctx context.Context, roomID int64) (bool, error)
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
}

// RoomClient wraps the room service HTTP client with a short-lived
// membership cache so a burst of reconnects does not hammer the service.
type RoomClient struct {
	baseURL    string
	httpClient *http.Client
	cache      map[string]*cachedMembership
	cacheTTL   time.Duration
	mu         sync.RWMutex
}

type cachedMembership struct {
	member    bool
	expiresAt time.Time
}

type roomResponse struct {
	Exists bool `json:"exists"`
}

type membershipResponse struct {
	Member bool `json:"member"`
}

// Errors
var (
	ErrRoomNotFound = fmt.Errorf("room not found")
)

// NewRoomClient creates a new room service client.
func NewRoomClient(baseURL string, cacheTTL time.Duration) *RoomClient {
	return &RoomClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:    make(map[string]*cachedMembership),
		cacheTTL: cacheTTL,
	}
}

// RoomExists reports whether the room is known to the room service.
func (c *RoomClient) RoomExists(ctx context.Context, roomID int64) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/rooms/%d", c.baseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to fetch room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("room service returned status: %d", resp.StatusCode)
	}

	var roomResp roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&roomResp); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return roomResp.Exists, nil
}

// IsParticipant reports whether the user belongs to the room.
func (c *RoomClient) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	key := fmt.Sprintf("%d:%d", roomID, userID)
	if member, ok := c.getFromCache(key); ok {
		return member, nil
	}

	url := fmt.Sprintf("%s/api/v1/rooms/%d/participants/%d", c.baseURL, roomID, userID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to fetch membership: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, ErrRoomNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("room service returned status: %d", resp.StatusCode)
	}

	var memberResp membershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&memberResp); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	c.addToCache(key, memberResp.Member)
	return memberResp.Member, nil
}

// InvalidateCache removes a membership entry from the cache.
func (c *RoomClient) InvalidateCache(roomID, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, fmt.Sprintf("%d:%d", roomID, userID))
}

func (c *RoomClient) getFromCache(key string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cached, ok := c.cache[key]; ok {
		if time.Now().Before(cached.expiresAt) {
			return cached.member, true
		}
	}
	return false, false
}

func (c *RoomClient) addToCache(key string, member bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[key] = &cachedMembership{
		member:    member,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
}
