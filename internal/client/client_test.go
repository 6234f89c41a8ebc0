package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikhailOznobikhin/moznods/internal/domain"
	"github.com/MikhailOznobikhin/moznods/pkg/jwt"
)

func TestJWTResolver(t *testing.T) {
	const secret = "test-signing-secret"
	manager := jwt.NewManager(secret, time.Hour, "moznods")
	resolver := NewJWTResolver(secret)

	token, err := manager.Generate(42, "alice", true)
	require.NoError(t, err)

	user, err := resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.Superuser)

	_, err = resolver.Resolve(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other := NewJWTResolver("different-secret")
	_, err = other.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestHTTPAuthClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/auth/validate", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch body["token"] {
		case "good":
			json.NewEncoder(w).Encode(authResponse{Valid: true, UserID: 7, Username: "bob"})
		case "stale":
			json.NewEncoder(w).Encode(authResponse{Valid: false, Error: "expired"})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := NewHTTPAuthClient(srv.URL)

	user, err := c.Resolve(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "bob", user.Username)
	assert.False(t, user.Superuser)

	_, err = c.Resolve(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = c.Resolve(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRoomClientMembershipCache(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/api/v1/rooms/1/participants/10":
			json.NewEncoder(w).Encode(membershipResponse{Member: true})
		case "/api/v1/rooms/1/participants/99":
			json.NewEncoder(w).Encode(membershipResponse{Member: false})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewRoomClient(srv.URL, time.Minute)

	member, err := c.IsParticipant(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.True(t, member)

	// Second lookup is served from cache.
	member, err = c.IsParticipant(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.True(t, member)
	assert.Equal(t, int64(1), calls.Load())

	member, err = c.IsParticipant(context.Background(), 1, 99)
	require.NoError(t, err)
	assert.False(t, member)

	_, err = c.IsParticipant(context.Background(), 404, 10)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	c.InvalidateCache(1, 10)
	_, err = c.IsParticipant(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), calls.Load())
}

func TestRoomClientRoomExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/rooms/1" {
			json.NewEncoder(w).Encode(roomResponse{Exists: true})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewRoomClient(srv.URL, time.Minute)

	exists, err := c.RoomExists(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.RoomExists(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMessageClientSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/messages", r.URL.Path)

		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Content == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(ValidationError{
				Detail: map[string][]string{"content": {"This field may not be blank."}},
			})
			return
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      123,
			"room_id": req.RoomID,
			"user_id": req.UserID,
			"content": req.Content,
		})
	}))
	defer srv.Close()

	c := NewMessageClient(srv.URL)

	record, err := c.SendMessage(context.Background(), 1, 10, domain.ChatPayload{Content: "hello"})
	require.NoError(t, err)

	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal(record, &stored))
	assert.Equal(t, "hello", stored["content"])
	assert.Equal(t, float64(123), stored["id"])

	_, err = c.SendMessage(context.Background(), 1, 10, domain.ChatPayload{Content: ""})
	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, []string{"This field may not be blank."}, valErr.Detail["content"])
}
