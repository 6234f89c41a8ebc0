package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikhailOznobikhin/moznods/internal/client"
	"github.com/MikhailOznobikhin/moznods/internal/domain"
	"github.com/MikhailOznobikhin/moznods/internal/hub"
	"github.com/MikhailOznobikhin/moznods/internal/presence"
)

type stubMessages struct {
	mu     sync.Mutex
	record json.RawMessage
	err    error
	calls  []domain.ChatPayload
}

func (s *stubMessages) SendMessage(_ context.Context, _, _ int64, payload domain.ChatPayload) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, payload)
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

type recordedEvent struct {
	eventType string
	roomID    int64
	userID    int64
	reason    string
}

type stubProducer struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *stubProducer) ProduceCallStarted(_ context.Context, roomID, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{eventType: "call_started", roomID: roomID, userID: userID})
	return nil
}

func (p *stubProducer) ProduceCallEnded(_ context.Context, roomID, userID int64, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{eventType: "call_ended", roomID: roomID, userID: userID, reason: reason})
	return nil
}

func (p *stubProducer) Close() error { return nil }

func (p *stubProducer) recorded() []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedEvent, len(p.events))
	copy(out, p.events)
	return out
}

// deadStore simulates an unreachable presence backend: writes vanish
// and reads come back empty, matching the degraded Redis behavior.
type deadStore struct{}

func (deadStore) Set(context.Context, int64, int64, string, string) {}
func (deadStore) Remove(context.Context, int64, int64)              {}
func (deadStore) ListParticipants(context.Context, int64) []domain.Participant {
	return nil
}
func (deadStore) AggregateState(context.Context, int64) string { return domain.RoomIdle }
func (deadStore) Close() error                                 { return nil }

type fixture struct {
	hub      *hub.Hub
	store    *presence.MemoryStore
	producer *stubProducer
	signal   SignalService
	messages *stubMessages
	chat     ChatService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	h := hub.NewHub(hub.Config{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 65536,
	})
	go h.Run()

	store := presence.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	producer := &stubProducer{}
	messages := &stubMessages{record: json.RawMessage(`{"id":1,"content":"hi"}`)}

	return &fixture{
		hub:      h,
		store:    store,
		producer: producer,
		signal:   NewSignalService(h, store, producer),
		messages: messages,
		chat:     NewChatService(h, messages),
	}
}

func (f *fixture) connect(t *testing.T, roomID, userID int64, username string) *hub.Client {
	t.Helper()

	id := fmt.Sprintf("client-%s", username)
	session := domain.NewSession(id, domain.User{ID: userID, Username: username}, roomID)
	c := hub.NewClient(id, f.hub, nil, session)
	f.hub.Register(c)
	require.NoError(t, f.signal.HandleConnect(context.Background(), c))
	return c
}

func frame(t *testing.T, msgType string, data string) []byte {
	t.Helper()
	raw, err := json.Marshal(domain.Frame{Type: msgType, Data: json.RawMessage(data)})
	require.NoError(t, err)
	return raw
}

func recvFrame(t *testing.T, c *hub.Client) map[string]json.RawMessage {
	t.Helper()
	select {
	case raw := <-c.Send:
		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &decoded))
		return decoded
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame received by %s", c.ID)
		return nil
	}
}

func recvTyped(t *testing.T, c *hub.Client, wantType string) map[string]json.RawMessage {
	t.Helper()
	decoded := recvFrame(t, c)
	require.JSONEq(t, fmt.Sprintf("%q", wantType), string(decoded["type"]))
	return decoded
}

func expectNoFrame(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected frame received by %s: %s", c.ID, raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectRecordsConnectingWithoutAnnouncement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, 1, 10, "alice")

	participants := f.store.ListParticipants(ctx, 1)
	require.Len(t, participants, 1)
	assert.Equal(t, domain.StateConnecting, participants[0].State)

	expectNoFrame(t, alice)
}

func TestJoinCallBroadcastsSnapshotAndAnnouncement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, 1, 10, "alice")
	bob := f.connect(t, 1, 20, "bob")

	f.signal.HandleFrame(ctx, bob, frame(t, domain.MsgTypeJoinCall, `{}`))

	// Everyone gets the recomputed snapshot.
	for _, c := range []*hub.Client{alice, bob} {
		snapshot := recvTyped(t, c, domain.MsgTypeCallState)

		var data domain.CallStateData
		require.NoError(t, json.Unmarshal(snapshot["data"], &data))
		assert.Equal(t, domain.RoomActive, data.RoomState)
		assert.Len(t, data.Participants, 2)
	}

	// Only the peers get the join announcement.
	joined := recvTyped(t, alice, domain.MsgTypeUserJoined)
	assert.JSONEq(t, `{"user":{"id":20,"username":"bob"}}`, string(joined["data"]))
	expectNoFrame(t, bob)
}

func TestLeaveCallAnnouncesToEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, 1, 10, "alice")
	bob := f.connect(t, 1, 20, "bob")
	drain(t, alice, bob)

	f.signal.HandleFrame(ctx, bob, frame(t, domain.MsgTypeLeaveCall, `{}`))

	// Snapshot first, then the departure, with no exclusion.
	for _, c := range []*hub.Client{alice, bob} {
		snapshot := recvTyped(t, c, domain.MsgTypeCallState)

		var data domain.CallStateData
		require.NoError(t, json.Unmarshal(snapshot["data"], &data))
		assert.Len(t, data.Participants, 1)

		left := recvTyped(t, c, domain.MsgTypeUserLeft)
		assert.JSONEq(t, `{"user_id":20}`, string(left["data"]))
	}

	assert.Len(t, f.store.ListParticipants(ctx, 1), 1)
}

func TestRelayReachesOnlyTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, 1, 10, "alice")
	bob := f.connect(t, 1, 20, "bob")
	carol := f.connect(t, 1, 30, "carol")

	f.signal.HandleFrame(ctx, alice, frame(t, domain.MsgTypeOffer,
		`{"target_user_id": 20, "sdp": "v=0...", "kind": "video"}`))

	offer := recvTyped(t, bob, domain.MsgTypeOffer)

	var data map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(offer["data"], &data))
	assert.NotContains(t, data, "target_user_id")
	assert.JSONEq(t, "10", string(data["from_user_id"]))
	assert.JSONEq(t, `"v=0..."`, string(data["sdp"]))
	assert.JSONEq(t, `"video"`, string(data["kind"]))

	expectNoFrame(t, alice)
	expectNoFrame(t, carol)
}

func TestRelayWithoutTargetErrorsSenderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, 1, 10, "alice")
	bob := f.connect(t, 1, 20, "bob")

	f.signal.HandleFrame(ctx, alice, frame(t, domain.MsgTypeICECandidate, `{"candidate": "..."}`))

	errFrame := recvTyped(t, alice, domain.MsgTypeError)
	assert.JSONEq(t, `"target_user_id required"`, string(errFrame["detail"]))
	expectNoFrame(t, bob)
}

func TestUnknownTypeErrorsSenderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, 1, 10, "alice")
	bob := f.connect(t, 1, 20, "bob")

	f.signal.HandleFrame(ctx, alice, frame(t, "dance", `{}`))

	recvTyped(t, alice, domain.MsgTypeError)
	expectNoFrame(t, bob)
}

func TestMalformedFrameErrorsSenderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, 1, 10, "alice")

	f.signal.HandleFrame(ctx, alice, []byte("not json"))
	recvTyped(t, alice, domain.MsgTypeError)
}

func TestDisconnectActsAsLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, 1, 10, "alice")
	bob := f.connect(t, 1, 20, "bob")
	drain(t, alice, bob)

	f.signal.HandleDisconnect(ctx, bob)

	recvTyped(t, alice, domain.MsgTypeCallState)
	left := recvTyped(t, alice, domain.MsgTypeUserLeft)
	assert.JSONEq(t, `{"user_id":20}`, string(left["data"]))

	assert.Len(t, f.store.ListParticipants(ctx, 1), 1)
}

func TestCallLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// First connection flips the room active.
	alice := f.connect(t, 1, 10, "alice")
	bob := f.connect(t, 1, 20, "bob")

	events := f.producer.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, "call_started", events[0].eventType)
	assert.Equal(t, int64(1), events[0].roomID)
	assert.Equal(t, int64(10), events[0].userID)

	// Intermediate departures do not end the call.
	f.signal.HandleFrame(ctx, bob, frame(t, domain.MsgTypeLeaveCall, `{}`))
	require.Len(t, f.producer.recorded(), 1)

	// The last participant dropping flips it back.
	f.signal.HandleDisconnect(ctx, alice)

	events = f.producer.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, "call_ended", events[1].eventType)
	assert.Equal(t, "disconnect", events[1].reason)
}

func TestJoinCallSurvivesPresenceOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Swap in a dead backend: signaling keeps working, the snapshot
	// just degrades to an empty idle room.
	f.signal = NewSignalService(f.hub, deadStore{}, f.producer)

	alice := f.connect(t, 1, 10, "alice")
	bob := f.connect(t, 1, 20, "bob")

	f.signal.HandleFrame(ctx, bob, frame(t, domain.MsgTypeJoinCall, `{}`))

	for _, c := range []*hub.Client{alice, bob} {
		snapshot := recvTyped(t, c, domain.MsgTypeCallState)
		assert.JSONEq(t, `{"participants":[],"room_state":"idle"}`, string(snapshot["data"]))
	}

	// The join announcement still goes out to the peers.
	joined := recvTyped(t, alice, domain.MsgTypeUserJoined)
	assert.JSONEq(t, `{"user":{"id":20,"username":"bob"}}`, string(joined["data"]))
	expectNoFrame(t, bob)
}

func TestRelayMalformedPayloadErrorsSenderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, 1, 10, "alice")
	bob := f.connect(t, 1, 20, "bob")

	f.signal.HandleFrame(ctx, alice, frame(t, domain.MsgTypeOffer, `"not an object"`))

	errFrame := recvTyped(t, alice, domain.MsgTypeError)
	assert.JSONEq(t, `"Invalid message format"`, string(errFrame["detail"]))
	expectNoFrame(t, bob)
}

func TestChatMessageFansOutToEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newChatClient(t, f, 1, 10, "alice")
	bob := newChatClient(t, f, 1, 20, "bob")

	f.chat.HandleFrame(ctx, alice, frame(t, domain.MsgTypeChatMessage, `{"content": "hi"}`))

	// Sender included: everyone renders the same canonical record.
	for _, c := range []*hub.Client{alice, bob} {
		msg := recvTyped(t, c, domain.MsgTypeChatMessage)
		assert.JSONEq(t, `{"id":1,"content":"hi"}`, string(msg["data"]))
	}

	require.Len(t, f.messages.calls, 1)
	assert.Equal(t, "hi", f.messages.calls[0].Content)
}

func TestChatValidationErrorGoesToSenderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.messages.err = &client.ValidationError{
		Detail: map[string][]string{"content": {"This field may not be blank."}},
	}

	alice := newChatClient(t, f, 1, 10, "alice")
	bob := newChatClient(t, f, 1, 20, "bob")

	f.chat.HandleFrame(ctx, alice, frame(t, domain.MsgTypeChatMessage, `{"content": ""}`))

	errFrame := recvTyped(t, alice, domain.MsgTypeError)
	assert.JSONEq(t, `{"content":["This field may not be blank."]}`, string(errFrame["detail"]))
	expectNoFrame(t, bob)
}

func TestChatUnknownTypeErrorsSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newChatClient(t, f, 1, 10, "alice")

	f.chat.HandleFrame(ctx, alice, frame(t, domain.MsgTypeJoinCall, `{}`))
	recvTyped(t, alice, domain.MsgTypeError)
}

func newChatClient(t *testing.T, f *fixture, roomID, userID int64, username string) *hub.Client {
	t.Helper()

	id := fmt.Sprintf("chat-client-%s", username)
	session := domain.NewSession(id, domain.User{ID: userID, Username: username}, roomID)
	c := hub.NewClient(id, f.hub, nil, session)
	f.hub.Register(c)
	require.NoError(t, f.chat.HandleConnect(context.Background(), c))
	return c
}

// drain consumes the snapshot and announcement frames queued by setup so
// assertions start from a clean outbox.
func drain(t *testing.T, clients ...*hub.Client) {
	t.Helper()
	deadline := time.After(200 * time.Millisecond)
	for {
		idle := true
		for _, c := range clients {
			select {
			case <-c.Send:
				idle = false
			default:
			}
		}
		if idle {
			select {
			case <-deadline:
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}
}
