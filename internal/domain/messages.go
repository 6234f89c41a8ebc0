package domain

import (
	"encoding/json"
	"errors"
	"strconv"
)

// WebSocket message types from client.
const (
	MsgTypeJoinCall     = "join_call"
	MsgTypeLeaveCall    = "leave_call"
	MsgTypeOffer        = "offer"
	MsgTypeAnswer       = "answer"
	MsgTypeICECandidate = "ice_candidate"
	MsgTypeChatMessage  = "chat_message"
)

// WebSocket message types to client.
const (
	MsgTypeUserJoined   = "user_joined"
	MsgTypeUserLeft     = "user_left"
	MsgTypeCallState    = "call_state"
	MsgTypeNotification = "notification"
	MsgTypeError        = "error"
)

// ErrMissingTarget is returned when a relay frame lacks target_user_id.
var ErrMissingTarget = errors.New("target_user_id required")

// ErrMalformedPayload is returned when a relay frame's data is not a
// JSON object at all.
var ErrMalformedPayload = errors.New("malformed relay payload")

// Frame is the base structure for all inbound WebSocket messages.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ChatPayload is the data of an inbound chat_message frame.
type ChatPayload struct {
	Content       string  `json:"content"`
	AttachmentIDs []int64 `json:"attachment_ids"`
}

// Server -> client messages.

// ErrorMessage carries a protocol or validation error to one client.
// Detail is either a plain string or structured field-level detail.
type ErrorMessage struct {
	Type   string      `json:"type"`
	Detail interface{} `json:"detail"`
}

// NewErrorMessage creates a new error message.
func NewErrorMessage(detail interface{}) *ErrorMessage {
	return &ErrorMessage{
		Type:   MsgTypeError,
		Detail: detail,
	}
}

// UserJoinedMessage announces a user entering the call.
type UserJoinedMessage struct {
	Type string         `json:"type"`
	Data UserJoinedData `json:"data"`
}

type UserJoinedData struct {
	User User `json:"user"`
}

// NewUserJoined creates a user_joined message.
func NewUserJoined(user User) *UserJoinedMessage {
	return &UserJoinedMessage{
		Type: MsgTypeUserJoined,
		Data: UserJoinedData{User: user},
	}
}

// UserLeftMessage announces a user leaving the call.
type UserLeftMessage struct {
	Type string       `json:"type"`
	Data UserLeftData `json:"data"`
}

type UserLeftData struct {
	UserID int64 `json:"user_id"`
}

// NewUserLeft creates a user_left message.
func NewUserLeft(userID int64) *UserLeftMessage {
	return &UserLeftMessage{
		Type: MsgTypeUserLeft,
		Data: UserLeftData{UserID: userID},
	}
}

// CallStateMessage carries the full recomputed presence snapshot for a
// room; clients replace their local view rather than apply deltas.
type CallStateMessage struct {
	Type string        `json:"type"`
	Data CallStateData `json:"data"`
}

type CallStateData struct {
	Participants []Participant `json:"participants"`
	RoomState    string        `json:"room_state"`
}

// NewCallState creates a call_state snapshot message.
func NewCallState(participants []Participant, roomState string) *CallStateMessage {
	if participants == nil {
		participants = []Participant{}
	}
	return &CallStateMessage{
		Type: MsgTypeCallState,
		Data: CallStateData{Participants: participants, RoomState: roomState},
	}
}

// ChatMessageOut wraps the canonical stored message record for broadcast.
// The record comes from the message service and is forwarded as-is.
type ChatMessageOut struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewChatMessageOut creates a chat_message broadcast frame.
func NewChatMessageOut(record json.RawMessage) *ChatMessageOut {
	return &ChatMessageOut{
		Type: MsgTypeChatMessage,
		Data: record,
	}
}

// RelayMessage is an offer/answer/ice_candidate forwarded to the target
// user. Data holds the sender's opaque payload untouched, plus
// from_user_id.
type RelayMessage struct {
	Type string                     `json:"type"`
	Data map[string]json.RawMessage `json:"data"`
}

// BuildRelay parses an inbound relay payload and produces the outbound
// message. The opaque payload is forwarded byte-for-byte; target_user_id
// is consumed for routing and from_user_id injected.
func BuildRelay(msgType string, fromUserID int64, data json.RawMessage) (int64, *RelayMessage, error) {
	var fields map[string]json.RawMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return 0, nil, ErrMalformedPayload
		}
	}

	rawTarget, ok := fields["target_user_id"]
	if !ok {
		return 0, nil, ErrMissingTarget
	}

	var target int64
	if err := json.Unmarshal(rawTarget, &target); err != nil {
		return 0, nil, ErrMissingTarget
	}

	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if k == "target_user_id" {
			continue
		}
		out[k] = v
	}
	out["from_user_id"] = json.RawMessage(strconv.FormatInt(fromUserID, 10))

	return target, &RelayMessage{Type: msgType, Data: out}, nil
}
