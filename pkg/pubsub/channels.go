package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming for cross-process group fanout.
//
// One channel per broadcast group, e.g. "fabric:group:call:42:fanout".
// The group name itself may contain colons ("call:42", "user:7"), so
// parsing strips the fixed prefix and suffix instead of splitting.
const (
	channelPrefix = "fabric:group:"
	channelSuffix = ":fanout"

	// GroupFanoutPattern matches every group fanout channel.
	GroupFanoutPattern = "fabric:group:*:fanout"
)

// Fanout event type used on group channels.
const EventGroupFrame = "group_frame"

// GroupChannel returns the fanout channel name for a broadcast group.
func GroupChannel(group string) string {
	return channelPrefix + group + channelSuffix
}

// GroupFromChannel extracts the group name from a fanout channel name.
func GroupFromChannel(channel string) (string, error) {
	if !strings.HasPrefix(channel, channelPrefix) || !strings.HasSuffix(channel, channelSuffix) {
		return "", fmt.Errorf("invalid fanout channel: %s", channel)
	}
	group := channel[len(channelPrefix) : len(channel)-len(channelSuffix)]
	if group == "" {
		return "", fmt.Errorf("invalid fanout channel: %s", channel)
	}
	return group, nil
}

// GroupFramePayload is the payload carried on group fanout channels.
// Data is an already-encoded client frame, forwarded verbatim. Origin
// identifies the publishing instance so it can skip its own frames.
// TargetUserID, when set, restricts delivery to sessions of that user.
type GroupFramePayload struct {
	Group        string `json:"group"`
	Data         []byte `json:"data"`
	Origin       string `json:"origin"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
}
