package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name         string
		participants []Participant
		want         string
	}{
		{
			name: "empty room is idle",
			want: RoomIdle,
		},
		{
			name: "all idle",
			participants: []Participant{
				{UserID: 1, State: StateIdle},
				{UserID: 2, State: StateIdle},
			},
			want: RoomIdle,
		},
		{
			name: "one connecting makes room active",
			participants: []Participant{
				{UserID: 1, State: StateIdle},
				{UserID: 2, State: StateConnecting},
			},
			want: RoomActive,
		},
		{
			name: "one active makes room active",
			participants: []Participant{
				{UserID: 1, State: StateActive},
			},
			want: RoomActive,
		},
		{
			name: "ended entries do not count",
			participants: []Participant{
				{UserID: 1, State: StateEnded},
				{UserID: 2, State: StateEnded},
			},
			want: RoomIdle,
		},
		{
			name: "ended alongside active",
			participants: []Participant{
				{UserID: 1, State: StateEnded},
				{UserID: 2, State: StateActive},
			},
			want: RoomActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.participants))
		})
	}
}

func TestGroupNames(t *testing.T) {
	assert.Equal(t, "call:42", CallGroup(42))
	assert.Equal(t, "chat:42", ChatGroup(42))
	assert.Equal(t, "user:7", UserGroup(7))
}
