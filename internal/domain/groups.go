package domain

import "strconv"

// Broadcast group naming. One group per room and channel kind, plus one
// per user for targeted notifications.

// CallGroup returns the signaling group name for a room.
func CallGroup(roomID int64) string {
	return "call:" + strconv.FormatInt(roomID, 10)
}

// ChatGroup returns the chat group name for a room.
func ChatGroup(roomID int64) string {
	return "chat:" + strconv.FormatInt(roomID, 10)
}

// UserGroup returns the notification group name for a user.
func UserGroup(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}
