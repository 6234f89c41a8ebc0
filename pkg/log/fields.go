package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Connection / actor
	FieldClientID = "client_id"
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Rooms and fanout
	FieldRoomID = "room_id"
	FieldGroup  = "group"
	FieldState  = "state"

	// Service
	FieldService = "service"
)
