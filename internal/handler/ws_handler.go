package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/MikhailOznobikhin/moznods/internal/access"
	"github.com/MikhailOznobikhin/moznods/internal/client"
	"github.com/MikhailOznobikhin/moznods/internal/domain"
	"github.com/MikhailOznobikhin/moznods/internal/hub"
	"github.com/MikhailOznobikhin/moznods/internal/service"
	"github.com/MikhailOznobikhin/moznods/pkg/log"
)

// ClosePolicyViolation is sent when the handshake fails authentication
// or room access. The session is never registered in that case.
const ClosePolicyViolation = 4403

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades and authenticates WebSocket connections for the
// call, chat, and notification endpoints.
type WSHandler struct {
	hub    *hub.Hub
	auth   client.AuthResolver
	guard  *access.Guard
	signal service.SignalService
	chat   service.ChatService
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(h *hub.Hub, auth client.AuthResolver, guard *access.Guard, signal service.SignalService, chat service.ChatService) *WSHandler {
	return &WSHandler{
		hub:    h,
		auth:   auth,
		guard:  guard,
		signal: signal,
		chat:   chat,
	}
}

// RegisterRoutes mounts the WebSocket endpoints.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/call/{room_id:[0-9]+}", h.HandleCall)
	r.HandleFunc("/ws/chat/{room_id:[0-9]+}", h.HandleChat)
	r.HandleFunc("/ws/notifications", h.HandleNotifications)
}

// HandleCall serves the signaling endpoint for one room.
func (h *WSHandler) HandleCall(w http.ResponseWriter, r *http.Request) {
	h.handleRoomSocket(w, r, h.signal.HandleConnect, h.signal.HandleFrame, h.signal.HandleDisconnect)
}

// HandleChat serves the chat endpoint for one room.
func (h *WSHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	h.handleRoomSocket(w, r, h.chat.HandleConnect, h.chat.HandleFrame, h.chat.HandleDisconnect)
}

func (h *WSHandler) handleRoomSocket(
	w http.ResponseWriter,
	r *http.Request,
	onConnect func(context.Context, *hub.Client) error,
	onFrame func(context.Context, *hub.Client, []byte),
	onDisconnect func(context.Context, *hub.Client),
) {
	ctx := r.Context()

	roomID, err := strconv.ParseInt(mux.Vars(r)["room_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	user, err := h.auth.Resolve(ctx, r.URL.Query().Get("token"))
	if err != nil {
		log.Ctx(ctx).Info().Err(err).
			Int64(log.FieldRoomID, roomID).
			Msg("Rejected unauthenticated connection")
		rejectConn(conn)
		return
	}

	if err := h.guard.Authorize(ctx, roomID, user); err != nil {
		log.Ctx(ctx).Info().Err(err).
			Int64(log.FieldUserID, user.ID).
			Int64(log.FieldRoomID, roomID).
			Msg("Rejected connection to room")
		rejectConn(conn)
		return
	}

	session := domain.NewSession(uuid.New().String(), *user, roomID)
	c := hub.NewClient(session.ID, h.hub, conn, session)
	c.SetDisconnectHandler(func(c *hub.Client) {
		onDisconnect(context.Background(), c)
	})

	h.hub.Register(c)
	if err := onConnect(ctx, c); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Int64(log.FieldUserID, user.ID).
			Int64(log.FieldRoomID, roomID).
			Msg("Connection setup failed")
		h.hub.Unregister(c)
		conn.Close()
		return
	}

	go c.WritePump()
	go c.ReadPump(func(c *hub.Client, raw []byte) {
		onFrame(context.Background(), c, raw)
	})
}

// HandleNotifications serves the per-user notification endpoint. The
// connection only ever receives; inbound frames are ignored.
func (h *WSHandler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	user, err := h.auth.Resolve(ctx, r.URL.Query().Get("token"))
	if err != nil {
		log.Ctx(ctx).Info().Err(err).Msg("Rejected unauthenticated connection")
		rejectConn(conn)
		return
	}

	session := domain.NewSession(uuid.New().String(), *user, 0)
	c := hub.NewClient(session.ID, h.hub, conn, session)

	h.hub.Register(c)
	h.hub.Join(c, domain.UserGroup(user.ID))

	go c.WritePump()
	go c.ReadPump(func(c *hub.Client, _ []byte) {
		c.Session.UpdateActivity()
	})
}

// rejectConn closes a just-upgraded connection with the policy
// violation code before any session state exists.
func rejectConn(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(ClosePolicyViolation, "access denied")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
