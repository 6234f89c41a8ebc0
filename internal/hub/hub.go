package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MikhailOznobikhin/moznods/pkg/log"
	"github.com/MikhailOznobikhin/moznods/pkg/pubsub"
)

// Fabric is the broadcast surface the protocol services depend on.
// Implemented by *Hub; injected so services never reach a global registry.
type Fabric interface {
	// Join adds a client to a named group. Idempotent.
	Join(client *Client, group string)

	// Leave removes a client from a group. No-op if absent.
	Leave(client *Client, group string)

	// BroadcastToGroup delivers a message to every current member of the
	// group except the excluded client ID. Best-effort, at-most-once.
	BroadcastToGroup(group string, message interface{}, exclude string) error

	// SendToMatching delivers a message only to members satisfying the
	// predicate. Zero matches is not an error.
	SendToMatching(group string, message interface{}, match func(*Client) bool) error

	// SendToUser delivers a message to the group members owned by one
	// user, across instances when a relay is configured.
	SendToUser(group string, userID int64, message interface{}) error
}

// GroupMessage is a queued fanout to one group.
type GroupMessage struct {
	Group   string
	Message []byte
	Exclude string // client ID to skip

	remote bool // frame arrived over the relay, do not republish
	target *int64
}

// Hub maintains the named groups of live clients and fans events out to
// them. All group-index access is serialized behind one RWMutex; at the
// current scale that is fine, per-group locks are the next step if the
// index ever becomes the bottleneck.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	groups     map[string]map[string]*Client // group -> clientID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *GroupMessage
	mu         sync.RWMutex
	config     Config

	// Optional cross-process relay.
	relay      pubsub.Publisher
	instanceID string
}

// NewHub creates a new Hub.
func NewHub(cfg Config) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *GroupMessage, 256),
		config:     cfg,
	}
}

// SetRelay enables cross-process fanout: every group broadcast is also
// published on the group's fanout channel, tagged with this instance's ID.
func (h *Hub) SetRelay(relay pubsub.Publisher, instanceID string) {
	h.relay = relay
	h.instanceID = instanceID
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	l := log.L()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l.Debug().Str(log.FieldClientID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for group, members := range h.groups {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.groups, group)
					}
				}
				delete(h.clients, client.ID)
				client.closeSend()
			}
			h.mu.Unlock()
			l.Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *GroupMessage) {
	h.mu.RLock()
	members, ok := h.groups[msg.Group]
	if ok {
		for clientID, client := range members {
			if clientID == msg.Exclude {
				continue
			}
			if msg.target != nil && (client.Session == nil || client.Session.UserID() != *msg.target) {
				continue
			}
			select {
			case client.Send <- msg.Message:
			default:
				// Member's outbox is full; drop it rather than stall
				// delivery to the rest of the group.
				go h.removeClient(client)
			}
		}
	}
	h.mu.RUnlock()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub and every group.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Join adds a client to a group, creating the group on first use.
func (h *Hub) Join(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[string]*Client)
	}
	h.groups[group][client.ID] = client
	log.L().Info().Str(log.FieldClientID, client.ID).Str(log.FieldGroup, group).Msg("client joined group")
}

// Leave removes a client from a group.
func (h *Hub) Leave(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.groups[group]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	log.L().Info().Str(log.FieldClientID, client.ID).Str(log.FieldGroup, group).Msg("client left group")
}

// BroadcastToGroup sends a message to all current members of a group.
func (h *Hub) BroadcastToGroup(group string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.broadcast <- &GroupMessage{
		Group:   group,
		Message: data,
		Exclude: exclude,
	}

	h.publishRemote(group, data, nil)
	return nil
}

// SendToMatching sends a message to group members satisfying the
// predicate. Delivery is synchronous under the read lock, mirroring the
// targeted-send path.
func (h *Hub) SendToMatching(group string, message interface{}, match func(*Client) bool) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	members := h.groups[group]
	for _, client := range members {
		if !match(client) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			go h.removeClient(client)
		}
	}
	h.mu.RUnlock()

	return nil
}

// SendToUser sends a message to the group members belonging to one user,
// and relays it for sessions of that user on other instances.
func (h *Hub) SendToUser(group string, userID int64, message interface{}) error {
	if err := h.SendToMatching(group, message, func(c *Client) bool {
		return c.Session != nil && c.Session.UserID() == userID
	}); err != nil {
		return err
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.publishRemote(group, data, &userID)
	return nil
}

// GroupMemberCount returns the number of members currently in a group.
func (h *Hub) GroupMemberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// deliverRemote injects a frame received from another instance into the
// local members of a group. Never republished.
func (h *Hub) deliverRemote(group string, data []byte, target *int64) {
	h.deliver(&GroupMessage{
		Group:   group,
		Message: data,
		remote:  true,
		target:  target,
	})
}

func (h *Hub) publishRemote(group string, data []byte, target *int64) {
	if h.relay == nil {
		return
	}
	go func() {
		payload := &pubsub.GroupFramePayload{
			Group:        group,
			Data:         data,
			Origin:       h.instanceID,
			TargetUserID: target,
		}
		event, err := pubsub.NewEvent(pubsub.EventGroupFrame, group, payload)
		if err != nil {
			return
		}
		if err := h.relay.Publish(context.Background(), pubsub.GroupChannel(group), event); err != nil {
			log.L().Warn().Err(err).Str(log.FieldGroup, group).Msg("relay publish failed")
		}
	}()
}

func (h *Hub) removeClient(client *Client) {
	h.unregister <- client
}
