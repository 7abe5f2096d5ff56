// internal/gateway/hub.go

package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-realtime/internal/events"
)

// broadcastRoom addresses every connection on every node
const broadcastRoom = "*"

// UserRoom is the personal room every connection of a user joins
func UserRoom(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// ConversationRoom is joined on conversation:open
func ConversationRoom(conversationID int64) string {
	return "conversation:" + strconv.FormatInt(conversationID, 10)
}

// Hub maintains active websocket connections and their room membership.
// Membership is in memory only and rebuilt by clients on reconnect.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	users   map[int64]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	broker Broker
	nodeID string
}

// NewHub creates a hub. broker may be nil for a single node.
func NewHub(broker Broker) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		users:   make(map[int64]map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		broker:  broker,
		nodeID:  uuid.NewString(),
	}
}

// Run relays frames published by other nodes until ctx is done, then
// closes every local connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.cleanup()

	var remote <-chan *Frame
	if h.broker != nil {
		frames, err := h.broker.Subscribe(ctx)
		if err != nil {
			log.Printf("[hub] broker subscribe failed, running single node: %v", err)
		} else {
			remote = frames
		}
	}

	for {
		select {
		case frame, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			if frame.Node == h.nodeID {
				continue
			}
			h.deliver(frame.Rooms, frame.Except, frame.Data)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	log.Printf("[hub] closed %d connections", len(clients))
}

// Register adds a connection and joins its personal room. It reports
// whether this is the user's first live connection on this node.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	conns, ok := h.users[c.UserID()]
	if !ok {
		conns = make(map[*Client]struct{})
		h.users[c.UserID()] = conns
	}
	conns[c] = struct{}{}
	h.joinLocked(c, UserRoom(c.UserID()))

	activeConnections.Inc()
	log.Printf("[hub] user %d connected (%s). Total clients: %d", c.UserID(), c.ID(), len(h.clients))
	return len(conns) == 1
}

// Unregister removes a connection from every room. It reports whether it
// was the user's last connection, and is a no-op for unknown clients.
func (h *Hub) Unregister(c *Client) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)

	for room := range c.rooms {
		h.leaveLocked(c, room)
	}

	conns := h.users[c.UserID()]
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.users, c.UserID())
		last = true
	}

	activeConnections.Dec()
	log.Printf("[hub] user %d disconnected (%s). Total clients: %d", c.UserID(), c.ID(), len(h.clients))
	return last
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, room)
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// InRoom reports whether the connection has joined room
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// IsUserOnline reports whether the user has a connection on this node
func (h *Hub) IsUserOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

func (h *Hub) GetActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit sends env to every member of room except the given connection
func (h *Hub) Emit(room string, env events.Envelope, except *Client) {
	h.EmitRooms([]string{room}, env, except)
}

// EmitRooms delivers env once to each connection in the union of rooms
func (h *Hub) EmitRooms(rooms []string, env events.Envelope, except *Client) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[hub] marshal %s: %v", env.Type, err)
		return
	}

	exceptID := ""
	if except != nil {
		exceptID = except.ID()
	}

	h.deliver(rooms, exceptID, data)
	h.publish(rooms, exceptID, data)
}

// EmitToUser reaches every connection of one user
func (h *Hub) EmitToUser(userID int64, env events.Envelope) {
	h.Emit(UserRoom(userID), env, nil)
}

// EmitAll reaches every connection on every node
func (h *Hub) EmitAll(env events.Envelope, except *Client) {
	h.Emit(broadcastRoom, env, except)
}

func (h *Hub) deliver(rooms []string, exceptID string, data []byte) {
	h.mu.RLock()
	targets := make(map[*Client]struct{})
	for _, room := range rooms {
		if room == broadcastRoom {
			for c := range h.clients {
				targets[c] = struct{}{}
			}
			continue
		}
		for c := range h.rooms[room] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		if c.ID() == exceptID {
			continue
		}
		c.Send(data)
	}
}

func (h *Hub) publish(rooms []string, exceptID string, data []byte) {
	if h.broker == nil {
		return
	}
	frame := &Frame{Node: h.nodeID, Rooms: rooms, Except: exceptID, Data: data}
	if err := h.broker.Publish(context.Background(), frame); err != nil {
		log.Printf("[hub] publish to broker failed: %v", err)
	}
}
