// internal/gateway/client.go

package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-realtime/internal/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	defaultSendBuffer = 256
)

// EventHandler processes one inbound event for a connection
type EventHandler interface {
	Handle(ctx context.Context, c *Client, env events.Envelope)
}

// Client is one authenticated websocket connection
type Client struct {
	id       string
	identity *auth.Identity
	conn     *websocket.Conn
	send     chan []byte

	// rooms is guarded by the hub's mutex
	rooms map[string]struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewClient wraps conn for identity. conn may be nil for connections that
// are only ever written to through Send, as in tests.
func NewClient(conn *websocket.Conn, identity *auth.Identity, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		rooms:    make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) ID() string    { return c.id }
func (c *Client) UserID() int64 { return c.identity.UserID }

// Done is closed once the connection is shutting down
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

// Send queues a frame without blocking. A full buffer drops the frame:
// real-time fan-out is best effort and the store stays authoritative.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	default:
		framesDropped.Inc()
		log.Printf("[gateway] send buffer full for user %d (%s), dropping frame", c.UserID(), c.id)
		return false
	}
}

// SendEvent marshals and queues a single envelope for this connection only
func (c *Client) SendEvent(env events.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[gateway] marshal %s: %v", env.Type, err)
		return false
	}
	return c.Send(data)
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump handles inbound events one at a time, in arrival order
func (c *Client) readPump(handler EventHandler, onClose func(*Client)) {
	defer func() {
		c.Close()
		onClose(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[gateway] websocket error for user %d: %v", c.UserID(), err)
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			eventErrors.WithLabelValues("malformed").Inc()
			c.SendEvent(events.MustNew(events.Error, events.ErrorPayload{
				Message: "malformed event",
				Code:    apperr.KindBadRequest.String(),
			}))
			continue
		}

		handler.Handle(c.ctx, c, env)
	}
}

// writePump writes one frame per websocket message and keeps the peer alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
