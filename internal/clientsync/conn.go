// internal/clientsync/conn.go

package clientsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/imadgeboyega/kiekky-realtime/internal/events"
	"github.com/imadgeboyega/kiekky-realtime/internal/messaging"
)

const (
	writeWait          = 10 * time.Second
	defaultTypingDelay = 3 * time.Second
)

var ErrClosed = errors.New("connection closed")

type Options struct {
	Token string
	// TypingDelay is the idle time after which Typing sends typing:stop
	TypingDelay time.Duration
	// TypingTimeout expires other users' typing state in the cache
	TypingTimeout time.Duration
	// OnEvent sees every server event after the cache has applied it
	OnEvent func(env events.Envelope)
	Dialer  *websocket.Dialer
}

// Conn is one client connection to the gateway with its local cache
type Conn struct {
	ws    *websocket.Conn
	cache *Cache

	connectionID string
	onEvent      func(env events.Envelope)
	typingDelay  time.Duration

	writeMu sync.Mutex

	typingMu sync.Mutex
	typing   map[int64]*time.Timer

	done    chan struct{}
	errMu   sync.Mutex
	readErr error
}

// Dial connects with bearer auth and waits for connection:ready, so a
// returned Conn always knows who it is signed in as
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+opts.Token)

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	var env events.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read ready: %w", err)
	}
	if env.Type != events.ConnectionReady {
		ws.Close()
		return nil, fmt.Errorf("expected %s, got %s", events.ConnectionReady, env.Type)
	}
	var ready events.ReadyPayload
	if err := env.Decode(&ready); err != nil {
		ws.Close()
		return nil, fmt.Errorf("decode ready: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	typingDelay := opts.TypingDelay
	if typingDelay <= 0 {
		typingDelay = defaultTypingDelay
	}

	c := &Conn{
		ws:           ws,
		cache:        NewCache(ready.UserID, opts.TypingTimeout),
		connectionID: ready.ConnectionID,
		onEvent:      opts.OnEvent,
		typingDelay:  typingDelay,
		typing:       make(map[int64]*time.Timer),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) Cache() *Cache {
	return c.cache
}

func (c *Conn) UserID() int64 {
	return c.cache.UserID()
}

func (c *Conn) ConnectionID() string {
	return c.connectionID
}

// Done is closed when the read loop stops
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the read loop stopped
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[clientsync] malformed frame: %v", err)
			continue
		}
		if err := c.cache.Apply(env); err != nil {
			log.Printf("[clientsync] %v", err)
		}
		if c.onEvent != nil {
			c.onEvent(env)
		}
	}
}

// Emit writes one client event
func (c *Conn) Emit(eventType string, payload interface{}) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	env, err := events.New(eventType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", eventType, err)
	}
	return nil
}

// Send shows the message locally at once and puts it on the wire. The
// placeholder is replaced when the server echoes message:received, or
// marked failed if the server answers with an error.
func (c *Conn) Send(req events.SendMessage) (*messaging.Message, error) {
	c.stopTyping(req.ConversationID, false)

	placeholder, wire := c.cache.PrepareSend(req)
	if err := c.Emit(events.MessageSend, wire); err != nil {
		c.cache.FailSend(wire.ClientMessageID)
		return placeholder, err
	}
	return placeholder, nil
}

func (c *Conn) OpenConversation(conversationID int64) error {
	c.cache.MarkConversationRead(conversationID)
	return c.Emit(events.ConversationOpen, events.ConversationRef{ConversationID: conversationID})
}

func (c *Conn) CloseConversation(conversationID int64) error {
	c.stopTyping(conversationID, true)
	return c.Emit(events.ConversationClose, events.ConversationRef{ConversationID: conversationID})
}

// MarkRead marks specific messages, or the whole conversation when ids is empty
func (c *Conn) MarkRead(conversationID int64, ids ...string) error {
	return c.Emit(events.MessageRead, events.ReadMessages{ConversationID: conversationID, MessageIDs: ids})
}

// Typing is called on every keystroke. The first call sends typing:start;
// typing:stop follows once no call has arrived for the typing delay.
func (c *Conn) Typing(conversationID int64) error {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	if t, ok := c.typing[conversationID]; ok {
		t.Reset(c.typingDelay)
		return nil
	}

	if err := c.Emit(events.TypingStart, events.ConversationRef{ConversationID: conversationID}); err != nil {
		return err
	}
	c.typing[conversationID] = time.AfterFunc(c.typingDelay, func() {
		c.stopTyping(conversationID, true)
	})
	return nil
}

// StopTyping sends typing:stop now if a typing:start is outstanding
func (c *Conn) StopTyping(conversationID int64) {
	c.stopTyping(conversationID, true)
}

func (c *Conn) stopTyping(conversationID int64, notify bool) {
	c.typingMu.Lock()
	t, ok := c.typing[conversationID]
	if ok {
		t.Stop()
		delete(c.typing, conversationID)
	}
	c.typingMu.Unlock()

	if ok && notify {
		if err := c.Emit(events.TypingStop, events.ConversationRef{ConversationID: conversationID}); err != nil && !errors.Is(err, ErrClosed) {
			log.Printf("[clientsync] typing stop for conversation %d: %v", conversationID, err)
		}
	}
}

// Close stops pending typing timers and closes the socket
func (c *Conn) Close() error {
	c.typingMu.Lock()
	for id, t := range c.typing {
		t.Stop()
		delete(c.typing, id)
	}
	c.typingMu.Unlock()

	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()

	err := c.ws.Close()
	<-c.done
	return err
}
