// internal/gateway/server.go

package gateway

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
	"github.com/imadgeboyega/kiekky-realtime/internal/events"
	"github.com/imadgeboyega/kiekky-realtime/internal/messaging"
)

type ServerConfig struct {
	AllowedOrigins []string
	SendBufferSize int
}

// Server authenticates websocket handshakes and runs the connections
type Server struct {
	hub        *Hub
	verifier   auth.Verifier
	dispatcher *Dispatcher
	messages   messaging.Service
	presence   Presence
	upgrader   websocket.Upgrader
	sendBuffer int
}

func NewServer(hub *Hub, verifier auth.Verifier, dispatcher *Dispatcher, messages messaging.Service, presence Presence, cfg ServerConfig) *Server {
	return &Server{
		hub:        hub,
		verifier:   verifier,
		dispatcher: dispatcher,
		messages:   messages,
		presence:   presence,
		sendBuffer: cfg.SendBufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Echo the subprotocol browsers use to carry the token
			Subprotocols: []string{"bearer"},
			CheckOrigin:  checkOrigin(cfg.AllowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeWS rejects unauthenticated handshakes with 401 before upgrading, so
// a failed connection never joins a room
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r)
	if token == "" {
		handshakeFailures.Inc()
		utils.RespondWithAppError(w, auth.ErrMissingToken)
		return
	}

	identity, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		handshakeFailures.Inc()
		if !apperr.IsKind(err, apperr.KindAuthentication) {
			err = auth.ErrInvalidToken.Wrap(err)
		}
		utils.RespondWithAppError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		log.Printf("[gateway] upgrade failed for user %d: %v", identity.UserID, err)
		return
	}

	client := NewClient(conn, identity, s.sendBuffer)
	s.connect(client)

	go client.writePump()
	go client.readPump(s.dispatcher, s.disconnect)
}

// connect registers the client and announces the user when this is their
// first connection on any node
func (s *Server) connect(c *Client) {
	ctx := context.Background()
	s.hub.Register(c)

	c.SendEvent(events.MustNew(events.ConnectionReady, events.ReadyPayload{
		UserID:       c.UserID(),
		ConnectionID: c.ID(),
	}))

	first, err := s.presence.Connect(ctx, c.UserID(), c.ID())
	if err != nil {
		log.Printf("[gateway] track connection for user %d: %v", c.UserID(), err)
	}
	if first {
		if p, err := s.presence.SetOnline(ctx, c.UserID()); err != nil {
			log.Printf("[gateway] presence online for user %d: %v", c.UserID(), err)
		} else {
			s.hub.EmitAll(events.MustNew(events.UserStatus, events.StatusPayload{
				UserID:   p.UserID,
				Status:   p.Status,
				LastSeen: p.LastSeen,
			}), c)
		}
	}

	if n, err := s.messages.MarkDelivered(ctx, c.UserID()); err != nil {
		log.Printf("[gateway] mark delivered for user %d: %v", c.UserID(), err)
	} else if n > 0 {
		log.Printf("[gateway] %d messages delivered to user %d", n, c.UserID())
	}
}

// disconnect runs once per connection, whatever closed it. The user goes
// offline only when no node holds a connection for them any more.
func (s *Server) disconnect(c *Client) {
	ctx := context.Background()
	s.hub.Unregister(c)

	last, err := s.presence.Disconnect(ctx, c.UserID(), c.ID())
	if err != nil {
		log.Printf("[gateway] untrack connection for user %d: %v", c.UserID(), err)
		return
	}
	if !last {
		return
	}

	p, err := s.presence.SetOffline(ctx, c.UserID())
	if err != nil {
		log.Printf("[gateway] presence offline for user %d: %v", c.UserID(), err)
		return
	}
	s.hub.EmitAll(events.MustNew(events.UserStatus, events.StatusPayload{
		UserID:   p.UserID,
		Status:   p.Status,
		LastSeen: p.LastSeen,
	}), nil)
}

// RegisterRoutes mounts the websocket endpoint. Authentication happens in
// ServeWS so the 401 precedes the upgrade.
func RegisterRoutes(router *mux.Router, s *Server) {
	router.HandleFunc("/ws", s.ServeWS).Methods("GET")
}
