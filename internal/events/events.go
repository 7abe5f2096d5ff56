// internal/events/events.go
// Wire protocol shared by the gateway and the client sync layer

package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Client to server
const (
	ConversationOpen  = "conversation:open"
	ConversationClose = "conversation:close"
	MessageSend       = "message:send"
	MessageEdit       = "message:edit"
	MessageDelete     = "message:delete"
	MessageReact      = "message:react"
	MessageRead       = "message:read"
	TypingStart       = "typing:start"
	TypingStop        = "typing:stop"
	UserOnline        = "user:online"
	CallOffer         = "call:offer"
	CallAnswer        = "call:answer"
	CallICECandidate  = "call:ice-candidate"
	CallDecline       = "call:decline"
	CallEnd           = "call:end"
)

// Server to client
const (
	MessageReceived = "message:received"
	MessageEdited   = "message:edited"
	MessageDeleted  = "message:deleted"
	MessageReaction = "message:reaction"
	MessagesRead    = "messages:read"
	UserReadReceipt = "user:read-receipt"
	UserTyping      = "user:typing"
	UserStatus      = "user:status"
	CallDeclined    = "call:declined"
	CallEnded       = "call:ended"
	CallStatus      = "call:status"
	Error           = "error"
	ConnectionReady = "connection:ready"
)

// Envelope wraps every frame in both directions
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an envelope around payload
func New(eventType string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Envelope{Type: eventType, Data: data, Timestamp: time.Now().UTC()}, nil
}

// MustNew is New for payloads that are known to marshal
func MustNew(eventType string, payload interface{}) Envelope {
	env, err := New(eventType, payload)
	if err != nil {
		log.Printf("[events] %v", err)
		return Envelope{Type: eventType, Data: json.RawMessage(`{}`), Timestamp: time.Now().UTC()}
	}
	return env
}

// Decode unmarshals the envelope data into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte(`{}`), v)
	}
	return json.Unmarshal(e.Data, v)
}
