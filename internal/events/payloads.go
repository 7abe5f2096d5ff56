// internal/events/payloads.go

package events

import (
	"encoding/json"
	"time"
)

// Inbound payloads

type ConversationRef struct {
	ConversationID int64 `json:"conversationId" validate:"required,gt=0"`
}

type SendMessage struct {
	ConversationID  int64    `json:"conversationId" validate:"required,gt=0"`
	Content         string   `json:"content" validate:"max=4000"`
	Type            string   `json:"type" validate:"omitempty,oneof=text image video audio file"`
	MediaURLs       []string `json:"mediaUrls" validate:"max=10,dive,url"`
	ClientMessageID string   `json:"clientMessageId,omitempty" validate:"omitempty,max=64"`
}

type EditMessage struct {
	MessageID      string `json:"messageId" validate:"required"`
	ConversationID int64  `json:"conversationId" validate:"required,gt=0"`
	NewContent     string `json:"newContent" validate:"required,max=4000"`
}

type DeleteMessage struct {
	MessageID      string `json:"messageId" validate:"required"`
	ConversationID int64  `json:"conversationId" validate:"required,gt=0"`
}

type ReactMessage struct {
	MessageID      string `json:"messageId" validate:"required"`
	ConversationID int64  `json:"conversationId" validate:"required,gt=0"`
	Emoji          string `json:"emoji" validate:"required,max=32"`
}

type ReadMessages struct {
	ConversationID int64    `json:"conversationId" validate:"required,gt=0"`
	MessageIDs     []string `json:"messageIds"`
}

// Signal carries call:* frames in both directions. Payload is opaque SDP or
// ICE data and is never inspected.
type Signal struct {
	ConversationID int64           `json:"conversationId" validate:"required,gt=0"`
	To             int64           `json:"to,omitempty" validate:"required,gt=0"`
	CallID         string          `json:"callId,omitempty"`
	CallType       string          `json:"callType,omitempty" validate:"omitempty,oneof=AUDIO VIDEO"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Outbound payloads

type MessageDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID int64  `json:"conversationId"`
	DeletedBy      int64  `json:"deletedBy"`
}

type ReactionPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID int64     `json:"conversationId"`
	UserID         int64     `json:"userId"`
	Emoji          string    `json:"emoji"`
	Removed        bool      `json:"removed"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ReadPayload struct {
	ConversationID int64     `json:"conversationId"`
	UserID         int64     `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
	MessageIDs     []string  `json:"messageIds,omitempty"`
}

type TypingPayload struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
	IsTyping       bool  `json:"isTyping"`
}

type StatusPayload struct {
	UserID   int64      `json:"userId"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// CallerProfile is the public profile attached to an incoming offer
type CallerProfile struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

type SignalPayload struct {
	From           int64           `json:"from"`
	ConversationID int64           `json:"conversationId"`
	CallID         string          `json:"callId,omitempty"`
	CallType       string          `json:"callType,omitempty"`
	Caller         *CallerProfile  `json:"caller,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type CallStatusPayload struct {
	CallID         string `json:"callId"`
	ConversationID int64  `json:"conversationId"`
	Status         string `json:"status"`
	Duration       int    `json:"duration"`
}

type ErrorPayload struct {
	Message         string `json:"message"`
	Code            string `json:"code,omitempty"`
	Event           string `json:"event,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type ReadyPayload struct {
	UserID       int64  `json:"userId"`
	ConnectionID string `json:"connectionId"`
}
