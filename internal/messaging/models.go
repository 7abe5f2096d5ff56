// internal/messaging/models.go

package messaging

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imadgeboyega/kiekky-realtime/internal/users"
)

// Message delivery status
const (
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
)

// Message types
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
	TypeAudio = "audio"
	TypeFile  = "file"
)

// Conversation represents a chat conversation
type Conversation struct {
	ID                 int64      `json:"id" db:"id"`
	Type               string     `json:"type" db:"type"`
	Name               *string    `json:"name,omitempty" db:"name"`
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty" db:"last_message_at"`
	LastMessagePreview *string    `json:"lastMessagePreview,omitempty" db:"last_message_preview"`
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
	UnreadCount        int        `json:"unreadCount" db:"unread_count"`

	ParticipantIDs []int64 `json:"participantIds,omitempty" db:"-"`
}

// Message represents a chat message
type Message struct {
	ID              string     `json:"id" db:"id"`
	ConversationID  int64      `json:"conversationId" db:"conversation_id"`
	SenderID        int64      `json:"senderId" db:"sender_id"`
	Content         string     `json:"content" db:"content"`
	Type            string     `json:"type" db:"message_type"`
	MediaURLs       StringList `json:"mediaUrls" db:"media_urls"`
	Status          string     `json:"status" db:"status"`
	IsEdited        bool       `json:"isEdited" db:"is_edited"`
	EditedAt        *time.Time `json:"editedAt,omitempty" db:"edited_at"`
	PreviousContent *string    `json:"previousContent,omitempty" db:"previous_content"`
	ClientMessageID *string    `json:"clientMessageId,omitempty" db:"client_message_id"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`

	// Computed fields
	Sender    *users.Profile `json:"sender,omitempty" db:"-"`
	ReadBy    []*ReadReceipt `json:"readBy,omitempty" db:"-"`
	Reactions []*Reaction    `json:"reactions,omitempty" db:"-"`
}

// ReadReceipt is unique per (message, user)
type ReadReceipt struct {
	MessageID string    `json:"messageId" db:"message_id"`
	UserID    int64     `json:"userId" db:"user_id"`
	ReadAt    time.Time `json:"readAt" db:"read_at"`
}

// Reaction is unique per (message, user, emoji)
type Reaction struct {
	MessageID string    `json:"messageId" db:"message_id"`
	UserID    int64     `json:"userId" db:"user_id"`
	Emoji     string    `json:"emoji" db:"emoji"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ReactionResult reports which way a toggle went
type ReactionResult struct {
	Reaction       *Reaction `json:"reaction"`
	ConversationID int64     `json:"conversationId"`
	Removed        bool      `json:"removed"`
}

// ReadResult is the outcome of a mark-as-read pass over a conversation
type ReadResult struct {
	ConversationID int64     `json:"conversationId"`
	UserID         int64     `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
	MessageIDs     []string  `json:"messageIds"`
}

// SendMessageRequest is the validated input of a send
type SendMessageRequest struct {
	ConversationID  int64    `json:"conversationId" validate:"required,gt=0"`
	Content         string   `json:"content" validate:"max=4000"`
	Type            string   `json:"type" validate:"omitempty,oneof=text image video audio file"`
	MediaURLs       []string `json:"mediaUrls" validate:"max=10,dive,url"`
	ClientMessageID string   `json:"clientMessageId,omitempty" validate:"omitempty,max=64"`
}

// StringList stores a list of strings as a JSON text column
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// MarshalJSON keeps an empty list as [] rather than null
func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}
