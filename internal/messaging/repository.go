// internal/messaging/repository.go

package messaging

import (
	"context"
	"time"
)

type Repository interface {
	// Conversations
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListUserConversations(ctx context.Context, userID int64, limit int) ([]*Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)

	// Messages
	CreateMessage(ctx context.Context, msg *Message, preview string) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID int64, before *time.Time, limit int) ([]*Message, error)
	UpdateMessageContent(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, userID int64) (int64, error)

	// Receipts
	MarkRead(ctx context.Context, conversationID, userID int64, messageIDs []string, readAt time.Time) ([]string, error)
	ListReceipts(ctx context.Context, messageIDs []string) ([]*ReadReceipt, error)

	// Reactions
	ToggleReaction(ctx context.Context, reaction *Reaction) (removed bool, err error)
	ListReactions(ctx context.Context, messageIDs []string) ([]*Reaction, error)
}
