// internal/calls/repository.go

package calls

import (
	"context"
	"time"
)

type Repository interface {
	// Create checks the conversation, both participants and the absence of
	// a live call, then inserts, all in one transaction.
	Create(ctx context.Context, call *Call) error
	Get(ctx context.Context, id string) (*Call, error)
	LiveForConversation(ctx context.Context, conversationID int64) (*Call, error)
	ListLive(ctx context.Context, statuses ...Status) ([]*Call, error)
	History(ctx context.Context, userID int64, limit int) ([]*Call, error)

	// UpdateStatus applies the change only while the row still has status
	// from. It returns false when another writer got there first.
	UpdateStatus(ctx context.Context, call *Call, from Status) (bool, error)
}

// ageOf is split out so the sweeper can be tested without a clock
func ageOf(c *Call, now time.Time) time.Duration {
	return now.Sub(c.UpdatedAt)
}
