// internal/calls/models.go

package calls

import "time"

type Status string

const (
	StatusInitiating Status = "INITIATING"
	StatusRinging    Status = "RINGING"
	StatusActive     Status = "ACTIVE"
	StatusEnded      Status = "ENDED"
	StatusDeclined   Status = "DECLINED"
	StatusMissed     Status = "MISSED"
	StatusCanceled   Status = "CANCELED"
)

type Type string

const (
	TypeAudio Type = "AUDIO"
	TypeVideo Type = "VIDEO"
)

func (t Type) Valid() bool {
	return t == TypeAudio || t == TypeVideo
}

// Call is a persisted two-party call record
type Call struct {
	ID             string     `json:"id" db:"id"`
	ConversationID int64      `json:"conversationId" db:"conversation_id"`
	CallerID       int64      `json:"callerId" db:"caller_id"`
	ReceiverID     int64      `json:"receiverId" db:"receiver_id"`
	Type           Type       `json:"type" db:"call_type"`
	Status         Status     `json:"status" db:"status"`
	StartedAt      *time.Time `json:"startedAt,omitempty" db:"started_at"`
	EndedAt        *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	Duration       int        `json:"duration" db:"duration"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

// Peer returns the other party of the call
func (c *Call) Peer(userID int64) int64 {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// HasParty reports whether userID is the caller or the receiver
func (c *Call) HasParty(userID int64) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}

type InitiateRequest struct {
	ConversationID int64  `json:"conversationId" validate:"required,gt=0"`
	ReceiverID     int64  `json:"receiverId" validate:"required,gt=0"`
	Type           string `json:"type" validate:"required,oneof=AUDIO VIDEO"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=RINGING ACTIVE ENDED DECLINED MISSED CANCELED"`
}
