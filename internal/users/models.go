// internal/users/models.go

package users

import "time"

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Profile is the public view of a user attached to calls and messages
type Profile struct {
	ID          int64   `json:"id" db:"id"`
	Username    string  `json:"username" db:"username"`
	DisplayName string  `json:"displayName" db:"display_name"`
	AvatarURL   *string `json:"avatarUrl,omitempty" db:"avatar_url"`
}

// Contact holds the private delivery addresses used for notifications
type Contact struct {
	UserID int64   `db:"id"`
	Email  *string `db:"email"`
	Phone  *string `db:"phone"`
}

// Presence is the persisted status of a user
type Presence struct {
	UserID   int64      `json:"userId" db:"id"`
	Status   string     `json:"status" db:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty" db:"last_seen"`
}
