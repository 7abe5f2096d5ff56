// internal/notification/models.go

package notification

import "time"

const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
)

// Notification is rendered once and handed to every channel
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// PushToken is a device registration; a token belongs to one user at a time
type PushToken struct {
	Token     string    `json:"token" db:"token"`
	UserID    int64     `json:"userId" db:"user_id"`
	Platform  string    `json:"platform" db:"platform"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type RegisterTokenRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"omitempty,oneof=android ios web"`
}
