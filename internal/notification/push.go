// internal/notification/push.go

package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// PushSender delivers to device tokens. Tokens the provider reports as
// unregistered come back in invalid so the caller can forget them.
type PushSender interface {
	SendPush(ctx context.Context, tokens []string, n *Notification) (invalid []string, err error)
}

// FCMPush sends through Firebase Cloud Messaging
type FCMPush struct {
	client *messaging.Client
}

func NewFCMPush(ctx context.Context, credentialsFile string) (*FCMPush, error) {
	if credentialsFile == "" {
		return nil, errors.New("firebase credentials file is required")
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	return &FCMPush{client: client}, nil
}

func (s *FCMPush) SendPush(ctx context.Context, tokens []string, n *Notification) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	data := make(map[string]string, len(n.Data)+2)
	for k, v := range n.Data {
		data[k] = v
	}
	data["title"] = n.Title
	data["body"] = n.Body

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:       "default",
				ClickAction: "FLUTTER_NOTIFICATION_CLICK",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: n.Title, Body: n.Body},
					Sound: "default",
				},
			},
		},
	}

	resp, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("send push: %w", err)
	}

	var invalid []string
	for i, r := range resp.Responses {
		if r.Error == nil {
			continue
		}
		if messaging.IsRegistrationTokenNotRegistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			invalid = append(invalid, tokens[i])
			continue
		}
		log.Printf("[notify] push to token %s failed: %v", tokens[i], r.Error)
	}

	if resp.FailureCount > 0 {
		log.Printf("[notify] %d of %d pushes failed", resp.FailureCount, len(tokens))
	}
	return invalid, nil
}

// MockPush logs and records pushes for development and tests
type MockPush struct {
	mu   sync.Mutex
	Sent []PushRecord
	// Invalid tokens are reported back as unregistered
	Invalid map[string]bool
}

type PushRecord struct {
	Tokens       []string
	Notification *Notification
}

func NewMockPush() *MockPush {
	return &MockPush{Invalid: make(map[string]bool)}
}

func (m *MockPush) SendPush(ctx context.Context, tokens []string, n *Notification) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var invalid []string
	for _, t := range tokens {
		if m.Invalid[t] {
			invalid = append(invalid, t)
		}
	}
	m.Sent = append(m.Sent, PushRecord{Tokens: tokens, Notification: n})
	log.Printf("[notify] mock push to %d devices: %s", len(tokens), n.Title)
	return invalid, nil
}

func (m *MockPush) Records() []PushRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PushRecord(nil), m.Sent...)
}
