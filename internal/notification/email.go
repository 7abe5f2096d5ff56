// internal/notification/email.go

package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SendGridEmail sends plain text mail through the SendGrid v3 API
type SendGridEmail struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridEmail(apiKey, fromAddress, fromName string) (*SendGridEmail, error) {
	if apiKey == "" {
		return nil, errors.New("SendGrid API key is required")
	}
	return &SendGridEmail{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
	}, nil
}

func (s *SendGridEmail) SendEmail(ctx context.Context, to, subject, body string) error {
	message := mail.NewSingleEmailPlainText(s.from, subject, mail.NewEmail("", to), body)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("send email to %s: sendgrid status %d: %s", to, resp.StatusCode, resp.Body)
	}
	return nil
}

type EmailRecord struct {
	To      string
	Subject string
	Body    string
}

// MockEmail logs and records mail instead of sending it
type MockEmail struct {
	mu   sync.Mutex
	Sent []EmailRecord
}

func NewMockEmail() *MockEmail {
	return &MockEmail{}
}

func (m *MockEmail) SendEmail(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, EmailRecord{To: to, Subject: subject, Body: body})
	log.Printf("[notify] mock email to %s: %s", to, subject)
	return nil
}

func (m *MockEmail) Records() []EmailRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmailRecord(nil), m.Sent...)
}
