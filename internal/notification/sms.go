// internal/notification/sms.go

package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TwilioSMS sends through the Twilio messages API
type TwilioSMS struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSMS(accountSID, authToken, from string) (*TwilioSMS, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, errors.New("incomplete Twilio configuration")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSMS{client: client, from: from}, nil
}

// SendSMS gives up before calling Twilio once ctx is done. The Twilio
// client takes no context, so a request already in flight runs to completion.
func (s *TwilioSMS) SendSMS(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send sms to %s: %w", to, err)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("send sms to %s: %w", to, err)
	}
	if resp.Sid != nil {
		log.Printf("[notify] sms sent to %s with SID %s", to, *resp.Sid)
	}
	return nil
}

type SMSRecord struct {
	To   string
	Body string
}

// MockSMS logs and records messages instead of sending them
type MockSMS struct {
	mu   sync.Mutex
	Sent []SMSRecord
}

func NewMockSMS() *MockSMS {
	return &MockSMS{}
}

func (m *MockSMS) SendSMS(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SMSRecord{To: to, Body: body})
	log.Printf("[notify] mock sms to %s: %s", to, body)
	return nil
}

func (m *MockSMS) Records() []SMSRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SMSRecord(nil), m.Sent...)
}
