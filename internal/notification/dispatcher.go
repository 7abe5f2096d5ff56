// internal/notification/dispatcher.go
// Reaches users outside the live connection: incoming-call and new-message
// pushes for offline users, and a missed-call notice on every channel.

package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/imadgeboyega/kiekky-realtime/internal/calls"
	"github.com/imadgeboyega/kiekky-realtime/internal/messaging"
	"github.com/imadgeboyega/kiekky-realtime/internal/users"
)

// Directory resolves names for rendering and addresses for SMS and email
type Directory interface {
	GetProfile(ctx context.Context, userID int64) (*users.Profile, error)
	GetContact(ctx context.Context, userID int64) (*users.Contact, error)
}

// Channels left nil are skipped
type Channels struct {
	Push  PushSender
	SMS   SMSSender
	Email EmailSender
}

type Dispatcher struct {
	tokens    TokenRepository
	directory Directory
	channels  Channels
	wg        sync.WaitGroup
}

func NewDispatcher(tokens TokenRepository, directory Directory, channels Channels) *Dispatcher {
	return &Dispatcher{
		tokens:    tokens,
		directory: directory,
		channels:  channels,
	}
}

// NotifyUser fans n out to every configured channel the user can be
// reached on. A failing channel does not stop the others.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID int64, n *Notification) error {
	var errs []error

	if err := d.PushUser(ctx, userID, n); err != nil {
		errs = append(errs, err)
	}

	if d.channels.SMS != nil || d.channels.Email != nil {
		contact, err := d.directory.GetContact(ctx, userID)
		if err != nil {
			errs = append(errs, fmt.Errorf("contact for user %d: %w", userID, err))
			return errors.Join(errs...)
		}
		if d.channels.SMS != nil && contact.Phone != nil && *contact.Phone != "" {
			if err := d.channels.SMS.SendSMS(ctx, *contact.Phone, n.Body); err != nil {
				errs = append(errs, err)
			}
		}
		if d.channels.Email != nil && contact.Email != nil && *contact.Email != "" {
			if err := d.channels.Email.SendEmail(ctx, *contact.Email, n.Title, n.Body); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// PushUser sends to all of the user's devices and forgets tokens the
// provider no longer accepts
func (d *Dispatcher) PushUser(ctx context.Context, userID int64, n *Notification) error {
	if d.channels.Push == nil {
		return nil
	}

	tokens, err := d.tokens.Tokens(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	values := make([]string, len(tokens))
	for i, t := range tokens {
		values[i] = t.Token
	}

	invalid, err := d.channels.Push.SendPush(ctx, values, n)
	for _, t := range invalid {
		log.Printf("[notify] token %s for user %d is not registered, deleting", t, userID)
		if err := d.tokens.DeleteToken(ctx, userID, t); err != nil && !errors.Is(err, ErrTokenNotFound) {
			log.Printf("[notify] delete token for user %d: %v", userID, err)
		}
	}
	return err
}

// IncomingCall rings the callee's devices in the background; Wait drains it
func (d *Dispatcher) IncomingCall(ctx context.Context, call *calls.Call, caller *users.Profile) {
	ringing := *call
	d.background(func() { d.incomingCall(ctx, &ringing, caller) })
}

func (d *Dispatcher) incomingCall(ctx context.Context, call *calls.Call, caller *users.Profile) {
	n := &Notification{
		Title: fmt.Sprintf("Incoming %s call", kind(call)),
		Body:  fmt.Sprintf("%s is calling you", displayName(caller)),
		Data: map[string]string{
			"type":           "incoming_call",
			"callId":         call.ID,
			"conversationId": fmt.Sprint(call.ConversationID),
			"callType":       string(call.Type),
			"callerId":       fmt.Sprint(call.CallerID),
		},
	}
	if err := d.PushUser(ctx, call.ReceiverID, n); err != nil {
		log.Printf("[notify] incoming call push for user %d: %v", call.ReceiverID, err)
	}
}

// NewMessage pushes msg to recipients without a live connection, in the
// background; Wait drains it
func (d *Dispatcher) NewMessage(ctx context.Context, msg *messaging.Message, recipients []int64) {
	d.background(func() { d.newMessage(ctx, msg, recipients) })
}

func (d *Dispatcher) newMessage(ctx context.Context, msg *messaging.Message, recipients []int64) {
	sender := msg.Sender
	if sender == nil {
		if p, err := d.directory.GetProfile(ctx, msg.SenderID); err == nil {
			sender = p
		}
	}

	n := &Notification{
		Title: displayName(sender),
		Body:  messagePreview(msg),
		Data: map[string]string{
			"type":           "new_message",
			"messageId":      msg.ID,
			"conversationId": fmt.Sprint(msg.ConversationID),
			"senderId":       fmt.Sprint(msg.SenderID),
		},
	}
	for _, uid := range recipients {
		if uid == msg.SenderID {
			continue
		}
		if err := d.PushUser(ctx, uid, n); err != nil {
			log.Printf("[notify] message push for user %d: %v", uid, err)
		}
	}
}

// CallTransitioned tells the receiver about calls that rang out. Delivery
// runs in the background so the sweeper is never held up by a provider.
func (d *Dispatcher) CallTransitioned(ctx context.Context, call *calls.Call, from calls.Status) {
	if call.Status != calls.StatusMissed {
		return
	}

	missed := *call
	d.background(func() { d.missedCall(context.Background(), &missed) })
}

func (d *Dispatcher) missedCall(ctx context.Context, call *calls.Call) {
	var caller *users.Profile
	if p, err := d.directory.GetProfile(ctx, call.CallerID); err == nil {
		caller = p
	}

	n := &Notification{
		Title: fmt.Sprintf("Missed %s call", kind(call)),
		Body:  fmt.Sprintf("You missed a call from %s", displayName(caller)),
		Data: map[string]string{
			"type":           "missed_call",
			"callId":         call.ID,
			"conversationId": fmt.Sprint(call.ConversationID),
			"callerId":       fmt.Sprint(call.CallerID),
		},
	}
	if err := d.NotifyUser(ctx, call.ReceiverID, n); err != nil {
		log.Printf("[notify] missed call %s for user %d: %v", call.ID, call.ReceiverID, err)
	}
}

func (d *Dispatcher) background(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Wait blocks until background deliveries have finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func kind(call *calls.Call) string {
	return strings.ToLower(string(call.Type))
}

func displayName(p *users.Profile) string {
	if p == nil {
		return "Someone"
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

func messagePreview(msg *messaging.Message) string {
	switch msg.Type {
	case messaging.TypeImage:
		return "Sent a photo"
	case messaging.TypeVideo:
		return "Sent a video"
	case messaging.TypeAudio:
		return "Sent a voice message"
	case messaging.TypeFile:
		return "Sent a file"
	}

	const previewLen = 120
	if r := []rune(msg.Content); len(r) > previewLen {
		return string(r[:previewLen-1]) + "…"
	}
	return msg.Content
}
