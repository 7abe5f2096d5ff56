// internal/gateway/dispatcher.go
// One handler per client event. Errors never close the connection; they
// are answered with an error event to the originating connection only.

package gateway

import (
	"context"
	"log"

	"github.com/imadgeboyega/kiekky-realtime/internal/calls"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
	"github.com/imadgeboyega/kiekky-realtime/internal/events"
	"github.com/imadgeboyega/kiekky-realtime/internal/messaging"
	"github.com/imadgeboyega/kiekky-realtime/internal/users"
)

var (
	ErrUnknownEvent = apperr.BadRequest("unknown event type")
	ErrNotInRoom    = apperr.Authorization("open the conversation before using it")
	ErrWrongPeer    = apperr.BadRequest("signal must target the other party of the call")
	ErrCallNotLive  = apperr.BadRequest("call is not in progress")
	ErrCallMismatch = apperr.BadRequest("call does not belong to this conversation")
)

// Presence is the part of the presence service the gateway drives.
// Connect and Disconnect count connections across every node.
type Presence interface {
	Connect(ctx context.Context, userID int64, connectionID string) (first bool, err error)
	Disconnect(ctx context.Context, userID int64, connectionID string) (last bool, err error)
	SetOnline(ctx context.Context, userID int64) (*users.Presence, error)
	SetOffline(ctx context.Context, userID int64) (*users.Presence, error)
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

type ProfileLookup interface {
	GetProfile(ctx context.Context, userID int64) (*users.Profile, error)
}

// Notifier reaches users that have no live connection. Implementations
// must not block the caller; deliveries run in the background.
type Notifier interface {
	IncomingCall(ctx context.Context, call *calls.Call, caller *users.Profile)
	NewMessage(ctx context.Context, msg *messaging.Message, recipients []int64)
}

type handlerFunc func(ctx context.Context, c *Client, env events.Envelope) error

type Dispatcher struct {
	hub      *Hub
	messages messaging.Service
	calls    calls.Service
	presence Presence
	profiles ProfileLookup
	notifier Notifier

	handlers map[string]handlerFunc
}

// NewDispatcher wires every client event. notifier may be nil.
func NewDispatcher(hub *Hub, messages messaging.Service, callService calls.Service, presence Presence, profiles ProfileLookup, notifier Notifier) *Dispatcher {
	d := &Dispatcher{
		hub:      hub,
		messages: messages,
		calls:    callService,
		presence: presence,
		profiles: profiles,
		notifier: notifier,
	}

	d.handlers = map[string]handlerFunc{
		events.ConversationOpen:  d.openConversation,
		events.ConversationClose: d.closeConversation,
		events.MessageSend:       d.sendMessage,
		events.MessageEdit:       d.editMessage,
		events.MessageDelete:     d.deleteMessage,
		events.MessageReact:      d.reactMessage,
		events.MessageRead:       d.readMessages,
		events.TypingStart:       d.typing(true),
		events.TypingStop:        d.typing(false),
		events.UserOnline:        d.userOnline,
		events.CallOffer:         d.callOffer,
		events.CallAnswer:        d.callAnswer,
		events.CallICECandidate:  d.callICECandidate,
		events.CallDecline:       d.callDecline,
		events.CallEnd:           d.callEnd,
	}

	if callService != nil {
		callService.AddListener(d)
	}
	return d
}

// Handle runs the handler for env and reports failures to c
func (d *Dispatcher) Handle(ctx context.Context, c *Client, env events.Envelope) {
	handler, ok := d.handlers[env.Type]
	if !ok {
		eventsReceived.WithLabelValues("unknown").Inc()
		d.replyError(c, env, ErrUnknownEvent)
		return
	}
	eventsReceived.WithLabelValues(env.Type).Inc()

	if err := handler(ctx, c, env); err != nil {
		d.replyError(c, env, err)
	}
}

func (d *Dispatcher) replyError(c *Client, env events.Envelope, err error) {
	eventErrors.WithLabelValues(env.Type).Inc()

	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		log.Printf("[gateway] %s from user %d failed: %v", env.Type, c.UserID(), err)
	}

	var correlation struct {
		ClientMessageID string `json:"clientMessageId"`
	}
	_ = env.Decode(&correlation)

	c.SendEvent(events.MustNew(events.Error, events.ErrorPayload{
		Message:         apperr.Message(err),
		Code:            kind.String(),
		Event:           env.Type,
		ClientMessageID: correlation.ClientMessageID,
	}))
}

func decode(env events.Envelope, v interface{}) error {
	if err := env.Decode(v); err != nil {
		return apperr.BadRequest("malformed %s payload", env.Type)
	}
	return utils.ValidateStruct(v)
}

// Rooms and presence

func (d *Dispatcher) openConversation(ctx context.Context, c *Client, env events.Envelope) error {
	var req events.ConversationRef
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := d.messages.CheckParticipant(ctx, c.UserID(), req.ConversationID); err != nil {
		return err
	}

	d.hub.Join(c, ConversationRoom(req.ConversationID))

	res, err := d.messages.MarkConversationRead(ctx, c.UserID(), req.ConversationID)
	if err != nil {
		return err
	}
	if len(res.MessageIDs) > 0 {
		d.emitRead(ctx, c, events.MessagesRead, events.ReadPayload{
			ConversationID: res.ConversationID,
			UserID:         res.UserID,
			ReadAt:         res.ReadAt,
		})
	}
	return nil
}

func (d *Dispatcher) closeConversation(ctx context.Context, c *Client, env events.Envelope) error {
	var req events.ConversationRef
	if err := decode(env, &req); err != nil {
		return err
	}
	d.hub.Leave(c, ConversationRoom(req.ConversationID))
	return nil
}

func (d *Dispatcher) typing(isTyping bool) handlerFunc {
	return func(ctx context.Context, c *Client, env events.Envelope) error {
		var req events.ConversationRef
		if err := decode(env, &req); err != nil {
			return err
		}
		room := ConversationRoom(req.ConversationID)
		if !d.hub.InRoom(c, room) {
			return ErrNotInRoom
		}

		d.hub.Emit(room, events.MustNew(events.UserTyping, events.TypingPayload{
			ConversationID: req.ConversationID,
			UserID:         c.UserID(),
			IsTyping:       isTyping,
		}), c)
		return nil
	}
}

func (d *Dispatcher) userOnline(ctx context.Context, c *Client, env events.Envelope) error {
	p, err := d.presence.SetOnline(ctx, c.UserID())
	if err != nil {
		return err
	}
	d.hub.EmitAll(events.MustNew(events.UserStatus, events.StatusPayload{
		UserID:   p.UserID,
		Status:   p.Status,
		LastSeen: p.LastSeen,
	}), nil)
	return nil
}

// Messages

func (d *Dispatcher) sendMessage(ctx context.Context, c *Client, env events.Envelope) error {
	var req events.SendMessage
	if err := env.Decode(&req); err != nil {
		return apperr.BadRequest("malformed %s payload", env.Type)
	}

	msg, err := d.messages.Send(ctx, c.UserID(), &messaging.SendMessageRequest{
		ConversationID:  req.ConversationID,
		Content:         req.Content,
		Type:            req.Type,
		MediaURLs:       req.MediaURLs,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		return err
	}

	room := ConversationRoom(msg.ConversationID)
	d.hub.Join(c, room)

	participants, err := d.messages.ParticipantIDs(ctx, msg.ConversationID)
	if err != nil {
		log.Printf("[gateway] participants of conversation %d: %v", msg.ConversationID, err)
	}

	// Members who have not opened the conversation still get the message
	// on their personal room, once per connection.
	rooms := []string{room}
	for _, uid := range participants {
		rooms = append(rooms, UserRoom(uid))
	}
	d.hub.EmitRooms(rooms, events.MustNew(events.MessageReceived, msg), nil)

	d.notifyOffline(ctx, msg, participants)
	return nil
}

func (d *Dispatcher) notifyOffline(ctx context.Context, msg *messaging.Message, participants []int64) {
	if d.notifier == nil {
		return
	}

	var offline []int64
	for _, uid := range participants {
		if uid == msg.SenderID {
			continue
		}
		online, err := d.presence.IsOnline(ctx, uid)
		if err != nil || online {
			continue
		}
		offline = append(offline, uid)
	}
	if len(offline) > 0 {
		d.notifier.NewMessage(context.Background(), msg, offline)
	}
}

// messageIn fails unless messageID belongs to conversationID
func (d *Dispatcher) messageIn(ctx context.Context, userID int64, messageID string, conversationID int64) error {
	msg, err := d.messages.GetMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if msg.ConversationID != conversationID {
		return messaging.ErrConversationMismatch
	}
	return nil
}

func (d *Dispatcher) editMessage(ctx context.Context, c *Client, env events.Envelope) error {
	var req events.EditMessage
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := d.messageIn(ctx, c.UserID(), req.MessageID, req.ConversationID); err != nil {
		return err
	}

	msg, err := d.messages.Edit(ctx, c.UserID(), req.MessageID, req.NewContent)
	if err != nil {
		return err
	}

	d.hub.Emit(ConversationRoom(msg.ConversationID), events.MustNew(events.MessageEdited, msg), nil)
	return nil
}

func (d *Dispatcher) deleteMessage(ctx context.Context, c *Client, env events.Envelope) error {
	var req events.DeleteMessage
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := d.messageIn(ctx, c.UserID(), req.MessageID, req.ConversationID); err != nil {
		return err
	}

	msg, err := d.messages.Delete(ctx, c.UserID(), req.MessageID)
	if err != nil {
		return err
	}

	d.hub.Emit(ConversationRoom(msg.ConversationID), events.MustNew(events.MessageDeleted, events.MessageDeletedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		DeletedBy:      c.UserID(),
	}), nil)
	return nil
}

func (d *Dispatcher) reactMessage(ctx context.Context, c *Client, env events.Envelope) error {
	var req events.ReactMessage
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := d.messageIn(ctx, c.UserID(), req.MessageID, req.ConversationID); err != nil {
		return err
	}

	res, err := d.messages.React(ctx, c.UserID(), req.MessageID, req.Emoji)
	if err != nil {
		return err
	}

	d.hub.Emit(ConversationRoom(res.ConversationID), events.MustNew(events.MessageReaction, events.ReactionPayload{
		MessageID:      res.Reaction.MessageID,
		ConversationID: res.ConversationID,
		UserID:         res.Reaction.UserID,
		Emoji:          res.Reaction.Emoji,
		Removed:        res.Removed,
		CreatedAt:      res.Reaction.CreatedAt,
	}), nil)
	return nil
}

// readMessages marks the listed messages read, or the whole conversation
// when no ids are given
func (d *Dispatcher) readMessages(ctx context.Context, c *Client, env events.Envelope) error {
	var req events.ReadMessages
	if err := decode(env, &req); err != nil {
		return err
	}

	if len(req.MessageIDs) == 0 {
		res, err := d.messages.MarkConversationRead(ctx, c.UserID(), req.ConversationID)
		if err != nil {
			return err
		}
		if len(res.MessageIDs) > 0 {
			d.emitRead(ctx, c, events.MessagesRead, events.ReadPayload{
				ConversationID: res.ConversationID,
				UserID:         res.UserID,
				ReadAt:         res.ReadAt,
			})
		}
		return nil
	}

	res, err := d.messages.MarkMessagesRead(ctx, c.UserID(), req.ConversationID, req.MessageIDs)
	if err != nil {
		return err
	}
	if len(res.MessageIDs) > 0 {
		d.emitRead(ctx, c, events.UserReadReceipt, events.ReadPayload{
			ConversationID: res.ConversationID,
			UserID:         res.UserID,
			ReadAt:         res.ReadAt,
			MessageIDs:     res.MessageIDs,
		})
	}
	return nil
}

// emitRead tells the conversation room and every other participant's
// personal room, so senders learn about reads without opening the room
func (d *Dispatcher) emitRead(ctx context.Context, c *Client, eventType string, payload events.ReadPayload) {
	rooms := []string{ConversationRoom(payload.ConversationID)}
	participants, err := d.messages.ParticipantIDs(ctx, payload.ConversationID)
	if err != nil {
		log.Printf("[gateway] participants of conversation %d: %v", payload.ConversationID, err)
	}
	for _, uid := range participants {
		if uid != c.UserID() {
			rooms = append(rooms, UserRoom(uid))
		}
	}
	d.hub.EmitRooms(rooms, events.MustNew(eventType, payload), c)
}
