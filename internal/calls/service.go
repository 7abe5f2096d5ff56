// internal/calls/service.go

package calls

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
)

var (
	ErrCallNotFound           = apperr.NotFound("call not found")
	ErrConversationNotFound   = apperr.NotFound("conversation not found")
	ErrCallerNotParticipant   = apperr.Authorization("caller is not a participant in this conversation")
	ErrReceiverNotParticipant = apperr.BadRequest("receiver is not a participant in this conversation")
	ErrSelfCall               = apperr.BadRequest("cannot call yourself")
	ErrInvalidCallType        = apperr.BadRequest("call type must be AUDIO or VIDEO")
	ErrLiveCallExists         = apperr.BadRequest("conversation already has a call in progress")
	ErrIllegalTransition      = apperr.BadRequest("illegal call status transition")
	ErrNotCallParty           = apperr.Authorization("not a party to this call")
	ErrWrongParty             = apperr.Authorization("this party cannot make that transition")
)

// SystemActor drives transitions that no user asked for, such as timeouts
const SystemActor int64 = 0

// Listener is told about every committed transition, whatever drove it
type Listener interface {
	CallTransitioned(ctx context.Context, call *Call, from Status)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ctx context.Context, call *Call, from Status)

func (f ListenerFunc) CallTransitioned(ctx context.Context, call *Call, from Status) {
	f(ctx, call, from)
}

type Service interface {
	Initiate(ctx context.Context, callerID int64, req *InitiateRequest) (*Call, error)
	Transition(ctx context.Context, actorID int64, callID string, to Status) (*Call, error)
	End(ctx context.Context, actorID int64, callID string) (*Call, error)
	Get(ctx context.Context, userID int64, callID string) (*Call, error)
	ActiveForConversation(ctx context.Context, conversationID int64) (*Call, error)
	History(ctx context.Context, userID int64, limit int) ([]*Call, error)
	ExpireStale(ctx context.Context, ringTimeout, initiateTimeout time.Duration) ([]*Call, error)
	AddListener(l Listener)
}

type service struct {
	repo Repository
	now  func() time.Time

	mu        sync.RWMutex
	listeners []Listener
}

// NewService creates the call coordinator. now may be nil.
func NewService(repo Repository, now func() time.Time) Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{repo: repo, now: now}
}

func (s *service) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Initiate creates a call in INITIATING. The repository enforces the
// one-live-call rule transactionally, backed by a partial unique index.
func (s *service) Initiate(ctx context.Context, callerID int64, req *InitiateRequest) (*Call, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	callType := Type(req.Type)
	if !callType.Valid() {
		return nil, ErrInvalidCallType
	}
	if callerID == req.ReceiverID {
		return nil, ErrSelfCall
	}

	now := s.now()
	call := &Call{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		CallerID:       callerID,
		ReceiverID:     req.ReceiverID,
		Type:           callType,
		Status:         StatusInitiating,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, call); err != nil {
		return nil, err
	}

	callsInitiated.WithLabelValues(string(callType)).Inc()
	log.Printf("[calls] %s call %s initiated by %d to %d", call.Type, call.ID, callerID, req.ReceiverID)
	return call, nil
}

// Transition moves a call along the state machine. actorID must be a party
// to the call unless it is SystemActor.
func (s *service) Transition(ctx context.Context, actorID int64, callID string, to Status) (*Call, error) {
	if !to.Valid() {
		return nil, ErrIllegalTransition
	}

	call, err := s.repo.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := authorize(call, actorID, to); err != nil {
		return nil, err
	}

	return s.apply(ctx, call, to)
}

// End hangs up: the target status depends on how far the call got
func (s *service) End(ctx context.Context, actorID int64, callID string) (*Call, error) {
	call, err := s.repo.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if actorID != SystemActor && !call.HasParty(actorID) {
		return nil, ErrNotCallParty
	}

	to, ok := EndStatusFor(call.Status)
	if !ok {
		return nil, ErrIllegalTransition
	}
	if to == StatusCanceled && actorID != SystemActor && actorID != call.CallerID {
		// nothing has been offered to the receiver yet
		return nil, ErrWrongParty
	}

	return s.apply(ctx, call, to)
}

func (s *service) apply(ctx context.Context, call *Call, to Status) (*Call, error) {
	from := call.Status
	if !CanTransition(from, to) {
		return nil, ErrIllegalTransition.Wrap(fmt.Errorf("%s -> %s", from, to))
	}

	now := s.now()
	next := *call
	next.Status = to
	next.UpdatedAt = now

	switch {
	case to == StatusActive:
		next.StartedAt = &now
	case to.IsTerminal():
		next.EndedAt = &now
		next.Duration = 0
		if next.StartedAt != nil {
			next.Duration = int(now.Sub(*next.StartedAt) / time.Second)
		}
	}

	ok, err := s.repo.UpdateStatus(ctx, &next, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else moved the call between our read and write
		return nil, ErrIllegalTransition.Wrap(fmt.Errorf("%s changed concurrently", call.ID))
	}

	recordTransition(&next)
	log.Printf("[calls] call %s %s -> %s", next.ID, from, to)
	s.notify(ctx, &next, from)
	return &next, nil
}

func (s *service) notify(ctx context.Context, call *Call, from Status) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		l.CallTransitioned(ctx, call, from)
	}
}

func (s *service) Get(ctx context.Context, userID int64, callID string) (*Call, error) {
	call, err := s.repo.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.HasParty(userID) {
		return nil, ErrNotCallParty
	}
	return call, nil
}

// ActiveForConversation returns the live call or ErrCallNotFound
func (s *service) ActiveForConversation(ctx context.Context, conversationID int64) (*Call, error) {
	return s.repo.LiveForConversation(ctx, conversationID)
}

func (s *service) History(ctx context.Context, userID int64, limit int) ([]*Call, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.History(ctx, userID, limit)
}

// ExpireStale moves RINGING calls older than ringTimeout to MISSED and
// INITIATING calls older than initiateTimeout to CANCELED. Age is measured
// from the last status change.
func (s *service) ExpireStale(ctx context.Context, ringTimeout, initiateTimeout time.Duration) ([]*Call, error) {
	live, err := s.repo.ListLive(ctx, StatusInitiating, StatusRinging)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var expired []*Call
	for _, call := range live {
		var to Status
		switch {
		case call.Status == StatusRinging && ageOf(call, now) >= ringTimeout:
			to = StatusMissed
		case call.Status == StatusInitiating && ageOf(call, now) >= initiateTimeout:
			to = StatusCanceled
		default:
			continue
		}

		next, err := s.apply(ctx, call, to)
		if apperr.IsKind(err, apperr.KindBadRequest) {
			// Answered or hung up meanwhile
			continue
		}
		if err != nil {
			return expired, err
		}
		expired = append(expired, next)
	}
	return expired, nil
}

func authorize(call *Call, actorID int64, to Status) error {
	if actorID == SystemActor {
		return nil
	}
	if !call.HasParty(actorID) {
		return ErrNotCallParty
	}
	switch roleFor(to) {
	case RoleCaller:
		if actorID != call.CallerID {
			return ErrWrongParty
		}
	case RoleReceiver:
		if actorID != call.ReceiverID {
			return ErrWrongParty
		}
	}
	return nil
}
