// internal/gateway/signaling.go
// Call relay. SDP and ICE payloads pass through untouched; offer, answer,
// decline and end also drive the call record through its state machine.

package gateway

import (
	"context"
	"errors"
	"log"

	"github.com/imadgeboyega/kiekky-realtime/internal/calls"
	"github.com/imadgeboyega/kiekky-realtime/internal/events"
	"github.com/imadgeboyega/kiekky-realtime/internal/users"
)

// CallTransitioned tells both parties about every committed status change,
// including the ones the sweeper makes
func (d *Dispatcher) CallTransitioned(ctx context.Context, call *calls.Call, from calls.Status) {
	d.hub.EmitRooms(
		[]string{UserRoom(call.CallerID), UserRoom(call.ReceiverID)},
		events.MustNew(events.CallStatus, events.CallStatusPayload{
			CallID:         call.ID,
			ConversationID: call.ConversationID,
			Status:         string(call.Status),
			Duration:       call.Duration,
		}),
		nil,
	)
}

// resolveCall finds the call a signal refers to and checks that the
// sender and the target are its two parties
func (d *Dispatcher) resolveCall(ctx context.Context, userID int64, sig *events.Signal) (*calls.Call, error) {
	var (
		call *calls.Call
		err  error
	)
	if sig.CallID != "" {
		call, err = d.calls.Get(ctx, userID, sig.CallID)
		if err != nil {
			return nil, err
		}
		if call.ConversationID != sig.ConversationID {
			return nil, ErrCallMismatch
		}
	} else {
		call, err = d.calls.ActiveForConversation(ctx, sig.ConversationID)
		if err != nil {
			return nil, err
		}
		if !call.HasParty(userID) {
			return nil, calls.ErrNotCallParty
		}
	}

	if call.Peer(userID) != sig.To {
		return nil, ErrWrongPeer
	}
	return call, nil
}

func (d *Dispatcher) relay(eventType string, from int64, call *calls.Call, sig *events.Signal, caller *events.CallerProfile) {
	d.hub.EmitToUser(sig.To, events.MustNew(eventType, events.SignalPayload{
		From:           from,
		ConversationID: call.ConversationID,
		CallID:         call.ID,
		CallType:       string(call.Type),
		Caller:         caller,
		Payload:        sig.Payload,
	}))
}

// callOffer creates the call when none is live, moves it to RINGING and
// hands the offer to the callee. Offers on a ringing or active call are
// renegotiations and are only relayed.
func (d *Dispatcher) callOffer(ctx context.Context, c *Client, env events.Envelope) error {
	var sig events.Signal
	if err := decode(env, &sig); err != nil {
		return err
	}

	call, err := d.resolveCall(ctx, c.UserID(), &sig)
	if errors.Is(err, calls.ErrCallNotFound) && sig.CallID == "" {
		callType := sig.CallType
		if callType == "" {
			callType = string(calls.TypeAudio)
		}
		call, err = d.calls.Initiate(ctx, c.UserID(), &calls.InitiateRequest{
			ConversationID: sig.ConversationID,
			ReceiverID:     sig.To,
			Type:           callType,
		})
	}
	if err != nil {
		return err
	}

	if call.Status == calls.StatusInitiating {
		call, err = d.calls.Transition(ctx, c.UserID(), call.ID, calls.StatusRinging)
		if err != nil {
			return err
		}
	}

	profile, err := d.profiles.GetProfile(ctx, c.UserID())
	if err != nil {
		log.Printf("[gateway] caller profile for user %d: %v", c.UserID(), err)
	}
	d.relay(events.CallOffer, c.UserID(), call, &sig, callerProfile(profile))

	if d.notifier != nil && call.Status == calls.StatusRinging {
		if online, err := d.presence.IsOnline(ctx, sig.To); err == nil && !online {
			d.notifier.IncomingCall(context.Background(), call, profile)
		}
	}
	return nil
}

func (d *Dispatcher) callAnswer(ctx context.Context, c *Client, env events.Envelope) error {
	var sig events.Signal
	if err := decode(env, &sig); err != nil {
		return err
	}
	call, err := d.resolveCall(ctx, c.UserID(), &sig)
	if err != nil {
		return err
	}

	switch call.Status {
	case calls.StatusRinging:
		call, err = d.calls.Transition(ctx, c.UserID(), call.ID, calls.StatusActive)
		if err != nil {
			return err
		}
	case calls.StatusActive:
		// renegotiation
	default:
		return ErrCallNotLive
	}

	d.relay(events.CallAnswer, c.UserID(), call, &sig, nil)
	return nil
}

func (d *Dispatcher) callICECandidate(ctx context.Context, c *Client, env events.Envelope) error {
	var sig events.Signal
	if err := decode(env, &sig); err != nil {
		return err
	}
	call, err := d.resolveCall(ctx, c.UserID(), &sig)
	if err != nil {
		return err
	}
	if !call.Status.IsLive() {
		return ErrCallNotLive
	}

	d.relay(events.CallICECandidate, c.UserID(), call, &sig, nil)
	return nil
}

func (d *Dispatcher) callDecline(ctx context.Context, c *Client, env events.Envelope) error {
	var sig events.Signal
	if err := decode(env, &sig); err != nil {
		return err
	}
	call, err := d.resolveCall(ctx, c.UserID(), &sig)
	if err != nil {
		return err
	}

	call, err = d.calls.Transition(ctx, c.UserID(), call.ID, calls.StatusDeclined)
	if err != nil {
		return err
	}

	d.relay(events.CallDeclined, c.UserID(), call, &sig, nil)
	return nil
}

// callEnd hangs up. Both peers may signal end for the same call, so ending
// a call that is already over only relays.
func (d *Dispatcher) callEnd(ctx context.Context, c *Client, env events.Envelope) error {
	var sig events.Signal
	if err := decode(env, &sig); err != nil {
		return err
	}
	call, err := d.resolveCall(ctx, c.UserID(), &sig)
	if err != nil {
		return err
	}

	if !call.Status.IsTerminal() {
		call, err = d.calls.End(ctx, c.UserID(), call.ID)
		if err != nil {
			return err
		}
	}

	d.relay(events.CallEnded, c.UserID(), call, &sig, nil)
	return nil
}

func callerProfile(p *users.Profile) *events.CallerProfile {
	if p == nil {
		return nil
	}
	return &events.CallerProfile{
		ID:          p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
	}
}
