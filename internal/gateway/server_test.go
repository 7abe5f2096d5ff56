package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
	"github.com/imadgeboyega/kiekky-realtime/internal/calls"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/database/dbtest"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
	"github.com/imadgeboyega/kiekky-realtime/internal/events"
	"github.com/imadgeboyega/kiekky-realtime/internal/messaging"
	"github.com/imadgeboyega/kiekky-realtime/internal/users"
)

const testSecret = "gateway-test-secret"

type recordingNotifier struct {
	mu       sync.Mutex
	calls    []*calls.Call
	messages [][]int64
}

func (n *recordingNotifier) IncomingCall(ctx context.Context, call *calls.Call, caller *users.Profile) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call)
}

func (n *recordingNotifier) NewMessage(ctx context.Context, msg *messaging.Message, recipients []int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, recipients)
}

func (n *recordingNotifier) incomingCalls() []*calls.Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*calls.Call(nil), n.calls...)
}

func (n *recordingNotifier) messageRecipients() [][]int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]int64(nil), n.messages...)
}

type harness struct {
	t        *testing.T
	url      string
	calls    calls.Service
	notifier *recordingNotifier
	alice    int64
	bob      int64
	carol    int64
	convID   int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := dbtest.New(t)
	userRepo := users.NewRepository(db)
	presence := users.NewPresenceService(userRepo, nil)
	msgs := messaging.NewService(messaging.NewPostgresRepository(db), userRepo, nil, messaging.Config{})
	callSvc := calls.NewService(calls.NewPostgresRepository(db), nil)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(hub, msgs, callSvc, presence, userRepo, notifier)
	server := NewServer(hub, auth.NewJWTVerifier(testSecret), dispatcher, msgs, presence, ServerConfig{
		AllowedOrigins: []string{"*"},
	})

	router := mux.NewRouter()
	RegisterRoutes(router, server)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	h := &harness{
		t:        t,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		calls:    callSvc,
		notifier: notifier,
		alice:    dbtest.SeedUser(t, db, "alice"),
		bob:      dbtest.SeedUser(t, db, "bob"),
		carol:    dbtest.SeedUser(t, db, "carol"),
	}
	h.convID = dbtest.SeedConversation(t, db, h.alice, h.bob)
	return h
}

func (h *harness) token(userID int64) string {
	token, err := utils.GenerateJWT(&utils.JWTClaims{UserID: userID, Role: "user"}, testSecret)
	require.NoError(h.t, err)
	return token
}

func (h *harness) dial(userID int64) *testConn {
	h.t.Helper()

	header := http.Header{"Authorization": {"Bearer " + h.token(userID)}}
	conn, _, err := websocket.DefaultDialer.Dial(h.url, header)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })

	c := &testConn{t: h.t, conn: conn}
	c.expect(events.ConnectionReady)
	return c
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (c *testConn) emit(eventType string, payload interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(events.MustNew(eventType, payload)))
}

// sync waits until every event emitted so far on this connection has been
// handled. Handling is serial, so the reply to a bogus event comes last.
func (c *testConn) sync() {
	c.t.Helper()
	c.emit("test:sync", struct{}{})
	c.expectWhere(events.Error, func(env events.Envelope) bool {
		return decodeInto[events.ErrorPayload](c.t, env).Event == "test:sync"
	})
}

func (c *testConn) expect(eventType string) events.Envelope {
	c.t.Helper()
	return c.expectWhere(eventType, func(events.Envelope) bool { return true })
}

// expectWhere skips frames until one of eventType satisfies match
func (c *testConn) expectWhere(eventType string, match func(events.Envelope) bool) events.Envelope {
	c.t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var env events.Envelope
		err := c.conn.ReadJSON(&env)
		require.NoError(c.t, err, "waiting for %s", eventType)
		if env.Type == eventType && match(env) {
			return env
		}
	}
}

func decodeInto[T any](t *testing.T, env events.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHandshakeRequiresCredential(t *testing.T) {
	h := newHarness(t)

	_, resp, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": {"Bearer not-a-token"}}
	_, resp, err = websocket.DefaultDialer.Dial(h.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeAcceptsTokenQueryParameter(t *testing.T) {
	h := newHarness(t)

	conn, _, err := websocket.DefaultDialer.Dial(h.url+"?token="+h.token(h.alice), nil)
	require.NoError(t, err)
	defer conn.Close()

	c := &testConn{t: t, conn: conn}
	ready := decodeInto[events.ReadyPayload](t, c.expect(events.ConnectionReady))
	assert.Equal(t, h.alice, ready.UserID)
	assert.NotEmpty(t, ready.ConnectionID)
}

func TestSendReachesEveryMemberWithCorrelationID(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(h.alice)
	bob := h.dial(h.bob)

	alice.emit(events.MessageSend, events.SendMessage{
		ConversationID:  h.convID,
		Content:         "hi",
		ClientMessageID: "tmp-1",
	})

	for _, c := range []*testConn{alice, bob} {
		msg := decodeInto[messaging.Message](t, c.expect(events.MessageReceived))
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, messaging.StatusSent, msg.Status)
		require.NotNil(t, msg.ClientMessageID)
		assert.Equal(t, "tmp-1", *msg.ClientMessageID)
		require.NotNil(t, msg.Sender)
		assert.Equal(t, "alice", msg.Sender.Username)
	}
}

func TestOpenConversationNotifiesReads(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(h.alice)
	bob := h.dial(h.bob)

	alice.emit(events.MessageSend, events.SendMessage{ConversationID: h.convID, Content: "hi"})
	bob.expect(events.MessageReceived)

	bob.emit(events.ConversationOpen, events.ConversationRef{ConversationID: h.convID})

	read := decodeInto[events.ReadPayload](t, alice.expect(events.MessagesRead))
	assert.Equal(t, h.convID, read.ConversationID)
	assert.Equal(t, h.bob, read.UserID)
	assert.False(t, read.ReadAt.IsZero())
}

func TestTypingRelaysToRoomMembersOnly(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(h.alice)
	bob := h.dial(h.bob)
	carol := h.dial(h.carol)

	alice.emit(events.ConversationOpen, events.ConversationRef{ConversationID: h.convID})
	alice.sync()
	bob.emit(events.ConversationOpen, events.ConversationRef{ConversationID: h.convID})
	bob.emit(events.TypingStart, events.ConversationRef{ConversationID: h.convID})

	typing := decodeInto[events.TypingPayload](t, alice.expect(events.UserTyping))
	assert.Equal(t, h.bob, typing.UserID)
	assert.True(t, typing.IsTyping)

	carol.emit(events.TypingStart, events.ConversationRef{ConversationID: h.convID})
	failure := decodeInto[events.ErrorPayload](t, carol.expect(events.Error))
	assert.Equal(t, events.TypingStart, failure.Event)
	assert.Equal(t, "authorization", failure.Code)

	carol.emit(events.ConversationOpen, events.ConversationRef{ConversationID: h.convID})
	failure = decodeInto[events.ErrorPayload](t, carol.expect(events.Error))
	assert.Equal(t, events.ConversationOpen, failure.Event)
}

func TestErrorsGoToOriginOnlyAndKeepConnection(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(h.alice)
	bob := h.dial(h.bob)

	alice.emit(events.MessageSend, events.SendMessage{
		ConversationID:  9999,
		Content:         "lost",
		ClientMessageID: "tmp-404",
	})
	failure := decodeInto[events.ErrorPayload](t, alice.expect(events.Error))
	assert.Equal(t, events.MessageSend, failure.Event)
	assert.Equal(t, "tmp-404", failure.ClientMessageID)
	assert.Equal(t, "not_found", failure.Code)

	alice.emit("bogus:event", struct{}{})
	failure = decodeInto[events.ErrorPayload](t, alice.expect(events.Error))
	assert.Equal(t, "bad_request", failure.Code)

	alice.emit(events.MessageSend, events.SendMessage{ConversationID: h.convID, Content: "still here"})
	msg := decodeInto[messaging.Message](t, bob.expect(events.MessageReceived))
	assert.Equal(t, "still here", msg.Content)
}

func TestEditDeleteAndReactBroadcast(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(h.alice)
	bob := h.dial(h.bob)
	bob.emit(events.ConversationOpen, events.ConversationRef{ConversationID: h.convID})
	bob.sync()

	alice.emit(events.MessageSend, events.SendMessage{ConversationID: h.convID, Content: "helo"})
	sent := decodeInto[messaging.Message](t, bob.expect(events.MessageReceived))

	alice.emit(events.MessageEdit, events.EditMessage{MessageID: sent.ID, ConversationID: h.convID, NewContent: "hello"})
	edited := decodeInto[messaging.Message](t, bob.expect(events.MessageEdited))
	assert.Equal(t, "hello", edited.Content)
	assert.True(t, edited.IsEdited)

	bob.emit(events.MessageEdit, events.EditMessage{MessageID: sent.ID, ConversationID: h.convID, NewContent: "hijack"})
	failure := decodeInto[events.ErrorPayload](t, bob.expect(events.Error))
	assert.Equal(t, "authorization", failure.Code)

	bob.emit(events.MessageReact, events.ReactMessage{MessageID: sent.ID, ConversationID: h.convID, Emoji: "👍"})
	reaction := decodeInto[events.ReactionPayload](t, alice.expect(events.MessageReaction))
	assert.Equal(t, h.bob, reaction.UserID)
	assert.False(t, reaction.Removed)

	bob.emit(events.MessageReact, events.ReactMessage{MessageID: sent.ID, ConversationID: h.convID, Emoji: "👍"})
	reaction = decodeInto[events.ReactionPayload](t, alice.expectWhere(events.MessageReaction, func(env events.Envelope) bool {
		return decodeInto[events.ReactionPayload](t, env).Removed
	}))
	assert.True(t, reaction.Removed)

	alice.emit(events.MessageDelete, events.DeleteMessage{MessageID: sent.ID, ConversationID: h.convID})
	deleted := decodeInto[events.MessageDeletedPayload](t, bob.expect(events.MessageDeleted))
	assert.Equal(t, sent.ID, deleted.MessageID)
	assert.Equal(t, h.alice, deleted.DeletedBy)
}

func TestCallDeclineScenario(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(h.alice)
	bob := h.dial(h.bob)

	alice.emit(events.CallOffer, events.Signal{
		ConversationID: h.convID,
		To:             h.bob,
		CallType:       "AUDIO",
		Payload:        json.RawMessage(`{"sdp":"offer"}`),
	})

	offer := decodeInto[events.SignalPayload](t, bob.expect(events.CallOffer))
	assert.Equal(t, h.alice, offer.From)
	assert.Equal(t, "AUDIO", offer.CallType)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(offer.Payload))
	require.NotNil(t, offer.Caller)
	assert.Equal(t, "alice", offer.Caller.Username)
	require.NotEmpty(t, offer.CallID)

	status := decodeInto[events.CallStatusPayload](t, alice.expect(events.CallStatus))
	assert.Equal(t, string(calls.StatusRinging), status.Status)

	bob.emit(events.CallDecline, events.Signal{ConversationID: h.convID, To: h.alice, CallID: offer.CallID})
	declined := decodeInto[events.SignalPayload](t, alice.expect(events.CallDeclined))
	assert.Equal(t, h.bob, declined.From)

	call, err := h.calls.Get(context.Background(), h.alice, offer.CallID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusDeclined, call.Status)
	assert.NotNil(t, call.EndedAt)
	assert.Equal(t, 0, call.Duration)

	bob.emit(events.CallAnswer, events.Signal{ConversationID: h.convID, To: h.alice, CallID: offer.CallID})
	failure := decodeInto[events.ErrorPayload](t, bob.expect(events.Error))
	assert.Equal(t, "bad_request", failure.Code)
}

func TestCallAnswerIceAndEnd(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(h.alice)
	bob := h.dial(h.bob)

	alice.emit(events.CallOffer, events.Signal{ConversationID: h.convID, To: h.bob, CallType: "VIDEO"})
	offer := decodeInto[events.SignalPayload](t, bob.expect(events.CallOffer))

	bob.emit(events.CallAnswer, events.Signal{
		ConversationID: h.convID,
		To:             h.alice,
		CallID:         offer.CallID,
		Payload:        json.RawMessage(`{"sdp":"answer"}`),
	})
	answer := decodeInto[events.SignalPayload](t, alice.expect(events.CallAnswer))
	assert.JSONEq(t, `{"sdp":"answer"}`, string(answer.Payload))

	alice.emit(events.CallICECandidate, events.Signal{
		ConversationID: h.convID,
		To:             h.bob,
		Payload:        json.RawMessage(`{"candidate":"c1"}`),
	})
	ice := decodeInto[events.SignalPayload](t, bob.expect(events.CallICECandidate))
	assert.Equal(t, offer.CallID, ice.CallID)

	// Signals must target the other party
	alice.emit(events.CallICECandidate, events.Signal{ConversationID: h.convID, To: h.carol})
	failure := decodeInto[events.ErrorPayload](t, alice.expect(events.Error))
	assert.Equal(t, events.CallICECandidate, failure.Event)

	alice.emit(events.CallEnd, events.Signal{ConversationID: h.convID, To: h.bob, CallID: offer.CallID})
	bob.expect(events.CallEnded)

	// The second hang-up is relayed, not rejected
	bob.emit(events.CallEnd, events.Signal{ConversationID: h.convID, To: h.alice, CallID: offer.CallID})
	alice.expect(events.CallEnded)

	call, err := h.calls.Get(context.Background(), h.bob, offer.CallID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusEnded, call.Status)
	assert.NotNil(t, call.StartedAt)
}

func TestOfferToOfflineUserSendsPush(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(h.alice)

	alice.emit(events.CallOffer, events.Signal{ConversationID: h.convID, To: h.bob, CallType: "AUDIO"})
	alice.expect(events.CallStatus)

	require.Eventually(t, func() bool { return len(h.notifier.incomingCalls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, h.bob, h.notifier.incomingCalls()[0].ReceiverID)

	alice.emit(events.MessageSend, events.SendMessage{ConversationID: h.convID, Content: "call me"})
	alice.expect(events.MessageReceived)
	require.Eventually(t, func() bool { return len(h.notifier.messageRecipients()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{h.bob}, h.notifier.messageRecipients()[0])
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(h.alice)
	bob := h.dial(h.bob)

	alice.expectWhere(events.UserStatus, func(env events.Envelope) bool {
		s := decodeInto[events.StatusPayload](t, env)
		return s.UserID == h.bob && s.Status == users.StatusOnline
	})

	require.NoError(t, bob.conn.Close())

	status := decodeInto[events.StatusPayload](t, alice.expectWhere(events.UserStatus, func(env events.Envelope) bool {
		return decodeInto[events.StatusPayload](t, env).UserID == h.bob
	}))
	assert.Equal(t, users.StatusOffline, status.Status)
	assert.NotNil(t, status.LastSeen)
}
