package notification

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
	"github.com/imadgeboyega/kiekky-realtime/internal/calls"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/database/dbtest"
	"github.com/imadgeboyega/kiekky-realtime/internal/messaging"
	"github.com/imadgeboyega/kiekky-realtime/internal/users"
)

type fixture struct {
	db     *sqlx.DB
	tokens TokenRepository
	push   *MockPush
	sms    *MockSMS
	email  *MockEmail
	d      *Dispatcher
	alice  int64
	bob    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := dbtest.New(t)
	f := &fixture{
		db:     db,
		tokens: NewTokenRepository(db),
		push:   NewMockPush(),
		sms:    NewMockSMS(),
		email:  NewMockEmail(),
		alice:  dbtest.SeedUser(t, db, "alice"),
		bob:    dbtest.SeedUser(t, db, "bob"),
	}
	f.d = NewDispatcher(f.tokens, users.NewRepository(db), Channels{
		Push:  f.push,
		SMS:   f.sms,
		Email: f.email,
	})
	return f
}

func TestTokenRepository(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.tokens.SaveToken(ctx, f.alice, "device-1", "")
	require.NoError(t, err)
	assert.Equal(t, PlatformAndroid, tok.Platform)

	_, err = f.tokens.SaveToken(ctx, f.alice, "device-2", PlatformIOS)
	require.NoError(t, err)

	list, err := f.tokens.Tokens(ctx, f.alice)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// Re-registering on another account moves the token
	_, err = f.tokens.SaveToken(ctx, f.bob, "device-1", PlatformAndroid)
	require.NoError(t, err)

	list, err = f.tokens.Tokens(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "device-2", list[0].Token)

	// Users can only remove their own tokens
	assert.ErrorIs(t, f.tokens.DeleteToken(ctx, f.alice, "device-1"), ErrTokenNotFound)
	require.NoError(t, f.tokens.DeleteToken(ctx, f.bob, "device-1"))

	list, err = f.tokens.Tokens(ctx, f.bob)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPushUserForgetsUnregisteredTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tok := range []string{"good", "stale"} {
		_, err := f.tokens.SaveToken(ctx, f.bob, tok, PlatformAndroid)
		require.NoError(t, err)
	}
	f.push.Invalid["stale"] = true

	require.NoError(t, f.d.PushUser(ctx, f.bob, &Notification{Title: "hi"}))

	records := f.push.Records()
	require.Len(t, records, 1)
	assert.ElementsMatch(t, []string{"good", "stale"}, records[0].Tokens)

	list, err := f.tokens.Tokens(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].Token)
}

func TestPushUserWithoutTokensSendsNothing(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.d.PushUser(context.Background(), f.bob, &Notification{Title: "hi"}))
	assert.Empty(t, f.push.Records())
}

func TestNotifyUserReachesEveryChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tokens.SaveToken(ctx, f.bob, "bob-phone", PlatformIOS)
	require.NoError(t, err)

	require.NoError(t, f.d.NotifyUser(ctx, f.bob, &Notification{Title: "Subject", Body: "Body"}))

	assert.Len(t, f.push.Records(), 1)
	assert.Equal(t, []SMSRecord{{To: "+15550000000", Body: "Body"}}, f.sms.Records())
	assert.Equal(t, []EmailRecord{{To: "bob@example.com", Subject: "Subject", Body: "Body"}}, f.email.Records())
}

func TestNotifyUserSkipsUnconfiguredChannels(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.tokens, users.NewRepository(f.db), Channels{Email: f.email})

	require.NoError(t, d.NotifyUser(context.Background(), f.bob, &Notification{Title: "T", Body: "B"}))
	assert.Len(t, f.email.Records(), 1)
	assert.Empty(t, f.sms.Records())
	assert.Empty(t, f.push.Records())
}

func TestIncomingCallPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tokens.SaveToken(ctx, f.bob, "bob-phone", PlatformAndroid)
	require.NoError(t, err)

	call := &calls.Call{ID: "call-1", ConversationID: 7, CallerID: f.alice, ReceiverID: f.bob, Type: calls.TypeVideo}
	f.d.IncomingCall(ctx, call, &users.Profile{ID: f.alice, Username: "alice", DisplayName: "Alice"})
	f.d.Wait()

	records := f.push.Records()
	require.Len(t, records, 1)
	n := records[0].Notification
	assert.Equal(t, "Incoming video call", n.Title)
	assert.Equal(t, "Alice is calling you", n.Body)
	assert.Equal(t, "incoming_call", n.Data["type"])
	assert.Equal(t, "call-1", n.Data["callId"])
	assert.Equal(t, "7", n.Data["conversationId"])
	assert.Empty(t, f.sms.Records())
}

func TestNewMessagePushSkipsSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, uid := range []int64{f.alice, f.bob} {
		_, err := f.tokens.SaveToken(ctx, uid, fmt.Sprintf("device-%d", uid), PlatformAndroid)
		require.NoError(t, err)
	}

	msg := &messaging.Message{ID: "m1", ConversationID: 3, SenderID: f.alice, Type: messaging.TypeImage}
	f.d.NewMessage(ctx, msg, []int64{f.alice, f.bob})
	f.d.Wait()

	records := f.push.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].Notification.Title)
	assert.Equal(t, "Sent a photo", records[0].Notification.Body)
}

// gatedPush holds every push until release is closed
type gatedPush struct {
	*MockPush
	release chan struct{}
}

func (g *gatedPush) SendPush(ctx context.Context, tokens []string, n *Notification) ([]string, error) {
	<-g.release
	return g.MockPush.SendPush(ctx, tokens, n)
}

func TestWaitDrainsCallAndMessageNotices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tokens.SaveToken(ctx, f.bob, "bob-phone", PlatformIOS)
	require.NoError(t, err)

	push := &gatedPush{MockPush: f.push, release: make(chan struct{})}
	d := NewDispatcher(f.tokens, users.NewRepository(f.db), Channels{Push: push})

	// neither call may hold up the gateway while the provider is slow
	d.IncomingCall(ctx, &calls.Call{ID: "c1", CallerID: f.alice, ReceiverID: f.bob, Type: calls.TypeAudio}, nil)
	d.NewMessage(ctx, &messaging.Message{ID: "m1", SenderID: f.alice, Type: messaging.TypeText, Content: "hi"}, []int64{f.bob})

	drained := make(chan struct{})
	go func() {
		d.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("Wait returned while notices were still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(push.release)
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after delivery")
	}
	assert.Len(t, f.push.Records(), 2)
}

func TestMessagePreviewTruncates(t *testing.T) {
	long := strings.Repeat("ü", 200)
	preview := messagePreview(&messaging.Message{Type: messaging.TypeText, Content: long})
	assert.Equal(t, 120, len([]rune(preview)))
	assert.True(t, strings.HasSuffix(preview, "…"))

	assert.Equal(t, "hey", messagePreview(&messaging.Message{Type: messaging.TypeText, Content: "hey"}))
}

func TestMissedCallNotifiesReceiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := dbtest.SeedConversation(t, f.db, f.alice, f.bob)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := calls.NewService(calls.NewPostgresRepository(f.db), func() time.Time { return now })
	svc.AddListener(f.d)

	call, err := svc.Initiate(ctx, f.alice, &calls.InitiateRequest{
		ConversationID: convID,
		ReceiverID:     f.bob,
		Type:           string(calls.TypeAudio),
	})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, f.alice, call.ID, calls.StatusRinging)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	expired, err := svc.ExpireStale(ctx, 45*time.Second, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	f.d.Wait()

	sms := f.sms.Records()
	require.Len(t, sms, 1)
	assert.Equal(t, "You missed a call from alice", sms[0].Body)

	mails := f.email.Records()
	require.Len(t, mails, 1)
	assert.Equal(t, "bob@example.com", mails[0].To)
	assert.Equal(t, "Missed audio call", mails[0].Subject)
}

func TestOtherTransitionsAreIgnored(t *testing.T) {
	f := newFixture(t)

	f.d.CallTransitioned(context.Background(), &calls.Call{Status: calls.StatusDeclined, ReceiverID: f.bob}, calls.StatusRinging)
	f.d.Wait()

	assert.Empty(t, f.sms.Records())
	assert.Empty(t, f.email.Records())
}

func TestPushTokenRoutes(t *testing.T) {
	f := newFixture(t)

	withUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{UserID: f.alice, Role: "user"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	router := mux.NewRouter()
	RegisterRoutes(router, NewHandler(f.tokens), withUser)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/push-tokens",
		strings.NewReader(`{"token":"alice-phone","platform":"ios"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/push-tokens",
		strings.NewReader(`{"token":"x","platform":"symbian"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list, err := f.tokens.Tokens(context.Background(), f.alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, PlatformIOS, list[0].Platform)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/push-tokens/alice-phone", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/push-tokens/alice-phone", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
