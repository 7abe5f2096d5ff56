package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
)

const secret = "test-secret"

func issue(t *testing.T, claims *utils.JWTClaims) string {
	t.Helper()
	token, err := utils.GenerateJWT(claims, secret)
	require.NoError(t, err)
	return token
}

func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier(secret)
	ctx := context.Background()

	identity, err := v.Verify(ctx, issue(t, &utils.JWTClaims{UserID: 7, Email: "b@example.com"}))
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: 7, Email: "b@example.com", Role: "user"}, identity)

	identity, err = v.Verify(ctx, issue(t, &utils.JWTClaims{UserID: 8, Role: "admin"}))
	require.NoError(t, err)
	assert.Equal(t, "admin", identity.Role)

	_, err = v.Verify(ctx, "")
	assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))

	_, err = v.Verify(ctx, "garbage")
	assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))

	_, err = v.Verify(ctx, issue(t, &utils.JWTClaims{UserID: 7, Type: "refresh"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header http.Header
		want   string
	}{
		{"query field", "/ws?token=abc", nil, "abc"},
		{"authorization header", "/ws", http.Header{"Authorization": {"Bearer xyz"}}, "xyz"},
		{"lowercase scheme", "/ws", http.Header{"Authorization": {"bearer xyz"}}, "xyz"},
		{"subprotocol", "/ws", http.Header{"Sec-Websocket-Protocol": {"bearer, tok"}}, "tok"},
		{"query wins over header", "/ws?token=abc", http.Header{"Authorization": {"Bearer xyz"}}, "abc"},
		{"basic scheme ignored", "/ws", http.Header{"Authorization": {"Basic Zm9vOmJhcg=="}}, ""},
		{"nothing", "/ws", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			for k, v := range tt.header {
				r.Header[http.CanonicalHeaderKey(k)] = v
			}
			assert.Equal(t, tt.want, ExtractToken(r))
		})
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	m := NewMiddleware(NewJWTVerifier(secret))

	var seen *Identity
	h := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, &utils.JWTClaims{UserID: 3}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, int64(3), seen.UserID)
}
