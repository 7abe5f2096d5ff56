package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
)

const testSecret = "test-secret"

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(&JWTClaims{UserID: 42, Email: "a@example.com", Role: "user"}, testSecret)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
	assert.Equal(t, "access", claims.Type)
}

func TestValidateJWTRejects(t *testing.T) {
	good, err := GenerateJWT(&JWTClaims{UserID: 1}, testSecret)
	require.NoError(t, err)

	expired, err := GenerateJWT(&JWTClaims{UserID: 1, ExpiresAt: time.Now().Add(-time.Minute).Unix()}, testSecret)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", good, "other"},
		{"expired", expired, testSecret},
		{"missing user id", noSubject, testSecret},
		{"garbage", "not-a-jwt", testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateJWT(tt.token, tt.secret)
			assert.Error(t, err)
		})
	}
}

func TestValidateStruct(t *testing.T) {
	type payload struct {
		ConversationID int64  `json:"conversationId" validate:"required,gt=0"`
		Emoji          string `json:"emoji" validate:"required,max=16"`
	}

	err := ValidateStruct(&payload{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	assert.Contains(t, err.Error(), "ConversationID is required")
	assert.Contains(t, err.Error(), "Emoji is required")

	assert.NoError(t, ValidateStruct(&payload{ConversationID: 1, Emoji: "👍"}))
}

func TestRespondWithAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithAppError(rec, apperr.NotFound("call not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "call not found", body.Error)
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Name string `json:"name" validate:"required"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":""}`))
	var b body
	err := DecodeJSON(req, &b)
	assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.True(t, apperr.IsKind(DecodeJSON(req, &b), apperr.KindBadRequest))
}
