package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"authentication", Authentication("missing token"), KindAuthentication, http.StatusUnauthorized},
		{"authorization", Authorization("not a participant"), KindAuthorization, http.StatusForbidden},
		{"bad request", BadRequest("edit window expired"), KindBadRequest, http.StatusBadRequest},
		{"not found", NotFound("call not found"), KindNotFound, http.StatusNotFound},
		{"conflict", Conflict("live call exists"), KindConflict, http.StatusConflict},
		{"wrapped", fmt.Errorf("send: %w", BadRequest("content is required")), KindBadRequest, http.StatusBadRequest},
		{"plain", errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestSentinelSurvivesWrap(t *testing.T) {
	sentinel := NotFound("message not found")
	wrapped := fmt.Errorf("edit: %w", sentinel.Wrap(errors.New("sql: no rows")))

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.Equal(t, "message not found", Message(wrapped))
}

func TestMessageHidesInternalCause(t *testing.T) {
	err := Internal(errors.New("pq: connection refused"))
	assert.Equal(t, "internal error", Message(err))
	assert.Equal(t, "internal error", Message(errors.New("raw")))
}
