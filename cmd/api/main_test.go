package main

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	flags, out := log.Flags(), log.Writer()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(out)
		log.SetFlags(flags)
	})
	return &buf
}

func TestLoggingMiddlewareRedactsToken(t *testing.T) {
	buf := captureLog(t)

	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SECRET.JWT.VALUE", r.URL.Query().Get("token"))
		w.WriteHeader(http.StatusUnauthorized)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token=SECRET.JWT.VALUE&v=2", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, buf.String(), "SECRET.JWT.VALUE")
	assert.Contains(t, buf.String(), "→ GET /ws?token=REDACTED&v=2")
	assert.Contains(t, buf.String(), "← GET /ws?token=REDACTED&v=2 [401]")
}

func TestRedactedURIKeepsOtherQueries(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/api/v1/calls", "/api/v1/calls"},
		{"/api/v1/calls?limit=5", "/api/v1/calls?limit=5"},
		{"/ws?token=abc", "/ws?token=REDACTED"},
		{"/ws?token=abc&token=def", "/ws?token=REDACTED"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.want, redactedURI(r))
		})
	}
}
