package calls

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
)

// asUser stands in for the auth middleware; the caller is named by header
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get("X-Test-User"), 10, 64)
		if err != nil {
			http.Error(w, "no user", http.StatusUnauthorized)
			return
		}
		ctx := auth.WithIdentity(r.Context(), &auth.Identity{UserID: id, Role: "user"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type apiClient struct {
	t      *testing.T
	router *mux.Router
}

func (c apiClient) do(user int64, method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("X-Test-User", strconv.FormatInt(user, 10))
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, rec.Body.String())
	return resp.Data
}

func TestCallRoutes(t *testing.T) {
	f := newFixture(t)
	router := mux.NewRouter()
	RegisterRoutes(router, NewHandler(f.svc), asUser)
	api := apiClient{t: t, router: router}

	body := fmt.Sprintf(`{"conversationId":%d,"receiverId":%d,"type":"VIDEO"}`, f.convID, f.bob)
	rec := api.do(f.alice, http.MethodPost, "/api/v1/calls", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	call := decodeData[Call](t, rec)
	assert.Equal(t, StatusInitiating, call.Status)
	assert.Equal(t, TypeVideo, call.Type)

	rec = api.do(f.alice, http.MethodPost, "/api/v1/calls", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(f.alice, http.MethodPost, "/api/v1/calls",
		fmt.Sprintf(`{"conversationId":%d,"receiverId":%d,"type":"HOLOGRAM"}`, f.convID, f.bob))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(f.bob, http.MethodGet, "/api/v1/calls/"+call.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(f.carol, http.MethodGet, "/api/v1/calls/"+call.ID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(f.alice, http.MethodGet, "/api/v1/calls/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(f.alice, http.MethodPatch, "/api/v1/calls/"+call.ID+"/status", `{"status":"RINGING"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, StatusRinging, decodeData[Call](t, rec).Status)

	// only the receiver may answer
	rec = api.do(f.alice, http.MethodPatch, "/api/v1/calls/"+call.ID+"/status", `{"status":"ACTIVE"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(f.bob, http.MethodPatch, "/api/v1/calls/"+call.ID+"/status", `{"status":"ACTIVE"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	active := decodeData[Call](t, rec)
	assert.Equal(t, StatusActive, active.Status)
	assert.NotNil(t, active.StartedAt)

	rec = api.do(f.bob, http.MethodPatch, "/api/v1/calls/"+call.ID+"/status", `{"status":"ON_HOLD"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(f.bob, http.MethodPatch, "/api/v1/calls/"+call.ID+"/status", `{"status":"RINGING"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(f.alice, http.MethodGet, "/api/v1/calls?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeData[[]Call](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, call.ID, history[0].ID)

	rec = api.do(f.carol, http.MethodGet, "/api/v1/calls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData[[]Call](t, rec))
}
