package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
)

func historyRouter(f *fixture) *mux.Router {
	asUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := strconv.ParseInt(r.Header.Get("X-Test-User"), 10, 64)
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{UserID: id, Role: "user"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	router := mux.NewRouter()
	RegisterRoutes(router, NewHandler(f.svc), asUser)
	return router
}

func get(router *mux.Router, user int64, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Test-User", strconv.FormatInt(user, 10))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func responseData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestHistoryRoutes(t *testing.T) {
	f := newFixture(t)
	router := historyRouter(f)

	var sent []*Message
	for _, c := range []string{"one", "two", "three"} {
		sent = append(sent, f.send(t, f.alice, c))
	}
	_, err := f.svc.React(context.Background(), f.bob, sent[2].ID, "🔥")
	require.NoError(t, err)

	rec := get(router, f.bob, "/api/v1/conversations")
	require.Equal(t, http.StatusOK, rec.Code)
	var convs []Conversation
	responseData(t, rec, &convs)
	require.Len(t, convs, 1)
	assert.Equal(t, f.convID, convs[0].ID)
	assert.ElementsMatch(t, []int64{f.alice, f.bob}, convs[0].ParticipantIDs)

	path := "/api/v1/conversations/" + strconv.FormatInt(f.convID, 10) + "/messages"

	rec = get(router, f.bob, path+"?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var page []Message
	responseData(t, rec, &page)
	require.Len(t, page, 2)
	assert.Equal(t, "three", page[0].Content)
	require.Len(t, page[0].Reactions, 1)
	assert.Equal(t, "🔥", page[0].Reactions[0].Emoji)

	before := url.QueryEscape(sent[1].CreatedAt.Format(time.RFC3339Nano))
	rec = get(router, f.bob, path+"?before="+before)
	require.Equal(t, http.StatusOK, rec.Code)
	page = nil
	responseData(t, rec, &page)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Content)

	rec = get(router, f.bob, path+"?before=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(router, f.carol, path)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(router, f.bob, "/api/v1/conversations/9999/messages")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(router, f.alice, "/api/v1/messages/"+sent[2].ID+"/reactions")
	require.Equal(t, http.StatusOK, rec.Code)
	var reactions []Reaction
	responseData(t, rec, &reactions)
	require.Len(t, reactions, 1)
	assert.Equal(t, f.bob, reactions[0].UserID)

	rec = get(router, f.carol, "/api/v1/messages/"+sent[2].ID+"/reactions")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
