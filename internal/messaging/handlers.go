// internal/messaging/handlers.go
// REST history endpoints. Live mutations go through the websocket gateway.

package messaging

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// GetConversations lists the caller's conversations by last activity
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.service.ListConversations(r.Context(), userID, queryInt(r, "limit"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.SuccessResponse(w, convs, http.StatusOK)
}

// GetMessages pages backwards through a conversation with ?before=<RFC3339>
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var before *time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			utils.RespondWithAppError(w, apperr.BadRequest("before must be an RFC3339 timestamp"))
			return
		}
		before = &t
	}

	msgs, err := h.service.ListMessages(r.Context(), userID, convID, before, queryInt(r, "limit"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.SuccessResponse(w, msgs, http.StatusOK)
}

// GetReactions lists every reaction on a message
func (h *Handler) GetReactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	reactions, err := h.service.ListReactions(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.SuccessResponse(w, reactions, http.StatusOK)
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
