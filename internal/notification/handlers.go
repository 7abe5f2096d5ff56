// internal/notification/handlers.go

package notification

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
)

type Handler struct {
	tokens TokenRepository
}

func NewHandler(tokens TokenRepository) *Handler {
	return &Handler{tokens: tokens}
}

// RegisterPushToken stores the device token for the authenticated user
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req RegisterTokenRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	token, err := h.tokens.SaveToken(r.Context(), userID, req.Token, req.Platform)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.SuccessResponse(w, token, http.StatusCreated)
}

// UnregisterPushToken removes one of the caller's own tokens
func (h *Handler) UnregisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.tokens.DeleteToken(r.Context(), userID, mux.Vars(r)["token"]); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.MessageResponse(w, "Push token removed", http.StatusOK)
}
