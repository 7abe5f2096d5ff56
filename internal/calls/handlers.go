// internal/calls/handlers.go

package calls

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// InitiateCall creates a call record in INITIATING
func (h *Handler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req InitiateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	call, err := h.service.Initiate(r.Context(), userID, &req)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.SuccessResponse(w, call, http.StatusCreated)
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	call, err := h.service.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.SuccessResponse(w, call, http.StatusOK)
}

// UpdateStatus applies an explicit transition through the same table the
// gateway uses
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req UpdateStatusRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	call, err := h.service.Transition(r.Context(), userID, mux.Vars(r)["id"], Status(req.Status))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.SuccessResponse(w, call, http.StatusOK)
}

// GetHistory lists the caller's calls, newest first
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.SuccessResponse(w, history, http.StatusOK)
}
