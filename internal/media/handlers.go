// internal/media/handlers.go

package media

import (
	"net/http"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
)

type Handler struct {
	store Store
}

// NewHandler accepts a nil store; uploads then answer 404
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// CreateUpload returns a presigned PUT URL for one media object
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if h.store == nil {
		utils.RespondWithAppError(w, ErrUploadsDisabled)
		return
	}

	var req UploadRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}

	upload, err := h.store.PresignUpload(r.Context(), userID, req.ContentType)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.SuccessResponse(w, upload, http.StatusCreated)
}
