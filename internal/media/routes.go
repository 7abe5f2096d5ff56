// internal/media/routes.go

package media

import (
	"github.com/gorilla/mux"
)

func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware mux.MiddlewareFunc) {
	api := router.PathPrefix("/api/v1/media").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/uploads", handler.CreateUpload).Methods("POST")
}
