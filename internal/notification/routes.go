// internal/notification/routes.go

package notification

import (
	"github.com/gorilla/mux"
)

func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware mux.MiddlewareFunc) {
	api := router.PathPrefix("/api/v1/push-tokens").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("", handler.RegisterPushToken).Methods("POST")
	api.HandleFunc("/{token}", handler.UnregisterPushToken).Methods("DELETE")
}
