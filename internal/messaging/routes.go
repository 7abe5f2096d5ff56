// internal/messaging/routes.go

package messaging

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers the messaging history routes under /api/v1
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware mux.MiddlewareFunc) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/conversations", handler.GetConversations).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", handler.GetMessages).Methods("GET")
	api.HandleFunc("/messages/{id}/reactions", handler.GetReactions).Methods("GET")
}
