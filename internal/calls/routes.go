// internal/calls/routes.go

package calls

import (
	"github.com/gorilla/mux"
)

func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware mux.MiddlewareFunc) {
	api := router.PathPrefix("/api/v1/calls").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("", handler.InitiateCall).Methods("POST")
	api.HandleFunc("", handler.GetHistory).Methods("GET")
	api.HandleFunc("/{id}", handler.GetCall).Methods("GET")
	api.HandleFunc("/{id}/status", handler.UpdateStatus).Methods("PATCH")
}
