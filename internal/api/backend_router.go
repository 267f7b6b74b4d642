package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewBackendRouter(h *BackendHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	// Public routes
	r.Post("/token", h.TokenHandler)
	r.Post("/users", h.CreateUserHandler)
	r.Get("/health", h.HealthHandler)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Get("/users/me", h.MeHandler)

		r.Post("/conversations", h.CreateConversationHandler)
		r.Get("/conversations", h.ListConversationsHandler)
		r.Get("/conversations/{conversationID}", h.GetConversationHandler)
		r.Post("/conversations/{conversationID}/messages", h.CreateMessageHandler)
	})

	return r
}
