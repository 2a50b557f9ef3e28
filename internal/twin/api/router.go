// Package api implements the task API served by the reference backend:
// login, the current user and task CRUD with page-number pagination.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/apiconform/internal/twin/store"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

// Prefix is where the API is mounted.
const Prefix = "/api/v1"

// Handler holds all API handler state.
type Handler struct {
	store  *store.MemoryStore
	ctl    *twincore.Controls
	tokens *TokenManager
}

// NewHandler creates a new API handler.
func NewHandler(s *store.MemoryStore, ctl *twincore.Controls, tokens *TokenManager) *Handler {
	return &Handler{store: s, ctl: ctl, tokens: tokens}
}

// Routes mounts the API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route(Prefix, func(r chi.Router) {
		r.Use(h.ctl.InjectFaults)

		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware)

			r.Get("/users/me", h.GetMe)

			r.Get("/tasks", h.ListTasks)
			r.Post("/tasks", h.CreateTask)
			r.Get("/tasks/{id}", h.GetTask)
			r.Put("/tasks/{id}", h.UpdateTask)
			r.Patch("/tasks/{id}", h.UpdateTask)
			r.Delete("/tasks/{id}", h.DeleteTask)
		})
	})
}

type ctxKey struct{}

// authMiddleware resolves the bearer token to an active user.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			unauthorized(w, "Not authenticated")
			return
		}
		userID, err := h.tokens.Verify(token)
		if err != nil {
			unauthorized(w, "Could not validate credentials")
			return
		}
		user, ok := h.store.Users.Get(userID)
		if !ok || !user.IsActive {
			unauthorized(w, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func currentUser(r *http.Request) store.User {
	u, _ := r.Context().Value(ctxKey{}).(store.User)
	return u
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	twincore.Error(w, http.StatusUnauthorized, detail)
}
