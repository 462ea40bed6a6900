package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/parley-labs/parley/internal/store"
)

// HealthHandler reports process and database liveness.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// RegisterRoutes registers the health endpoint.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
