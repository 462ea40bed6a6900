// Package session exposes the chat session HTTP surface: creation,
// listing, and message history with analyses. These routes are callers of
// the core, not part of it.
package session

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/parley-labs/parley/internal/api"
	"github.com/parley-labs/parley/internal/domain"
	"github.com/parley-labs/parley/internal/identity"
	"github.com/parley-labs/parley/internal/store"
	"github.com/parley-labs/parley/internal/turn"
)

// maxBodyBytes bounds a session-create request body.
const maxBodyBytes = 64 << 10

// Handler serves the session routes.
type Handler struct {
	repo  store.Repository
	guard *turn.InflightGuard
}

// NewHandler creates the session handler. The guard deduplicates rapid
// duplicate session-create attempts (double-clicked start buttons).
func NewHandler(repo store.Repository, guard *turn.InflightGuard) *Handler {
	return &Handler{repo: repo, guard: guard}
}

// RegisterRoutes registers the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/{sessionID}/messages", h.HandleMessages)
	})
	r.Get("/api/scenarios", h.HandleScenarios)
}

type createBody struct {
	ScenarioID    string `json:"scenario_id"`
	PersonaPrompt string `json:"persona_prompt,omitempty"`
}

// HandleCreate starts a new coaching session.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !turn.ValidScenario(body.ScenarioID) {
		api.Error(w, http.StatusBadRequest, "unknown scenario")
		return
	}

	guardKey := "session:" + userID + ":" + body.ScenarioID
	if !h.guard.TryAcquire(guardKey) {
		api.Error(w, http.StatusConflict, "session creation already in progress")
		return
	}
	defer h.guard.Release(guardKey)

	now := time.Now()
	session := &domain.ChatSession{
		ID:            uuid.NewString(),
		UserID:        userID,
		ScenarioID:    body.ScenarioID,
		PersonaPrompt: body.PersonaPrompt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.repo.CreateSession(r.Context(), session); err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	api.JSON(w, http.StatusCreated, session)
}

// HandleList returns the caller's sessions, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.ChatSession{}
	}
	api.JSON(w, http.StatusOK, sessions)
}

// HandleMessages returns a session's full transcript with analyses.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session == nil || !session.OwnedBy(userID) {
		api.Error(w, http.StatusNotFound, "session not found")
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), sessionID)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*store.MessageWithAnalysis{}
	}
	api.JSON(w, http.StatusOK, messages)
}

// HandleScenarios lists the built-in practice scenarios.
func (h *Handler) HandleScenarios(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, turn.Scenarios())
}
