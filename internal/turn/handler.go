package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/parley-labs/parley/internal/api"
	"github.com/parley-labs/parley/internal/identity"
)

const (
	// maxAudioBytes bounds an uploaded audio attachment.
	maxAudioBytes = 10 << 20
	// maxJSONBytes bounds a plain-text turn request body.
	maxJSONBytes = 1 << 20
)

// Handler exposes the streamed turn endpoint.
type Handler struct {
	orchestrator *Orchestrator
	guard        *InflightGuard
	timeout      time.Duration
}

// NewHandler creates the turn HTTP handler.
func NewHandler(orchestrator *Orchestrator, guard *InflightGuard, timeout time.Duration) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		guard:        guard,
		timeout:      timeout,
	}
}

// RegisterRoutes registers the turn routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/turn", h.HandleTurn)
}

type turnBody struct {
	SessionID  string `json:"session_id"`
	ScenarioID string `json:"scenario_id"`
	Text       string `json:"text"`
}

// HandleTurn runs one conversational turn and streams the result as SSE.
// All validation errors are reported as structured JSON before the stream
// opens; after the first event, failures surface as in-stream error events.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, cleanup, err := h.decodeRequest(w, r)
	// The temp audio file, if any, is released on every exit path.
	defer cleanup()
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = userID

	if req.SessionID == "" {
		api.Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	guardKey := "turn:" + req.SessionID
	if !h.guard.TryAcquire(guardKey) {
		api.Error(w, http.StatusConflict, "a turn is already in progress for this session")
		return
	}
	defer h.guard.Release(guardKey)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	prepared, err := h.orchestrator.Prepare(ctx, req)
	if err != nil {
		h.writePrepareError(w, req.SessionID, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.orchestrator.Stream(ctx, prepared, &sseSink{w: w, flusher: flusher})
}

// decodeRequest supports JSON bodies for text-only turns and multipart
// bodies carrying an audio attachment. The returned cleanup func is always
// safe to call.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (Request, func(), error) {
	noop := func() {}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
			return Request{}, noop, fmt.Errorf("parse multipart form: %w", err)
		}
		req := Request{
			SessionID:  r.FormValue("session_id"),
			ScenarioID: r.FormValue("scenario_id"),
			Text:       r.FormValue("text"),
		}

		file, header, err := r.FormFile("audio")
		if errors.Is(err, http.ErrMissingFile) {
			return req, noop, nil
		}
		if err != nil {
			return Request{}, noop, fmt.Errorf("read audio part: %w", err)
		}
		defer file.Close()

		tmp, err := os.CreateTemp("", "parley-audio-*")
		if err != nil {
			return Request{}, noop, fmt.Errorf("create temp audio file: %w", err)
		}
		cleanup := func() {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
		if _, err := io.Copy(tmp, file); err != nil {
			cleanup()
			return Request{}, noop, fmt.Errorf("spool audio to disk: %w", err)
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			cleanup()
			return Request{}, noop, fmt.Errorf("rewind temp audio file: %w", err)
		}

		req.Audio = tmp
		req.AudioName = header.Filename
		return req, cleanup, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	var body turnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return Request{}, noop, fmt.Errorf("decode turn body: %w", err)
	}
	return Request{
		SessionID:  body.SessionID,
		ScenarioID: body.ScenarioID,
		Text:       body.Text,
	}, noop, nil
}

// writePrepareError maps pre-stream failures to structured responses.
// Only whitelisted validation errors carry their message through; anything
// else collapses to a generic message and is logged with context instead.
func (h *Handler) writePrepareError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, ErrNoInput), errors.Is(err, ErrUnknownScenario):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSessionNotFound):
		api.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		api.Error(w, http.StatusForbidden, err.Error())
	default:
		slog.Error("turn preparation failed",
			"session_id", sessionID, "stage", "prepare", "error", err)
		api.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sseSink writes turn events as named SSE events, flushing per event so
// tokens reach the transport the moment they arrive.
type sseSink struct {
	w       io.Writer
	flusher http.Flusher
}

func (s *sseSink) Transcript(ev TranscriptEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}
	return s.write("transcript", string(data))
}

func (s *sseSink) Status(status string) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	return s.write("status", string(data))
}

func (s *sseSink) Error(msg string) error {
	return s.write("error", msg)
}

func (s *sseSink) write(event, data string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
