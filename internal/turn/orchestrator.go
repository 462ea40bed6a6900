package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parley-labs/parley/internal/ai"
	"github.com/parley-labs/parley/internal/domain"
	"github.com/parley-labs/parley/internal/store"
)

// persistTimeout bounds the post-stream writes. They run on a background
// context so a client disconnect cannot lose a completed turn.
const persistTimeout = 10 * time.Second

// Validation errors whose messages may be surfaced verbatim to clients.
var (
	ErrNoInput         = errors.New("either text or audio input is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrNotOwner        = errors.New("session belongs to another user")
	ErrUnknownScenario = errors.New("unknown scenario")
)

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// SentimentAnalyzer classifies the tone of text.
type SentimentAnalyzer interface {
	Sentiment(ctx context.Context, text string) (domain.Sentiment, error)
}

// TurnAnalyzer produces the structured intent/impact reading of text.
type TurnAnalyzer interface {
	AnalyzeTurn(ctx context.Context, text string) (*domain.Analysis, error)
}

// Generator streams completion tokens for a message list.
type Generator interface {
	Generate(ctx context.Context, messages []ai.Message) iter.Seq2[string, error]
}

// Backend bundles the collaborators a turn needs. *ai.Client satisfies it.
type Backend interface {
	Transcriber
	SentimentAnalyzer
	TurnAnalyzer
	Generator
}

// TranscriptEvent is one streamed transcript entry: the user's resolved
// utterance first, then one partial entry per generated token.
type TranscriptEvent struct {
	Role      domain.Role `json:"role"`
	Text      string      `json:"text"`
	Sentiment string      `json:"sentiment,omitempty"`
	Partial   bool        `json:"partial,omitempty"`
}

// Sink receives turn events. The HTTP handler implements it over SSE;
// tests implement it as a recorder. A Sink error means the caller is gone
// and the turn should be abandoned.
type Sink interface {
	Transcript(ev TranscriptEvent) error
	Status(status string) error
	Error(msg string) error
}

// Request is one turn submission after boundary decoding.
type Request struct {
	UserID     string
	SessionID  string
	ScenarioID string
	Text       string
	Audio      io.Reader // optional; ownership stays with the caller
	AudioName  string
}

// Orchestrator runs the turn pipeline against the persistence gateway and
// the model backend.
type Orchestrator struct {
	repo          store.Repository
	backend       Backend
	historyWindow int
}

// NewOrchestrator wires the pipeline. historyWindow bounds how much
// session history is replayed into each generation prompt.
func NewOrchestrator(repo store.Repository, backend Backend, historyWindow int) *Orchestrator {
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &Orchestrator{
		repo:          repo,
		backend:       backend,
		historyWindow: historyWindow,
	}
}

type analysisResult struct {
	analysis *domain.Analysis
	err      error
}

// Prepared is a validated turn ready to stream. Everything that can fail
// with a structured (pre-stream) error has already happened.
type Prepared struct {
	session    *domain.ChatSession
	text       string
	sentiment  domain.Sentiment
	analysisCh <-chan analysisResult
}

// Text returns the resolved user utterance.
func (p *Prepared) Text() string { return p.text }

// Sentiment returns the (possibly fallback) sentiment reading.
func (p *Prepared) Sentiment() domain.Sentiment { return p.sentiment }

// Prepare validates the request, resolves the input text, reads sentiment,
// and kicks off the turn analysis in the background. It performs no stream
// side effects; any error maps to a structured HTTP response.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Prepared, error) {
	if req.ScenarioID == "" || !ValidScenario(req.ScenarioID) {
		return nil, ErrUnknownScenario
	}

	session, err := o.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if !session.OwnedBy(req.UserID) {
		return nil, ErrNotOwner
	}

	// Resolve input text. A non-empty transcript supersedes direct text;
	// a failed transcription degrades to whatever text was supplied.
	text := strings.TrimSpace(req.Text)
	if req.Audio != nil {
		transcript, err := o.backend.Transcribe(ctx, req.Audio, req.AudioName)
		if err != nil {
			slog.Warn("transcription failed, falling back to direct text",
				"session_id", session.ID, "stage", "transcribe", "error", err)
		} else if transcript != "" {
			text = transcript
		}
	}
	if text == "" {
		return nil, ErrNoInput
	}

	sentiment, err := o.backend.Sentiment(ctx, text)
	if err != nil {
		slog.Warn("sentiment analysis failed, using neutral fallback",
			"session_id", session.ID, "stage", "sentiment", "error", err)
		sentiment = domain.NeutralSentiment()
	}

	// Fire-and-continue: the analysis runs while generation streams and
	// is awaited only at persistence time.
	analysisCh := make(chan analysisResult, 1)
	go func() {
		a, err := o.backend.AnalyzeTurn(ctx, text)
		analysisCh <- analysisResult{analysis: a, err: err}
	}()

	return &Prepared{
		session:    session,
		text:       text,
		sentiment:  sentiment,
		analysisCh: analysisCh,
	}, nil
}

// Stream runs the in-stream half of the turn: user transcript event,
// prompt assembly, token relay, persistence of both sides, terminal
// status. Failures here surface as in-stream error events; the transport
// cannot be un-opened.
func (o *Orchestrator) Stream(ctx context.Context, p *Prepared, sink Sink) {
	if err := sink.Transcript(TranscriptEvent{
		Role:      domain.RoleUser,
		Text:      p.text,
		Sentiment: p.sentiment.Label,
	}); err != nil {
		slog.Info("caller gone before generation", "session_id", p.session.ID)
		return
	}

	messages := o.composeMessages(ctx, p)

	var full strings.Builder
	for token, err := range o.backend.Generate(ctx, messages) {
		if err != nil {
			slog.Error("generation stream failed",
				"session_id", p.session.ID, "stage", "generate", "error", err)
			// The user's side of the turn is still committed.
			o.persistUserSide(p)
			_ = sink.Error("generation failed")
			return
		}
		if ctx.Err() != nil {
			// Caller disconnected: abandon generation, relay nothing more.
			slog.Info("turn cancelled mid-generation", "session_id", p.session.ID)
			o.persistUserSide(p)
			return
		}
		full.WriteString(token)
		if err := sink.Transcript(TranscriptEvent{
			Role:    domain.RoleAssistant,
			Text:    token,
			Partial: true,
		}); err != nil {
			slog.Info("caller gone mid-generation", "session_id", p.session.ID)
			o.persistUserSide(p)
			return
		}
	}

	persistErr := o.persistUserSide(p)
	if reply := full.String(); reply != "" {
		if err := o.persistAssistantSide(p.session.ID, reply); err != nil {
			persistErr = err
		}
	}

	if persistErr != nil {
		_ = sink.Error("failed to save conversation turn")
		return
	}
	_ = sink.Status("done")
}

// composeMessages assembles the generation prompt: persona, sentiment
// note, recent history, current utterance. A history fetch failure
// degrades to a promptless-history turn rather than aborting.
func (o *Orchestrator) composeMessages(ctx context.Context, p *Prepared) []ai.Message {
	history, err := o.repo.RecentMessages(ctx, p.session.ID, o.historyWindow)
	if err != nil {
		slog.Error("failed to load session history",
			"session_id", p.session.ID, "stage", "history", "error", err)
		history = nil
	}

	messages := make([]ai.Message, 0, len(history)+3)
	messages = append(messages, ai.Message{
		Role:    string(domain.RoleSystem),
		Content: personaPrompt(p.session, p.session.ScenarioID),
	})
	messages = append(messages, ai.Message{
		Role: string(domain.RoleSystem),
		Content: fmt.Sprintf("The user's current message reads as %s (confidence %.2f). Respond with fitting tone.",
			p.sentiment.Label, p.sentiment.Score),
	})
	for _, m := range history {
		messages = append(messages, ai.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, ai.Message{Role: string(domain.RoleUser), Content: p.text})
	return messages
}

// persistUserSide awaits the backgrounded analysis and writes the user
// message, with the analysis in the same transaction when it validates.
// An invalid or failed analysis degrades to a sentiment-only message.
// Runs on a background context: a dropped client must not lose the turn.
func (o *Orchestrator) persistUserSide(p *Prepared) error {
	res := <-p.analysisCh

	var analysis *domain.Analysis
	switch {
	case res.err != nil:
		slog.Warn("turn analysis failed, storing sentiment only",
			"session_id", p.session.ID, "stage", "analysis", "error", res.err)
	case res.analysis == nil:
		slog.Warn("turn analysis returned nothing, storing sentiment only",
			"session_id", p.session.ID, "stage", "analysis")
	default:
		if err := res.analysis.Validate(); err != nil {
			slog.Warn("turn analysis rejected, storing sentiment only",
				"session_id", p.session.ID, "stage", "analysis", "error", err)
		} else {
			analysis = res.analysis
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg := &domain.Message{
		ID:             uuid.NewString(),
		SessionID:      p.session.ID,
		Role:           domain.RoleUser,
		Content:        p.text,
		Sentiment:      p.sentiment.Label,
		SentimentScore: p.sentiment.Score,
		CreatedAt:      time.Now(),
	}
	if err := o.repo.SaveUserMessage(ctx, msg, analysis); err != nil {
		slog.Error("failed to persist user message",
			"session_id", p.session.ID, "stage", "persist_user", "error", err)
		return err
	}

	if err := o.repo.TouchSession(ctx, p.session.ID); err != nil {
		slog.Warn("failed to touch session", "session_id", p.session.ID, "error", err)
	}
	return nil
}

func (o *Orchestrator) persistAssistantSide(sessionID, content string) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := o.repo.SaveMessage(ctx, msg); err != nil {
		slog.Error("failed to persist assistant message",
			"session_id", sessionID, "stage", "persist_assistant", "error", err)
		return err
	}
	return nil
}
