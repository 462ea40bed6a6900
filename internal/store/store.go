// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/parley-labs/parley/internal/domain"
)

// Repository is the persistence gateway consumed by the turn orchestrator
// and the session HTTP surface.
type Repository interface {
	// CreateSession persists a new chat session.
	CreateSession(ctx context.Context, session *domain.ChatSession) error

	// GetSession retrieves a session by ID. Returns (nil, nil) when absent.
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)

	// ListSessions returns all sessions owned by a user, newest first.
	ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error)

	// TouchSession bumps a session's updated_at timestamp.
	TouchSession(ctx context.Context, id string) error

	// RecentMessages returns the last n messages of a session in
	// chronological order.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]*domain.Message, error)

	// ListMessages returns all messages of a session in chronological
	// order, each paired with its analysis when one was stored.
	ListMessages(ctx context.Context, sessionID string) ([]*MessageWithAnalysis, error)

	// SaveMessage persists a single message (used for the assistant side
	// of a turn).
	SaveMessage(ctx context.Context, msg *domain.Message) error

	// SaveUserMessage persists a user message and, when analysis is
	// non-nil, its analysis row in the same transaction. Analysis
	// validation is the caller's responsibility.
	SaveUserMessage(ctx context.Context, msg *domain.Message, analysis *domain.Analysis) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// MessageWithAnalysis pairs a message with its optional analysis row.
type MessageWithAnalysis struct {
	Message  *domain.Message  `json:"message"`
	Analysis *domain.Analysis `json:"analysis,omitempty"`
}
