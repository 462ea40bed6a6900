package domain

import (
	"time"
)

// ChatSession is a persisted coaching conversation between one user and
// the AI coach, scoped to a practice scenario.
type ChatSession struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ScenarioID    string    `json:"scenario_id"`
	PersonaPrompt string    `json:"persona_prompt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OwnedBy reports whether the session belongs to the given user.
func (s *ChatSession) OwnedBy(userID string) bool {
	return s.UserID == userID
}
