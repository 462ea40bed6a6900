// Package domain contains core domain types for the Parley application.
package domain

import (
	"time"
)

// Role identifies the author of a message. The set is canonical; the HTTP
// boundary remaps legacy aliases (e.g. "ai") before anything reaches here.
type Role string

const (
	// RoleUser is a message authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant is a message authored by the AI coach.
	RoleAssistant Role = "assistant"
	// RoleSystem is a persona or instruction message.
	RoleSystem Role = "system"
)

// NormalizeRole maps inbound role strings to the canonical enum.
// Unrecognized values fall back to RoleUser.
func NormalizeRole(s string) Role {
	switch s {
	case "assistant", "ai":
		return RoleAssistant
	case "system":
		return RoleSystem
	default:
		return RoleUser
	}
}

// Sentiment labels recognized by the analysis backend.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// ValidSentiment reports whether label is a recognized sentiment label.
func ValidSentiment(label string) bool {
	switch label {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// Sentiment is a best-effort sentiment reading for a piece of text.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NeutralSentiment is the fallback used when the analyzer is unavailable.
func NeutralSentiment() Sentiment {
	return Sentiment{Label: SentimentNeutral, Score: 0.5}
}

// Message is one side of a conversational turn, persisted per session.
type Message struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Sentiment      string    `json:"sentiment,omitempty"`
	SentimentScore float64   `json:"sentiment_score,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
