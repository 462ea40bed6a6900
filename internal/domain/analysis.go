package domain

import (
	"errors"
	"time"
)

// Analysis is the structured intent/impact reading of a user message.
// It is persisted only when Validate passes; otherwise the message is
// stored with its plain sentiment and the analysis is discarded.
type Analysis struct {
	MessageID      string    `json:"-"`
	DetectedIntent string    `json:"detected_intent"`
	SocialImpact   string    `json:"social_impact"`
	Reasoning      string    `json:"reasoning"`
	Confidence     float64   `json:"confidence"`
	Sentiment      string    `json:"sentiment"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

var (
	// ErrAnalysisIncomplete indicates a missing intent, impact, or reasoning field.
	ErrAnalysisIncomplete = errors.New("analysis missing required fields")
	// ErrAnalysisSentiment indicates an unrecognized sentiment label.
	ErrAnalysisSentiment = errors.New("analysis sentiment label not recognized")
)

// Validate checks the payload and clamps confidence into [0,1].
// A nil analysis is treated as absent by callers, not as an error here.
func (a *Analysis) Validate() error {
	if a.DetectedIntent == "" || a.SocialImpact == "" || a.Reasoning == "" {
		return ErrAnalysisIncomplete
	}
	if !ValidSentiment(a.Sentiment) {
		return ErrAnalysisSentiment
	}
	a.Confidence = ClampConfidence(a.Confidence)
	return nil
}

// ClampConfidence bounds a confidence value into [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
