// Package turn coordinates a single conversational turn: input resolution,
// sentiment and intent analysis, token-streamed generation, and persistence.
package turn

import (
	"github.com/parley-labs/parley/internal/domain"
)

// genericPersonaPrompt is the last-resort system prompt when neither the
// session nor the scenario carries one.
const genericPersonaPrompt = "You are a warm, encouraging conversation coach. " +
	"Respond naturally in character, keep replies short and spoken in tone, " +
	"and gently model good conversational habits."

// scenarioPrompts are the built-in practice scenarios and their personas.
var scenarioPrompts = map[string]string{
	"interview": "You are a hiring manager conducting a job interview. " +
		"Ask one question at a time, follow up on vague answers, and stay professional but personable.",
	"small_talk": "You are a friendly stranger making small talk at a social event. " +
		"Keep the conversation light, ask open questions, and share small details about yourself.",
	"conflict_resolution": "You are a colleague with whom the user has a disagreement. " +
		"Hold your position politely and respond well to de-escalation and active listening.",
	"first_date": "You are on a first date with the user at a casual cafe. " +
		"Be curious and a little playful; reciprocate the energy the user brings.",
	"presentation": "You are an audience member at the user's practice presentation. " +
		"React to what they say and occasionally ask clarifying questions.",
}

// ValidScenario reports whether id names a built-in scenario.
func ValidScenario(id string) bool {
	_, ok := scenarioPrompts[id]
	return ok
}

// Scenarios returns the recognized scenario identifiers.
func Scenarios() []string {
	out := make([]string, 0, len(scenarioPrompts))
	for id := range scenarioPrompts {
		out = append(out, id)
	}
	return out
}

// personaPrompt resolves the system persona in priority order:
// session-scoped prompt, then the scenario's built-in prompt, then the
// generic fallback.
func personaPrompt(session *domain.ChatSession, scenarioID string) string {
	if session.PersonaPrompt != "" {
		return session.PersonaPrompt
	}
	if p, ok := scenarioPrompts[scenarioID]; ok {
		return p
	}
	return genericPersonaPrompt
}
