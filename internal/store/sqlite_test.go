package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parley-labs/parley/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newStoredSession(t *testing.T, repo Repository, userID, scenarioID string) *domain.ChatSession {
	t.Helper()
	now := time.Now()
	session := &domain.ChatSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		ScenarioID: scenarioID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return session
}

func userMessage(sessionID, content string) *domain.Message {
	return &domain.Message{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Role:           domain.RoleUser,
		Content:        content,
		Sentiment:      domain.SentimentNeutral,
		SentimentScore: 0.5,
		CreatedAt:      time.Now(),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	created := newStoredSession(t, repo, "user-1", "interview")

	got, err := repo.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected stored session, got nil")
	}
	if got.UserID != "user-1" || got.ScenarioID != "interview" {
		t.Errorf("Round-trip mismatch: %+v", got)
	}
}

func TestGetSessionAbsentReturnsNilNil(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.GetSession(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for absent session, got %+v", got)
	}
}

func TestListSessionsScopedToUserNewestFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	first := newStoredSession(t, repo, "user-1", "interview")
	second := newStoredSession(t, repo, "user-1", "small_talk")
	newStoredSession(t, repo, "user-2", "interview")

	// Bump the second session so ordering is deterministic even within
	// the same stored second.
	if err := repo.TouchSession(ctx, second.ID); err != nil {
		t.Fatalf("TouchSession failed: %v", err)
	}

	sessions, err := repo.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions for user-1, got %d", len(sessions))
	}
	if sessions[0].ID != second.ID || sessions[1].ID != first.ID {
		t.Errorf("Expected newest-first ordering [%s %s], got [%s %s]",
			second.ID, first.ID, sessions[0].ID, sessions[1].ID)
	}
}

func TestSaveUserMessageWithAnalysisIsAtomic(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	session := newStoredSession(t, repo, "user-1", "interview")

	msg := userMessage(session.ID, "Did I interrupt too much?")
	analysis := &domain.Analysis{
		DetectedIntent: "self_evaluation",
		SocialImpact:   "signals openness to feedback",
		Reasoning:      "The speaker questions their own conversational behavior.",
		Confidence:     0.9,
		Sentiment:      domain.SentimentNeutral,
	}

	if err := repo.SaveUserMessage(ctx, msg, analysis); err != nil {
		t.Fatalf("SaveUserMessage failed: %v", err)
	}

	entries, err := repo.ListMessages(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message.Content != "Did I interrupt too much?" {
		t.Errorf("Unexpected content %q", entry.Message.Content)
	}
	if entry.Analysis == nil {
		t.Fatal("Expected analysis stored alongside the message")
	}
	if entry.Analysis.DetectedIntent != "self_evaluation" {
		t.Errorf("Unexpected stored intent %q", entry.Analysis.DetectedIntent)
	}
	if entry.Analysis.Confidence != 0.9 {
		t.Errorf("Unexpected stored confidence %v", entry.Analysis.Confidence)
	}
}

func TestSaveUserMessageWithoutAnalysis(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	session := newStoredSession(t, repo, "user-1", "interview")

	msg := userMessage(session.ID, "hello there")
	if err := repo.SaveUserMessage(ctx, msg, nil); err != nil {
		t.Fatalf("SaveUserMessage failed: %v", err)
	}

	entries, err := repo.ListMessages(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(entries))
	}
	if entries[0].Analysis != nil {
		t.Errorf("Expected no analysis, got %+v", entries[0].Analysis)
	}
	if entries[0].Message.Sentiment != domain.SentimentNeutral {
		t.Errorf("Expected sentiment retained, got %q", entries[0].Message.Sentiment)
	}
}

func TestRecentMessagesWindowAndOrder(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	session := newStoredSession(t, repo, "user-1", "interview")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		msg := &domain.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      domain.RoleUser,
			Content:   fmt.Sprintf("msg-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage %d failed: %v", i, err)
		}
	}

	msgs, err := repo.RecentMessages(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 10 {
		t.Fatalf("Expected 10 messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		want := fmt.Sprintf("msg-%d", i+5)
		if msg.Content != want {
			t.Errorf("Position %d: expected %q, got %q", i, want, msg.Content)
		}
	}
}

func TestRecentMessagesBreaksTimestampTiesByInsertionOrder(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	session := newStoredSession(t, repo, "user-1", "interview")

	// All rows share one stored second; rowid must decide the order.
	at := time.Now()
	for i := 0; i < 5; i++ {
		msg := &domain.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      domain.RoleUser,
			Content:   fmt.Sprintf("tie-%d", i),
			CreatedAt: at,
		}
		if err := repo.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage %d failed: %v", i, err)
		}
	}

	msgs, err := repo.RecentMessages(ctx, session.ID, 5)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	for i, msg := range msgs {
		want := fmt.Sprintf("tie-%d", i)
		if msg.Content != want {
			t.Errorf("Position %d: expected %q, got %q", i, want, msg.Content)
		}
	}
}

func TestSaveMessageRejectsUnknownRole(t *testing.T) {
	repo := newTestStore(t)
	session := newStoredSession(t, repo, "user-1", "interview")

	msg := userMessage(session.ID, "bad role")
	msg.Role = domain.Role("robot")

	if err := repo.SaveMessage(context.Background(), msg); err == nil {
		t.Error("Expected role constraint violation, got nil")
	}
}

func TestTouchSessionBumpsUpdatedAt(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	session := &domain.ChatSession{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		ScenarioID: "interview",
		CreatedAt:  time.Now().Add(-time.Hour),
		UpdatedAt:  time.Now().Add(-time.Hour),
	}
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := repo.TouchSession(ctx, session.ID); err != nil {
		t.Fatalf("TouchSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !got.UpdatedAt.After(session.UpdatedAt) {
		t.Errorf("Expected updated_at to advance past %v, got %v",
			session.UpdatedAt, got.UpdatedAt)
	}
}

func TestPing(t *testing.T) {
	repo := newTestStore(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
