package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parley-labs/parley/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		persona_prompt TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
		content TEXT NOT NULL,
		sentiment TEXT NOT NULL DEFAULT '',
		sentiment_score REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS message_analyses (
		message_id TEXT PRIMARY KEY REFERENCES messages(id),
		detected_intent TEXT NOT NULL,
		social_impact TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		confidence REAL NOT NULL,
		sentiment TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession persists a new chat session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	query := `
	INSERT INTO sessions (id, user_id, scenario_id, persona_prompt, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	var prompt interface{}
	if session.PersonaPrompt != "" {
		prompt = session.PersonaPrompt
	}

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.ScenarioID, prompt,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	query := `
		SELECT id, user_id, scenario_id, persona_prompt, created_at, updated_at
		FROM sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions owned by a user, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	query := `
		SELECT id, user_id, scenario_id, persona_prompt, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.ChatSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// TouchSession bumps a session's updated_at timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// RecentMessages returns the last n messages of a session in chronological order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]*domain.Message, error) {
	query := `
		SELECT id, session_id, role, content, sentiment, sentiment_score, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns all messages of a session with optional analyses.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*MessageWithAnalysis, error) {
	query := `
		SELECT m.id, m.session_id, m.role, m.content, m.sentiment, m.sentiment_score, m.created_at,
		       a.detected_intent, a.social_impact, a.reasoning, a.confidence, a.sentiment, a.created_at
		FROM messages m
		LEFT JOIN message_analyses a ON a.message_id = m.id
		WHERE m.session_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages with analyses: %w", err)
	}
	defer rows.Close()

	var out []*MessageWithAnalysis
	for rows.Next() {
		var msg domain.Message
		var role string
		var createdAt int64
		var intent, impact, reasoning, aSentiment sql.NullString
		var confidence sql.NullFloat64
		var aCreatedAt sql.NullInt64

		err := rows.Scan(
			&msg.ID, &msg.SessionID, &role, &msg.Content,
			&msg.Sentiment, &msg.SentimentScore, &createdAt,
			&intent, &impact, &reasoning, &confidence, &aSentiment, &aCreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.NormalizeRole(role)
		msg.CreatedAt = time.Unix(createdAt, 0)

		entry := &MessageWithAnalysis{Message: &msg}
		if intent.Valid {
			entry.Analysis = &domain.Analysis{
				MessageID:      msg.ID,
				DetectedIntent: intent.String,
				SocialImpact:   impact.String,
				Reasoning:      reasoning.String,
				Confidence:     confidence.Float64,
				Sentiment:      aSentiment.String,
				CreatedAt:      time.Unix(aCreatedAt.Int64, 0),
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// SaveMessage persists a single message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.ExecContext(ctx, insertMessageQuery,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content,
		msg.Sentiment, msg.SentimentScore, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// SaveUserMessage persists a user message and its analysis atomically.
// When analysis is nil only the message row is written.
func (s *SQLiteStore) SaveUserMessage(ctx context.Context, msg *domain.Message, analysis *domain.Analysis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, insertMessageQuery,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content,
		msg.Sentiment, msg.SentimentScore, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}

	if analysis != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_analyses (message_id, detected_intent, social_impact, reasoning, confidence, sentiment, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, analysis.DetectedIntent, analysis.SocialImpact,
			analysis.Reasoning, analysis.Confidence, analysis.Sentiment,
			msg.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert message analysis: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user message: %w", err)
	}
	return nil
}

const insertMessageQuery = `
	INSERT INTO messages (id, session_id, role, content, sentiment, sentiment_score, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var prompt sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.ID, &session.UserID, &session.ScenarioID,
		&prompt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.PersonaPrompt = prompt.String
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var role string
	var createdAt int64

	err := row.Scan(
		&msg.ID, &msg.SessionID, &role, &msg.Content,
		&msg.Sentiment, &msg.SentimentScore, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	// Rows imported from older datasets may carry the "ai" alias.
	msg.Role = domain.NormalizeRole(role)
	msg.CreatedAt = time.Unix(createdAt, 0)
	return &msg, nil
}

// IsBusy reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}
