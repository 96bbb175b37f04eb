// ABOUTME: SQLite audit trail for outgoing user messages using modernc.org/sqlite
// ABOUTME: Best-effort by contract; writes here never block or fail the delivery pipeline

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one audit row: the outgoing user message and, when the backend
// writes one back, the assistant reply.
type Entry struct {
	ID          string
	ChatID      string
	UserMessage string
	AIMessage   string
	CreatedAt   time.Time
}

// SQLiteStore persists the audit trail to a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite audit store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "audit")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("audit store initialized", "path", path)
	return s, nil
}

// createSchema creates the audit table if it doesn't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			user_message TEXT,
			ai_message TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_chat_id ON chat(chat_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// RecordUserMessage inserts an outgoing user message into the audit trail.
func (s *SQLiteStore) RecordUserMessage(ctx context.Context, chatID, text string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat (id, chat_id, user_message, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), chatID, text, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting audit row: %w", err)
	}
	return nil
}

// History returns the audit entries for a conversation in insertion order.
func (s *SQLiteStore) History(ctx context.Context, chatID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, COALESCE(user_message, ''), COALESCE(ai_message, ''), created_at
		 FROM chat WHERE chat_id = ? ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying audit rows: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ChatID, &e.UserMessage, &e.AIMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
