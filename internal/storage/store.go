// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for loom.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/kestrelworks/loom-tui/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageInvalid is returned when a message fails validation
	// before persistence.
	ErrMessageInvalid = errors.New("invalid message")
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	model      TEXT NOT NULL DEFAULT '',
	archived   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	parts           TEXT NOT NULL,
	metadata        TEXT,
	created_at      TIMESTAMP NOT NULL,
	seq             INTEGER
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, seq);
`

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed persistence collaborator. It is safe for
// concurrent use; database/sql serializes access to the single
// connection the pure Go driver provides.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns the default database location (~/.loom/loom.db).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".loom", "loom.db"), nil
}

// Open opens (creating if necessary) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

// CreateConversation inserts a new conversation. Title and model may be
// empty; the title is typically generated after the first user message.
func (s *Store) CreateConversation(ctx context.Context, title, modelID string) (model.Conversation, error) {
	conv := model.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     modelID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, model, archived, created_at) VALUES (?, ?, ?, 0, ?)`,
		conv.ID, conv.Title, conv.Model, conv.CreatedAt)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation loads a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, archived, created_at FROM conversations WHERE id = ?`, id)

	var conv model.Conversation
	var archived int
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Model, &archived, &conv.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Conversation{}, ErrConversationNotFound
		}
		return model.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.Archived = archived != 0
	return conv, nil
}

// ListConversations returns all conversations, most recent first.
// Archived conversations are included; callers filter for display.
func (s *Store) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, archived, created_at FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var conv model.Conversation
		var archived int
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Model, &archived, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.Archived = archived != 0
		out = append(out, conv)
	}
	return out, rows.Err()
}

// UpdateConversationTitle renames a conversation and returns the
// updated record.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) (model.Conversation, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Conversation{}, ErrConversationNotFound
	}
	return s.GetConversation(ctx, id)
}

// UpdateConversationModel records the model last used in a conversation.
func (s *Store) UpdateConversationModel(ctx context.Context, id, modelID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET model = ? WHERE id = ?`, modelID, id)
	if err != nil {
		return fmt.Errorf("failed to update model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ArchiveConversation toggles the archived flag.
func (s *Store) ArchiveConversation(ctx context.Context, id string, archived bool) error {
	flag := 0
	if archived {
		flag = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET archived = ? WHERE id = ?`, flag, id)
	if err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and, via the foreign key
// cascade, all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// SaveCompleteMessage persists a message. Saving an ID that already
// exists replaces the stored row: the completion notification path
// legitimately re-saves the last assistant message once the
// authoritative final text and usage arrive.
func (s *Store) SaveCompleteMessage(ctx context.Context, conversationID string, msg model.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("%w: empty id", ErrMessageInvalid)
	}
	for _, p := range msg.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMessageInvalid, err)
		}
	}

	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("failed to encode parts: %w", err)
	}

	var metadata any
	if msg.Metadata != nil {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(raw)
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// seq preserves arrival order for messages created in the same
	// clock tick; it is assigned once on first insert.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, parts, metadata, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?))
		ON CONFLICT(id) DO UPDATE SET parts = excluded.parts, metadata = excluded.metadata`,
		msg.ID, conversationID, msg.Role.String(), string(parts), metadata, createdAt, conversationID)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetMessages returns a conversation's messages in chronological order.
func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, parts, metadata, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var msg model.Message
		var role, parts string
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &parts, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = model.Role(role)
		if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
			return nil, fmt.Errorf("failed to decode parts for %s: %w", msg.ID, err)
		}
		if metadata.Valid && metadata.String != "" {
			var md model.Metadata
			if err := json.Unmarshal([]byte(metadata.String), &md); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", msg.ID, err)
			}
			msg.Metadata = &md
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MessageCount returns the number of persisted messages in a
// conversation.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
