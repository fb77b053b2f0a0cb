package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simonyos/mcpchat/internal/llm"
)

// Session statuses
const (
	SessionActive   = "active"
	SessionArchived = "archived"
)

// Message types
const (
	MessageTypeMessage    = "message"
	MessageTypeToolCall   = "tool_call"
	MessageTypeToolResult = "tool_result"
)

// Session is a persisted conversation
type Session struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	MessageCount int            `json:"message_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Message is a persisted conversation message
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Type       string         `json:"type"`
	CreatedAt  time.Time      `json:"created_at"`
}

// LLM returns the message as the completion API sees it, without stored fields.
func (m Message) LLM() llm.Message {
	return llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}

// FromLLM wraps a completion message for storage.
func FromLLM(sessionID string, msg llm.Message) *Message {
	typ := MessageTypeMessage
	switch {
	case msg.Role == llm.RoleTool:
		typ = MessageTypeToolResult
	case len(msg.ToolCalls) > 0:
		typ = MessageTypeToolCall
	}
	return &Message{
		SessionID:  sessionID,
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
		Type:       typ,
	}
}

// HistoryLLM converts stored messages into completion API history.
func HistoryLLM(msgs []*Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.LLM())
	}
	return out
}

// NewSessionName returns a default name with a random suffix.
func NewSessionName() string {
	return "Session-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:5])
}

// CreateSession creates an active session. An empty name gets a generated one.
func (s *SQLiteStore) CreateSession(ctx context.Context, name string) (*Session, error) {
	if strings.TrimSpace(name) == "" {
		name = NewSessionName()
	}
	now := s.timestamp()
	sess := &Session{
		ID:       uuid.NewString(),
		Name:     name,
		Status:   SessionActive,
		Metadata: map[string]any{},
	}
	sess.CreatedAt, _ = parseTime(now)
	sess.UpdatedAt = sess.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, '{}', ?, ?)
	`, sess.ID, sess.Name, sess.Status, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "session_id", sess.ID, "name", sess.Name)
	return sess, nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.name, s.status, s.metadata, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		WHERE s.id = ?
	`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// ListSessions returns active sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.status, s.metadata, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		WHERE s.status = ?
		ORDER BY s.updated_at DESC, s.rowid DESC
	`, SessionActive)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var metadata, createdAt, updatedAt string
	if err := row.Scan(&sess.ID, &sess.Name, &sess.Status, &metadata, &createdAt, &updatedAt, &sess.MessageCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &sess.Metadata); err != nil || sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	var err error
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}

// RenameSession changes a session's name.
func (s *SQLiteStore) RenameSession(ctx context.Context, id, name string) error {
	return s.updateSession(ctx, id, "name = ?", name)
}

// ArchiveSession hides a session from ListSessions without deleting it.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, id string) error {
	return s.updateSession(ctx, id, "status = ?", SessionArchived)
}

// SetSessionMetadata replaces a session's metadata.
func (s *SQLiteStore) SetSessionMetadata(ctx context.Context, id string, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return s.updateSession(ctx, id, "metadata = ?", string(raw))
}

func (s *SQLiteStore) updateSession(ctx context.Context, id, set string, value any) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET "+set+", updated_at = ? WHERE id = ?",
		value, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	s.logger.Debug("deleted session", "session_id", id)
	return nil
}

// ClearMessages removes every message of a session, keeping the session.
func (s *SQLiteStore) ClearMessages(ctx context.Context, sessionID string) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	return s.touchSession(ctx, sessionID)
}

func (s *SQLiteStore) touchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage stores msg and bumps the session's updated_at. ID, Type and
// CreatedAt are filled in when empty.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = MessageTypeMessage
	}
	now := s.timestamp()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt, _ = parseTime(now)
	}

	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encoding tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", now, msg.SessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, tool_calls, tool_call_id, name, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.SessionID,
		msg.Role,
		msg.Content,
		toolCalls,
		nullIfEmpty(msg.ToolCallID),
		nullIfEmpty(msg.Name),
		msg.Type,
		msg.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return tx.Commit()
}

// ListMessages returns a session's messages in the order they were appended.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls, tool_call_id, name, type, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		var toolCalls, toolCallID, name sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCalls, &toolCallID, &name, &m.Type, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls of %s: %w", m.ID, err)
			}
		}
		m.ToolCallID = toolCallID.String
		m.Name = name.String
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
