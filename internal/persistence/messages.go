package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Role identifies the speaker of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a chat. RequestID correlates a user message
// with the assistant turn it produced. The generation pipeline's redo
// handling does not read it: redo excludes the chat's last message from the
// replayed prompt when that message is an assistant turn.
type Message struct {
	ID        int64
	ChatID    int64
	Role      Role
	Content   string
	RequestID string
	CreatedAt time.Time
}

// AppendMessage adds a new message to the end of a chat's history.
func (s *Store) AppendMessage(chatID int64, role Role, content, requestID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		"INSERT INTO messages (chat_id, role, content, request_id, created_at) VALUES (?, ?, ?, ?, ?)",
		chatID, string(role), content, requestID, now,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("last insert id: %w", err)
	}
	created, _ := time.Parse(time.RFC3339, now)
	return Message{ID: id, ChatID: chatID, Role: role, Content: content, RequestID: requestID, CreatedAt: created}, nil
}

// ListMessages returns every message in a chat, ordered oldest first.
func (s *Store) ListMessages(chatID int64) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, chat_id, role, content, request_id, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at ASC, id ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage looks up a single message by ID.
func (s *Store) GetMessage(id int64) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		"SELECT id, chat_id, role, content, request_id, created_at FROM messages WHERE id = ?", id,
	)
	return scanMessage(row)
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var role, createdAt string
	if err := row.Scan(&m.ID, &m.ChatID, &role, &m.Content, &m.RequestID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.Role = Role(role)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return m, nil
}
