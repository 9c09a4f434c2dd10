package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Chat is a conversation thread scoped to a single app.
type Chat struct {
	ID        int64
	AppID     int64
	Title     string
	CreatedAt time.Time
}

// CreateChat starts a new chat thread under an app.
func (s *Store) CreateChat(appID int64, title string) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		"INSERT INTO chats (app_id, title, created_at) VALUES (?, ?, ?)",
		appID, title, now,
	)
	if err != nil {
		return Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Chat{}, fmt.Errorf("last insert id: %w", err)
	}
	created, _ := time.Parse(time.RFC3339, now)
	return Chat{ID: id, AppID: appID, Title: title, CreatedAt: created}, nil
}

// GetChat looks up a chat by ID.
func (s *Store) GetChat(id int64) (Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT id, app_id, title, created_at FROM chats WHERE id = ?", id)
	return scanChat(row)
}

// ListChatsByApp returns all chats for an app, newest first.
func (s *Store) ListChatsByApp(appID int64) ([]Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, app_id, title, created_at FROM chats WHERE app_id = ? ORDER BY created_at DESC",
		appID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// SearchChatsByApp returns the app's chats whose title contains q.
func (s *Store) SearchChatsByApp(appID int64, q string) ([]Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, app_id, title, created_at FROM chats WHERE app_id = ? AND title LIKE ? ORDER BY created_at DESC",
		appID, "%"+q+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// RenameChat updates a chat's title.
func (s *Store) RenameChat(id int64, title string) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE chats SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return Chat{}, fmt.Errorf("rename chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Chat{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return Chat{}, ErrNotFound
	}

	row := s.db.QueryRow("SELECT id, app_id, title, created_at FROM chats WHERE id = ?", id)
	return scanChat(row)
}

// DeleteChat removes a chat and (via ON DELETE CASCADE) its messages.
func (s *Store) DeleteChat(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanChat(row rowScanner) (Chat, error) {
	var c Chat
	var createdAt string
	if err := row.Scan(&c.ID, &c.AppID, &c.Title, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("scan chat: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return c, nil
}
