package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// App is a user-owned workspace: a file tree root plus chat history and a
// supervised dev process (the latter two tracked elsewhere).
type App struct {
	ID               int64
	OwnerUserID      int64
	DisplayName      string
	RootPath         string
	Template         string
	Favorite         bool
	SelectedProvider string
	SelectedModel    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateApp inserts a new app workspace.
func (s *Store) CreateApp(ownerUserID int64, displayName, rootPath, template string) (App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		`INSERT INTO apps (owner_user_id, display_name, root_path, template, favorite, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		ownerUserID, displayName, rootPath, template, now, now,
	)
	if err != nil {
		return App{}, fmt.Errorf("insert app: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return App{}, fmt.Errorf("last insert id: %w", err)
	}
	return s.getAppLocked(id)
}

// GetApp looks up an app by ID, regardless of owner.
func (s *Store) GetApp(id int64) (App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAppLocked(id)
}

func (s *Store) getAppLocked(id int64) (App, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_user_id, display_name, root_path, template, favorite,
		        selected_provider, selected_model, created_at, updated_at
		 FROM apps WHERE id = ?`, id,
	)
	return scanApp(row)
}

// ListAppsByOwner returns all apps owned by a user, newest first.
func (s *Store) ListAppsByOwner(ownerUserID int64) ([]App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, owner_user_id, display_name, root_path, template, favorite,
		        selected_provider, selected_model, created_at, updated_at
		 FROM apps WHERE owner_user_id = ? ORDER BY created_at DESC`, ownerUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		app, err := scanAppRows(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// SearchAppsByOwner returns the owner's apps whose display name contains q.
func (s *Store) SearchAppsByOwner(ownerUserID int64, q string) ([]App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, owner_user_id, display_name, root_path, template, favorite,
		        selected_provider, selected_model, created_at, updated_at
		 FROM apps WHERE owner_user_id = ? AND display_name LIKE ? ORDER BY created_at DESC`,
		ownerUserID, "%"+q+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("search apps: %w", err)
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		app, err := scanAppRows(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// UpdateApp updates the mutable fields of an app.
func (s *Store) UpdateApp(id int64, displayName string) (App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE apps SET display_name = ?, updated_at = ? WHERE id = ?",
		displayName, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return App{}, fmt.Errorf("update app: %w", err)
	}
	return s.getAppLocked(id)
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (s *Store) ToggleFavorite(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow("SELECT favorite FROM apps WHERE id = ?", id)
	var fav int
	if err := row.Scan(&fav); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("read favorite: %w", err)
	}
	newVal := 1
	if fav == 1 {
		newVal = 0
	}
	if _, err := s.db.Exec("UPDATE apps SET favorite = ?, updated_at = ? WHERE id = ?",
		newVal, time.Now().UTC().Format(time.RFC3339), id); err != nil {
		return false, fmt.Errorf("update favorite: %w", err)
	}
	return newVal == 1, nil
}

// SetSelectedModel persists the user's chosen provider/model for an app.
func (s *Store) SetSelectedModel(id int64, provider, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE apps SET selected_provider = ?, selected_model = ?, updated_at = ? WHERE id = ?",
		provider, model, time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// DeleteApp removes an app and (via ON DELETE CASCADE) its chats, messages,
// and version snapshots.
func (s *Store) DeleteApp(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM apps WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete app: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApp(row rowScanner) (App, error) {
	var a App
	var favorite int
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.OwnerUserID, &a.DisplayName, &a.RootPath, &a.Template, &favorite,
		&a.SelectedProvider, &a.SelectedModel, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return App{}, ErrNotFound
		}
		return App{}, fmt.Errorf("scan app: %w", err)
	}
	a.Favorite = favorite == 1
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return a, nil
}

func scanAppRows(rows *sql.Rows) (App, error) {
	return scanApp(rows)
}
