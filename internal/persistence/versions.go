package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppVersion is a point-in-time snapshot marker for an app's file tree,
// recorded after a generation turn completes. No copy of the file tree is
// kept; this row only tracks when and why the marker was recorded.
type AppVersion struct {
	ID           int64
	AppID        int64
	MessageID    int64
	SnapshotNote string
	CreatedAt    time.Time
}

// CreateAppVersion records a new version marker for an app.
func (s *Store) CreateAppVersion(appID, messageID int64, note string) (AppVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		"INSERT INTO app_versions (app_id, message_id, snapshot_note, created_at) VALUES (?, ?, ?, ?)",
		appID, messageID, note, now,
	)
	if err != nil {
		return AppVersion{}, fmt.Errorf("insert app version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AppVersion{}, fmt.Errorf("last insert id: %w", err)
	}
	created, _ := time.Parse(time.RFC3339, now)
	return AppVersion{ID: id, AppID: appID, MessageID: messageID, SnapshotNote: note, CreatedAt: created}, nil
}

// ListAppVersions returns every version marker for an app, newest first.
func (s *Store) ListAppVersions(appID int64) ([]AppVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, app_id, message_id, snapshot_note, created_at
		 FROM app_versions WHERE app_id = ? ORDER BY created_at DESC`,
		appID,
	)
	if err != nil {
		return nil, fmt.Errorf("list app versions: %w", err)
	}
	defer rows.Close()

	var versions []AppVersion
	for rows.Next() {
		v, err := scanAppVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetAppVersion looks up a single version marker by ID.
func (s *Store) GetAppVersion(id int64) (AppVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		"SELECT id, app_id, message_id, snapshot_note, created_at FROM app_versions WHERE id = ?", id,
	)
	return scanAppVersion(row)
}

func scanAppVersion(row rowScanner) (AppVersion, error) {
	var v AppVersion
	var createdAt string
	if err := row.Scan(&v.ID, &v.AppID, &v.MessageID, &v.SnapshotNote, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AppVersion{}, ErrNotFound
		}
		return AppVersion{}, fmt.Errorf("scan app version: %w", err)
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return v, nil
}
