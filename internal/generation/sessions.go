// Package generation drives the streaming tool-calling conversation against
// a model provider, persists the resulting messages, and frames progress as
// SSE events. Session bookkeeping is a map of in-flight sessions guarded
// by one mutex, with cancellation looked up by session ID.
package generation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a transient handle for one in-flight generation. It exists
// only for the duration of a single POST /stream/{chatId} call.
type Session struct {
	ID          string
	ChatID      int64
	OwnerUserID int64
	CreatedAt   time.Time

	cancel context.CancelFunc
}

// SessionManager tracks every active Session, keyed by ID so
// POST /stream/cancel/{streamId} can look one up without knowing its chat.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Create registers a new Session with a fresh cancellable context derived
// from parent, and returns both the Session and the context to drive the
// generation with.
func (m *SessionManager) Create(parent context.Context, chatID, ownerUserID int64) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		OwnerUserID: ownerUserID,
		CreatedAt:   time.Now().UTC(),
		cancel:      cancel,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, ctx
}

// Cancel invokes a session's cancel handle and removes it. It reports
// whether a session with that ID was found; racing against an
// already-completed stream simply reports false.
func (m *SessionManager) Cancel(streamID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[streamID]
	if ok {
		delete(m.sessions, streamID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// Release removes a session without cancelling it, used once a generation
// finishes on its own (success or upstream error).
func (m *SessionManager) Release(streamID string) {
	m.mu.Lock()
	delete(m.sessions, streamID)
	m.mu.Unlock()
}

// StopAll cancels every in-flight session, used during server shutdown.
func (m *SessionManager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
}
