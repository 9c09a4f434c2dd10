package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/persistence"
)

type chatView struct {
	ID        int64  `json:"id"`
	AppID     int64  `json:"appId"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
}

func toChatView(c persistence.Chat) chatView {
	return chatView{ID: c.ID, AppID: c.AppID, Title: c.Title, CreatedAt: c.CreatedAt.Format(timeFormat)}
}

// chatApp resolves a chat and verifies the caller owns the app it belongs
// to. Ownership always flows through the app, so chat-scoped operations
// share the same boundary as app-scoped ones.
func (s *Server) chatApp(w http.ResponseWriter, r *http.Request, chatID int64) (persistence.Chat, persistence.App, bool) {
	chat, err := s.store.GetChat(chatID)
	if err != nil {
		apperr.WriteJSON(w, apperr.NotFound("chat %d not found", chatID))
		return persistence.Chat{}, persistence.App{}, false
	}
	app, err := s.store.GetApp(chat.AppID)
	if err != nil {
		apperr.WriteJSON(w, apperr.NotFound("app %d not found", chat.AppID))
		return persistence.Chat{}, persistence.App{}, false
	}
	userID, ok := userIDFromContext(r)
	if !ok || app.OwnerUserID != userID {
		apperr.WriteJSON(w, apperr.Forbidden("caller does not own this chat"))
		return persistence.Chat{}, persistence.App{}, false
	}
	return chat, app, true
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	chats, err := s.store.ListChatsByApp(appID)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "list chats", err))
		return
	}
	views := make([]chatView, 0, len(chats))
	for _, c := range chats {
		views = append(views, toChatView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSearchChats(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	chats, err := s.store.SearchChatsByApp(appID, q)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "search chats", err))
		return
	}
	views := make([]chatView, 0, len(chats))
	for _, c := range chats {
		views = append(views, toChatView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathInt64(r, "id")
	if err != nil {
		writeValidation(w, "invalid chat id")
		return
	}
	chat, _, ok := s.chatApp(w, r, chatID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toChatView(chat))
}

type renameChatRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathInt64(r, "id")
	if err != nil {
		writeValidation(w, "invalid chat id")
		return
	}
	if _, _, ok := s.chatApp(w, r, chatID); !ok {
		return
	}
	var req renameChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "malformed request body")
		return
	}
	chat, err := s.store.RenameChat(chatID, req.Title)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "rename chat", err))
		return
	}
	writeJSON(w, http.StatusOK, toChatView(chat))
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathInt64(r, "id")
	if err != nil {
		writeValidation(w, "invalid chat id")
		return
	}
	if _, _, ok := s.chatApp(w, r, chatID); !ok {
		return
	}
	if err := s.store.DeleteChat(chatID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			apperr.WriteJSON(w, apperr.NotFound("chat %d not found", chatID))
			return
		}
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "delete chat", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
