package server

import (
	"encoding/json"
	"net/http"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/persistence"
)

type messageView struct {
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chatId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	RequestID string `json:"requestId"`
	CreatedAt string `json:"createdAt"`
}

func toMessageView(m persistence.Message) messageView {
	return messageView{
		ID: m.ID, ChatID: m.ChatID, Role: string(m.Role), Content: m.Content,
		RequestID: m.RequestID, CreatedAt: m.CreatedAt.Format(timeFormat),
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathInt64(r, "id")
	if err != nil {
		writeValidation(w, "invalid chat id")
		return
	}
	if _, _, ok := s.chatApp(w, r, chatID); !ok {
		return
	}
	msgs, err := s.store.ListMessages(chatID)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "list messages", err))
		return
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toMessageView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleAppendMessage lets a caller record a message directly (e.g. a
// system note or an out-of-band annotation) without driving a generation
// turn. Turns produced by the AI go through POST /stream/{chatId} instead.
func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathInt64(r, "id")
	if err != nil {
		writeValidation(w, "invalid chat id")
		return
	}
	if _, _, ok := s.chatApp(w, r, chatID); !ok {
		return
	}
	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "malformed request body")
		return
	}
	role := persistence.Role(req.Role)
	if role != persistence.RoleUser && role != persistence.RoleAssistant && role != persistence.RoleSystem {
		writeValidation(w, "role must be one of user, assistant, system")
		return
	}
	msg, err := s.store.AppendMessage(chatID, role, req.Content, "")
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "append message", err))
		return
	}
	writeJSON(w, http.StatusCreated, toMessageView(msg))
}
