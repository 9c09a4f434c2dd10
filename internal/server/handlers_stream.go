package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/generation"
	"github.com/workbench/server/internal/toolexec"
	"github.com/workbench/server/internal/workspacestore"
)

type streamRequest struct {
	Prompt string `json:"prompt"`
	Redo   bool   `json:"redo"`
}

// handleStream drives one generation turn, streaming SSE frames directly to
// the client for the lifetime of the request. Rate limited per caller.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "missing caller identity"))
		return
	}
	if !s.streamLimiter(userID).Allow() {
		apperr.WriteJSON(w, apperr.Exhausted("too many generation requests, slow down"))
		return
	}

	chatID, err := pathInt64(r, "chatId")
	if err != nil {
		writeValidation(w, "invalid chat id")
		return
	}
	_, app, ok := s.chatApp(w, r, chatID)
	if !ok {
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "malformed request body")
		return
	}
	if !req.Redo && req.Prompt == "" {
		writeValidation(w, "prompt is required")
		return
	}

	store, err := workspacestore.New(appRoot(s.cfg, app.ID))
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "open workspace", err))
		return
	}
	executor := toolexec.New(store, maxToolFileBytes)

	params := generation.Params{
		ChatID:      chatID,
		OwnerUserID: userID,
		Prompt:      req.Prompt,
		Redo:        req.Redo,
		App:         app,
		Store:       store,
		Executor:    executor,
	}

	err = s.pipeline.Run(r.Context(), w, params)
	if err != nil {
		switch {
		case errors.Is(err, generation.ErrChatNotFound):
			apperr.WriteJSON(w, apperr.NotFound("chat %d not found", chatID))
		case errors.Is(err, generation.ErrForbidden):
			apperr.WriteJSON(w, apperr.Forbidden("caller does not own this chat"))
		default:
			// Headers are already sent by this point in the common case, so
			// there is nothing left to do but log; the frame writer already
			// emitted an `error` SSE frame for the client.
		}
	}
}

// maxToolFileBytes bounds a single write/read the AI tool surface will
// perform in one call.
const maxToolFileBytes = 5 * 1024 * 1024

func (s *Server) handleStreamCancel(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("streamId")
	if streamID == "" {
		writeValidation(w, "missing stream id")
		return
	}
	if !s.pipeline.Sessions().Cancel(streamID) {
		apperr.WriteJSON(w, apperr.NotFound("stream %s not found", streamID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
