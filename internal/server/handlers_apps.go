package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/persistence"
	"github.com/workbench/server/internal/workspacestore"
)

type appView struct {
	ID               int64  `json:"id"`
	DisplayName      string `json:"displayName"`
	Template         string `json:"template"`
	Favorite         bool   `json:"favorite"`
	SelectedProvider string `json:"selectedProvider"`
	SelectedModel    string `json:"selectedModel"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

func toAppView(a persistence.App) appView {
	return appView{
		ID:               a.ID,
		DisplayName:      a.DisplayName,
		Template:         a.Template,
		Favorite:         a.Favorite,
		SelectedProvider: a.SelectedProvider,
		SelectedModel:    a.SelectedModel,
		CreatedAt:        a.CreatedAt.Format(timeFormat),
		UpdatedAt:        a.UpdatedAt.Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

type createAppRequest struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Template string `json:"template"`
}

type createAppResponse struct {
	App  appView  `json:"app"`
	Chat chatView `json:"chat"`
}

// handleCreateApp creates an app, its isolated workspace directory, and an
// initial chat in one request: the client never sees an app without a chat
// to start generating into.
func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "missing caller identity"))
		return
	}
	var req createAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "malformed request body")
		return
	}
	if req.Name == "" {
		writeValidation(w, "name is required")
		return
	}
	if req.Template == "" {
		req.Template = "react"
	}

	app, err := s.store.CreateApp(userID, req.Name, "", req.Template)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "create app", err))
		return
	}

	root := appRoot(s.cfg, app.ID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "create workspace root", err))
		return
	}
	if _, err := workspacestore.New(root); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "materialize workspace root", err))
		return
	}

	title := req.Name
	chat, err := s.store.CreateChat(app.ID, title)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "create initial chat", err))
		return
	}

	writeJSON(w, http.StatusCreated, createAppResponse{App: toAppView(app), Chat: toChatView(chat)})
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "missing caller identity"))
		return
	}
	apps, err := s.store.ListAppsByOwner(userID)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "list apps", err))
		return
	}
	views := make([]appView, 0, len(apps))
	for _, a := range apps {
		views = append(views, toAppView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSearchApps(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "missing caller identity"))
		return
	}
	q := r.URL.Query().Get("q")
	apps, err := s.store.SearchAppsByOwner(userID, q)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "search apps", err))
		return
	}
	views := make([]appView, 0, len(apps))
	for _, a := range apps {
		views = append(views, toAppView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request, appID int64) {
	app, err := s.store.GetApp(appID)
	if err != nil {
		apperr.WriteJSON(w, apperr.NotFound("app %d not found", appID))
		return
	}
	writeJSON(w, http.StatusOK, toAppView(app))
}

type updateAppRequest struct {
	DisplayName      *string `json:"displayName"`
	SelectedProvider *string `json:"selectedProvider"`
	SelectedModel    *string `json:"selectedModel"`
}

func (s *Server) handleUpdateApp(w http.ResponseWriter, r *http.Request, appID int64) {
	var req updateAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "malformed request body")
		return
	}
	app, err := s.store.GetApp(appID)
	if err != nil {
		apperr.WriteJSON(w, apperr.NotFound("app %d not found", appID))
		return
	}
	if req.DisplayName != nil {
		app, err = s.store.UpdateApp(appID, *req.DisplayName)
		if err != nil {
			apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "update app", err))
			return
		}
	}
	if req.SelectedProvider != nil || req.SelectedModel != nil {
		providerName := app.SelectedProvider
		model := app.SelectedModel
		if req.SelectedProvider != nil {
			providerName = *req.SelectedProvider
		}
		if req.SelectedModel != nil {
			model = *req.SelectedModel
		}
		if err := s.store.SetSelectedModel(appID, providerName, model); err != nil {
			apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "set model", err))
			return
		}
		app, err = s.store.GetApp(appID)
		if err != nil {
			apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "reload app", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, toAppView(app))
}

func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request, appID int64) {
	_ = s.supervisor.Stop(formatID(appID), s.cfg.StopGracePeriod)
	if err := s.store.DeleteApp(appID); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "delete app", err))
		return
	}
	// The workspace directory goes away with the app. The DB row is
	// already gone at this point, so a failure here is logged and not
	// surfaced to the client as an error.
	if err := os.RemoveAll(appRoot(s.cfg, appID)); err != nil {
		slog.Warn("failed to remove workspace directory", "app", appID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request, appID int64) {
	fav, err := s.store.ToggleFavorite(appID)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "toggle favorite", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorite": fav})
}

type appVersionView struct {
	ID           int64  `json:"id"`
	MessageID    int64  `json:"messageId"`
	SnapshotNote string `json:"snapshotNote"`
	CreatedAt    string `json:"createdAt"`
}

func (s *Server) handleListAppVersions(w http.ResponseWriter, r *http.Request, appID int64) {
	versions, err := s.store.ListAppVersions(appID)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "list app versions", err))
		return
	}
	views := make([]appVersionView, 0, len(versions))
	for _, v := range versions {
		views = append(views, appVersionView{
			ID: v.ID, MessageID: v.MessageID, SnapshotNote: v.SnapshotNote,
			CreatedAt: v.CreatedAt.Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, views)
}
