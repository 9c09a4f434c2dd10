package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/workspacestore"
)

func (s *Server) workspaceFor(w http.ResponseWriter, appID int64) (*workspacestore.Store, bool) {
	store, err := workspacestore.New(appRoot(s.cfg, appID))
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "open workspace", err))
		return nil, false
	}
	return store, true
}

type fileEntryView struct {
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

// fileListView is the `{files: [...]}` envelope used for both the
// recursive workspace listing and a directory GET.
type fileListView struct {
	Files []fileEntryView `json:"files"`
}

// fileContentView is the `{content}` envelope returned for a file GET.
type fileContentView struct {
	Content string `json:"content"`
}

// handleFilesList lists the app's workspace tree. With ?recursive=true it
// returns every file path; otherwise just the root directory's immediate
// entries. Both are wrapped in the `{files: [...]}` envelope.
func (s *Server) handleFilesList(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	store, ok := s.workspaceFor(w, appID)
	if !ok {
		return
	}

	if r.URL.Query().Get("recursive") == "true" {
		paths, err := store.ListRecursive("", 0, 0)
		if err != nil {
			apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "list workspace", err))
			return
		}
		views := make([]fileEntryView, 0, len(paths))
		for _, p := range paths {
			views = append(views, fileEntryView{Path: p})
		}
		writeJSON(w, http.StatusOK, fileListView{Files: views})
		return
	}

	entries, err := store.List("")
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "list workspace", err))
		return
	}
	writeJSON(w, http.StatusOK, fileListView{Files: toFileEntryViews(entries)})
}

func toFileEntryViews(entries []workspacestore.Entry) []fileEntryView {
	views := make([]fileEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, fileEntryView{Path: e.Path, IsDir: e.IsDir, Size: e.Size})
	}
	return views
}

// handleFilesGet reads one path under the workspace: a file's content as
// `{content}`, or a directory's immediate entries as `{files: [...]}`.
// Clients use the recursive list to discover paths and GET each one
// individually, mirroring the closed tool surface the AI itself uses.
func (s *Server) handleFilesGet(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	store, ok := s.workspaceFor(w, appID)
	if !ok {
		return
	}
	path := r.PathValue("path")

	info, err := store.Stat(path)
	if err != nil {
		if errors.Is(err, workspacestore.ErrPathEscape) {
			apperr.WriteJSON(w, apperr.Validation("path escapes the workspace root"))
			return
		}
		apperr.WriteJSON(w, apperr.NotFound("file %q not found", path))
		return
	}

	if info.IsDir {
		entries, err := store.List(path)
		if err != nil {
			apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "list directory", err))
			return
		}
		writeJSON(w, http.StatusOK, fileListView{Files: toFileEntryViews(entries)})
		return
	}

	content, err := store.ReadFile(path)
	if err != nil {
		apperr.WriteJSON(w, apperr.NotFound("file %q not found", path))
		return
	}
	writeJSON(w, http.StatusOK, fileContentView{Content: string(content)})
}

func (s *Server) handleFilesPut(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	store, ok := s.workspaceFor(w, appID)
	if !ok {
		return
	}
	path := r.PathValue("path")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxToolFileBytes))
	if err != nil {
		writeValidation(w, "failed to read request body")
		return
	}
	if err := store.WriteFile(path, body); err != nil {
		if errors.Is(err, workspacestore.ErrPathEscape) {
			apperr.WriteJSON(w, apperr.Validation("path escapes the workspace root"))
			return
		}
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "write file", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFilesDelete(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	store, ok := s.workspaceFor(w, appID)
	if !ok {
		return
	}
	path := r.PathValue("path")
	if err := store.DeleteFile(path); err != nil {
		if errors.Is(err, workspacestore.ErrPathEscape) {
			apperr.WriteJSON(w, apperr.Validation("path escapes the workspace root"))
			return
		}
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "delete file", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
