package server

import (
	"net/http"

	"github.com/workbench/server/internal/proxy"
)

// handlePreview proxies a request under /preview/{appId}/* to the app's
// running dev server. Ownership is checked here exactly like every other
// app-scoped handler — the regular bearer-auth + ownership gate, not a
// separate preview-token scheme.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	workspaceID := formatID(appID)
	r.URL.Path = proxy.StripPrefix(workspaceID, r.URL.Path)
	s.proxy.ServeHTTP(w, r, workspaceID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
