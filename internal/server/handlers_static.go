package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/workbench/server/internal/apperr"
)

// apiPrefixes are the route namespaces owned by the JSON API. Anything else
// falls through to the frontend bundle so client-side routes deep-link.
var apiPrefixes = []string{
	"/auth/", "/apps/", "/chats/", "/stream/", "/files/",
	"/process/", "/preview/", "/socket.io", "/health",
}

func isAPIPath(p string) bool {
	for _, prefix := range apiPrefixes {
		if p == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// handleStaticFallback serves the frontend bundle from disk. Unmatched API
// paths stay JSON 404s; any other path gets the requested asset when it
// exists, or the SPA entry point so the client router can take over. With
// no bundle on disk everything is a JSON 404.
func (s *Server) handleStaticFallback(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		apperr.WriteJSON(w, apperr.NotFound("no such endpoint"))
		return
	}
	dir := s.cfg.StaticDir
	if dir == "" {
		apperr.WriteJSON(w, apperr.NotFound("not found"))
		return
	}
	name := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		http.ServeFile(w, r, name)
		return
	}
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		apperr.WriteJSON(w, apperr.NotFound("not found"))
		return
	}
	http.ServeFile(w, r, index)
}
