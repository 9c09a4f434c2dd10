package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/config"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func writeValidation(w http.ResponseWriter, format string, args ...any) {
	apperr.WriteJSON(w, apperr.Validation(format, args...))
}

// appRoot returns an app's isolated workspace directory. It is derived
// deterministically from the app ID rather than persisted, since the two
// are permanently linked for the app's lifetime.
func appRoot(cfg *config.Config, appID int64) string {
	return filepath.Join(cfg.StoragePath, formatID(appID))
}
