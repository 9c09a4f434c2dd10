package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/portalloc"
	"github.com/workbench/server/internal/supervisor"
)

// processStatusView is the `{running, port?, previewUrl?}` status shape.
// State/Error are additive detail.
type processStatusView struct {
	Running    bool   `json:"running"`
	Port       int    `json:"port,omitempty"`
	PreviewURL string `json:"previewUrl,omitempty"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

// processStartView is the `{success, port, previewUrl}` shape returned by a
// start request.
type processStartView struct {
	Success    bool   `json:"success"`
	Port       int    `json:"port,omitempty"`
	PreviewURL string `json:"previewUrl,omitempty"`
	State      string `json:"state"`
}

func toProcessStatusView(appID int64, st supervisor.Status) processStatusView {
	v := processStatusView{Running: st.State == supervisor.StateRunning, State: string(st.State), Error: st.Error}
	if v.Running {
		v.Port = st.Port
		v.PreviewURL = fmt.Sprintf("/preview/%d", appID)
	}
	return v
}

// devCommandsFor returns the install/start commands and port env var for an
// app's template. Every template this service ships is a Vite-based React
// app, so the commands are fixed; a future template system would look this
// up per-template instead.
func devCommandsFor(_ string) (install, start []string, portEnv string) {
	return []string{"npm", "install"}, []string{"npm", "run", "dev", "--", "--port", "$PORT"}, "PORT"
}

const (
	projectMarkerFile = "package.json"
	depsDir           = "node_modules"
)

func (s *Server) handleProcessStart(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	app, err := s.store.GetApp(appID)
	if err != nil {
		apperr.WriteJSON(w, apperr.NotFound("app %d not found", appID))
		return
	}
	install, start, portEnv := devCommandsFor(app.Template)
	spec := supervisor.Spec{
		WorkspaceID:    formatID(appID),
		WorkDir:        appRoot(s.cfg, appID),
		InstallCommand: install,
		StartCommand:   start,
		PortEnvVar:     portEnv,
		MarkerFile:     projectMarkerFile,
		DepsDir:        depsDir,
	}

	// Start is a no-op for a workspace already preparing/starting/running, so
	// the limit only guards genuinely new launches.
	alreadyActive := s.supervisor.Status(spec.WorkspaceID).State != supervisor.StateIdle &&
		s.supervisor.Status(spec.WorkspaceID).State != supervisor.StateStopped &&
		s.supervisor.Status(spec.WorkspaceID).State != supervisor.StateFailed
	if !alreadyActive && s.cfg.MaxConcurrentApps > 0 && s.supervisor.RunningCount() >= s.cfg.MaxConcurrentApps {
		apperr.WriteJSON(w, apperr.Exhausted("maximum concurrent app processes reached"))
		return
	}

	if err := s.supervisor.Start(r.Context(), spec); err != nil {
		switch {
		case errors.Is(err, supervisor.ErrNotInitialized):
			apperr.WriteJSON(w, apperr.Conflict("workspace not initialized"))
		case errors.Is(err, portalloc.ErrExhausted):
			apperr.WriteJSON(w, apperr.Exhausted("no free port for app process"))
		default:
			apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "start process", err))
		}
		return
	}
	st := s.supervisor.Status(spec.WorkspaceID)
	view := processStartView{Success: true, State: string(st.State)}
	if st.State == supervisor.StateRunning {
		view.Port = st.Port
		view.PreviewURL = fmt.Sprintf("/preview/%d", appID)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleProcessStop(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	wasRunning := s.supervisor.Status(formatID(appID)).State == supervisor.StateRunning ||
		s.supervisor.Status(formatID(appID)).State == supervisor.StateStarting
	if err := s.supervisor.Stop(formatID(appID), s.cfg.StopGracePeriod); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "stop process", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "stopped": wasRunning})
}

func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	appID, ok := s.resolveOwnedApp(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProcessStatusView(appID, s.supervisor.Status(formatID(appID))))
}
