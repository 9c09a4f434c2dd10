package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/workbench/server/internal/config"
	"github.com/workbench/server/internal/persistence"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Host:                "127.0.0.1",
		Port:                0,
		AllowedOrigins:      []string{"*"},
		JWTSecret:           "test-secret",
		JWTIssuer:           "workbench-test",
		StoragePath:         t.TempDir(),
		ProcessBasePort:     20000,
		ProcessMaxPorts:     10,
		InstallTimeout:      time.Second,
		StopGracePeriod:     time.Second,
		MaxToolSteps:        4,
		StreamRateBurst:     5,
		StreamRatePerMin:    60,
		LogReplayBufferSize: 16,
		LogSubscriberBuffer: 16,
		HTTPReadTimeout:     5 * time.Second,
		HTTPWriteTimeout:    5 * time.Second,
		HTTPIdleTimeout:     5 * time.Second,
		WSReadBufferSize:    1024,
		WSWriteBufferSize:   1024,
	}

	s, err := New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)
	handler := corsMiddleware(mux, cfg.AllowedOrigins)

	httpSrv := httptest.NewServer(handler)
	t.Cleanup(httpSrv.Close)
	return s, httpSrv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func registerAndLogin(t *testing.T, base string) (userID int64, token string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, base+"/auth/register", "", registerRequest{
		Email: "ada@example.com", Password: "hunter2!!", DisplayName: "Ada",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: expected 200, got %d", resp.StatusCode)
	}
	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		t.Fatalf("decode auth response: %v", err)
	}
	return auth.User.ID, auth.Token
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	_, httpSrv := newTestServer(t)
	resp, err := http.Get(httpSrv.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	_, httpSrv := newTestServer(t)
	_, token := registerAndLogin(t, httpSrv.URL)

	resp := doJSON(t, http.MethodGet, httpSrv.URL+"/auth/me", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var view userView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Email != "ada@example.com" {
		t.Errorf("unexpected email %q", view.Email)
	}
}

func TestMeWithoutTokenIsUnauthorized(t *testing.T) {
	_, httpSrv := newTestServer(t)
	resp := doJSON(t, http.MethodGet, httpSrv.URL+"/auth/me", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	_, httpSrv := newTestServer(t)
	registerAndLogin(t, httpSrv.URL)

	resp := doJSON(t, http.MethodPost, httpSrv.URL+"/auth/register", "", registerRequest{
		Email: "ada@example.com", Password: "hunter2!!", DisplayName: "Ada",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCreateAppCreatesAppAndInitialChat(t *testing.T) {
	_, httpSrv := newTestServer(t)
	_, token := registerAndLogin(t, httpSrv.URL)

	resp := doJSON(t, http.MethodPost, httpSrv.URL+"/apps", token, createAppRequest{Name: "my-app"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created createAppResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.App.DisplayName != "my-app" {
		t.Errorf("unexpected app name %q", created.App.DisplayName)
	}
	if created.Chat.AppID != created.App.ID {
		t.Errorf("chat app id %d != app id %d", created.Chat.AppID, created.App.ID)
	}
}

func TestAppOwnershipIsEnforcedAcrossUsers(t *testing.T) {
	_, httpSrv := newTestServer(t)
	_, tokenA := registerAndLogin(t, httpSrv.URL)

	resp := doJSON(t, http.MethodPost, httpSrv.URL+"/apps", tokenA, createAppRequest{Name: "owned-by-a"})
	var created createAppResponse
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	regResp := doJSON(t, http.MethodPost, httpSrv.URL+"/auth/register", "", registerRequest{
		Email: "grace@example.com", Password: "hunter2!!", DisplayName: "Grace",
	})
	var authB authResponse
	_ = json.NewDecoder(regResp.Body).Decode(&authB)
	regResp.Body.Close()

	appPath := httpSrv.URL + "/apps/" + formatID(created.App.ID)
	resp2 := doJSON(t, http.MethodGet, appPath, authB.Token, nil)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for non-owner access, got %d", resp2.StatusCode)
	}
}

func TestFilesRoundTrip(t *testing.T) {
	_, httpSrv := newTestServer(t)
	_, token := registerAndLogin(t, httpSrv.URL)

	resp := doJSON(t, http.MethodPost, httpSrv.URL+"/apps", token, createAppRequest{Name: "files-app"})
	var created createAppResponse
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	appID := formatID(created.App.ID)

	putReq, _ := http.NewRequest(http.MethodPut, httpSrv.URL+"/files/app/"+appID+"/notes.txt", bytes.NewReader([]byte("hello workbench")))
	putReq.Header.Set("Authorization", "Bearer "+token)
	putResp, err := http.DefaultClient.Do(putReq)
	if err != nil {
		t.Fatalf("put file: %v", err)
	}
	putResp.Body.Close()
	if putResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from PUT, got %d", putResp.StatusCode)
	}

	getResp := doJSON(t, http.MethodGet, httpSrv.URL+"/files/app/"+appID+"/notes.txt", token, nil)
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from GET, got %d", getResp.StatusCode)
	}
	var fileResp fileContentView
	if err := json.NewDecoder(getResp.Body).Decode(&fileResp); err != nil {
		t.Fatalf("decode file content: %v", err)
	}
	if fileResp.Content != "hello workbench" {
		t.Errorf("unexpected file content %q", fileResp.Content)
	}

	dirResp := doJSON(t, http.MethodGet, httpSrv.URL+"/files/app/"+appID+"/", token, nil)
	defer dirResp.Body.Close()
	if dirResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from directory GET, got %d", dirResp.StatusCode)
	}
	var dirView fileListView
	if err := json.NewDecoder(dirResp.Body).Decode(&dirView); err != nil {
		t.Fatalf("decode directory listing: %v", err)
	}
	found := false
	for _, f := range dirView.Files {
		if f.Path == "notes.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected notes.txt in directory listing, got %+v", dirView.Files)
	}

	listResp := doJSON(t, http.MethodGet, httpSrv.URL+"/files/app/"+appID+"?recursive=true", token, nil)
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from recursive list, got %d", listResp.StatusCode)
	}
	var listView fileListView
	if err := json.NewDecoder(listResp.Body).Decode(&listView); err != nil {
		t.Fatalf("decode recursive listing: %v", err)
	}
	if len(listView.Files) != 1 || listView.Files[0].Path != "notes.txt" {
		t.Errorf("unexpected recursive listing %+v", listView.Files)
	}
}

func TestDeleteAppRemovesWorkspaceDirectory(t *testing.T) {
	s, httpSrv := newTestServer(t)
	_, token := registerAndLogin(t, httpSrv.URL)

	resp := doJSON(t, http.MethodPost, httpSrv.URL+"/apps", token, createAppRequest{Name: "to-delete"})
	var created createAppResponse
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	root := appRoot(s.cfg, created.App.ID)
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("expected workspace root to exist before delete: %v", err)
	}

	delResp := doJSON(t, http.MethodDelete, httpSrv.URL+"/apps/"+formatID(created.App.ID), token, nil)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from DELETE, got %d", delResp.StatusCode)
	}

	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("expected workspace root to be removed, stat err = %v", err)
	}
}

func TestProcessStatusDefaultsToIdle(t *testing.T) {
	_, httpSrv := newTestServer(t)
	_, token := registerAndLogin(t, httpSrv.URL)

	resp := doJSON(t, http.MethodPost, httpSrv.URL+"/apps", token, createAppRequest{Name: "proc-app"})
	var created createAppResponse
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	statusResp := doJSON(t, http.MethodGet, httpSrv.URL+"/process/"+formatID(created.App.ID)+"/status", token, nil)
	defer statusResp.Body.Close()
	if statusResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", statusResp.StatusCode)
	}
	var st processStatusView
	if err := json.NewDecoder(statusResp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "idle" {
		t.Errorf("expected idle state, got %q", st.State)
	}
}

func TestPreviewReturnsServiceUnavailableWhenNotRunning(t *testing.T) {
	_, httpSrv := newTestServer(t)
	_, token := registerAndLogin(t, httpSrv.URL)

	resp := doJSON(t, http.MethodPost, httpSrv.URL+"/apps", token, createAppRequest{Name: "preview-app"})
	var created createAppResponse
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	previewResp := doJSON(t, http.MethodGet, httpSrv.URL+"/preview/"+formatID(created.App.ID)+"/", token, nil)
	defer previewResp.Body.Close()
	if previewResp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", previewResp.StatusCode)
	}
}

func TestUnmatchedAPIPathReturnsJSONNotFound(t *testing.T) {
	_, httpSrv := newTestServer(t)

	resp, err := http.Get(httpSrv.URL + "/apps/nope/bogus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON 404 for an API path, got Content-Type %q", ct)
	}
}

func TestStaticFallbackServesSPAEntry(t *testing.T) {
	s, httpSrv := newTestServer(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	s.cfg.StaticDir = dir

	// An existing asset is served as-is.
	resp, err := http.Get(httpSrv.URL + "/app.js")
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for asset, got %d", resp.StatusCode)
	}

	// A client-side route falls back to the SPA entry.
	resp, err = http.Get(httpSrv.URL + "/apps-dashboard/settings")
	if err != nil {
		t.Fatalf("get spa route: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 SPA entry, got %d", resp.StatusCode)
	}
}
