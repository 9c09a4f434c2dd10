package proxy

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServeHTTPRespondsServiceUnavailableWhenNoLease(t *testing.T) {
	p := New(func(appID string) (int, bool) { return 0, false })

	req := httptest.NewRequest(http.MethodGet, "/preview/3/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req, "3")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not running") {
		t.Error("expected a human-readable not-running body")
	}
}

func TestServeHTTPProxiesToLeasedPort(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	port := upstream.Listener.Addr().(*net.TCPAddr).Port
	p := New(func(appID string) (int, bool) {
		if appID == "3" {
			return port, true
		}
		return 0, false
	})

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req, "3")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from proxied upstream, got %d", rec.Code)
	}
}

func TestServeHTTPRespondsBadGatewayWhenUpstreamDown(t *testing.T) {
	p := New(func(appID string) (int, bool) { return 1, true }) // port 1 is never listening

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req, "3")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestStripPrefix(t *testing.T) {
	cases := map[string]string{
		"/preview/3":           "/",
		"/preview/3/":          "/",
		"/preview/3/index.js":  "/index.js",
		"/preview/3/a/b/c.css": "/a/b/c.css",
	}
	for in, want := range cases {
		if got := StripPrefix("3", in); got != want {
			t.Errorf("StripPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
