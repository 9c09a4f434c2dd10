// Package proxy forwards HTTP and WebSocket traffic under
// /preview/{appId}/* to the per-workspace dev server on its allocated
// local port, via httputil.NewSingleHostReverseProxy to 127.0.0.1:<port>
// with a custom ErrorHandler mapping upstream failures to 502. The port
// is resolved through a lease lookup rather than trusted
// directly from the URL, and fail-closed 503 when no process is running.
package proxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
)

// PortLookup resolves a workspace's currently leased port. It returns
// ok=false when no dev server is running for that workspace — the proxy
// then fails closed and never opens a connection to the loopback
// interface.
type PortLookup func(workspaceID string) (port int, ok bool)

// Proxy implements the preview reverse proxy.
type Proxy struct {
	lookup PortLookup
}

// New creates a Proxy that resolves ports via lookup.
func New(lookup PortLookup) *Proxy {
	return &Proxy{lookup: lookup}
}

// unavailableHTML is served with a 503 when no process is running for the
// requested workspace; it self-refreshes so the preview pane recovers once
// the caller starts the dev server.
const unavailableHTML = `<!doctype html>
<html>
  <head><meta http-equiv="refresh" content="3"></head>
  <body style="font-family: sans-serif; padding: 2rem;">
    <h2>Workspace is not running</h2>
    <p>Start the dev server to view this preview. This page refreshes automatically.</p>
  </body>
</html>
`

// ServeHTTP handles one proxied request for appID, with the
// /preview/{appId} prefix already stripped from r.URL.Path by the caller.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request, appID string) {
	port, ok := p.lookup(appID)
	if !ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(unavailableHTML))
		return
	}

	target, err := url.Parse("http://127.0.0.1:" + strconv.Itoa(port))
	if err != nil {
		http.Error(w, "failed to build proxy target", http.StatusInternalServerError)
		return
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	originalDirector := rp.Director
	rp.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
	}
	rp.ErrorHandler = func(rw http.ResponseWriter, _ *http.Request, proxyErr error) {
		http.Error(rw, "upstream dev server unreachable: "+proxyErr.Error(), http.StatusBadGateway)
	}
	rp.ServeHTTP(w, r)
}

// StripPrefix removes the "/preview/{appId}" segment from a request path,
// leaving a root-relative path the dev server expects.
func StripPrefix(appID, path string) string {
	prefix := "/preview/" + appID
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == "" || trimmed[0] != '/' {
		trimmed = "/" + trimmed
	}
	return trimmed
}
