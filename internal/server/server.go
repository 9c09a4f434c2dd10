// Package server wires every component (persistence, supervisor, log bus,
// generation pipeline, preview proxy, subscription fabric) into the HTTP
// surface: a single Server struct constructed once at startup holding every
// dependency, explicit setupRoutes using Go 1.22+ http.ServeMux patterns,
// and a CORS middleware wrapping the whole mux.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/time/rate"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/auth"
	"github.com/workbench/server/internal/config"
	"github.com/workbench/server/internal/generation"
	"github.com/workbench/server/internal/logbus"
	"github.com/workbench/server/internal/persistence"
	"github.com/workbench/server/internal/portalloc"
	"github.com/workbench/server/internal/provider"
	"github.com/workbench/server/internal/provider/anthropic"
	"github.com/workbench/server/internal/provider/bedrock"
	"github.com/workbench/server/internal/provider/openai"
	"github.com/workbench/server/internal/proxy"
	"github.com/workbench/server/internal/subscription"
	"github.com/workbench/server/internal/supervisor"
)

// Server is the HTTP surface for the workbench backend.
type Server struct {
	cfg    *config.Config
	http   *http.Server
	store  *persistence.Store
	tokens *auth.TokenManager

	supervisor *supervisor.Supervisor
	registry   *provider.Registry
	pipeline   *generation.Pipeline
	proxy      *proxy.Proxy
	fabric     *subscription.Fabric

	limiterMu sync.Mutex
	limiters  map[int64]*rate.Limiter
}

// New constructs a Server with every component wired and ready to serve.
func New(cfg *config.Config, store *persistence.Store) (*Server, error) {
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, 0)

	ports := portalloc.NewPool(cfg.ProcessBasePort, cfg.ProcessMaxPorts)
	bus := logbus.New(cfg.LogSubscriberBuffer, cfg.LogReplayBufferSize)
	sv := supervisor.New(ports, bus, cfg.InstallTimeout)

	registry := buildProviderRegistry(cfg)
	sessions := generation.NewSessionManager()
	pipeline := generation.New(store, registry, sessions, cfg.MaxToolSteps)

	preview := proxy.New(func(appID string) (int, bool) {
		status := sv.Status(appID)
		if status.State != supervisor.StateRunning {
			return 0, false
		}
		return status.Port, true
	})

	fabric := subscription.New(bus, cfg.AllowedOrigins, cfg.WSReadBufferSize, cfg.WSWriteBufferSize, func(userID int64, workspaceID string) bool {
		appID, err := strconv.ParseInt(workspaceID, 10, 64)
		if err != nil {
			return false
		}
		app, err := store.GetApp(appID)
		if err != nil {
			return false
		}
		return app.OwnerUserID == userID
	})

	s := &Server{
		cfg:        cfg,
		store:      store,
		tokens:     tokens,
		supervisor: sv,
		registry:   registry,
		pipeline:   pipeline,
		proxy:      preview,
		fabric:     fabric,
		limiters:   make(map[int64]*rate.Limiter),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      corsMiddleware(mux, cfg.AllowedOrigins),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return s, nil
}

func buildProviderRegistry(cfg *config.Config) *provider.Registry {
	r := provider.NewRegistry()
	r.Register(provider.Anthropic, anthropic.NewFactory(cfg.AnthropicAPIKey))
	r.Register(provider.OpenAI, openai.NewFactory(cfg.OpenAIAPIKey))
	r.Register(provider.Bedrock, bedrock.NewFactory(awsCredentialsAvailable()))
	return r
}

// awsCredentialsAvailable probes the standard AWS SDK credential chain once
// at startup so the Bedrock factory can fail fast like the API-key
// providers instead of erroring deep inside a streaming call.
func awsCredentialsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return false
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	return err == nil && creds.HasKeys()
}

// Start begins serving HTTP traffic. It blocks until the server stops.
func (s *Server) Start() error {
	slog.Info("starting workbench server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down: it stops every supervised process,
// cancels every in-flight generation session, and closes the HTTP server
// and persistence store. Closing the HTTP server also tears down any open
// SSE and socket connections.
func (s *Server) Stop(ctx context.Context) error {
	s.pipeline.Sessions().StopAll()
	s.supervisor.StopAll(s.cfg.StopGracePeriod)

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close persistence store: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/me", s.withAuth(s.handleMe))

	mux.HandleFunc("GET /apps", s.withAuth(s.handleListApps))
	mux.HandleFunc("POST /apps", s.withAuth(s.handleCreateApp))
	mux.HandleFunc("GET /apps/search", s.withAuth(s.handleSearchApps))
	mux.HandleFunc("GET /apps/{id}", s.withAuth(s.withAppOwnership(s.handleGetApp)))
	mux.HandleFunc("PATCH /apps/{id}", s.withAuth(s.withAppOwnership(s.handleUpdateApp)))
	mux.HandleFunc("DELETE /apps/{id}", s.withAuth(s.withAppOwnership(s.handleDeleteApp)))
	mux.HandleFunc("POST /apps/{id}/favorite", s.withAuth(s.withAppOwnership(s.handleToggleFavorite)))
	mux.HandleFunc("GET /apps/{id}/versions", s.withAuth(s.withAppOwnership(s.handleListAppVersions)))

	mux.HandleFunc("GET /chats/app/{appId}", s.withAuth(s.handleListChats))
	mux.HandleFunc("GET /chats/app/{appId}/search", s.withAuth(s.handleSearchChats))
	mux.HandleFunc("GET /chats/{id}", s.withAuth(s.handleGetChat))
	mux.HandleFunc("PATCH /chats/{id}", s.withAuth(s.handleRenameChat))
	mux.HandleFunc("DELETE /chats/{id}", s.withAuth(s.handleDeleteChat))
	mux.HandleFunc("GET /chats/{id}/messages", s.withAuth(s.handleListMessages))
	mux.HandleFunc("POST /chats/{id}/messages", s.withAuth(s.handleAppendMessage))

	mux.HandleFunc("POST /stream/{chatId}", s.withAuth(s.handleStream))
	mux.HandleFunc("POST /stream/cancel/{streamId}", s.withAuth(s.handleStreamCancel))

	mux.HandleFunc("GET /files/app/{appId}", s.withAuth(s.handleFilesList))
	mux.HandleFunc("GET /files/app/{appId}/{path...}", s.withAuth(s.handleFilesGet))
	mux.HandleFunc("PUT /files/app/{appId}/{path...}", s.withAuth(s.handleFilesPut))
	mux.HandleFunc("DELETE /files/app/{appId}/{path...}", s.withAuth(s.handleFilesDelete))

	mux.HandleFunc("POST /process/{appId}/start", s.withAuth(s.handleProcessStart))
	mux.HandleFunc("POST /process/{appId}/stop", s.withAuth(s.handleProcessStop))
	mux.HandleFunc("GET /process/{appId}/status", s.withAuth(s.handleProcessStatus))

	mux.HandleFunc("/preview/{appId}/{path...}", s.withAuth(s.handlePreview))

	mux.HandleFunc("/socket.io", s.withAuth(s.handleSocket))

	mux.HandleFunc("/", s.handleStaticFallback)
}

// handleSocket authenticates the WebSocket upgrade request the same way
// every other route does, then hands the connection to the Subscription
// Fabric with the caller's identity so join-app can be checked against
// workspace ownership.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "missing caller identity"))
		return
	}
	s.fabric.ServeHTTP(w, r, userID)
}

// corsMiddleware handles cross-origin headers and preflight, with
// wildcard-subdomain origin matching.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
			if strings.Contains(o, "*.") {
				idx := strings.Index(o, "*.")
				prefix, suffix := o[:idx], o[idx+1:]
				if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
					allowed = true
					break
				}
			}
		}
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// streamLimiter returns the per-user token bucket gating /stream/* calls,
// creating one on first use.
func (s *Server) streamLimiter(userID int64) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[userID]
	if !ok {
		perSecond := rate.Limit(float64(s.cfg.StreamRatePerMin) / 60.0)
		l = rate.NewLimiter(perSecond, s.cfg.StreamRateBurst)
		s.limiters[userID] = l
	}
	return l
}
