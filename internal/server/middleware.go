package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/auth"
)

type ctxKey int

const ctxKeyClaims ctxKey = 1

// withAuth verifies the request's bearer token and attaches its claims to
// the request context. This service issues and verifies its own JWTs, so
// there is no session cookie path, only the Authorization header.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "missing bearer token"))
			return
		}
		claims, err := s.tokens.Verify(token)
		if err != nil {
			apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "invalid or expired token"))
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next(w, r.WithContext(ctx))
	}
}

func claimsFromContext(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(ctxKeyClaims).(*auth.Claims)
	return claims, ok
}

func userIDFromContext(r *http.Request) (int64, bool) {
	claims, ok := claimsFromContext(r)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// withAppOwnership resolves the {id} (or {appId}) path parameter to an app
// and rejects the request unless the caller owns it. The same gate applies
// uniformly to every app-scoped handler, preview included.
func (s *Server) withAppOwnership(next func(http.ResponseWriter, *http.Request, int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := s.resolveOwnedApp(w, r)
		if !ok {
			return
		}
		next(w, r, appID)
	}
}

// resolveOwnedApp looks up the app named by the request's {id} or {appId}
// path value and verifies the authenticated caller owns it, writing an
// error response and returning ok=false otherwise.
func (s *Server) resolveOwnedApp(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	if raw == "" {
		raw = r.PathValue("appId")
	}
	appID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		apperr.WriteJSON(w, apperr.Validation("invalid app id %q", raw))
		return 0, false
	}
	userID, ok := userIDFromContext(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "missing caller identity"))
		return 0, false
	}
	app, err := s.store.GetApp(appID)
	if err != nil {
		apperr.WriteJSON(w, apperr.NotFound("app %d not found", appID))
		return 0, false
	}
	if app.OwnerUserID != userID {
		// A foreign app is indistinguishable from a missing one, so a
		// tenant can't probe which IDs exist.
		apperr.WriteJSON(w, apperr.NotFound("app %d not found", appID))
		return 0, false
	}
	return appID, true
}
