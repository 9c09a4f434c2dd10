package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/workbench/server/internal/apperr"
	"github.com/workbench/server/internal/persistence"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  userView `json:"user"`
	Token string   `json:"token"`
}

type userView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toUserView(u persistence.User) userView {
	return userView{ID: u.ID, Email: u.Email, Name: u.DisplayName}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteJSON(w, apperr.Validation("malformed request body"))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		apperr.WriteJSON(w, apperr.Validation("email and password are required"))
		return
	}
	if len(req.Password) < 8 {
		apperr.WriteJSON(w, apperr.Validation("password must be at least 8 characters"))
		return
	}

	if _, err := s.store.GetUserByEmail(req.Email); err == nil {
		apperr.WriteJSON(w, apperr.Conflict("an account with this email already exists"))
		return
	} else if !errors.Is(err, persistence.ErrNotFound) {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "look up user", err))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "hash password", err))
		return
	}

	user, err := s.store.CreateUser(req.Email, string(hash), req.DisplayName)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "create user", err))
		return
	}

	s.respondWithToken(w, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteJSON(w, apperr.Validation("malformed request body"))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	user, err := s.store.GetUserByEmail(req.Email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "invalid email or password"))
			return
		}
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "look up user", err))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "invalid email or password"))
		return
	}

	s.respondWithToken(w, user)
}

func (s *Server) respondWithToken(w http.ResponseWriter, user persistence.User) {
	token, err := s.tokens.Issue(formatID(user.ID), user.Email, user.DisplayName)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, "issue token", err))
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: toUserView(user), Token: token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindAuth, "missing caller identity"))
		return
	}
	user, err := s.store.GetUser(userID)
	if err != nil {
		apperr.WriteJSON(w, apperr.NotFound("user not found"))
		return
	}
	writeJSON(w, http.StatusOK, toUserView(user))
}
