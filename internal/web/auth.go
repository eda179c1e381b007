package web

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/meetrec/internal/api"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// meResponse describes the logged-in user.
type meResponse struct {
	User      *api.User `json:"user"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		badRequest(w, "Username and password are required.")
		return
	}

	creds, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	user, err := s.auth.CurrentUser(r.Context(), creds)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}

	if old := s.Credentials(); old != nil && old != creds {
		old.Clear()
	}
	s.setCredentials(creds)
	slog.InfoContext(r.Context(), "web: logged in", "username", user.Username)
	writeJSON(w, http.StatusOK, me(user, creds))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	creds := s.Credentials()
	s.setCredentials(nil)
	if !creds.LoggedIn() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// The local session ends even when the backend cannot be told.
	if err := s.auth.Logout(r.Context(), creds); err != nil {
		slog.WarnContext(r.Context(), "web: backend logout failed", "err", err)
	}
	creds.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	creds := s.Credentials()
	if !creds.LoggedIn() {
		writeError(w, r, errNotLoggedIn)
		return
	}
	user, err := s.auth.CurrentUser(r.Context(), creds)
	if err != nil {
		if api.IsSessionExpired(err) {
			s.setCredentials(nil)
		}
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, me(user, creds))
}

func me(user *api.User, creds *api.Credentials) meResponse {
	resp := meResponse{User: user}
	if exp, ok := creds.ExpiresAt(); ok {
		resp.ExpiresAt = exp
	}
	return resp
}
