package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/finchsec/passkeyd/internal/apperr"
	"github.com/finchsec/passkeyd/internal/store"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginFailed is identical for unknown users and wrong passwords so the
// endpoint cannot be used for username enumeration.
var loginFailed = apperr.Unauthorized("invalid username or password")

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		s.writeError(w, r, apperr.Validation("username and password are required"))
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.writeError(w, r, loginFailed)
			return
		}
		s.writeError(w, r, err)
		return
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		s.logger.Infow("login rejected", "user", user.ID)
		s.writeError(w, r, loginFailed)
		return
	}

	now := time.Now().UTC()
	if err := s.store.TouchUserAccess(r.Context(), user.ID, now); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.writeError(w, r, apperr.Precondition("user record disappeared during login").WithCause(err))
			return
		}
		s.writeError(w, r, err)
		return
	}
	user.LastAccess = &now

	sess := sessionFrom(r.Context())
	if err := sess.Set(keyUser, sessionUser{ID: user.ID, Username: user.Username}); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.Set(keyFromLogin, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.Set(keyPreviousStep, "login"); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.saveSession(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Infow("login", "user", user.ID)
	s.writeJSON(w, http.StatusOK, toUserView(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if u, ok := currentUser(sess); ok {
		s.logger.Infow("logout", "user", u.ID)
	}
	sess.Destroy()

	if err := s.saveSession(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
