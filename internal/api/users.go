package api

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/finchsec/passkeyd/internal/apperr"
	"github.com/finchsec/passkeyd/internal/store"
)

type createUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	displayName := strings.TrimSpace(req.DisplayName)

	if utf8.RuneCountInString(username) < 5 {
		s.writeError(w, r, apperr.Unprocessable("username must be at least 5 characters"))
		return
	}
	if utf8.RuneCountInString(displayName) < 2 {
		s.writeError(w, r, apperr.Unprocessable("display_name must be at least 2 characters"))
		return
	}
	if req.Password == "" {
		s.writeError(w, r, apperr.Unprocessable("password is required"))
		return
	}

	now := time.Now().UTC()
	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: s.hasher.Hash(req.Password),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Infow("user created", "user", user.ID, "username", username)
	s.writeJSON(w, http.StatusCreated, toUserView(user))
}

type updateUserRequest struct {
	DisplayName                   *string `json:"display_name"`
	SkipAuthenticatorRegistration *bool   `json:"skip_authenticator_registration"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.DisplayName == nil && req.SkipAuthenticatorRegistration == nil {
		s.writeError(w, r, apperr.Validation("no updatable fields in request"))
		return
	}
	if req.DisplayName != nil && utf8.RuneCountInString(strings.TrimSpace(*req.DisplayName)) < 2 {
		s.writeError(w, r, apperr.Unprocessable("display_name must be at least 2 characters"))
		return
	}

	u, _ := currentUser(sessionFrom(r.Context()))
	patch := store.UserPatch{
		DisplayName:                   req.DisplayName,
		SkipAuthenticatorRegistration: req.SkipAuthenticatorRegistration,
	}

	user, err := s.store.UpdateUser(r.Context(), u.ID, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toUserView(user))
}
