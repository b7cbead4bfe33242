package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finchsec/passkeyd/internal/apperr"
	"github.com/finchsec/passkeyd/internal/auth"
	"github.com/finchsec/passkeyd/internal/store"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Errorw("encode response", "error", err)
		}
	}
}

// writeError maps an error to its HTTP representation. Sentinels from the
// store and ceremony layers get translated here; anything unrecognized is an
// infrastructure failure.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := s.toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		s.logger.Errorw("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, appErr.Status, map[string]*apperr.Error{"error": appErr})
}

func (s *Server) toAppError(err error) *apperr.Error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return apperr.NotFound("user")
	case errors.Is(err, store.ErrCredentialNotFound):
		return apperr.NotFound("credential")
	case errors.Is(err, store.ErrDuplicateUsername):
		return apperr.Conflict("username already taken")
	case errors.Is(err, store.ErrDuplicateCredential):
		return apperr.Conflict("authenticator already registered")
	case errors.Is(err, auth.ErrInvalidAttachment):
		return apperr.Validation("authenticator_attachment must be \"platform\" or \"cross-platform\"")
	case errors.Is(err, auth.ErrNoPendingCeremony):
		return apperr.Validation("no pending ceremony")
	case errors.Is(err, auth.ErrCeremonyFailed),
		errors.Is(err, auth.ErrClonedAuthenticator),
		errors.Is(err, auth.ErrUnknownCredential):
		// Generic on purpose: assertion failures must not reveal whether the
		// credential exists or why verification failed.
		return apperr.Unauthorized("authentication failed")
	}
	return apperr.Internal(err)
}

func decodeJSON(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return apperr.Validation("invalid request body").WithCause(err)
	}
	return nil
}
