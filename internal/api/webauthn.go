package api

import (
	"errors"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/finchsec/passkeyd/internal/apperr"
	"github.com/finchsec/passkeyd/internal/store"
)

type attestationStartRequest struct {
	AuthenticatorAttachment string `json:"authenticator_attachment"`
}

// sessionUserError maps a failed lookup of the session's own user. The row
// vanishing out from under a live session reads as a login problem, not as a
// missing resource.
func sessionUserError(err error) error {
	if errors.Is(err, store.ErrUserNotFound) {
		return apperr.Unauthorized("authentication required").WithCause(err)
	}
	return err
}

func (s *Server) handleAttestationStart(w http.ResponseWriter, r *http.Request) {
	var req attestationStartRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess := sessionFrom(r.Context())
	u, _ := currentUser(sess)
	user, err := s.store.GetUser(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, sessionUserError(err))
		return
	}

	options, err := s.ceremonies.AttestationStart(r.Context(), sess, user, req.AuthenticatorAttachment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.saveSession(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

func (s *Server) handleAttestationFinish(w http.ResponseWriter, r *http.Request) {
	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid attestation response").WithCause(err))
		return
	}

	sess := sessionFrom(r.Context())
	u, _ := currentUser(sess)
	user, err := s.store.GetUser(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, sessionUserError(err))
		return
	}

	cred, err := s.ceremonies.AttestationFinish(r.Context(), sess, user, response, r.UserAgent())
	if err != nil {
		// The pending challenge was consumed; persist the cleared state so
		// the failed ceremony is not replayable.
		if saveErr := s.saveSession(w, r); saveErr != nil {
			s.writeError(w, r, saveErr)
			return
		}
		s.writeError(w, r, err)
		return
	}

	if err := sess.Set(keyPreviousStep, "register"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.saveSession(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.toCredentialView(cred))
}

func (s *Server) handleAssertionStart(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	options, err := s.ceremonies.AssertionStart(sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.saveSession(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, options)
}

func (s *Server) handleAssertionFinish(w http.ResponseWriter, r *http.Request) {
	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid assertion response").WithCause(err))
		return
	}

	sess := sessionFrom(r.Context())
	user, _, err := s.ceremonies.AssertionFinish(r.Context(), sess, response)
	if err != nil {
		if saveErr := s.saveSession(w, r); saveErr != nil {
			s.writeError(w, r, saveErr)
			return
		}
		s.writeError(w, r, err)
		return
	}

	// A verified assertion is a login.
	if err := sess.Set(keyUser, sessionUser{ID: user.ID, Username: user.Username}); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.Set(keyFromLogin, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.Set(keyPreviousStep, "verify"); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.saveSession(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toUserView(user))
}
