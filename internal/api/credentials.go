package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/finchsec/passkeyd/internal/apperr"
)

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(sessionFrom(r.Context()))

	creds, err := s.store.GetCredentialsByUser(r.Context(), u.ID, r.URL.Query().Get("authenticator_attachment"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if len(creds) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	views := make([]credentialView, len(creds))
	for i := range creds {
		views[i] = s.toCredentialView(&creds[i])
	}
	s.writeJSON(w, http.StatusOK, map[string][]credentialView{"credentials": views})
}

type renameCredentialRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameCredential(w http.ResponseWriter, r *http.Request) {
	var req renameCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.writeError(w, r, apperr.Validation("name is required"))
		return
	}

	u, _ := currentUser(sessionFrom(r.Context()))
	cred, err := s.store.UpdateCredentialName(r.Context(), chi.URLParam(r, "credentialID"), u.ID, name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.toCredentialView(cred))
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(sessionFrom(r.Context()))

	if err := s.store.DeleteCredential(r.Context(), chi.URLParam(r, "credentialID"), u.ID); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Infow("credential deleted", "user", u.ID, "credential", chi.URLParam(r, "credentialID"))
	w.WriteHeader(http.StatusNoContent)
}
