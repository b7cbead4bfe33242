package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finchsec/passkeyd/internal/apperr"
	"github.com/finchsec/passkeyd/internal/session"
)

type contextKey string

const sessionKey contextKey = "session"

// sessionUser is the projection of the logged-in user kept in the session.
type sessionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Session keys written by the login and ceremony handlers.
const (
	keyUser         = "user"
	keyFromLogin    = "from_login"
	keyPreviousStep = "previous_step"
)

// withSession loads the browser session into the request context. Handlers
// mutate it in place and flush it with saveSession before writing a body.
// A session backend failure is an infrastructure error, answered with 500.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Load(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey).(*session.Session)
	return sess
}

func currentUser(sess *session.Session) (sessionUser, bool) {
	var u sessionUser
	if !sess.Get(keyUser, &u) {
		return sessionUser{}, false
	}
	return u, true
}

// saveSession flushes session mutations and (re)issues the cookie. Must run
// before any response body or status is written.
func (s *Server) saveSession(w http.ResponseWriter, r *http.Request) error {
	return s.sessions.Save(r.Context(), w, sessionFrom(r.Context()))
}

// requireUser rejects requests whose session carries no logged-in user.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(sessionFrom(r.Context())); !ok {
			s.writeError(w, r, apperr.Unauthorized("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireOwner passes only when the session user matches the userID path
// parameter. A mismatch reads as not-found so callers cannot probe other
// accounts.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := currentUser(sessionFrom(r.Context()))
		if !ok {
			s.writeError(w, r, apperr.Unauthorized("authentication required"))
			return
		}
		if owner := chi.URLParam(r, "userID"); owner != u.ID {
			s.logger.Infow("ownership mismatch", "session_user", u.ID, "path_user", owner)
			s.writeError(w, r, apperr.NotFound("user"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSessionValue passes only when the session holds key with exactly the
// expected value, or any value when expected is empty. Used to gate pages
// behind a completed prior step.
func (s *Server) requireSessionValue(key, expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := sessionFrom(r.Context()).GetString(key)
			if !ok || (expected != "" && got != expected) {
				s.logger.Infow("session precondition failed", "key", key)
				s.writeError(w, r, apperr.Unauthorized("authentication required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
