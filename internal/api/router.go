package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finchsec/passkeyd/internal/middleware"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS(s.cfg.RPOrigins))
	r.Use(s.withSession)

	// Unauthenticated entry points, rate limited per client IP.
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimiter.Middleware)
		r.Post("/login", s.handleLogin)
		r.Post("/users", s.handleCreateUser)
		r.Get("/webauthn/verify/start", s.handleAssertionStart)
		r.Post("/webauthn/verify/finish", s.handleAssertionFinish)
	})

	r.Post("/logout", s.handleLogout)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Use(s.requireOwner)
		r.Patch("/", s.handleUpdateUser)
		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", s.handleListCredentials)
			r.Patch("/{credentialID}", s.handleRenameCredential)
			r.Delete("/{credentialID}", s.handleDeleteCredential)
		})
	})

	// Enrollment is only reachable after a completed login or signup step.
	r.Route("/webauthn/register", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Use(s.requireSessionValue(keyPreviousStep, ""))
		r.Post("/start", s.handleAttestationStart)
		r.Post("/finish", s.handleAttestationFinish)
	})

	return r
}
