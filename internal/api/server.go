// Package api exposes the HTTP surface: password login, user and credential
// management, and the WebAuthn ceremony endpoints.
package api

import (
	"go.uber.org/zap"

	"github.com/finchsec/passkeyd/internal/auth"
	"github.com/finchsec/passkeyd/internal/config"
	"github.com/finchsec/passkeyd/internal/mds"
	"github.com/finchsec/passkeyd/internal/middleware"
	"github.com/finchsec/passkeyd/internal/password"
	"github.com/finchsec/passkeyd/internal/session"
	"github.com/finchsec/passkeyd/internal/store"
)

type Server struct {
	cfg         *config.Config
	store       store.Store
	sessions    *session.Manager
	ceremonies  *auth.Ceremonies
	hasher      *password.Hasher
	mds         *mds.Client
	logger      *zap.SugaredLogger
	rateLimiter *middleware.RateLimiter
}

func NewServer(cfg *config.Config, s store.Store, sessions *session.Manager, ceremonies *auth.Ceremonies, hasher *password.Hasher, mdsClient *mds.Client, logger *zap.SugaredLogger) *Server {
	return &Server{
		cfg:         cfg,
		store:       s,
		sessions:    sessions,
		ceremonies:  ceremonies,
		hasher:      hasher,
		mds:         mdsClient,
		logger:      logger,
		rateLimiter: middleware.NewRateLimiter(30, 10, logger),
	}
}
