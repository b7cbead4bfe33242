package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finchsec/passkeyd/internal/api"
	"github.com/finchsec/passkeyd/internal/auth"
	"github.com/finchsec/passkeyd/internal/config"
	"github.com/finchsec/passkeyd/internal/mds"
	"github.com/finchsec/passkeyd/internal/password"
	"github.com/finchsec/passkeyd/internal/session"
	"github.com/finchsec/passkeyd/internal/store"
)

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalw("load config", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	s, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	cancel()
	if err != nil {
		logger.Fatalw("connect mongodb", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close(ctx)
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatalw("connect redis", "error", err)
	}
	defer redisClient.Close()

	sessions := session.NewManager(
		session.NewRedisBackend(redisClient),
		cfg.SessionCookieName, cfg.SessionSecret, cfg.SessionTTL, cfg.CookieSecure,
	)

	hasher, err := password.NewHasher(cfg.PasswordSalt, cfg.PasswordIterations, cfg.PasswordKeyLength)
	if err != nil {
		logger.Fatalw("configure password hasher", "error", err)
	}

	ceremonies, err := auth.NewCeremonies(cfg, s, logger)
	if err != nil {
		logger.Fatalw("configure webauthn", "error", err)
	}

	mdsClient := mds.New(cfg.DataDir, logger)
	mdsClient.Load()

	srv := api.NewServer(cfg, s, sessions, ceremonies, hasher, mdsClient, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Infow("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}()

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		logger.Infow("starting HTTPS server", "addr", cfg.Addr)
		if err := httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey); err != http.ErrServerClosed {
			logger.Fatalw("server error", "error", err)
		}
	} else {
		logger.Infow("starting HTTP server (WebAuthn requires HTTPS in production)", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatalw("server error", "error", err)
		}
	}
}
