package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Server
	Addr    string `env:"PASSKEYD_ADDR" envDefault:":8443"`
	DataDir string `env:"PASSKEYD_DATA_DIR"`
	TLSCert string `env:"PASSKEYD_TLS_CERT"`
	TLSKey  string `env:"PASSKEYD_TLS_KEY"`

	// WebAuthn relying party
	RPDisplayName string   `env:"PASSKEYD_RP_DISPLAY_NAME" envDefault:"passkeyd"`
	RPID          string   `env:"PASSKEYD_RP_ID" envDefault:"localhost"`
	RPOrigins     []string `env:"PASSKEYD_RP_ORIGINS" envSeparator:"," envDefault:"https://localhost:8443"`

	// MongoDB
	MongoURI      string `env:"PASSKEYD_MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"PASSKEYD_MONGO_DB" envDefault:"passkeyd"`

	// Redis (session backend)
	RedisAddr     string `env:"PASSKEYD_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"PASSKEYD_REDIS_PASSWORD"`
	RedisDB       int    `env:"PASSKEYD_REDIS_DB" envDefault:"0"`

	// Session cookie
	SessionCookieName string        `env:"PASSKEYD_SESSION_COOKIE" envDefault:"passkeyd_session"`
	SessionSecret     string        `env:"PASSKEYD_SESSION_SECRET"`
	SessionTTL        time.Duration `env:"PASSKEYD_SESSION_TTL" envDefault:"24h"`
	CookieSecure      bool          `env:"PASSKEYD_COOKIE_SECURE" envDefault:"true"`

	// Password hashing (PBKDF2-SHA512)
	PasswordSalt       string `env:"PASSKEYD_PASSWORD_SALT"`
	PasswordIterations int    `env:"PASSKEYD_PASSWORD_ITERATIONS" envDefault:"210000"`
	PasswordKeyLength  int    `env:"PASSKEYD_PASSWORD_KEY_LENGTH" envDefault:"64"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/passkeyd"
	}
	return filepath.Join(home, ".passkeyd")
}

// Load reads configuration from the environment. The session secret and
// password salt are generated once and persisted under the data dir when
// not provided, so restarts keep existing sessions and password hashes valid.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if cfg.SessionSecret == "" {
		secret, err := loadOrCreateSecret(filepath.Join(cfg.DataDir, ".session_secret"))
		if err != nil {
			return nil, fmt.Errorf("session secret: %w", err)
		}
		cfg.SessionSecret = secret
	}
	if cfg.PasswordSalt == "" {
		salt, err := loadOrCreateSecret(filepath.Join(cfg.DataDir, ".password_salt"))
		if err != nil {
			return nil, fmt.Errorf("password salt: %w", err)
		}
		cfg.PasswordSalt = salt
	}

	return &cfg, nil
}

func loadOrCreateSecret(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) >= 32 {
		return string(data), nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(raw)

	if err := os.WriteFile(path, []byte(secret), 0600); err != nil {
		return "", err
	}
	return secret, nil
}
