// Package session implements the server-side browser session: arbitrary
// key/value state stored in a backend (Redis in production), referenced by a
// signed session-id cookie. Clients only ever hold the signed id, so session
// contents such as the logged-in user or a pending WebAuthn challenge cannot
// be forged.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Backend persists session values keyed by session id. A missing session
// loads as an empty value map.
type Backend interface {
	Load(ctx context.Context, sid string) (map[string]string, error)
	Save(ctx context.Context, sid string, values map[string]string, ttl time.Duration) error
	Delete(ctx context.Context, sid string) error
}

// Session is one browser session's key/value state. Values are JSON-encoded.
// Mutations are visible to subsequent reads within the request; Manager.Save
// flushes them to the backend at response time.
type Session struct {
	id        string
	values    map[string]string
	dirty     bool
	destroyed bool
}

// Get unmarshals the value stored under key into dest. Returns false when
// the key is absent or the stored value does not decode into dest.
func (s *Session) Get(key string, dest any) bool {
	raw, ok := s.values[key]
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), dest) == nil
}

// Has reports whether key is present.
func (s *Session) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// GetString returns the string stored under key.
func (s *Session) GetString(key string) (string, bool) {
	var v string
	if !s.Get(key, &v) {
		return "", false
	}
	return v, true
}

func (s *Session) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode session value %q: %w", key, err)
	}
	s.values[key] = string(raw)
	s.dirty = true
	return nil
}

// Clear removes key. It only marks the session dirty when the key was
// actually present.
func (s *Session) Clear(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// Destroy discards all session state. The backend record and the cookie are
// removed on the next Save.
func (s *Session) Destroy() {
	s.values = make(map[string]string)
	s.destroyed = true
	s.dirty = true
}

// Manager loads sessions from the signed cookie and writes them back.
type Manager struct {
	backend    Backend
	cookieName string
	secret     []byte
	ttl        time.Duration
	secure     bool
}

func NewManager(backend Backend, cookieName, secret string, ttl time.Duration, secure bool) *Manager {
	return &Manager{
		backend:    backend,
		cookieName: cookieName,
		secret:     []byte(secret),
		ttl:        ttl,
		secure:     secure,
	}
}

// Load returns the request's session. A missing, expired or tampered cookie
// yields a fresh empty session rather than an error; a backend failure is an
// error, since treating it as "no session" would silently log users out.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return m.newSession(), nil
	}

	sid, err := m.verifyCookie(cookie.Value)
	if err != nil {
		return m.newSession(), nil
	}

	values, err := m.backend.Load(r.Context(), sid)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &Session{id: sid, values: values}, nil
}

// Save flushes the session to the backend and (re)issues the cookie. A
// destroyed session is deleted from the backend and its cookie expired.
// Must be called before the response body is written.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if !s.dirty {
		return nil
	}

	if s.destroyed {
		if err := m.backend.Delete(ctx, s.id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		http.SetCookie(w, m.cookie("", -1))
		s.dirty = false
		return nil
	}

	if err := m.backend.Save(ctx, s.id, s.values, m.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	signed, err := m.signCookie(s.id)
	if err != nil {
		return fmt.Errorf("sign session cookie: %w", err)
	}
	http.SetCookie(w, m.cookie(signed, int(m.ttl.Seconds())))
	s.dirty = false
	return nil
}

func (m *Manager) newSession() *Session {
	return &Session{
		id:     uuid.NewString(),
		values: make(map[string]string),
	}
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) signCookie(sid string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Manager) verifyCookie(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid session cookie")
	}
	return claims.Subject, nil
}
