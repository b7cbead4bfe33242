package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finchsec/passkeyd/internal/auth"
	"github.com/finchsec/passkeyd/internal/config"
	"github.com/finchsec/passkeyd/internal/mds"
	"github.com/finchsec/passkeyd/internal/password"
	"github.com/finchsec/passkeyd/internal/session"
	"github.com/finchsec/passkeyd/internal/store"
)

const (
	testPassword = "Password123!"
	testUA       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()

	cfg := &config.Config{
		RPDisplayName:     "Example Corp",
		RPID:              "example.com",
		RPOrigins:         []string{"https://example.com"},
		SessionCookieName: "test_session",
		SessionSecret:     "0123456789abcdef0123456789abcdef",
		SessionTTL:        time.Hour,
	}

	logger := zap.NewNop().Sugar()
	s := store.NewMemoryStore()

	hasher, err := password.NewHasher("test-salt-16bytes!", 1000, 32)
	require.NoError(t, err)

	ceremonies, err := auth.NewCeremonies(cfg, s, logger)
	require.NoError(t, err)

	sessions := session.NewManager(session.NewMemoryBackend(),
		cfg.SessionCookieName, cfg.SessionSecret, cfg.SessionTTL, false)

	return NewServer(cfg, s, sessions, ceremonies, hasher, mds.New(t.TempDir(), logger), logger), s
}

// testClient drives the router like a browser, carrying cookies between
// requests.
type testClient struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newTestClient(t *testing.T, srv *Server) *testClient {
	return &testClient{t: t, handler: srv.Router(), cookies: make(map[string]*http.Cookie)}
}

func (c *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	return c.doRaw(method, path, reader)
}

func (c *testClient) doJSON(method, path, raw string) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.doRaw(method, path, strings.NewReader(raw))
}

func (c *testClient) doRaw(method, path string, body io.Reader) *httptest.ResponseRecorder {
	c.t.Helper()

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", testUA)
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge < 0 {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie
	}
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

// signupAndLogin registers a user through the API and logs them in,
// returning the user id.
func signupAndLogin(t *testing.T, c *testClient, username string) string {
	t.Helper()

	rec := c.do(http.MethodPost, "/users", map[string]string{
		"username":     username,
		"password":     testPassword,
		"display_name": "Test User",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/login", map[string]string{
		"username": username,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &view)
	require.NotEmpty(t, view.ID)
	return view.ID
}
