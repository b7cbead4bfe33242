package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardsRequireLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)

	patch := map[string]any{"skip_authenticator_registration": true}

	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPatch, "/users/someone", patch).Code)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/users/someone/credentials", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		c.do(http.MethodPost, "/webauthn/register/start", map[string]string{"authenticator_attachment": "platform"}).Code)
}

// A logged-in user touching another user's resources gets the same response
// as for a nonexistent resource.
func TestOwnershipMismatchReadsAsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	bob := newTestClient(t, srv)
	bobID := signupAndLogin(t, bob, "bobby")

	alice := newTestClient(t, srv)
	aliceID := signupAndLogin(t, alice, "alice")

	patch := map[string]any{"skip_authenticator_registration": true}

	mismatch := alice.do(http.MethodPatch, "/users/"+bobID, patch)
	missing := alice.do(http.MethodPatch, "/users/no-such-user", patch)
	assert.Equal(t, http.StatusNotFound, mismatch.Code)
	assert.Equal(t, missing.Body.String(), mismatch.Body.String())

	// Credential routes under another user's path behave the same way.
	assert.Equal(t, http.StatusNotFound, alice.do(http.MethodGet, "/users/"+bobID+"/credentials", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		alice.do(http.MethodDelete, "/users/"+bobID+"/credentials/whatever", nil).Code)

	// Sanity: alice still reaches her own resources.
	assert.Equal(t, http.StatusOK, alice.do(http.MethodPatch, "/users/"+aliceID, patch).Code)
}

// Enrollment endpoints are gated on a completed prior step, not just a
// logged-in user.
func TestRegisterRequiresPriorStep(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)
	signupAndLogin(t, c, "alice")

	// Fresh login carries previous_step, so enrollment is reachable.
	rec := c.do(http.MethodPost, "/webauthn/register/start", map[string]string{
		"authenticator_attachment": "platform",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// A session with a user but no prior-step marker is rejected before the
// handler runs.
func TestRegisterRejectedWithoutPriorStep(t *testing.T) {
	srv, _ := newTestServer(t)

	sess, err := srv.sessions.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sess.Set(keyUser, sessionUser{ID: "u1", Username: "alice"}))

	reached := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true })
	guard := srv.requireUser(srv.requireSessionValue(keyPreviousStep, "")(next))

	req := httptest.NewRequest(http.MethodPost, "/webauthn/register/start", nil)
	req = req.WithContext(context.WithValue(req.Context(), sessionKey, sess))
	rec := httptest.NewRecorder()
	guard.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, reached)
}
