package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchsec/passkeyd/internal/store"
)

var testRP = virtualwebauthn.RelyingParty{
	Name:   "Example Corp",
	ID:     "example.com",
	Origin: "https://example.com",
}

// publicKeyOptions unwraps the {"publicKey": ...} envelope the ceremony
// endpoints return.
func publicKeyOptions(t *testing.T, body []byte) string {
	t.Helper()

	var envelope struct {
		PublicKey json.RawMessage `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.NotEmpty(t, envelope.PublicKey)
	return string(envelope.PublicKey)
}

// registerOverAPI drives the register start/finish endpoints and returns the
// virtual credential together with its server-side record.
func registerOverAPI(t *testing.T, c *testClient, s *store.MemoryStore, userID, attachment string) (virtualwebauthn.Credential, *store.Credential) {
	t.Helper()

	rec := c.do(http.MethodPost, "/webauthn/register/start", map[string]string{
		"authenticator_attachment": attachment,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(publicKeyOptions(t, rec.Body.Bytes()))
	require.NoError(t, err)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	attestation := virtualwebauthn.CreateAttestationResponse(testRP, authenticator, credential, *parsedOptions)

	rec = c.doJSON(http.MethodPost, "/webauthn/register/finish", attestation)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &view)

	stored, err := s.GetCredential(context.Background(), view.ID)
	require.NoError(t, err)
	require.Equal(t, userID, stored.UserID)
	return credential, stored
}

func TestRegisterAndVerifyEndToEnd(t *testing.T) {
	srv, s := newTestServer(t)

	c := newTestClient(t, srv)
	userID := signupAndLogin(t, c, "alice")
	credential, stored := registerOverAPI(t, c, s, userID, store.AttachmentPlatform)

	// WebAuthn login from a browser with no session at all.
	fresh := newTestClient(t, srv)
	rec := fresh.do(http.MethodGet, "/webauthn/verify/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, "assertion start must not require a login")

	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(publicKeyOptions(t, rec.Body.Bytes()))
	require.NoError(t, err)

	authenticator := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: stored.UserHandle,
	})
	authenticator.AddCredential(credential)
	assertion := virtualwebauthn.CreateAssertionResponse(testRP, authenticator, credential, *parsedOptions)

	rec = fresh.doJSON(http.MethodPost, "/webauthn/verify/finish", assertion)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view map[string]any
	decodeBody(t, rec, &view)
	assert.Equal(t, userID, view["id"])
	assert.Equal(t, "alice", view["username"])

	// The assertion established a session login.
	rec = fresh.do(http.MethodPatch, "/users/"+userID, map[string]any{
		"skip_authenticator_registration": true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// Scenario: start options force the requested attachment and exclude only
// same-attachment credentials.
func TestRegisterStartOptionsShape(t *testing.T) {
	srv, s := newTestServer(t)
	c := newTestClient(t, srv)
	userID := signupAndLogin(t, c, "alice")

	registerOverAPI(t, c, s, userID, store.AttachmentPlatform)

	rec := c.do(http.MethodPost, "/webauthn/register/start", map[string]string{
		"authenticator_attachment": "platform",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	type startOptions struct {
		PublicKey struct {
			AuthenticatorSelection struct {
				AuthenticatorAttachment string `json:"authenticatorAttachment"`
			} `json:"authenticatorSelection"`
			ExcludeCredentials []json.RawMessage `json:"excludeCredentials"`
		} `json:"publicKey"`
	}
	var options startOptions
	decodeBody(t, rec, &options)
	assert.Equal(t, "platform", options.PublicKey.AuthenticatorSelection.AuthenticatorAttachment)
	assert.Len(t, options.PublicKey.ExcludeCredentials, 1)

	// Cross-platform start does not exclude the platform credential. The
	// response omits excludeCredentials entirely, so decode into a zero value
	// rather than on top of the previous one.
	rec = c.do(http.MethodPost, "/webauthn/register/start", map[string]string{
		"authenticator_attachment": "cross-platform",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	options = startOptions{}
	decodeBody(t, rec, &options)
	assert.Equal(t, "cross-platform", options.PublicKey.AuthenticatorSelection.AuthenticatorAttachment)
	assert.Empty(t, options.PublicKey.ExcludeCredentials)
}

// A session whose user row no longer exists gets the generic unauthorized
// answer, not a 404 that would confirm the account is gone.
func TestRegisterStartVanishedUserReadsAsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	sess, err := srv.sessions.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sess.Set(keyUser, sessionUser{ID: "ghost", Username: "ghost"}))
	require.NoError(t, sess.Set(keyPreviousStep, "login"))

	req := httptest.NewRequest(http.MethodPost, "/webauthn/register/start",
		strings.NewReader(`{"authenticator_attachment":"platform"}`))
	req = req.WithContext(context.WithValue(req.Context(), sessionKey, sess))
	rec := httptest.NewRecorder()
	srv.handleAttestationStart(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
}

func TestRegisterStartRejectsBadAttachment(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv)
	signupAndLogin(t, c, "alice")

	rec := c.do(http.MethodPost, "/webauthn/register/start", map[string]string{
		"authenticator_attachment": "usb",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyFinishWithoutStart(t *testing.T) {
	srv, s := newTestServer(t)

	c := newTestClient(t, srv)
	userID := signupAndLogin(t, c, "alice")
	credential, stored := registerOverAPI(t, c, s, userID, store.AttachmentPlatform)

	// Build a syntactically valid assertion against a real start, then replay
	// it from a session that never started a ceremony.
	rec := c.do(http.MethodGet, "/webauthn/verify/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(publicKeyOptions(t, rec.Body.Bytes()))
	require.NoError(t, err)

	authenticator := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: stored.UserHandle,
	})
	authenticator.AddCredential(credential)
	assertion := virtualwebauthn.CreateAssertionResponse(testRP, authenticator, credential, *parsedOptions)

	fresh := newTestClient(t, srv)
	rec = fresh.doJSON(http.MethodPost, "/webauthn/verify/finish", assertion)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCredentialLifecycle(t *testing.T) {
	srv, s := newTestServer(t)
	c := newTestClient(t, srv)
	userID := signupAndLogin(t, c, "alice")

	rec := c.do(http.MethodGet, "/users/"+userID+"/credentials", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, stored := registerOverAPI(t, c, s, userID, store.AttachmentCrossPlatform)

	rec = c.do(http.MethodGet, "/users/"+userID+"/credentials", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Credentials []map[string]any `json:"credentials"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Credentials, 1)
	assert.Equal(t, stored.ID, list.Credentials[0]["id"])

	// Only safelisted fields leave the server.
	assert.NotContains(t, rec.Body.String(), "public_key")
	assert.NotContains(t, rec.Body.String(), "user_handle")
	assert.NotContains(t, rec.Body.String(), "attestation")

	rec = c.do(http.MethodPatch, "/users/"+userID+"/credentials/"+stored.ID, map[string]string{
		"name": "My security key",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var renamed map[string]any
	decodeBody(t, rec, &renamed)
	assert.Equal(t, "My security key", renamed["name"])

	rec = c.do(http.MethodPatch, "/users/"+userID+"/credentials/"+stored.ID, map[string]string{
		"name": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodDelete, "/users/"+userID+"/credentials/"+stored.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = c.do(http.MethodGet, "/users/"+userID+"/credentials", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = c.do(http.MethodDelete, "/users/"+userID+"/credentials/"+stored.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// A pending challenge has no server-side expiry: it stays finishable until
// consumed or overwritten. Documented as accepted behavior.
func TestPendingChallengeHasNoServerSideExpiry(t *testing.T) {
	srv, s := newTestServer(t)
	c := newTestClient(t, srv)
	userID := signupAndLogin(t, c, "alice")
	credential, stored := registerOverAPI(t, c, s, userID, store.AttachmentPlatform)

	rec := c.do(http.MethodGet, "/webauthn/verify/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(publicKeyOptions(t, rec.Body.Bytes()))
	require.NoError(t, err)

	// Unrelated requests later, the challenge is still valid.
	for range [5]int{} {
		c.do(http.MethodGet, "/users/"+userID+"/credentials", nil)
	}

	authenticator := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: stored.UserHandle,
	})
	authenticator.AddCredential(credential)
	assertion := virtualwebauthn.CreateAssertionResponse(testRP, authenticator, credential, *parsedOptions)

	rec = c.doJSON(http.MethodPost, "/webauthn/verify/finish", assertion)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
