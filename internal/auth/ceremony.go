// Package auth implements the WebAuthn attestation and assertion ceremonies.
// Pending ceremony state lives in the browser session, so a challenge can only
// be answered by the session that requested it, and starting a new ceremony
// invalidates the previous challenge.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finchsec/passkeyd/internal/config"
	"github.com/finchsec/passkeyd/internal/session"
	"github.com/finchsec/passkeyd/internal/store"
)

var (
	ErrInvalidAttachment = errors.New("invalid authenticator attachment")

	// ErrNoPendingCeremony is returned when a finish call arrives without a
	// matching start in the same session, including double-finish attempts.
	ErrNoPendingCeremony = errors.New("no pending ceremony")

	// ErrCeremonyFailed wraps verification failures from the WebAuthn
	// library: bad signature, origin or challenge mismatch, and so on.
	ErrCeremonyFailed = errors.New("ceremony verification failed")

	// ErrClonedAuthenticator is returned when an assertion presents a
	// signature counter that did not advance past the stored one.
	ErrClonedAuthenticator = errors.New("signature counter did not advance")

	ErrUnknownCredential = errors.New("unknown credential")
)

// Session keys holding the pending ceremony state.
const (
	keyAttestation = "webauthn_attestation"
	keyAssertion   = "webauthn_assertion"
)

type pendingAttestation struct {
	Session    webauthn.SessionData `json:"session"`
	UserID     string               `json:"user_id"`
	Attachment string               `json:"attachment"`
}

type pendingAssertion struct {
	Session webauthn.SessionData `json:"session"`
}

// Ceremonies drives WebAuthn registration and login against the credential
// store.
type Ceremonies struct {
	webauthn *webauthn.WebAuthn
	store    store.Store
	logger   *zap.SugaredLogger
}

func NewCeremonies(cfg *config.Config, s store.Store, logger *zap.SugaredLogger) (*Ceremonies, error) {
	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName:         cfg.RPDisplayName,
		RPID:                  cfg.RPID,
		RPOrigins:             cfg.RPOrigins,
		AttestationPreference: protocol.PreferDirectAttestation,
	})
	if err != nil {
		return nil, fmt.Errorf("create webauthn: %w", err)
	}

	return &Ceremonies{
		webauthn: w,
		store:    s,
		logger:   logger,
	}, nil
}

// ceremonyUser adapts a user to the webauthn.User interface. Its id is the
// per-ceremony user handle, not the account id: a fresh handle is minted for
// every attestation so credentials cannot be correlated across registrations.
type ceremonyUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return u.id }
func (u *ceremonyUser) WebAuthnName() string                       { return u.name }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// AttestationStart begins credential registration for the logged-in user.
// Existing credentials of the same attachment class are sent as exclusions so
// the browser refuses to re-register an authenticator it already holds. Any
// previously pending attestation in the session is replaced.
func (c *Ceremonies) AttestationStart(ctx context.Context, sess *session.Session, user *store.User, attachment string) (*protocol.CredentialCreation, error) {
	if attachment != store.AttachmentPlatform && attachment != store.AttachmentCrossPlatform {
		return nil, ErrInvalidAttachment
	}

	existing, err := c.store.GetCredentialsByUser(ctx, user.ID, attachment)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	exclusions := make([]protocol.CredentialDescriptor, len(existing))
	for i, cred := range existing {
		exclusions[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.CredentialID,
			Transport:    toTransports(cred.Transports),
		}
	}

	handle := make([]byte, 32)
	if _, err := rand.Read(handle); err != nil {
		return nil, fmt.Errorf("generate user handle: %w", err)
	}

	options, sd, err := c.webauthn.BeginRegistration(
		&ceremonyUser{id: handle, name: user.Username, displayName: user.DisplayName},
		webauthn.WithExclusions(exclusions),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.AuthenticatorAttachment(attachment),
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationPreferred,
		}),
		webauthn.WithConveyancePreference(protocol.PreferDirectAttestation),
	)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	pending := pendingAttestation{Session: *sd, UserID: user.ID, Attachment: attachment}
	if err := sess.Set(keyAttestation, pending); err != nil {
		return nil, err
	}
	return options, nil
}

// AttestationFinish verifies the authenticator's attestation response and
// persists the new credential. The pending challenge is consumed before
// verification, so a failed finish cannot be retried against the same
// challenge.
func (c *Ceremonies) AttestationFinish(ctx context.Context, sess *session.Session, user *store.User, response *protocol.ParsedCredentialCreationData, userAgent string) (*store.Credential, error) {
	var pending pendingAttestation
	ok := sess.Get(keyAttestation, &pending)
	sess.Clear(keyAttestation)
	if !ok || pending.UserID != user.ID {
		return nil, ErrNoPendingCeremony
	}

	cu := &ceremonyUser{id: pending.Session.UserID, name: user.Username, displayName: user.DisplayName}
	credential, err := c.webauthn.CreateCredential(cu, pending.Session, response)
	if err != nil {
		c.logger.Infow("attestation rejected", "user", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCeremonyFailed, err)
	}

	osName, device := ParseUserAgent(userAgent)
	now := time.Now().UTC()
	rec := &store.Credential{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		CredentialID:      credential.ID,
		PublicKey:         credential.PublicKey,
		SignCount:         credential.Authenticator.SignCount,
		UserHandle:        pending.Session.UserID,
		UserVerified:      credential.Flags.UserVerified,
		AttestationFormat: response.Response.AttestationObject.Format,
		RawAttestation:    response.Raw.AttestationResponse.AttestationObject,
		AAGUID:            credential.Authenticator.AAGUID,
		Name:              defaultCredentialName(pending.Attachment, osName, device),
		Metadata: store.CredentialMetadata{
			Attachment: pending.Attachment,
			OS:         osName,
			Device:     device,
		},
		Transports: fromTransports(credential.Transport),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := c.store.CreateCredential(ctx, rec); err != nil {
		return nil, err
	}

	c.logger.Infow("credential registered",
		"user", user.ID, "credential", rec.ID, "attachment", pending.Attachment)
	return rec, nil
}

// AssertionStart begins a discoverable (passkey) login. No user is known yet;
// the authenticator identifies the account via the stored user handle.
func (c *Ceremonies) AssertionStart(sess *session.Session) (*protocol.CredentialAssertion, error) {
	options, sd, err := c.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, fmt.Errorf("begin discoverable login: %w", err)
	}

	if err := sess.Set(keyAssertion, pendingAssertion{Session: *sd}); err != nil {
		return nil, err
	}
	return options, nil
}

// AssertionFinish verifies the assertion, enforces the signature counter
// rule and returns the authenticated user. As with attestation, the pending
// challenge is consumed up front.
func (c *Ceremonies) AssertionFinish(ctx context.Context, sess *session.Session, response *protocol.ParsedCredentialAssertionData) (*store.User, *store.Credential, error) {
	var pending pendingAssertion
	ok := sess.Get(keyAssertion, &pending)
	sess.Clear(keyAssertion)
	if !ok {
		return nil, nil, ErrNoPendingCeremony
	}

	rec, err := c.store.GetCredentialByCredentialID(ctx, response.RawID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return nil, nil, ErrUnknownCredential
		}
		return nil, nil, err
	}

	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		owned, err := c.store.GetCredentialsByUserHandle(ctx, userHandle)
		if err != nil {
			return nil, err
		}
		if len(owned) == 0 {
			return nil, ErrUnknownCredential
		}
		creds := make([]webauthn.Credential, len(owned))
		for i := range owned {
			creds[i] = toWebAuthnCredential(&owned[i])
		}
		return &ceremonyUser{id: userHandle, credentials: creds}, nil
	}

	validated, err := c.webauthn.ValidateDiscoverableLogin(handler, pending.Session, response)
	if err != nil {
		c.logger.Infow("assertion rejected", "credential", rec.ID, "error", err)
		return nil, nil, fmt.Errorf("%w: %v", ErrCeremonyFailed, err)
	}

	// The counter must strictly advance unless the authenticator never
	// reports one (both sides zero). Nothing is mutated on failure.
	newCount := validated.Authenticator.SignCount
	if !(newCount > rec.SignCount || (newCount == 0 && rec.SignCount == 0)) {
		c.logger.Warnw("possible cloned authenticator",
			"credential", rec.ID, "stored", rec.SignCount, "presented", newCount)
		return nil, nil, ErrClonedAuthenticator
	}

	now := time.Now().UTC()
	if err := c.store.UpdateCredentialAfterAssertion(ctx, rec.ID, newCount, now); err != nil {
		return nil, nil, err
	}
	rec.SignCount = newCount
	rec.LastAccess = &now

	user, err := c.store.GetUser(ctx, rec.UserID)
	if err != nil {
		return nil, nil, err
	}
	if err := c.store.TouchUserAccess(ctx, user.ID, now); err != nil {
		return nil, nil, err
	}

	c.logger.Infow("assertion verified", "user", user.ID, "credential", rec.ID)
	return user, rec, nil
}

func toWebAuthnCredential(rec *store.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:        rec.CredentialID,
		PublicKey: rec.PublicKey,
		Transport: toTransports(rec.Transports),
		Flags: webauthn.CredentialFlags{
			UserPresent:  true,
			UserVerified: rec.UserVerified,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    rec.AAGUID,
			SignCount: rec.SignCount,
		},
	}
}

func toTransports(names []string) []protocol.AuthenticatorTransport {
	out := make([]protocol.AuthenticatorTransport, len(names))
	for i, n := range names {
		out[i] = protocol.AuthenticatorTransport(n)
	}
	return out
}

func fromTransports(transports []protocol.AuthenticatorTransport) []string {
	out := make([]string, len(transports))
	for i, t := range transports {
		out[i] = string(t)
	}
	return out
}

func defaultCredentialName(attachment, osName, device string) string {
	switch {
	case device != "" && osName != "":
		return device + " (" + osName + ")"
	case device != "":
		return device
	case osName != "":
		return osName
	case attachment == store.AttachmentCrossPlatform:
		return "Security key"
	default:
		return "Authenticator"
	}
}
