package store

import (
	"context"
	"errors"
	"time"
)

// Authenticator attachment classes as defined by WebAuthn.
const (
	AttachmentPlatform      = "platform"
	AttachmentCrossPlatform = "cross-platform"
)

// Sentinel errors. Ownership mismatches on credential mutations surface as
// ErrCredentialNotFound so callers cannot probe for other users' records.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrDuplicateUsername   = errors.New("username already taken")
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrDuplicateCredential = errors.New("credential already registered")
)

type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash []byte

	// SkipAuthenticatorRegistration is set when the user opts out of the
	// post-login enrollment step.
	SkipAuthenticatorRegistration bool

	LastAccess *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CredentialMetadata describes the authenticator a credential was created on.
type CredentialMetadata struct {
	Attachment string // "platform" or "cross-platform"
	OS         string
	Device     string
}

// Credential is one WebAuthn authenticator registration.
type Credential struct {
	ID     string
	UserID string

	// CredentialID is the authenticator-issued identifier, unique across
	// all users.
	CredentialID []byte

	PublicKey []byte
	SignCount uint32

	// UserHandle is the server-chosen handle embedded in the credential
	// during attestation; assertions present it back to locate the owner.
	UserHandle []byte

	UserVerified      bool
	AttestationFormat string
	RawAttestation    []byte
	AAGUID            []byte

	Name       string
	Metadata   CredentialMetadata
	Transports []string

	LastAccess *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UserPatch holds the user fields that may be updated after creation.
// Nil fields are left untouched.
type UserPatch struct {
	DisplayName                   *string
	SkipAuthenticatorRegistration *bool
}

type UserStore interface {
	// CreateUser persists a new user. Returns ErrDuplicateUsername when the
	// username unique index is violated.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error)

	// TouchUserAccess records a successful login. Returns ErrUserNotFound
	// when the row no longer exists, which callers surface as a
	// precondition failure.
	TouchUserAccess(ctx context.Context, id string, at time.Time) error
}

type CredentialStore interface {
	// CreateCredential persists a new credential. Returns
	// ErrDuplicateCredential when the credential id is already registered.
	CreateCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error)
	GetCredentialsByUserHandle(ctx context.Context, handle []byte) ([]Credential, error)

	// GetCredentialsByUser returns the user's credentials, filtered to the
	// given attachment class when attachment is non-empty.
	GetCredentialsByUser(ctx context.Context, userID, attachment string) ([]Credential, error)

	// GetCredentialByFingerprint looks up a credential by its authenticator
	// metadata (attachment/OS/device) for a given user.
	GetCredentialByFingerprint(ctx context.Context, userID string, meta CredentialMetadata) (*Credential, error)

	// UpdateCredentialName renames a credential. The ownerID must match the
	// owning user; a mismatch behaves exactly like a missing credential.
	UpdateCredentialName(ctx context.Context, id, ownerID, name string) (*Credential, error)

	// UpdateCredentialAfterAssertion records a successful assertion:
	// new signature counter and last-access timestamp.
	UpdateCredentialAfterAssertion(ctx context.Context, id string, signCount uint32, at time.Time) error

	// DeleteCredential removes a credential, subject to the same ownership
	// semantics as UpdateCredentialName.
	DeleteCredential(ctx context.Context, id, ownerID string) error
}

type Store interface {
	UserStore
	CredentialStore
	Close(ctx context.Context) error
}
