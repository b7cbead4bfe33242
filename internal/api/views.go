package api

import (
	"time"

	"github.com/finchsec/passkeyd/internal/store"
)

// Client-facing projections. Only safelisted fields leave the server: no
// password hashes, public keys, attestation bytes, credential ids or user
// handles. Timestamps are epoch milliseconds.

type userView struct {
	ID                            string `json:"id"`
	Username                      string `json:"username"`
	DisplayName                   string `json:"display_name"`
	SkipAuthenticatorRegistration bool   `json:"skip_authenticator_registration"`
	LastAccess                    *int64 `json:"last_access"`
	CreatedAt                     int64  `json:"created_at"`
	UpdatedAt                     int64  `json:"updated_at"`
}

type credentialMetadataView struct {
	Attachment string `json:"authenticator_attachment"`
	OS         string `json:"os,omitempty"`
	Device     string `json:"device,omitempty"`
}

type credentialView struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Authenticator string                 `json:"authenticator"`
	Metadata      credentialMetadataView `json:"metadata"`
	UserVerified  bool                   `json:"user_verified"`
	LastAccess    *int64                 `json:"last_access"`
	CreatedAt     int64                  `json:"created_at"`
	UpdatedAt     int64                  `json:"updated_at"`
}

func toUserView(u *store.User) userView {
	return userView{
		ID:                            u.ID,
		Username:                      u.Username,
		DisplayName:                   u.DisplayName,
		SkipAuthenticatorRegistration: u.SkipAuthenticatorRegistration,
		LastAccess:                    epochMillisPtr(u.LastAccess),
		CreatedAt:                     epochMillis(u.CreatedAt),
		UpdatedAt:                     epochMillis(u.UpdatedAt),
	}
}

func (s *Server) toCredentialView(c *store.Credential) credentialView {
	return credentialView{
		ID:            c.ID,
		Name:          c.Name,
		Authenticator: s.mds.Name(c.AAGUID),
		Metadata: credentialMetadataView{
			Attachment: c.Metadata.Attachment,
			OS:         c.Metadata.OS,
			Device:     c.Metadata.Device,
		},
		UserVerified: c.UserVerified,
		LastAccess:   epochMillisPtr(c.LastAccess),
		CreatedAt:    epochMillis(c.CreatedAt),
		UpdatedAt:    epochMillis(c.UpdatedAt),
	}
}

func epochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func epochMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
