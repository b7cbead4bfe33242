package store

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests. It enforces
// the same uniqueness and ownership semantics as the MongoDB implementation.
type MemoryStore struct {
	mu           sync.RWMutex
	usersByID    map[string]*User
	usernames    map[string]string // username -> user id
	credsByID    map[string]*Credential
	credIDToID   map[string]string // hex-free key: string(credential_id) -> store id
	userToCredID map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usersByID:    make(map[string]*User),
		usernames:    make(map[string]string),
		credsByID:    make(map[string]*Credential),
		credIDToID:   make(map[string]string),
		userToCredID: make(map[string][]string),
	}
}

func copyUser(u *User) *User {
	c := *u
	if u.LastAccess != nil {
		t := *u.LastAccess
		c.LastAccess = &t
	}
	return &c
}

func copyCredential(cr *Credential) *Credential {
	c := *cr
	if cr.LastAccess != nil {
		t := *cr.LastAccess
		c.LastAccess = &t
	}
	return &c
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usernames[user.Username]; exists {
		return ErrDuplicateUsername
	}
	s.usersByID[user.ID] = copyUser(user)
	s.usernames[user.Username] = user.ID
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(user), nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(s.usersByID[id]), nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if patch.DisplayName != nil {
		user.DisplayName = *patch.DisplayName
	}
	if patch.SkipAuthenticatorRegistration != nil {
		user.SkipAuthenticatorRegistration = *patch.SkipAuthenticatorRegistration
	}
	user.UpdatedAt = time.Now().UTC()
	return copyUser(user), nil
}

func (s *MemoryStore) TouchUserAccess(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[id]
	if !ok {
		return ErrUserNotFound
	}
	t := at.UTC()
	user.LastAccess = &t
	user.UpdatedAt = t
	return nil
}

func (s *MemoryStore) CreateCredential(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(cred.CredentialID)
	if _, exists := s.credIDToID[key]; exists {
		return ErrDuplicateCredential
	}
	s.credsByID[cred.ID] = copyCredential(cred)
	s.credIDToID[key] = cred.ID
	s.userToCredID[cred.UserID] = append(s.userToCredID[cred.UserID], cred.ID)
	return nil
}

func (s *MemoryStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credsByID[id]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return copyCredential(cred), nil
}

func (s *MemoryStore) GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.credIDToID[string(credentialID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return copyCredential(s.credsByID[id]), nil
}

func (s *MemoryStore) GetCredentialsByUserHandle(ctx context.Context, handle []byte) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Credential
	for _, cred := range s.credsByID {
		if bytes.Equal(cred.UserHandle, handle) {
			out = append(out, *copyCredential(cred))
		}
	}
	return out, nil
}

func (s *MemoryStore) GetCredentialsByUser(ctx context.Context, userID, attachment string) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Credential
	for _, id := range s.userToCredID[userID] {
		cred := s.credsByID[id]
		if cred == nil {
			continue
		}
		if attachment != "" && cred.Metadata.Attachment != attachment {
			continue
		}
		out = append(out, *copyCredential(cred))
	}
	return out, nil
}

func (s *MemoryStore) GetCredentialByFingerprint(ctx context.Context, userID string, meta CredentialMetadata) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.userToCredID[userID] {
		cred := s.credsByID[id]
		if cred == nil {
			continue
		}
		if cred.Metadata == meta {
			return copyCredential(cred), nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (s *MemoryStore) UpdateCredentialName(ctx context.Context, id, ownerID, name string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credsByID[id]
	if !ok || cred.UserID != ownerID {
		return nil, ErrCredentialNotFound
	}
	cred.Name = name
	cred.UpdatedAt = time.Now().UTC()
	return copyCredential(cred), nil
}

func (s *MemoryStore) UpdateCredentialAfterAssertion(ctx context.Context, id string, signCount uint32, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credsByID[id]
	if !ok {
		return ErrCredentialNotFound
	}
	t := at.UTC()
	cred.SignCount = signCount
	cred.LastAccess = &t
	cred.UpdatedAt = t
	return nil
}

func (s *MemoryStore) DeleteCredential(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credsByID[id]
	if !ok || cred.UserID != ownerID {
		return ErrCredentialNotFound
	}
	delete(s.credsByID, id)
	delete(s.credIDToID, string(cred.CredentialID))

	ids := s.userToCredID[cred.UserID]
	for i, cid := range ids {
		if cid == id {
			s.userToCredID[cred.UserID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
