// Package password implements the keyed-hash password verifier used by the
// login flow. Hashing is PBKDF2-SHA512 with configured salt, iteration count
// and key length; comparison is constant-time.
package password

import (
	"crypto/sha512"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

type Hasher struct {
	salt       []byte
	iterations int
	keyLength  int
}

// NewHasher validates the hashing parameters. A misconfigured hasher is an
// infrastructure error, never a silent "password incorrect".
func NewHasher(salt string, iterations, keyLength int) (*Hasher, error) {
	if len(salt) < 16 {
		return nil, fmt.Errorf("password salt must be at least 16 bytes, got %d", len(salt))
	}
	if iterations < 1000 {
		return nil, fmt.Errorf("password iterations must be at least 1000, got %d", iterations)
	}
	if keyLength < 32 {
		return nil, fmt.Errorf("password key length must be at least 32 bytes, got %d", keyLength)
	}
	return &Hasher{
		salt:       []byte(salt),
		iterations: iterations,
		keyLength:  keyLength,
	}, nil
}

// Hash derives a fixed-length key from the password. Deterministic: the same
// password always yields the same output for a given parameter set.
func (h *Hasher) Hash(password string) []byte {
	return pbkdf2.Key([]byte(password), h.salt, h.iterations, h.keyLength, sha512.New)
}

// Verify recomputes the hash and compares it to stored in constant time.
func (h *Hasher) Verify(password string, stored []byte) bool {
	computed := h.Hash(password)
	return subtle.ConstantTimeCompare(computed, stored) == 1
}
