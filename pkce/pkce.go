// Package pkce generates Proof Key for Code Exchange material for the
// authorization-code flow (RFC 7636, S256 method only).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/pkg/errors"
)

// verifierLength is the number of random bytes in a code verifier. The
// base64url encoding of 32 bytes is 43 characters, the RFC minimum.
const verifierLength = 32

// Context holds the PKCE material for a single authentication attempt. It
// must never be persisted; the verifier is only meaningful for the one
// exchange it was generated for.
type Context struct {
	Verifier  string
	Challenge string
}

// New generates a fresh verifier/challenge pair.
func New() (*Context, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return nil, err
	}
	return &Context{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
	}, nil
}

// GenerateVerifier creates a cryptographically random code verifier,
// base64url encoded without padding.
func GenerateVerifier() (string, error) {
	buf := make([]byte, verifierLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "[pkce.GenerateVerifier] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Challenge derives the S256 code challenge for a verifier:
// base64url(sha256(verifier)) without padding.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
