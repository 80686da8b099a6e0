package pkce_test

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/chargekeep/chargekeep/pkce"
	"github.com/stretchr/testify/require"
)

func TestNewProducesMatchingPair(t *testing.T) {
	ctx, err := pkce.New()
	require.NoError(t, err)

	hash := sha256.Sum256([]byte(ctx.Verifier))
	want := base64.RawURLEncoding.EncodeToString(hash[:])
	require.Equal(t, want, ctx.Challenge)
}

func TestVerifierLengthAndAlphabet(t *testing.T) {
	verifier, err := pkce.GenerateVerifier()
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(verifier), 43)
	require.NotContains(t, verifier, "=")
	require.NotContains(t, verifier, "+")
	require.NotContains(t, verifier, "/")
}

func TestChallengeHasNoPadding(t *testing.T) {
	// RFC 7636 appendix B reference vector.
	challenge := pkce.Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	require.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", challenge)
	require.False(t, strings.HasSuffix(challenge, "="))
}

func TestVerifiersAreUnique(t *testing.T) {
	a, err := pkce.GenerateVerifier()
	require.NoError(t, err)
	b, err := pkce.GenerateVerifier()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
