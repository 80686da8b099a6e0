package token_test

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chargekeep/chargekeep/token"
)

func testSession() *token.Session {
	return &token.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		IDToken:      "id",
		ExpiresAt:    time.Now().Add(6 * time.Minute).Truncate(time.Second),
		Scope:        []string{"openid", "offline_access"},
	}
}

func TestStoreRoundtrip(t *testing.T) {
	store := token.NewStore(filepath.Join(t.TempDir(), "auth_tokens.json"), "")

	want := testSession()
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, want.AccessToken, got.AccessToken)
	require.Equal(t, want.RefreshToken, got.RefreshToken)
	require.Equal(t, want.Scope, got.Scope)
	require.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
}

func TestStoreLoadWithoutFile(t *testing.T) {
	store := token.NewStore(filepath.Join(t.TempDir(), "auth_tokens.json"), "")
	got, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestEncryptedStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth_tokens.json")
	store := token.NewStore(path, "correct horse battery staple")

	want := testSession()
	require.NoError(t, store.Save(want))

	// The raw file must not leak the refresh token.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "refresh")

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, want.RefreshToken, got.RefreshToken)
}

func TestEncryptedStoreRejectsWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth_tokens.json")
	require.NoError(t, token.NewStore(path, "right").Save(testSession()))

	_, err := token.NewStore(path, "wrong").Load()
	require.Error(t, err)
}

func TestClearIsIdempotent(t *testing.T) {
	store := token.NewStore(filepath.Join(t.TempDir(), "auth_tokens.json"), "")
	require.NoError(t, store.Clear())
	require.NoError(t, store.Save(testSession()))
	require.NoError(t, store.Clear())

	got, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSessionValidMargin(t *testing.T) {
	now := time.Now()
	sess := &token.Session{AccessToken: "a", ExpiresAt: now.Add(31 * time.Second)}

	require.True(t, sess.Valid(now, 30*time.Second))
	require.False(t, sess.Valid(now.Add(2*time.Second), 30*time.Second))

	var nilSession *token.Session
	require.False(t, nilSession.Valid(now, 0))
}

func TestSessionClaims(t *testing.T) {
	// Unsigned JWT with sub and exp claims; signature is irrelevant for
	// claim inspection.
	header := base64JSON(t, map[string]any{"alg": "none", "typ": "JWT"})
	exp := time.Now().Add(time.Hour).Unix()
	payload := base64JSON(t, map[string]any{"sub": "operator-1", "exp": exp})
	sess := &token.Session{AccessToken: header + "." + payload + "."}

	sub, err := sess.Subject()
	require.NoError(t, err)
	require.Equal(t, "operator-1", sub)

	got, err := sess.TokenExpiry()
	require.NoError(t, err)
	require.Equal(t, exp, got.Unix())
}

func base64JSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(raw)
}
