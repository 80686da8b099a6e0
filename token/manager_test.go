package token_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chargekeep/chargekeep/token"
)

type authConfig struct {
	baseURL  string
	margin   time.Duration
	username string
	password string
}

func (c authConfig) GetAuthBaseURL() string { return c.baseURL }
func (c authConfig) GetClientID() string { return "test-client" }
func (c authConfig) GetRedirectURI() string { return "rv://callback/test" }
func (c authConfig) GetScopes() []string { return []string{"openid", "offline_access"} }
func (c authConfig) GetAudience() string { return "http://api.example.com/" }
func (c authConfig) GetUsername() string { return c.username }
func (c authConfig) GetPassword() string { return c.password }
func (c authConfig) GetAuthClientHeader() string { return "" }
func (c authConfig) GetTokenRefreshMargin() time.Duration { return c.margin }
func (c authConfig) GetMFAWindow() time.Duration { return 5 * time.Minute }
func (c authConfig) GetOIDCIssuer() string { return "" }
func (c authConfig) GetSessionKey() string { return "" }

type fakeAuthenticator struct {
	mu      sync.Mutex
	calls   int
	session *token.Session
	err     error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, _, _ string) (*token.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeAuthenticator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// tokenEndpoint is an httptest provider that serves refresh_token grants.
type tokenEndpoint struct {
	refreshCalls atomic.Int32
	delay        time.Duration
	fail         bool
}

func (e *tokenEndpoint) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		e.refreshCalls.Add(1)
		if e.delay > 0 {
			time.Sleep(e.delay)
		}
		if e.fail {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "refreshed-access-token",
			"refresh_token": "rotated-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    360,
			"scope":         "openid offline_access",
		})
	})
	return mux
}

type fixture struct {
	manager  *token.Manager
	store    *token.Store
	endpoint *tokenEndpoint
	auth     *fakeAuthenticator
}

func setup(t *testing.T, seed *token.Session, endpoint *tokenEndpoint, auth *fakeAuthenticator) *fixture {
	t.Helper()

	srv := httptest.NewServer(endpoint.handler())
	t.Cleanup(srv.Close)

	store := token.NewStore(filepath.Join(t.TempDir(), "auth_tokens.json"), "")
	if seed != nil {
		require.NoError(t, store.Save(seed))
	}

	cfg := authConfig{
		baseURL:  srv.URL,
		margin:   30 * time.Second,
		username: "operator@example.com",
		password: "hunter2",
	}
	manager, err := token.NewManager(cfg, store, auth, zerolog.Nop(), token.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	return &fixture{manager: manager, store: store, endpoint: endpoint, auth: auth}
}

func TestValidSessionNeedsNoNetworkCall(t *testing.T) {
	seed := &token.Session{
		AccessToken:  "cached-token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(5 * time.Minute),
	}
	f := setup(t, seed, &tokenEndpoint{}, &fakeAuthenticator{})

	got, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cached-token", got)
	require.Equal(t, int32(0), f.endpoint.refreshCalls.Load())
	require.Equal(t, 0, f.auth.callCount())
}

func TestExpiringSessionIsRefreshedOnce(t *testing.T) {
	seed := &token.Session{
		AccessToken:  "stale-token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(10 * time.Second), // inside the 30s margin
	}
	f := setup(t, seed, &tokenEndpoint{}, &fakeAuthenticator{})

	got, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "refreshed-access-token", got)
	require.Equal(t, int32(1), f.endpoint.refreshCalls.Load())

	sess := f.manager.CurrentSession()
	require.NotNil(t, sess)
	require.True(t, sess.ExpiresAt.After(seed.ExpiresAt))
	require.Equal(t, "rotated-refresh-token", sess.RefreshToken)

	// The disk copy follows the in-memory copy.
	persisted, err := f.store.Load()
	require.NoError(t, err)
	require.Equal(t, "refreshed-access-token", persisted.AccessToken)
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	seed := &token.Session{
		AccessToken:  "stale-token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	f := setup(t, seed, &tokenEndpoint{delay: 50 * time.Millisecond}, &fakeAuthenticator{})

	const callers = 16
	results := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			tok, err := f.manager.GetValidToken(context.Background())
			require.NoError(t, err)
			results[i] = tok
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), f.endpoint.refreshCalls.Load())
	for _, tok := range results {
		require.Equal(t, "refreshed-access-token", tok)
	}
}

func TestRefreshFailureFallsBackToFullAuthentication(t *testing.T) {
	seed := &token.Session{
		AccessToken:  "stale-token",
		RefreshToken: "revoked-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	auth := &fakeAuthenticator{
		session: &token.Session{
			AccessToken:  "fresh-login-token",
			RefreshToken: "fresh-refresh",
			ExpiresAt:    time.Now().Add(6 * time.Minute),
		},
	}
	f := setup(t, seed, &tokenEndpoint{fail: true}, auth)

	got, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh-login-token", got)
	require.Equal(t, 1, f.auth.callCount())

	persisted, err := f.store.Load()
	require.NoError(t, err)
	require.Equal(t, "fresh-login-token", persisted.AccessToken)
}

func TestAuthErrorPropagatesWhenEverythingFails(t *testing.T) {
	seed := &token.Session{
		AccessToken:  "stale-token",
		RefreshToken: "revoked-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	authErr := errors.New("mfa rejected")
	f := setup(t, seed, &tokenEndpoint{fail: true}, &fakeAuthenticator{err: authErr})

	_, err := f.manager.GetValidToken(context.Background())
	require.ErrorIs(t, err, authErr)
}

func TestNoSessionGoesStraightToAuthenticator(t *testing.T) {
	auth := &fakeAuthenticator{
		session: &token.Session{
			AccessToken:  "first-login-token",
			RefreshToken: "first-refresh",
			ExpiresAt:    time.Now().Add(6 * time.Minute),
		},
	}
	f := setup(t, nil, &tokenEndpoint{}, auth)

	got, err := f.manager.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first-login-token", got)
	require.Equal(t, int32(0), f.endpoint.refreshCalls.Load())
	require.Equal(t, 1, f.auth.callCount())
}
