package token

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/chargekeep/chargekeep/internal/config"
)

// Authenticator runs the full interactive login, MFA included. Only invoked
// when no session can be established by refresh alone.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*Session, error)
}

// IDTokenVerifier checks the ID token obtained from a full login.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) error
}

// Manager owns the current Session and hands out valid bearer tokens. All
// refresh-or-reauthenticate work is collapsed through a single-flight group:
// concurrent callers observe the one in-flight attempt instead of issuing
// duplicate refresh grants, which some providers treat as token reuse and
// punish by revoking the whole grant.
type Manager struct {
	cfg           config.AuthConfig
	store         *Store
	authenticator Authenticator
	verifier      IDTokenVerifier
	httpClient    *http.Client
	logger        zerolog.Logger
	nowTime       func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	session *Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithHTTPClient sets the HTTP client used for the refresh grant.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithIDTokenVerifier enables ID-token verification after a full login.
func WithIDTokenVerifier(v IDTokenVerifier) ManagerOption {
	return func(m *Manager) {
		m.verifier = v
	}
}

// NewManager builds the Manager and loads any persisted session so a restart
// resumes without re-authenticating while the refresh token is still good.
func NewManager(cfg config.AuthConfig, store *Store, authenticator Authenticator, logger zerolog.Logger, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if authenticator == nil {
		return nil, errors.New("[NewManager] authenticator is required")
	}

	m := &Manager{
		cfg:           cfg,
		store:         store,
		authenticator: authenticator,
		httpClient:    http.DefaultClient,
		logger:        logger.With().Str("component", "token-manager").Logger(),
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(m)
	}

	sess, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "[NewManager] load persisted session")
	}
	m.session = sess
	if sess != nil {
		m.logger.Info().Time("expires_at", sess.ExpiresAt).Msg("loaded persisted session")
	}
	return m, nil
}

// GetValidToken returns a bearer token valid for at least the configured
// margin, refreshing or re-authenticating as needed.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	margin := m.cfg.GetTokenRefreshMargin()

	m.mu.RLock()
	sess := m.session
	m.mu.RUnlock()

	if sess.Valid(m.nowTime(), margin) {
		return sess.AccessToken, nil
	}

	v, err, _ := m.group.Do("session", func() (any, error) {
		return m.renew(ctx, margin)
	})
	if err != nil {
		return "", err
	}
	return v.(*Session).AccessToken, nil
}

// CurrentSession returns a copy of the session, or nil when none exists.
func (m *Manager) CurrentSession() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.clone()
}

// Invalidate drops the in-memory and persisted session, forcing a full
// authentication on the next GetValidToken call.
func (m *Manager) Invalidate() error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return m.store.Clear()
}

func (m *Manager) renew(ctx context.Context, margin time.Duration) (*Session, error) {
	// A caller queued behind an in-flight renewal lands here after it
	// completed; the fresh session makes another provider call unnecessary.
	m.mu.RLock()
	sess := m.session
	m.mu.RUnlock()
	if sess.Valid(m.nowTime(), margin) {
		return sess, nil
	}

	if sess != nil && sess.RefreshToken != "" {
		refreshed, err := m.refresh(ctx, sess)
		if err == nil {
			m.setSession(refreshed)
			return refreshed, nil
		}
		m.logger.Warn().Err(err).Msg("refresh grant failed, falling back to full authentication")
	}

	return m.reauthenticate(ctx)
}

func (m *Manager) refresh(ctx context.Context, sess *Session) (*Session, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	src := m.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: sess.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.refresh] refresh_token grant")
	}

	next := FromOAuth2(tok)
	if next.RefreshToken == "" {
		// Providers may omit the refresh token when the old one stays valid.
		next.RefreshToken = sess.RefreshToken
	}
	if len(next.Scope) == 0 {
		next.Scope = sess.Scope
	}
	m.logger.Info().Time("expires_at", next.ExpiresAt).Msg("access token refreshed")
	return next, nil
}

func (m *Manager) reauthenticate(ctx context.Context) (*Session, error) {
	username := m.cfg.GetUsername()
	password := m.cfg.GetPassword()
	if username == "" || password == "" {
		return nil, errors.New("[Manager.reauthenticate] no operator credentials configured")
	}

	m.logger.Info().Msg("starting full authentication")
	sess, err := m.authenticator.Authenticate(ctx, username, password)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.reauthenticate] authenticate")
	}

	if m.verifier != nil && sess.IDToken != "" {
		if err := m.verifier.Verify(ctx, sess.IDToken); err != nil {
			return nil, errors.Wrap(err, "[Manager.reauthenticate] ID token verification")
		}
	}

	m.setSession(sess)
	return sess, nil
}

func (m *Manager) setSession(sess *Session) {
	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	if err := m.store.Save(sess); err != nil {
		m.logger.Error().Err(err).Msg("persisting session failed")
	}
}

func (m *Manager) oauthConfig() *oauth2.Config {
	base := strings.TrimRight(m.cfg.GetAuthBaseURL(), "/")
	return &oauth2.Config{
		ClientID:    m.cfg.GetClientID(),
		RedirectURL: m.cfg.GetRedirectURI(),
		Scopes:      m.cfg.GetScopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/authorize",
			TokenURL:  base + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// FromOAuth2 converts an oauth2 token response into a Session, falling back
// to the access token's exp claim when the response has no expiry.
func FromOAuth2(tok *oauth2.Token) *Session {
	sess := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		sess.IDToken = id
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		sess.Scope = strings.Fields(scope)
	}
	if sess.ExpiresAt.IsZero() {
		if exp, err := sess.TokenExpiry(); err == nil {
			sess.ExpiresAt = exp
		}
	}
	return sess
}
