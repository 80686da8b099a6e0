package config

import (
	"strings"
	"time"
)

type AuthConfig interface {
	GetAuthBaseURL() string
	GetClientID() string
	GetRedirectURI() string
	GetScopes() []string
	GetAudience() string
	GetUsername() string
	GetPassword() string
	GetAuthClientHeader() string
	GetTokenRefreshMargin() time.Duration
	GetMFAWindow() time.Duration
	GetOIDCIssuer() string
	GetSessionKey() string
}

type Auth struct{}

var _ AuthConfig = Auth{}

func (Auth) GetAuthBaseURL() string {
	return GetEnv("AUTH_BASE_URL", "https://login-rp.iberdrola.com")
}

func (Auth) GetClientID() string {
	return GetEnv("AUTH_CLIENT_ID", "")
}

// GetRedirectURI returns the provider-fixed callback. The scheme is usually a
// custom one registered by the mobile app, which no HTTP client can follow;
// the authenticator detects it and stops redirect-following there.
func (Auth) GetRedirectURI() string {
	return GetEnv("AUTH_REDIRECT_URI", "rv://callback/android/es.iberdrola.recargaverde/callback")
}

func (Auth) GetScopes() []string {
	raw := GetEnv("AUTH_SCOPES", "openid profile email offline_access")
	return strings.Fields(raw)
}

func (Auth) GetAudience() string {
	return GetEnv("AUTH_AUDIENCE", "http://eva.iberdrola.com/veappapi/okta/")
}

func (Auth) GetUsername() string {
	return GetEnv("OPERATOR_USER", "")
}

func (Auth) GetPassword() string {
	return GetEnv("OPERATOR_PASS", "")
}

// GetAuthClientHeader returns the value for the provider's client telemetry
// header, already base64 encoded.
func (Auth) GetAuthClientHeader() string {
	return GetEnv("AUTH_CLIENT_HEADER", "")
}

func (Auth) GetTokenRefreshMargin() time.Duration {
	return GetEnvDuration("TOKEN_REFRESH_MARGIN", 30*time.Second)
}

func (Auth) GetMFAWindow() time.Duration {
	return GetEnvDuration("MFA_WINDOW", 5*time.Minute)
}

// GetOIDCIssuer returns the OIDC issuer to verify ID tokens against. Empty
// disables verification.
func (Auth) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

// GetSessionKey returns the passphrase used to encrypt the persisted session
// at rest. Empty stores the session in plaintext.
func (Auth) GetSessionKey() string {
	return GetEnv("SESSION_KEY", "")
}
