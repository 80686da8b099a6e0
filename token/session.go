// Package token owns the operator session: the access/refresh token pair, its
// persistence, and the refresh-or-reauthenticate lifecycle.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Session is the persisted token record for one operator account. Exactly one
// Session exists per account; the Manager is its sole owner and every reader
// gets a copy.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        []string  `json:"scope,omitempty"`
}

// Valid reports whether the access token is still usable at now, keeping a
// safety margin so a token is never presented moments before it expires.
func (s *Session) Valid(now time.Time, margin time.Duration) bool {
	if s == nil || s.AccessToken == "" || s.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(s.ExpiresAt.Add(-margin))
}

// Subject returns the sub claim of the access token. The token was issued to
// us by the provider over TLS, so the signature is not re-verified here.
func (s *Session) Subject() (string, error) {
	claims, err := s.claims()
	if err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", errors.Wrap(err, "[Session.Subject] sub claim")
	}
	return sub, nil
}

// TokenExpiry returns the exp claim of the access token. Used as a fallback
// when the token response carries no expires_in field.
func (s *Session) TokenExpiry() (time.Time, error) {
	claims, err := s.claims()
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("[Session.TokenExpiry] no exp claim")
	}
	return exp.Time, nil
}

func (s *Session) claims() (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return nil, errors.Wrap(err, "[Session.claims] parse access token")
	}
	return claims, nil
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Scope = append([]string(nil), s.Scope...)
	return &out
}
