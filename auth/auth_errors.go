package auth

import "errors"

// Classified authentication failures. Every failed attempt resolves to
// exactly one of these; callers branch with errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMFATimeout         = errors.New("verification code not received in time")
	ErrMFARejected        = errors.New("verification code rejected")
	ErrProvider           = errors.New("identity provider error")
)
