// Package channel manages the human-like messaging channel: per-tenant
// session authentication, the live connection registry and delivery
// primitives backed by a session gateway.
package channel

import (
	"errors"
	"fmt"
	"time"
)

// AuthErrorKind classifies login failures into user-facing categories.
type AuthErrorKind string

const (
	AuthErrRateLimited        AuthErrorKind = "rate_limited"
	AuthErrInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthErrInvalidPhone       AuthErrorKind = "invalid_phone"
	AuthErrInvalidCode        AuthErrorKind = "invalid_code"
	AuthErrInvalidPassword    AuthErrorKind = "invalid_password"
)

// AuthError is a typed login failure carrying a message fit to show the
// tenant, instead of a raw provider error.
type AuthError struct {
	Kind       AuthErrorKind
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthErrRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("too many attempts, try again in %s", e.RetryAfter.Round(time.Second))
		}
		return "too many attempts, try again later"
	case AuthErrInvalidCredentials:
		return "invalid app credentials"
	case AuthErrInvalidPhone:
		return "invalid phone number format"
	case AuthErrInvalidCode:
		return "the code is incorrect"
	case AuthErrInvalidPassword:
		return "the password is incorrect"
	default:
		return "authentication failed"
	}
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// NewAuthError creates a typed auth failure.
func NewAuthError(kind AuthErrorKind, cause error) *AuthError {
	return &AuthError{Kind: kind, Cause: cause}
}

// AsAuthError extracts an AuthError if err carries one.
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}
