package errors

import (
	"errors"
	"fmt"
)

// Common error types for the gateway
var (
	// Credential errors
	ErrInvalidToken    = errors.New("invalid token")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidCookie   = errors.New("invalid session cookie")

	// Provider errors
	ErrProviderExchange = errors.New("provider code exchange failed")
	ErrRefreshFailed    = errors.New("session refresh failed")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrInvalidState     = errors.New("invalid oauth state")
	ErrSignOutFailed    = errors.New("sign out failed")

	// Profile store errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Policy errors
	ErrInvalidPolicy = errors.New("invalid policy")

	// General errors
	ErrInternal = errors.New("internal error")
	ErrClosed   = errors.New("closed")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers only import one errors package
func New(text string) error {
	return errors.New(text)
}
