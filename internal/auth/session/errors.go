package session

import (
	"errors"
	"fmt"
)

// Error types classifying authentication failures. Configuration errors are
// fatal and never retried; transport errors cover network failures, timeouts,
// and malformed responses; protocol errors carry backend-provided messages
// where available; authorization errors drive the retry-once-then-reauth
// policy in the API client.
const (
	ErrTypeConfiguration = "configuration_error"
	ErrTypeTransport     = "transport_error"
	ErrTypeProtocol      = "protocol_error"
	ErrTypeAuthorization = "authorization_error"
)

// AuthenticationError represents an authentication-related failure with a
// classified type and an optional underlying cause.
type AuthenticationError struct {
	// Type is one of the ErrType constants.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Cause is the underlying error, when one exists.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// newAuthError creates a classified authentication error.
func newAuthError(errType, message string, cause error) *AuthenticationError {
	return &AuthenticationError{Type: errType, Message: message, Cause: cause}
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// UserFriendlyMessage maps an error to the message shown to the user.
func UserFriendlyMessage(err error) string {
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		return "An unexpected error occurred. Please try again."
	}
	switch authErr.Type {
	case ErrTypeConfiguration:
		return fmt.Sprintf("Configuration problem: %s", authErr.Message)
	case ErrTypeTransport:
		return "Network error. Please check your connection and try again."
	case ErrTypeAuthorization:
		return "Please log in to continue."
	default:
		return authErr.Message
	}
}
