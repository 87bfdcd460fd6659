package auth

import "errors"

// Domain-specific errors for credential management.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthenticationFailed is returned when the identity provider
	// rejected the credentials or the exchange itself failed.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	// ErrNoCredentials is returned when a Manager is asked for a token
	// before any credentials have been configured.
	ErrNoCredentials = errors.New("auth: no credentials configured")
)
