package auth

import "context"

// Credentials holds the account identity and provider configuration used
// for an authentication exchange.
//
// The struct contains only value fields, so an ordinary assignment is a
// deep copy. The Manager relies on this: every exchange receives its own
// snapshot, taken under the guard, so a caller mutating the live
// configuration cannot alter an in-flight exchange.
type Credentials struct {
	Username string
	Password string
	Brand    string
	Cognito  CognitoConfig
}

// CognitoConfig identifies the user pool an account authenticates against.
// Partner brands resolve these values dynamically during login.
type CognitoConfig struct {
	Region      string
	PoolID      string
	AppClientID string
}

// Tokens is the result of one successful authentication exchange.
type Tokens struct {
	AccessToken  string
	IDToken      string
	RefreshToken string

	// ExpiresIn is the token lifetime in seconds as reported by the
	// provider. Zero means the provider did not report a lifetime; the
	// Manager then falls back to the exp claim inside AccessToken.
	ExpiresIn int
}

// Authenticator performs the credential-protocol exchange with the
// identity provider.
//
// Implementations may block for the duration of the exchange; the Manager
// runs them on a dedicated goroutine and always waits for completion, so
// implementations need not worry about being abandoned mid-exchange. They
// should still honour ctx for their own network calls.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*Tokens, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, creds Credentials) (*Tokens, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, creds Credentials) (*Tokens, error) {
	return f(ctx, creds)
}
