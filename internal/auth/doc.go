// Package auth provides credential management for the Phyn API.
//
// The Manager caches the access token from the most recent authentication
// exchange and hands it out to any number of concurrent callers. Expired
// tokens are refreshed through a single-flight guard: a burst of callers
// discovering the expiry simultaneously results in exactly one exchange
// with the identity provider, whose outcome (token or error) is shared by
// every waiter.
//
// The actual exchange is behind the Authenticator interface. The Phyn
// brand authenticates against AWS Cognito; partner brands first obtain
// a password-equivalent secret through their own login flow (see
// internal/partners) and then exchange it the same way.
package auth
