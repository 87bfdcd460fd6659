package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	// defaultTokenBuffer is subtracted from the expiry when deciding
	// whether a cached token is still usable, so a token is refreshed
	// shortly before it actually expires rather than after.
	defaultTokenBuffer = 60 * time.Second

	// defaultTokenTTL is assumed when the provider reports no lifetime
	// and the access token carries no exp claim.
	defaultTokenTTL = time.Hour

	refreshKey = "refresh"
)

// Manager owns the token state for one account and collapses concurrent
// refresh attempts into a single authentication exchange.
//
// Any number of goroutines may call Token concurrently. When the cached
// token has expired, exactly one exchange runs no matter how many callers
// detected the expiry; every caller that raced in observes the same
// refreshed token, or the same error if the exchange failed.
//
// Each Manager owns its Credentials exclusively. Two Managers
// authenticating concurrently never interfere.
type Manager struct {
	authenticator Authenticator
	buffer        time.Duration

	// now is replaceable in tests.
	now func() time.Time

	group singleflight.Group

	// mu guards everything below.
	mu           sync.RWMutex
	creds        Credentials
	hasCreds     bool
	token        string
	idToken      string
	refreshToken string
	expiry       time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTokenBuffer overrides the expiry buffer applied when checking
// whether the cached token is still valid.
func WithTokenBuffer(d time.Duration) ManagerOption {
	return func(m *Manager) { m.buffer = d }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager for one account.
//
// Parameters:
//   - authenticator: Performs the actual credential exchange
//   - creds: Account identity and provider configuration
//   - opts: Optional overrides
//
// Returns:
//   - *Manager: Ready for concurrent use
func NewManager(authenticator Authenticator, creds Credentials, opts ...ManagerOption) *Manager {
	m := &Manager{
		authenticator: authenticator,
		buffer:        defaultTokenBuffer,
		now:           time.Now,
		creds:         creds,
		hasCreds:      creds.Username != "",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a non-expired access token, refreshing it first if needed.
//
// The common case is lock-free in spirit: a read lock, a comparison, and
// return. Only when the cached token is missing or inside the expiry
// buffer does the caller enter the single-flight refresh, where the
// expiry is re-checked before authenticating because another caller may
// have refreshed while this one waited.
//
// Returns:
//   - string: A valid access token
//   - error: ErrAuthenticationFailed (wrapped) if the exchange failed
func (m *Manager) Token(ctx context.Context) (string, error) {
	if token, ok := m.validToken(); ok {
		return token, nil
	}

	v, err, _ := m.group.Do(refreshKey, func() (any, error) {
		// Double-check under the single-flight guard: the caller that
		// held the flight may already have stored a fresh token.
		if token, ok := m.validToken(); ok {
			return token, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// IDToken returns the identity token from the most recent exchange,
// refreshing first if the access token has expired.
func (m *Manager) IDToken(ctx context.Context) (string, error) {
	if _, err := m.Token(ctx); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idToken, nil
}

// SetCredentials replaces the account credentials.
//
// An exchange already in flight is unaffected: it operates on the
// snapshot taken when it was dispatched.
func (m *Manager) SetCredentials(creds Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
	m.hasCreds = creds.Username != ""
}

// Username returns the account username.
func (m *Manager) Username() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds.Username
}

// Invalidate discards the cached token so the next Token call refreshes.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expiry = time.Time{}
}

// validToken returns the cached token if it exists and is outside the
// expiry buffer.
func (m *Manager) validToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return "", false
	}
	if !m.now().Before(m.expiry.Add(-m.buffer)) {
		return "", false
	}
	return m.token, true
}

// refresh performs one authentication exchange and stores the result.
//
// The exchange may block on network and cryptographic work, so it runs on
// its own goroutine. The result channel is buffered and always received
// from, which gives a full join: no exchange ever outlives the refresh
// that spawned it.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	hasCreds := m.hasCreds
	creds := m.creds // snapshot; Credentials copies deeply by value
	m.mu.RUnlock()

	if !hasCreds {
		return "", ErrNoCredentials
	}

	type result struct {
		tokens *Tokens
		err    error
	}
	done := make(chan result, 1)

	go func() {
		tokens, err := m.authenticator.Authenticate(ctx, creds)
		done <- result{tokens: tokens, err: err}
	}()

	res := <-done
	if res.err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, res.err)
	}
	if res.tokens == nil || res.tokens.AccessToken == "" {
		return "", fmt.Errorf("%w: provider returned no access token", ErrAuthenticationFailed)
	}

	expiry := m.expiryFor(res.tokens)

	m.mu.Lock()
	m.token = res.tokens.AccessToken
	m.idToken = res.tokens.IDToken
	m.refreshToken = res.tokens.RefreshToken
	m.expiry = expiry
	m.mu.Unlock()

	return res.tokens.AccessToken, nil
}

// expiryFor computes the expiration instant for a fresh token set.
//
// The provider-reported lifetime wins. Without one, the exp claim inside
// the access token is used; the token is not validated here, only
// decoded, since it came straight from the provider over TLS.
func (m *Manager) expiryFor(tokens *Tokens) time.Time {
	if tokens.ExpiresIn > 0 {
		return m.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokens.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	return m.now().Add(defaultTokenTTL)
}
