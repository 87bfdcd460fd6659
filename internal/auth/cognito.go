package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/helicopterrun/aiophyn/internal/infrastructure/logging"
)

const (
	cognitoTarget      = "AWSCognitoIdentityProviderService.InitiateAuth"
	cognitoContentType = "application/x-amz-json-1.1"
	cognitoTimeout     = 30 * time.Second
)

// CognitoAuthenticator exchanges account credentials for tokens against
// an AWS Cognito user pool using the USER_PASSWORD_AUTH flow.
//
// The pool coordinates come from the Credentials snapshot, not the
// authenticator, so one authenticator serves accounts on different
// pools. Partner brands resolve their pool during partner login.
type CognitoAuthenticator struct {
	httpClient *http.Client
	endpoint   string
	logger     *logging.Logger
}

// CognitoOption configures a CognitoAuthenticator.
type CognitoOption func(*CognitoAuthenticator)

// WithCognitoEndpoint overrides the provider endpoint. The default is
// derived from the pool region.
func WithCognitoEndpoint(endpoint string) CognitoOption {
	return func(a *CognitoAuthenticator) { a.endpoint = endpoint }
}

// WithCognitoHTTPClient overrides the HTTP client.
func WithCognitoHTTPClient(httpClient *http.Client) CognitoOption {
	return func(a *CognitoAuthenticator) { a.httpClient = httpClient }
}

// WithCognitoLogger sets the logger.
func WithCognitoLogger(logger *logging.Logger) CognitoOption {
	return func(a *CognitoAuthenticator) { a.logger = logger }
}

// NewCognitoAuthenticator creates an authenticator.
func NewCognitoAuthenticator(opts ...CognitoOption) *CognitoAuthenticator {
	a := &CognitoAuthenticator{
		httpClient: &http.Client{Timeout: cognitoTimeout},
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "cognito")
	return a
}

// Authenticate implements Authenticator.
func (a *CognitoAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*Tokens, error) {
	if creds.Cognito.Region == "" || creds.Cognito.AppClientID == "" {
		return nil, fmt.Errorf("%w: cognito pool not configured", ErrAuthenticationFailed)
	}

	endpoint := a.endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/", creds.Cognito.Region)
	}

	payload, err := json.Marshal(map[string]any{
		"AuthFlow": "USER_PASSWORD_AUTH",
		"ClientId": creds.Cognito.AppClientID,
		"AuthParameters": map[string]string{
			"USERNAME": creds.Username,
			"PASSWORD": creds.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	req.Header.Set("Content-Type", cognitoContentType)
	req.Header.Set("X-Amz-Target", cognitoTarget)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		var provider struct {
			Type    string `json:"__type"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &provider) == nil && provider.Type != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrAuthenticationFailed, provider.Type, provider.Message)
		}
		return nil, fmt.Errorf("%w: HTTP %d from identity provider", ErrAuthenticationFailed, resp.StatusCode)
	}

	var result struct {
		AuthenticationResult *struct {
			AccessToken  string `json:"AccessToken"`
			IDToken      string `json:"IdToken"`
			RefreshToken string `json:"RefreshToken"`
			ExpiresIn    int    `json:"ExpiresIn"`
		} `json:"AuthenticationResult"`
		ChallengeName string `json:"ChallengeName"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: invalid provider response: %w", ErrAuthenticationFailed, err)
	}
	if result.AuthenticationResult == nil {
		if result.ChallengeName != "" {
			return nil, fmt.Errorf("%w: unsupported auth challenge %s", ErrAuthenticationFailed, result.ChallengeName)
		}
		return nil, fmt.Errorf("%w: no authentication result in provider response", ErrAuthenticationFailed)
	}
	if result.AuthenticationResult.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token missing from provider response", ErrAuthenticationFailed)
	}

	a.logger.Debug("authentication exchange complete", "username", creds.Username)
	return &Tokens{
		AccessToken:  result.AuthenticationResult.AccessToken,
		IDToken:      result.AuthenticationResult.IDToken,
		RefreshToken: result.AuthenticationResult.RefreshToken,
		ExpiresIn:    result.AuthenticationResult.ExpiresIn,
	}, nil
}
