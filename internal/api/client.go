package api

import (
	"context"
	"net/http"
	"time"

	"github.com/helicopterrun/aiophyn/internal/infrastructure/logging"
)

// defaultRequestTimeout bounds every REST call unless the caller's context
// imposes a shorter deadline.
const defaultRequestTimeout = 10 * time.Second

// TokenProvider supplies a valid access token before each request.
// *auth.Manager satisfies this interface.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Client is the gateway to the Phyn REST API.
//
// Every call obtains a fresh token from the TokenProvider (a cached token
// is returned without any I/O when still valid) and is bounded by a
// per-call timeout. The Client itself holds no session state beyond the
// underlying http.Client, so it is safe for concurrent use.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	timeout    time.Duration
	logger     *logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a gateway for the given API base URL.
//
// Parameters:
//   - baseURL: API root, e.g. https://api.phyn.com
//   - tokens: Source of valid access tokens
//   - opts: Optional overrides
//
// Returns:
//   - *Client: Ready for concurrent use
func NewClient(baseURL string, tokens TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		timeout:    defaultRequestTimeout,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
