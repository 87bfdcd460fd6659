// Package kohler implements the Kohler partner login used by rebranded
// accounts.
//
// Kohler accounts do not hold Phyn credentials directly. The flow runs
// an Azure B2C login against Kohler's tenant, exchanges the resulting
// access token for partner metadata and a one-time Phyn token, and
// decrypts that token into the password the Cognito authentication
// expects. The partner metadata also carries the Cognito pool the
// account belongs to.
package kohler

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/helicopterrun/aiophyn/internal/auth"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/logging"
)

const (
	defaultB2CBase = "https://kohlerkonnect.b2clogin.com/kohlerkonnect.onmicrosoft.com/b2c_1a_signup_signin"
	defaultAPIBase = "https://api.kohler.phyn.com"

	b2cPolicy    = "b2c_1a_signup_signin"
	b2cClientID  = "7c1f7d3a-46a6-49dd-9bb0-7e89dbd64381"
	b2cRedirect  = "com.kohler.konnect://oauth/redirect"
	b2cScope     = "openid offline_access"
	csrfCookie   = "x-ms-cpim-csrf"
	loginTimeout = 30 * time.Second
)

var statePattern = regexp.MustCompile(`StateProperties=([^"&\\]+)`)

// Client runs the Kohler partner login flow.
//
// A Client is safe for concurrent use; the login exchange itself is
// serialized internally.
type Client struct {
	username string
	password string
	b2cBase  string
	apiBase  string

	httpClient *http.Client
	logger     *logging.Logger

	mu     sync.Mutex
	token  string
	userID string
	mobile map[string]any
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints overrides the B2C and partner API base URLs.
func WithEndpoints(b2cBase, apiBase string) Option {
	return func(c *Client) {
		c.b2cBase = strings.TrimSuffix(b2cBase, "/")
		c.apiBase = strings.TrimSuffix(apiBase, "/")
	}
}

// WithHTTPClient overrides the HTTP client. The client must carry a
// cookie jar and must not follow redirects, or the login exchange
// cannot observe the B2C session cookies and redirect target.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a partner login client for the given account.
func NewClient(username, password string, opts ...Option) *Client {
	c := &Client{
		username: username,
		password: password,
		b2cBase:  defaultB2CBase,
		apiBase:  defaultAPIBase,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		jar, _ := cookiejar.New(nil)
		c.httpClient = &http.Client{
			Timeout: loginTimeout,
			Jar:     jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	c.logger = c.logger.With("component", "kohler")
	return c
}

// PartnerCredentials runs the complete partner flow and returns the
// credentials the Cognito authentication expects: the account username,
// the decrypted partner password, and the Cognito pool the partner
// assigned to the account.
func (c *Client) PartnerCredentials(ctx context.Context) (auth.Credentials, error) {
	if err := c.B2CLogin(ctx); err != nil {
		return auth.Credentials{}, err
	}
	token, err := c.PhynToken(ctx)
	if err != nil {
		return auth.Credentials{}, err
	}
	password, err := c.TokenToPassword(token)
	if err != nil {
		return auth.Credentials{}, err
	}
	cognito, ok := c.Cognito()
	if !ok {
		return auth.Credentials{}, fmt.Errorf("%w: cognito info missing from partner data", ErrTokenExchange)
	}
	return auth.Credentials{
		Username: c.username,
		Password: password,
		Brand:    "kohler",
		Cognito:  cognito,
	}, nil
}

// B2CLogin authenticates against the Kohler Azure B2C tenant and stores
// the resulting access token and user identifier.
//
// The exchange has four legs: load the authorize page to obtain the
// transaction state and CSRF cookie, post the credentials, follow the
// confirmation to capture the authorization code from the redirect, and
// exchange the code for tokens.
func (c *Client) B2CLogin(ctx context.Context) error {
	authorize := c.b2cBase + "/oauth2/v2.0/authorize?" + url.Values{
		"client_id":     {b2cClientID},
		"response_type": {"code"},
		"redirect_uri":  {b2cRedirect},
		"scope":         {b2cScope},
	}.Encode()

	status, body, _, err := c.get(ctx, authorize)
	if err != nil {
		return fmt.Errorf("%w: authorize request: %w", ErrB2CLogin, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d on authorize request", ErrB2CLogin, status)
	}

	m := statePattern.FindStringSubmatch(string(body))
	if m == nil {
		return fmt.Errorf("%w: StateProperties not found in authorize response", ErrB2CLogin)
	}
	state := m[1]

	csrf := c.csrfToken()
	if csrf == "" {
		return fmt.Errorf("%w: CSRF token cookie not set by authorize response", ErrB2CLogin)
	}

	selfAsserted := fmt.Sprintf("%s/SelfAsserted?tx=StateProperties=%s&p=%s", c.b2cBase, state, b2cPolicy)
	form := url.Values{
		"request_type": {"RESPONSE"},
		"email":        {c.username},
		"password":     {c.password},
	}
	status, _, _, err = c.postForm(ctx, selfAsserted, form, csrf)
	if err != nil {
		return fmt.Errorf("%w: credential post: %w", ErrB2CLogin, err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("%w: HTTP %d on credential post", ErrB2CLogin, status)
	}

	confirmed := fmt.Sprintf(
		"%s/api/CombinedSigninAndSignup/confirmed?rememberMe=false&csrf_token=%s&tx=StateProperties=%s&p=%s",
		c.b2cBase, url.QueryEscape(csrf), state, b2cPolicy,
	)
	status, _, header, err := c.get(ctx, confirmed)
	if err != nil {
		return fmt.Errorf("%w: confirmation request: %w", ErrB2CLogin, err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("%w: HTTP %d on confirmation request", ErrB2CLogin, status)
	}
	location := header.Get("Location")
	if location == "" {
		return fmt.Errorf("%w: Location header missing from login redirect", ErrB2CLogin)
	}
	redirect, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("%w: malformed redirect location: %w", ErrB2CLogin, err)
	}
	code := redirect.Query().Get("code")
	if code == "" {
		return fmt.Errorf("%w: authorization code missing from redirect", ErrB2CLogin)
	}

	tokenURL := c.b2cBase + "/oauth2/v2.0/token"
	status, body, _, err = c.postForm(ctx, tokenURL, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {b2cClientID},
		"redirect_uri": {b2cRedirect},
		"scope":        {b2cScope},
	}, "")
	if err != nil {
		return fmt.Errorf("%w: token request: %w", ErrB2CLogin, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d on token request", ErrB2CLogin, status)
	}

	var tokens struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		ClientInfo  string `json:"client_info"`
	}
	if err := json.Unmarshal(body, &tokens); err != nil {
		return fmt.Errorf("%w: invalid JSON in token response: %w", ErrB2CLogin, err)
	}
	if tokens.AccessToken == "" {
		return fmt.Errorf("%w: access_token missing from token response", ErrB2CLogin)
	}
	if tokens.ClientInfo == "" {
		return fmt.Errorf("%w: client_info missing from token response", ErrB2CLogin)
	}
	uid, err := decodeClientInfo(tokens.ClientInfo)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrB2CLogin, err)
	}

	c.mu.Lock()
	c.token = tokens.AccessToken
	c.userID = uid
	c.mu.Unlock()

	c.logger.Debug("b2c login complete", "username", c.username)
	return nil
}

// PhynToken fetches the partner metadata for the logged-in user and
// exchanges it for a one-time Phyn token. B2CLogin must have succeeded
// first.
func (c *Client) PhynToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, userID := c.token, c.userID
	c.mu.Unlock()
	if token == "" || userID == "" {
		return "", fmt.Errorf("%w: not logged in", ErrTokenExchange)
	}

	mobile, err := c.getPartnerJSON(ctx, fmt.Sprintf("%s/v1/users/%s/app-data", c.apiBase, url.PathEscape(userID)), token)
	if err != nil {
		return "", err
	}
	if _, ok := mobile["cognito"]; !ok {
		return "", fmt.Errorf("%w: cognito info missing from partner response", ErrTokenExchange)
	}
	c.mu.Lock()
	c.mobile = mobile
	c.mu.Unlock()

	reply, err := c.getPartnerJSON(ctx, fmt.Sprintf("%s/v1/users/%s/phyn-token", c.apiBase, url.PathEscape(userID)), token)
	if err != nil {
		return "", err
	}
	phynToken, ok := reply["token"].(string)
	if !ok || phynToken == "" {
		return "", fmt.Errorf("%w: Token not found in partner response", ErrTokenExchange)
	}
	return phynToken, nil
}

// TokenToPassword decrypts a one-time Phyn token into the account
// password. The partner metadata fetched by PhynToken carries the key:
// partner.comm_id base64-decodes to the AES key, and the token
// base64-decodes to an IV-prefixed CBC ciphertext of the password.
func (c *Client) TokenToPassword(token string) (string, error) {
	commID := c.partnerCommID()
	if commID == "" {
		return "", fmt.Errorf("%w: partner comm_id missing from partner data", ErrTokenExchange)
	}
	key, err := decodeBase64(commID)
	if err != nil {
		return "", fmt.Errorf("%w: unable to decode partner comm_id: %w", ErrTokenExchange, err)
	}

	raw, err := decodeBase64(token)
	if err != nil {
		return "", fmt.Errorf("%w: unable to decode token: %w", ErrTokenExchange, err)
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: unable to decrypt token: bad ciphertext length %d", ErrTokenExchange, len(raw))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: unable to decrypt token: %w", ErrTokenExchange, err)
	}
	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	password, err := pkcs7Unpad(plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: unable to decrypt token: %w", ErrTokenExchange, err)
	}
	return string(password), nil
}

// Cognito returns the Cognito pool assigned to the account by the
// partner metadata. The second return is false until PhynToken has
// fetched the metadata.
func (c *Client) Cognito() (auth.CognitoConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cognito, ok := c.mobile["cognito"].(map[string]any)
	if !ok {
		return auth.CognitoConfig{}, false
	}
	cfg := auth.CognitoConfig{}
	cfg.Region, _ = cognito["region"].(string)
	cfg.PoolID, _ = cognito["pool_id"].(string)
	cfg.AppClientID, _ = cognito["app_client_id"].(string)
	return cfg, cfg.Region != ""
}

// AppAPIKey returns the partner API key from the metadata, if present.
func (c *Client) AppAPIKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	pws, ok := c.mobile["pws_api"].(map[string]any)
	if !ok {
		return ""
	}
	key, _ := pws["app_api_key"].(string)
	return key
}

func (c *Client) partnerCommID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	partner, ok := c.mobile["partner"].(map[string]any)
	if !ok {
		return ""
	}
	commID, _ := partner["comm_id"].(string)
	return commID
}

func (c *Client) csrfToken() string {
	if c.httpClient.Jar == nil {
		return ""
	}
	base, err := url.Parse(c.b2cBase)
	if err != nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(base) {
		if cookie.Name == csrfCookie {
			return cookie.Value
		}
	}
	return ""
}

// getPartnerJSON performs an authenticated GET against the partner API
// and decodes the JSON body, surfacing the partner's error_msg field as
// an error.
func (c *Client) getPartnerJSON(ctx context.Context, rawURL, token string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from partner API", ErrTokenExchange, resp.StatusCode)
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON from partner API: %w", ErrTokenExchange, err)
	}
	if msg, ok := data["error_msg"].(string); ok && msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrTokenExchange, msg)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (int, []byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, rawURL string, form url.Values, csrf string) (int, []byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if csrf != "" {
		req.Header.Set("X-CSRF-TOKEN", csrf)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, body, resp.Header, nil
}

// decodeClientInfo extracts the user identifier from the base64url
// encoded client_info claim.
func decodeClientInfo(clientInfo string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(clientInfo, "="))
	if err != nil {
		return "", fmt.Errorf("unable to decode client_info: %w", err)
	}
	var info struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", fmt.Errorf("invalid JSON in client_info: %w", err)
	}
	if info.UID == "" {
		return "", fmt.Errorf("uid missing from client_info")
	}
	return info.UID, nil
}

// decodeBase64 accepts standard base64 with or without padding.
func decodeBase64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("bad padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("bad padding")
		}
	}
	return data[:len(data)-pad], nil
}
