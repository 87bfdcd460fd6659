// Package aiophyn is a client for Phyn smart water devices.
//
// It authenticates against the Phyn cloud (directly, or through the
// Kohler partner login for rebranded accounts), exposes the device
// REST operations, and maintains a realtime MQTT session that survives
// broker disconnects by rediscovering the websocket endpoint and
// restoring subscriptions.
//
// Typical use:
//
//	client, err := aiophyn.New("user@example.com", "password")
//	if err != nil { ... }
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close()
//
//	client.OnMessage(func(topic string, payload []byte) { ... })
//	if err := client.SubscribeDevice(ctx, "deviceID"); err != nil { ... }
//
//	state, err := client.Devices.GetState(ctx, "deviceID")
package aiophyn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/helicopterrun/aiophyn/internal/api"
	"github.com/helicopterrun/aiophyn/internal/auth"
	"github.com/helicopterrun/aiophyn/internal/device"
	"github.com/helicopterrun/aiophyn/internal/history"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/config"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/logging"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/mqtt"
	"github.com/helicopterrun/aiophyn/internal/partners/kohler"
)

// Version identifies the library release.
const Version = "0.3.0"

// deviceTopicFormat is the per-device realtime subscription topic.
const deviceTopicFormat = "prd/app_subscriptions/%s"

// recordTimeout bounds each history write triggered by a message.
const recordTimeout = 5 * time.Second

// Re-exported core types for external use.
type (
	// Config is the top-level configuration.
	Config = config.Config
	// Credentials holds account identity and pool configuration.
	Credentials = auth.Credentials
	// Tokens is the result of an authentication exchange.
	Tokens = auth.Tokens
	// CognitoConfig identifies a Cognito user pool.
	CognitoConfig = auth.CognitoConfig
	// Authenticator performs the credential exchange.
	Authenticator = auth.Authenticator
	// Record is a decoded JSON object from the Phyn API.
	Record = device.Record
	// ConnectionInfo is a discovered broker endpoint.
	ConnectionInfo = api.ConnectionInfo
	// MessageHandler receives realtime messages.
	MessageHandler = mqtt.MessageHandler
	// HistoryEntry is one recorded device state snapshot.
	HistoryEntry = history.Entry
)

// Re-exported sentinel errors.
var (
	ErrAuthenticationFailed = auth.ErrAuthenticationFailed
	ErrRequestFailed        = api.ErrRequestFailed
	ErrRequestTimeout       = device.ErrRequestTimeout
	ErrConnectionFailed     = mqtt.ErrConnectionFailed
	ErrNotConnected         = mqtt.ErrNotConnected
	ErrSubscribeFailed      = mqtt.ErrSubscribeFailed
	ErrAckTimeout           = mqtt.ErrAckTimeout
	ErrKohlerB2CLogin       = kohler.ErrB2CLogin
	ErrKohlerTokenExchange  = kohler.ErrTokenExchange
)

// defaultPhynCognito is the user pool direct Phyn accounts belong to.
// Kohler accounts get their pool from the partner metadata instead.
var defaultPhynCognito = auth.CognitoConfig{
	Region:      "us-east-1",
	PoolID:      "us-east-1_WpdPdkDHM",
	AppClientID: "5n9bo71f5no0cjkd7pcrkb8d3g",
}

// Client is the top-level handle combining authentication, the REST
// surface and the realtime session.
type Client struct {
	username string
	password string
	cfg      *config.Config
	logger   *logging.Logger

	// Auth manages the provider tokens behind every API call.
	Auth *auth.Manager
	// API is the authenticated REST gateway.
	API *api.Client
	// Devices exposes the device operations.
	Devices *device.Client
	// Session is the realtime MQTT session.
	Session *mqtt.Session

	authenticator auth.Authenticator

	// mu guards the message handler and the history store, which is
	// opened by Connect while the transport may already be delivering.
	mu      sync.Mutex
	handler mqtt.MessageHandler
	store   *history.Store
}

// Option configures a Client.
type Option func(*Client)

// WithConfig supplies a full configuration instead of the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithLogger overrides the logger built from the configuration.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithAuthenticator replaces the Cognito authenticator, e.g. for tests.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *Client) { c.authenticator = a }
}

// New builds a client for the given account. No network traffic happens
// until Connect or the first API call.
func New(username, password string, opts ...Option) (*Client, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	c := &Client{username: username, password: password}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg == nil {
		c.cfg = config.Default()
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = logging.New(c.cfg.Logging, Version)
	}
	if c.authenticator == nil {
		c.authenticator = auth.NewCognitoAuthenticator(auth.WithCognitoLogger(c.logger))
	}

	creds := auth.Credentials{
		Username: username,
		Password: password,
		Brand:    c.cfg.Brand,
	}
	if !strings.EqualFold(c.cfg.Brand, "kohler") {
		creds.Cognito = defaultPhynCognito
	}
	c.Auth = auth.NewManager(c.authenticator, creds,
		auth.WithTokenBuffer(c.cfg.API.GetTokenBuffer()),
	)

	c.API = api.NewClient(c.cfg.API.BaseURL, c.Auth,
		api.WithTimeout(c.cfg.API.GetRequestTimeout()),
		api.WithLogger(c.logger),
	)
	c.Devices = device.NewClient(c.API,
		device.WithTimeout(c.cfg.API.GetRequestTimeout()),
	)

	transport := mqtt.NewPahoTransport(username, c.cfg.MQTT, c.logger)
	c.Session = mqtt.NewSession(transport, c.API, c.cfg.MQTT, c.logger)
	transport.SetHandlers(c.Session.Handlers())
	c.Session.SetMessageHandler(c.dispatch)

	return c, nil
}

// Connect prepares the account and establishes the realtime session.
//
// Kohler accounts run the partner login first to resolve their pool and
// password. The context also governs the background reconnection
// episodes triggered by later disconnects, so it should outlive the
// session.
func (c *Client) Connect(ctx context.Context) error {
	if strings.EqualFold(c.cfg.Brand, "kohler") {
		partner := kohler.NewClient(c.username, c.password, kohler.WithLogger(c.logger))
		creds, err := partner.PartnerCredentials(ctx)
		if err != nil {
			return err
		}
		c.Auth.SetCredentials(creds)
	}

	if c.cfg.History.Enabled && c.History() == nil {
		store, err := history.Open(c.cfg.History, c.logger)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		c.mu.Lock()
		c.store = store
		c.mu.Unlock()
	}

	return c.Session.Connect(ctx)
}

// Close shuts down the realtime session and the history store. A later
// Connect reopens the store.
func (c *Client) Close() error {
	c.Session.Close()

	c.mu.Lock()
	store := c.store
	c.store = nil
	c.mu.Unlock()

	if store != nil {
		return store.Close()
	}
	return nil
}

// History returns the state recorder, or nil when history is disabled
// or the client is not connected.
func (c *Client) History() *history.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// OnMessage installs the handler for realtime messages. Messages are
// also recorded in the history store when one is open.
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// SubscribeDevice subscribes to the realtime updates of one device and
// waits for the broker's acknowledgment. The subscription is restored
// automatically after reconnects.
func (c *Client) SubscribeDevice(ctx context.Context, deviceID string) error {
	topic := fmt.Sprintf(deviceTopicFormat, deviceID)
	code, _, err := c.Session.SubscribeWithAck(ctx, topic, 0)
	if err != nil {
		return err
	}
	if code >= mqtt.SubAckFailure {
		return fmt.Errorf("%w: broker rejected %s with code %#x", mqtt.ErrSubscribeFailed, topic, code)
	}
	return nil
}

// UnsubscribeDevice removes the realtime subscription of one device.
func (c *Client) UnsubscribeDevice(deviceID string) error {
	return c.Session.Unsubscribe(fmt.Sprintf(deviceTopicFormat, deviceID))
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.Lock()
	store := c.store
	handler := c.handler
	c.mu.Unlock()

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := store.RecordMessage(ctx, topic, payload); err != nil {
			c.logger.Warn("recording realtime message failed", "topic", topic, "error", err)
		}
		cancel()
	}

	if handler != nil {
		handler(topic, payload)
	}
}
