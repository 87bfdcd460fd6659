package mqtt

import (
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/helicopterrun/aiophyn/internal/infrastructure/config"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/logging"
)

const (
	// publishTimeout is the maximum time to wait for a publish token.
	publishTimeout = 5 * time.Second

	// tlsMinVersion is the minimum TLS version for broker connections.
	tlsMinVersion = tls.VersionTLS12
)

// PahoTransport implements Transport over paho.mqtt.golang.
//
// The Phyn broker hands out short-lived signed websocket endpoints, so
// each Connect builds a fresh paho client for the coordinates of that
// attempt. Paho's own auto-reconnect stays disabled: the Session owns
// the reconnection policy, the transport only reports disconnects.
type PahoTransport struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *logging.Logger

	handlersMu sync.RWMutex
	handlers   Handlers

	clientMu sync.Mutex
	client   pahomqtt.Client

	msgID uint32
}

// NewPahoTransport creates a transport for the given account.
//
// The client identifier combines the username with a random suffix so
// two processes for the same account do not evict each other's broker
// session.
func NewPahoTransport(username string, cfg config.MQTTConfig, logger *logging.Logger) *PahoTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &PahoTransport{
		cfg:      cfg,
		clientID: fmt.Sprintf("%s-%s", username, uuid.New().String()[:8]),
		logger:   logger.With("component", "mqtt-transport"),
	}
}

// SetHandlers installs the session callbacks. Must be called before
// Connect.
func (t *PahoTransport) SetHandlers(handlers Handlers) {
	t.handlersMu.Lock()
	t.handlers = handlers
	t.handlersMu.Unlock()
}

func (t *PahoTransport) getHandlers() Handlers {
	t.handlersMu.RLock()
	defer t.handlersMu.RUnlock()
	return t.handlers
}

// Connect dials the broker over a TLS websocket.
func (t *PahoTransport) Connect(host string, port int, path string) error {
	brokerURL := fmt.Sprintf("wss://%s:%d%s", host, port, path)

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(t.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(t.cfg.GetConnectTimeout())
	opts.SetKeepAlive(time.Duration(t.cfg.KeepAlive) * time.Second)
	opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if h := t.getHandlers(); h.OnConnect != nil {
			h.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if h := t.getHandlers(); h.OnDisconnect != nil {
			h.OnDisconnect(err)
		}
	})
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if h := t.getHandlers(); h.OnMessage != nil {
			h.OnMessage(msg.Topic(), msg.Payload())
		}
	})

	client := pahomqtt.NewClient(opts)

	t.clientMu.Lock()
	old := t.client
	t.client = client
	t.clientMu.Unlock()

	// Drop a half-open client from a previous attempt.
	if old != nil && old.IsConnected() {
		old.Disconnect(0)
	}

	token := client.Connect()
	if !token.WaitTimeout(t.cfg.GetConnectTimeout()) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, t.cfg.GetConnectTimeout())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Disconnect closes the current connection.
func (t *PahoTransport) Disconnect(quiesce uint) {
	t.clientMu.Lock()
	client := t.client
	t.clientMu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(quiesce)
	}
}

// IsConnected reports whether the underlying paho client is connected.
func (t *PahoTransport) IsConnected() bool {
	t.clientMu.Lock()
	client := t.client
	t.clientMu.Unlock()
	return client != nil && client.IsConnected()
}

// Subscribe issues a subscribe request and returns its message
// identifier. The acknowledgment is reported through OnSubscribe once
// paho completes the token; a token that completes with an error means
// no acknowledgment arrived and none is reported.
func (t *PahoTransport) Subscribe(topic string, qos byte) (uint16, error) {
	t.clientMu.Lock()
	client := t.client
	t.clientMu.Unlock()
	if client == nil || !client.IsConnected() {
		return 0, ErrNotConnected
	}

	id := t.nextMessageID()
	token := client.Subscribe(topic, qos, nil)

	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			t.logger.Warn("subscribe token failed", "topic", topic, "error", err)
			return
		}
		granted := []byte{SubAckFailure}
		if sub, ok := token.(*pahomqtt.SubscribeToken); ok {
			if q, ok := sub.Result()[topic]; ok {
				granted = []byte{q}
			}
		}
		if h := t.getHandlers(); h.OnSubscribe != nil {
			h.OnSubscribe(id, granted)
		}
	}()

	return id, nil
}

// Unsubscribe removes a subscription on the broker.
func (t *PahoTransport) Unsubscribe(topic string) error {
	t.clientMu.Lock()
	client := t.client
	t.clientMu.Unlock()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: unsubscribe timeout for %s", ErrSubscribeFailed, topic)
	}
	return token.Error()
}

// Publish sends a message on the current connection.
func (t *PahoTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	t.clientMu.Lock()
	client := t.client
	t.clientMu.Unlock()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// nextMessageID allocates a non-zero identifier for correlating
// subscribe requests with their acknowledgments.
func (t *PahoTransport) nextMessageID() uint16 {
	for {
		if id := uint16(atomic.AddUint32(&t.msgID, 1)); id != 0 {
			return id
		}
	}
}
