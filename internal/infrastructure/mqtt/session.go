package mqtt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helicopterrun/aiophyn/internal/api"
	"github.com/helicopterrun/aiophyn/internal/backoff"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/config"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/logging"
)

// EndpointProvider supplies fresh broker connection coordinates for each
// connection attempt. *api.Client satisfies this interface.
type EndpointProvider interface {
	MQTTInfo(ctx context.Context) (api.ConnectionInfo, error)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked from the transport's receive goroutines and should
// not block for extended periods.
type MessageHandler func(topic string, payload []byte)

// Session owns the lifecycle of the realtime connection to the Phyn
// broker: connecting, noticing disconnects, reconnecting with backoff,
// and restoring subscription state with acknowledgment tracking.
//
// State machine: DISCONNECTED -> CONNECTING -> CONNECTED, back to
// DISCONNECTED on a transport-reported disconnect, which schedules a
// reconnection episode. An episode either ends CONNECTED or gives up
// after the attempt budget and leaves the session DISCONNECTED; giving
// up is silent apart from a log line, matching the behaviour of the
// mobile application.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	transport Transport
	endpoints EndpointProvider
	cfg       config.MQTTConfig
	logger    *logging.Logger

	// connectEvt is set once the broker confirms a connection and cleared
	// on every disconnect notification.
	connectEvt *event

	// baseCtx governs background episodes triggered by disconnects.
	// Established by Connect; Background until then.
	ctxMu   sync.RWMutex
	baseCtx context.Context

	// sleep waits between attempts, returning false on cancellation.
	// Replaced in tests to observe the wait schedule.
	sleep func(ctx context.Context, d time.Duration) bool

	// mu guards everything below. The acknowledgment callback and the
	// reconnection loop both take it, so the pending map and topic set
	// have a single logical writer at a time.
	mu           sync.Mutex
	connected    bool
	reconnecting bool
	topics       map[string]byte // topic -> subscribed QoS
	pending      map[uint16]pendingAck
	onMessage    MessageHandler
}

// NewSession creates a Session over the given transport.
//
// The transport's Handlers must be wired to the session with Handlers()
// before connecting; the indirection keeps the Session testable with a
// scripted transport.
func NewSession(transport Transport, endpoints EndpointProvider, cfg config.MQTTConfig, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.Default()
	}
	return &Session{
		transport:  transport,
		endpoints:  endpoints,
		cfg:        cfg,
		logger:     logger.With("component", "mqtt"),
		connectEvt: newEvent(),
		baseCtx:    context.Background(),
		sleep: func(ctx context.Context, d time.Duration) bool {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(d):
				return true
			}
		},
		topics:  make(map[string]byte),
		pending: make(map[uint16]pendingAck),
	}
}

// Handlers returns the callback set the transport must deliver events to.
func (s *Session) Handlers() Handlers {
	return Handlers{
		OnConnect:    s.handleConnect,
		OnDisconnect: s.handleDisconnect,
		OnSubscribe:  s.handleSubAck,
		OnMessage:    s.handleMessage,
	}
}

// SetMessageHandler installs the callback for received messages.
func (s *Session) SetMessageHandler(handler MessageHandler) {
	s.mu.Lock()
	s.onMessage = handler
	s.mu.Unlock()
}

// Connect establishes the initial connection.
//
// It runs one full reconnection episode with the entry delay suppressed
// and reports ErrConnectionFailed if the episode exhausted its budget.
// The given context also governs background episodes triggered by later
// disconnects.
func (s *Session) Connect(ctx context.Context) error {
	s.ctxMu.Lock()
	s.baseCtx = ctx
	s.ctxMu.Unlock()

	s.Reconnect(ctx, true)

	if !s.IsConnected() {
		return ErrConnectionFailed
	}
	return nil
}

// Close disconnects from the broker. The session will not reconnect
// until Connect is called again, provided the caller also cancelled the
// context given to Connect.
func (s *Session) Close() {
	s.connectEvt.Clear()
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.transport.Disconnect(disconnectQuiesce)
}

// IsConnected returns the current connection state.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	return connected && s.transport.IsConnected()
}

// Topics returns the topics the session will restore on reconnection,
// in sorted order.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		names = append(names, topic)
	}
	sort.Strings(names)
	return names
}

// Publish sends a message on the current connection.
func (s *Session) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return s.transport.Publish(topic, qos, retained, payload)
}

// Reconnect runs one reconnection episode: up to the configured number
// of attempts, each consisting of endpoint discovery, transport connect,
// confirmation wait and subscription restoration.
//
// At most one episode runs per session; a call while an episode is in
// progress returns immediately. The in-progress guard is cleared on
// every exit path, including cancellation, so a later trigger can always
// start a fresh episode. Exhaustion of the attempt budget is not an
// error: the session simply remains disconnected.
//
// first suppresses the entry delay before the first attempt; the backoff
// schedule between attempts is unaffected.
func (s *Session) Reconnect(ctx context.Context, first bool) {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	maxAttempts := s.cfg.Reconnect.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = backoff.MaxAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if first && attempt == 1 {
			// Caller-initiated first attempt connects immediately.
		} else if !s.sleep(ctx, backoff.Delay(max(attempt-1, 1))) {
			return
		}

		if s.attemptConnect(ctx, attempt) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}

	s.logger.Warn("reconnect attempts exhausted; session remains disconnected",
		"attempts", maxAttempts,
	)
}

// attemptConnect runs a single connection attempt. It returns true once
// the connection is confirmed and subscription restoration has been
// attempted for every tracked topic.
func (s *Session) attemptConnect(ctx context.Context, attempt int) bool {
	discoverCtx, cancel := context.WithTimeout(ctx, s.cfg.GetEndpointTimeout())
	info, err := s.endpoints.MQTTInfo(discoverCtx)
	cancel()
	if err != nil {
		s.logger.Warn("endpoint discovery failed",
			"attempt", attempt,
			"error", err,
		)
		return false
	}

	s.connectEvt.Clear()
	if err := s.transport.Connect(info.Host, s.cfg.Port, info.Path); err != nil {
		s.logger.Warn("transport connect failed",
			"attempt", attempt,
			"host", info.Host,
			"error", err,
		)
		return false
	}

	if !s.connectEvt.Wait(ctx, s.cfg.GetConnectTimeout()) {
		s.logger.Warn("connection not confirmed in time",
			"attempt", attempt,
			"host", info.Host,
		)
		return false
	}

	s.restoreSubscriptions(ctx)

	s.logger.Info("connected", "host", info.Host, "attempt", attempt)
	return true
}

// restoreSubscriptions drops acknowledgment state left over from any
// previous episode, then re-subscribes every tracked topic on the fresh
// connection. Topics are attempted independently: a failure on one is
// logged and does not abort the others, so partial restoration is an
// accepted outcome of a successful reconnection.
func (s *Session) restoreSubscriptions(ctx context.Context) {
	s.mu.Lock()
	s.pending = make(map[uint16]pendingAck)
	topics := make(map[string]byte, len(s.topics))
	for topic, qos := range s.topics {
		topics[topic] = qos
	}
	s.mu.Unlock()

	names := make([]string, 0, len(topics))
	for topic := range topics {
		names = append(names, topic)
	}
	sort.Strings(names)

	for _, topic := range names {
		code, _, err := s.subscribeWithAck(ctx, topic, topics[topic], s.cfg.GetAckTimeout())
		switch {
		case err != nil:
			s.logger.Warn("resubscribe failed", "topic", topic, "error", err)
		case code >= SubAckFailure:
			s.logger.Warn("resubscribe rejected by broker", "topic", topic, "code", code)
		}
	}
}

// handleConnect is invoked by the transport when the broker confirms the
// connection.
func (s *Session) handleConnect() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.connectEvt.Set()
}

// handleDisconnect is invoked by the transport when the connection is
// lost. The reason is of uncertain shape: it may be nil or carry a value
// the transport could not interpret. Either way the connection-confirmed
// signal is cleared and a background reconnection episode is scheduled;
// the handler itself never blocks on the episode.
func (s *Session) handleDisconnect(reason error) {
	s.connectEvt.Clear()
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	reasonText := "unknown"
	if reason != nil {
		reasonText = reason.Error()
	}
	s.logger.Warn("connection lost", "reason", reasonText)

	s.ctxMu.RLock()
	ctx := s.baseCtx
	s.ctxMu.RUnlock()
	if ctx.Err() != nil {
		return
	}

	go s.Reconnect(ctx, false)
}

// handleMessage routes a received message to the installed handler.
func (s *Session) handleMessage(topic string, payload []byte) {
	s.mu.Lock()
	handler := s.onMessage
	s.mu.Unlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("message handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()
	handler(topic, payload)
}
