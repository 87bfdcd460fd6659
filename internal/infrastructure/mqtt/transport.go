package mqtt

// SubAckFailure is the result code a broker reports for a rejected
// subscription. Codes below it are the granted QoS.
const SubAckFailure byte = 0x80

// Transport is the wire-level MQTT client underneath the Session.
//
// The Session never touches the wire encoding: it drives the Transport
// and reacts to the callbacks in Handlers. The production implementation
// wraps paho.mqtt.golang; tests substitute a scripted fake.
//
// Callback contract: Handlers must never be invoked synchronously from
// within Subscribe. The Session registers its acknowledgment bookkeeping
// immediately after Subscribe returns, under the same lock the callbacks
// take, so a callback delivered from another goroutine can never observe
// the gap.
type Transport interface {
	// Connect initiates a connection to the given websocket endpoint.
	// A nil return means the wire-level handshake completed; session-level
	// confirmation arrives separately through Handlers.OnConnect.
	Connect(host string, port int, path string) error

	// Disconnect closes the connection, allowing quiesce milliseconds for
	// in-flight operations to drain.
	Disconnect(quiesce uint)

	// Subscribe issues a subscribe request and returns its message
	// identifier. The broker's acknowledgment is delivered later through
	// Handlers.OnSubscribe with the same identifier.
	Subscribe(topic string, qos byte) (uint16, error)

	// Unsubscribe removes a subscription on the broker.
	Unsubscribe(topic string) error

	// Publish sends a message.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// IsConnected reports the transport's own view of the connection.
	IsConnected() bool
}

// Handlers receive transport-level events. Any field may be nil.
type Handlers struct {
	// OnConnect fires when the broker has confirmed the connection.
	OnConnect func()

	// OnDisconnect fires when the connection is lost. The reason may be
	// nil or carry a value the transport itself does not understand;
	// receivers must tolerate both.
	OnDisconnect func(reason error)

	// OnSubscribe fires when the broker acknowledges a subscribe request.
	// granted carries one entry per requested topic filter; SubAckFailure
	// marks a rejection.
	OnSubscribe func(messageID uint16, granted []byte)

	// OnMessage fires for every message received on any subscribed topic.
	OnMessage func(topic string, payload []byte)
}
