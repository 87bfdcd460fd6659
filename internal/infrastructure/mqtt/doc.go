// Package mqtt maintains the messaging session with the Phyn broker.
//
// The broker hands out short-lived signed websocket endpoints, so a
// dropped connection cannot simply be redialed: the Session asks the
// REST API for fresh coordinates, connects, and replays every tracked
// subscription before the session counts as restored. That sequence is
// a reconnection episode, and at most one runs at a time.
//
// Episodes retry with a tiered schedule (2s for the first attempts,
// then 10s, then 60s) and give up after a bounded number of attempts.
// A later disconnect starts a fresh episode, so a long outage is
// survived as a series of bounded episodes rather than one unbounded
// retry loop.
//
// Subscriptions are acknowledged by the broker. SubscribeWithAck
// correlates the broker's SUBACK with the request via the message
// identifier and reports the granted QoS, distinguishing a broker
// rejection (result code 0x80) from an acknowledgment that never
// arrived (ErrAckTimeout).
//
// The Session talks to the broker through the Transport interface;
// PahoTransport is the production implementation over
// paho.mqtt.golang. Tests substitute a scripted transport.
package mqtt
