package mqtt

import (
	"context"
	"fmt"
	"time"
)

const (
	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// disconnectQuiesce is the time in milliseconds allowed for pending
	// operations to drain on Close.
	disconnectQuiesce = 1000
)

// pendingAck tracks one in-flight subscribe request awaiting the
// broker's acknowledgment.
//
// Two shapes exist. The full shape carries a completion signal the
// subscriber is blocked on. The legacy shape has a nil done channel:
// acknowledgment is inferred from callback delivery alone, with the same
// topic-registration and cleanup effect. Both are resolved in one place,
// handleSubAck.
type pendingAck struct {
	topic string
	qos   byte
	done  chan subAck
}

// subAck is the payload of one delivered acknowledgment.
type subAck struct {
	code      byte
	messageID uint16
}

// SubscribeWithAck subscribes to a topic and waits for the broker's
// acknowledgment.
//
// The result code is the broker's verdict: a granted QoS, or
// SubAckFailure and above for a rejection. A non-zero code is data, not
// an error; the caller decides how to treat it. Only the inability to
// issue the request or the absence of any acknowledgment within the
// timeout is an error.
//
// On timeout the pending entry is deliberately left in place: the
// acknowledgment may still arrive and is then applied normally, and the
// next reconnection episode clears whatever remains.
//
// Parameters:
//   - ctx: Cancels the wait
//   - topic: Topic filter to subscribe to
//   - timeout: Acknowledgment wait bound; <= 0 uses the configured default
//
// Returns:
//   - byte: Broker result code
//   - uint16: Message identifier of the subscribe request
//   - error: ErrSubscribeFailed, ErrAckTimeout, or ctx.Err()
func (s *Session) SubscribeWithAck(ctx context.Context, topic string, timeout time.Duration) (byte, uint16, error) {
	return s.subscribeWithAck(ctx, topic, byte(s.cfg.QoS), timeout)
}

func (s *Session) subscribeWithAck(ctx context.Context, topic string, qos byte, timeout time.Duration) (byte, uint16, error) {
	if topic == "" {
		return 0, 0, ErrInvalidTopic
	}
	if qos > maxQoS {
		return 0, 0, ErrInvalidQoS
	}
	if timeout <= 0 {
		timeout = s.cfg.GetAckTimeout()
	}

	// Issue the request and record the pending entry under one critical
	// section, so the acknowledgment callback can never observe the
	// identifier before its entry exists.
	s.mu.Lock()
	id, err := s.transport.Subscribe(topic, qos)
	if err != nil {
		s.mu.Unlock()
		return 0, 0, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	done := make(chan subAck, 1)
	s.pending[id] = pendingAck{topic: topic, qos: qos, done: done}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-done:
		return ack.code, ack.messageID, nil
	case <-timer.C:
		return 0, id, fmt.Errorf("%w: %s after %s", ErrAckTimeout, topic, timeout)
	case <-ctx.Done():
		return 0, id, ctx.Err()
	}
}

// SubscribeNoWait issues a subscribe request without waiting for the
// acknowledgment. The topic is registered in the tracked set when the
// acknowledgment eventually arrives.
func (s *Session) SubscribeNoWait(topic string, qos byte) (uint16, error) {
	if topic == "" {
		return 0, ErrInvalidTopic
	}
	if qos > maxQoS {
		return 0, ErrInvalidQoS
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.transport.Subscribe(topic, qos)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	// Legacy shape: no completion signal.
	s.pending[id] = pendingAck{topic: topic, qos: qos}
	return id, nil
}

// Unsubscribe removes a topic from the broker and from the tracked set,
// so it is not restored on the next reconnection.
func (s *Session) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()

	return s.transport.Unsubscribe(topic)
}

// handleSubAck is invoked by the transport when a subscribe
// acknowledgment arrives. Both pending shapes converge here: the entry
// is removed, the topic registered exactly once, and any waiter released
// with the broker's result code.
func (s *Session) handleSubAck(messageID uint16, granted []byte) {
	code := SubAckFailure
	if len(granted) > 0 {
		code = granted[0]
	}

	s.mu.Lock()
	entry, ok := s.pending[messageID]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("acknowledgment for unknown subscribe request",
			"message_id", messageID,
		)
		return
	}
	delete(s.pending, messageID)
	if _, exists := s.topics[entry.topic]; !exists {
		s.topics[entry.topic] = entry.qos
	}
	s.mu.Unlock()

	if entry.done != nil {
		entry.done <- subAck{code: code, messageID: messageID}
	}
}

// PendingAckCount returns the number of subscribe requests still
// awaiting acknowledgment. Useful for monitoring and tests.
func (s *Session) PendingAckCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
