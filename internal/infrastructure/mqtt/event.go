package mqtt

import (
	"context"
	"sync"
	"time"
)

// event is a resettable level-triggered signal, the Go rendering of an
// asyncio-style Event: Set wakes all current and future waiters until
// Clear arms it again.
type event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

// Set marks the event and wakes all waiters. Idempotent.
func (e *event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Clear re-arms the event. Idempotent.
func (e *event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports whether the event is currently set.
func (e *event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set, the timeout elapses, or ctx is
// cancelled. It returns true only if the event was set.
func (e *event) Wait(ctx context.Context, timeout time.Duration) bool {
	e.mu.Lock()
	set, ch := e.set, e.ch
	e.mu.Unlock()
	if set {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
