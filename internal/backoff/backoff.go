// Package backoff provides the tiered retry schedule used by the MQTT
// reconnection loop.
//
// Unlike a multiplicative backoff, the schedule is a fixed attempt-indexed
// table matching the Phyn mobile application's behaviour: quick retries for
// transient blips, then progressively longer waits, with a hard cap on the
// number of attempts per reconnection episode.
package backoff

import "time"

const (
	// MaxAttempts is the maximum number of connection attempts per
	// reconnection episode. Callers stop retrying once it is reached.
	MaxAttempts = 20

	shortDelay  = 2 * time.Second
	mediumDelay = 10 * time.Second
	longDelay   = 60 * time.Second

	shortTier  = 3
	mediumTier = 6
)

// Delay returns the wait duration before retrying after the given attempt.
//
// Attempts 1-3 map to 2s, attempts 4-6 to 10s, and attempt 7 onwards to 60s.
// Attempts below 1 are clamped to 1. Delay is pure: it keeps no state and is
// keyed only by attempt index, never by elapsed wall time.
func Delay(attempt int) time.Duration {
	switch {
	case attempt <= shortTier:
		return shortDelay
	case attempt <= mediumTier:
		return mediumDelay
	default:
		return longDelay
	}
}
