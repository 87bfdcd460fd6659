package api

import (
	"errors"
	"fmt"
)

// Domain-specific errors for REST requests.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRequestFailed is returned when a request could not be completed.
	ErrRequestFailed = errors.New("api: request failed")

	// ErrEndpointDiscovery is returned when the broker connection
	// coordinates could not be obtained.
	ErrEndpointDiscovery = errors.New("api: endpoint discovery failed")
)

// StatusError represents a non-2xx response from the Phyn API.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %d", e.StatusCode)
}

// Is makes StatusError match ErrRequestFailed in errors.Is chains.
func (e *StatusError) Is(target error) bool {
	return target == ErrRequestFailed
}
