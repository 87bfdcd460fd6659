package device

import "errors"

// ErrRequestTimeout is returned when a device operation did not complete
// within its timeout. Distinguishable from transport or API errors via
// errors.Is().
var ErrRequestTimeout = errors.New("device: request timed out")
