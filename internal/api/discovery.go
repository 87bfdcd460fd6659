package api

import (
	"context"
	"fmt"
)

// ConnectionInfo holds the broker coordinates for one MQTT connection
// attempt. The host and path are short-lived: the backend hands out
// signed websocket endpoints, so a fresh pair must be requested for every
// connection attempt.
type ConnectionInfo struct {
	Host string `json:"mqtt_host"`
	Path string `json:"mqtt_path"`
}

// MQTTInfo requests fresh broker connection coordinates.
//
// The call is token-gated like every other API call. Callers are expected
// to bound it with a context deadline; the reconnection loop uses a 5s
// timeout per attempt.
//
// Returns:
//   - ConnectionInfo: Websocket host and signed path
//   - error: ErrEndpointDiscovery (wrapped) on any failure
func (c *Client) MQTTInfo(ctx context.Context) (ConnectionInfo, error) {
	var info ConnectionInfo
	if err := c.Get(ctx, "/mqtt/v2/connection-info", nil, &info); err != nil {
		return ConnectionInfo{}, fmt.Errorf("%w: %w", ErrEndpointDiscovery, err)
	}
	if info.Host == "" {
		return ConnectionInfo{}, fmt.Errorf("%w: response missing broker host", ErrEndpointDiscovery)
	}
	return info, nil
}
