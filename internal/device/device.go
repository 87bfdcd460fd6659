package device

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// defaultTimeout bounds each device operation.
const defaultTimeout = 10 * time.Second

// Requester issues authenticated REST calls. *api.Client satisfies this
// interface; tests substitute a fake.
type Requester interface {
	Get(ctx context.Context, path string, query url.Values, result any) error
	Post(ctx context.Context, path string, body, result any) error
}

// Record is a decoded JSON object from the Phyn API. Device payloads are
// loosely shaped and firmware-dependent, so they are not modelled as
// rigid structs.
type Record = map[string]any

// Client provides the per-device REST operations.
//
// Every operation is a plain timeout-wrapped request with no internal
// state: the interesting failure mode is only the timeout, which is
// reported with the operation, device and bound so log lines are
// actionable.
type Client struct {
	api     Requester
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a device operations client on top of the gateway.
func NewClient(api Requester, opts ...Option) *Client {
	c := &Client{
		api:     api,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call runs one operation under the client timeout, normalising a missed
// deadline into ErrRequestTimeout with a descriptive message.
func (c *Client) call(ctx context.Context, verb, deviceID string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: timeout %s for device %s after %s",
				ErrRequestTimeout, verb, deviceID, c.timeout)
		}
		return fmt.Errorf("%s for device %s: %w", verb, deviceID, err)
	}
	return nil
}

// GetState returns the current device state.
func (c *Client) GetState(ctx context.Context, deviceID string) (Record, error) {
	var state Record
	err := c.call(ctx, "getting state", deviceID, func(ctx context.Context) error {
		return c.api.Get(ctx, "/devices/"+deviceID+"/state", nil, &state)
	})
	return state, err
}

// GetConsumption returns water consumption details for a duration
// expression such as "2023/01/01".
func (c *Client) GetConsumption(ctx context.Context, deviceID, duration string) (Record, error) {
	var consumption Record
	err := c.call(ctx, "getting consumption", deviceID, func(ctx context.Context) error {
		query := url.Values{
			"device_id": {deviceID},
			"duration":  {duration},
		}
		return c.api.Get(ctx, "/consumptions/details", query, &consumption)
	})
	return consumption, err
}

// GetWaterStatistics returns flow statistics between two unix-millisecond
// instants.
func (c *Client) GetWaterStatistics(ctx context.Context, deviceID string, from, to int64) ([]Record, error) {
	var stats []Record
	err := c.call(ctx, "getting water statistics", deviceID, func(ctx context.Context) error {
		query := url.Values{
			"from": {strconv.FormatInt(from, 10)},
			"to":   {strconv.FormatInt(to, 10)},
		}
		return c.api.Get(ctx, "/devices/"+deviceID+"/water_statistics", query, &stats)
	})
	return stats, err
}

// OpenValve opens the device shutoff valve.
func (c *Client) OpenValve(ctx context.Context, deviceID string) error {
	return c.call(ctx, "opening valve", deviceID, func(ctx context.Context) error {
		return c.api.Post(ctx, "/devices/"+deviceID+"/sov/Open", nil, nil)
	})
}

// CloseValve closes the device shutoff valve.
func (c *Client) CloseValve(ctx context.Context, deviceID string) error {
	return c.call(ctx, "closing valve", deviceID, func(ctx context.Context) error {
		return c.api.Post(ctx, "/devices/"+deviceID+"/sov/Close", nil, nil)
	})
}

// GetAwayMode returns the away-mode preference entry for the device.
func (c *Client) GetAwayMode(ctx context.Context, deviceID string) (Record, error) {
	var prefs Record
	err := c.call(ctx, "getting away mode", deviceID, func(ctx context.Context) error {
		return c.api.Get(ctx, "/preferences/device/"+deviceID, url.Values{"name": {"away_mode"}}, &prefs)
	})
	return prefs, err
}

// EnableAwayMode turns on away mode for the device.
func (c *Client) EnableAwayMode(ctx context.Context, deviceID string) error {
	return c.setAwayMode(ctx, deviceID, "enabling away mode", true)
}

// DisableAwayMode turns off away mode for the device.
func (c *Client) DisableAwayMode(ctx context.Context, deviceID string) error {
	return c.setAwayMode(ctx, deviceID, "disabling away mode", false)
}

func (c *Client) setAwayMode(ctx context.Context, deviceID, verb string, enabled bool) error {
	return c.call(ctx, verb, deviceID, func(ctx context.Context) error {
		body := []Record{{
			"device_id": deviceID,
			"name":      "away_mode",
			"value":     strconv.FormatBool(enabled),
		}}
		return c.api.Post(ctx, "/preferences/device/"+deviceID, body, nil)
	})
}

// GetAutoShutoffStatus returns the automatic shutoff status.
func (c *Client) GetAutoShutoffStatus(ctx context.Context, deviceID string) (Record, error) {
	var status Record
	err := c.call(ctx, "getting autoshutoff status", deviceID, func(ctx context.Context) error {
		return c.api.Get(ctx, "/devices/"+deviceID+"/autoshutoff", nil, &status)
	})
	return status, err
}

// SetAutoShutoffEnabled turns automatic shutoff on or off.
func (c *Client) SetAutoShutoffEnabled(ctx context.Context, deviceID string, enabled bool) error {
	return c.call(ctx, "setting autoshutoff", deviceID, func(ctx context.Context) error {
		body := Record{"enabled": enabled}
		return c.api.Post(ctx, "/devices/"+deviceID+"/autoshutoff", body, nil)
	})
}

// GetDevicePreferences returns all preference entries for the device.
func (c *Client) GetDevicePreferences(ctx context.Context, deviceID string) (Record, error) {
	var prefs Record
	err := c.call(ctx, "getting preferences", deviceID, func(ctx context.Context) error {
		return c.api.Get(ctx, "/preferences/device/"+deviceID, nil, &prefs)
	})
	return prefs, err
}

// SetDevicePreferences writes preference entries for the device. Each
// entry is a name/value pair in the shape the preferences endpoint
// expects.
func (c *Client) SetDevicePreferences(ctx context.Context, deviceID string, prefs []Record) error {
	return c.call(ctx, "setting device preferences", deviceID, func(ctx context.Context) error {
		return c.api.Post(ctx, "/preferences/device/"+deviceID, prefs, nil)
	})
}

// GetHealthTests returns the history of plumbing health checks.
func (c *Client) GetHealthTests(ctx context.Context, deviceID string) ([]Record, error) {
	var tests []Record
	err := c.call(ctx, "getting health tests", deviceID, func(ctx context.Context) error {
		return c.api.Get(ctx, "/devices/"+deviceID+"/health_tests", nil, &tests)
	})
	return tests, err
}

// GetLatestFirmwareInfo returns metadata about the newest available
// firmware for the device.
func (c *Client) GetLatestFirmwareInfo(ctx context.Context, deviceID string) (Record, error) {
	var info Record
	err := c.call(ctx, "getting latest firmware info", deviceID, func(ctx context.Context) error {
		return c.api.Get(ctx, "/devices/"+deviceID+"/firmware/latest", nil, &info)
	})
	return info, err
}

// RunLeakTest starts a manual leak test on the device.
func (c *Client) RunLeakTest(ctx context.Context, deviceID string) error {
	return c.call(ctx, "running leak test", deviceID, func(ctx context.Context) error {
		return c.api.Post(ctx, "/devices/"+deviceID+"/health_tests", nil, nil)
	})
}
