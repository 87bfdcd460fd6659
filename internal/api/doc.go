// Package api provides the request gateway to the Phyn REST API.
//
// The Client wraps net/http with the three things every Phyn call needs:
// a valid bearer token obtained from the credential manager immediately
// before the request, a per-call timeout, and JSON decoding with a
// consistent error shape. Higher layers (internal/device) build typed
// operations on top of Get/Post; the gateway itself knows nothing about
// individual resources except endpoint discovery, which it owns because
// the broker coordinates are part of the session layer rather than any
// one device.
package api
