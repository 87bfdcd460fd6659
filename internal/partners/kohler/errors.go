package kohler

import "errors"

var (
	// ErrB2CLogin indicates a failure in the Azure B2C login exchange.
	ErrB2CLogin = errors.New("kohler b2c login failed")

	// ErrTokenExchange indicates a failure obtaining or converting the
	// partner token after a successful login.
	ErrTokenExchange = errors.New("kohler token exchange failed")
)
