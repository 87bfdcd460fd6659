// Package logging provides the structured logger used throughout the
// Phyn client.
//
// The Logger is a thin wrapper over log/slog that fixes the output
// format (JSON or text), applies level filtering from the
// configuration, and stamps every record with the service name and
// library version. Components derive child loggers with With:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	mqttLog := logger.With("component", "mqtt")
//	mqttLog.Info("connected", "host", host)
//
// Because the client is a library, the default output is JSON on
// stdout so embedding applications can route it; tests use Discard.
package logging
