// Package logging provides structured logging for the relay service.
//
// It wraps log/slog so every component logs with the same handler, level
// filter and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	relayLog := logger.With("component", "relay")
//	relayLog.Info("relay switched", "number", 1, "state", "on")
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
