// Package logging provides structured logging for the PortaCool bridge.
//
// It wraps log/slog so every component emits the same JSON (or text)
// records with service and version fields attached.
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("poll complete", "datapoints", 24)
//
// # Security
//
// Attributes named password, token, access_token, refresh_token,
// id_token, identity_api_key or authorization are written as
// "[redacted]". Log a token's expiry, not the token.
package logging
