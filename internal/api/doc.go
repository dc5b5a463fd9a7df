// Package api implements the HTTP REST API and WebSocket server for the
// PortaCool bridge.
//
// This package provides:
//   - REST endpoints under /api/v1 for status, the raw snapshot, entity
//     state, commands, options, diagnostics and history
//   - A WebSocket hub pushing entity state after every coordinator update
//   - Prometheus metrics at /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// Commands go through the same bridge.Dispatcher the MQTT bridge uses, so
// both surfaces share validation, acknowledgement and command history.
// An accepted command returns 202; a cloud failure returns 502.
package api
