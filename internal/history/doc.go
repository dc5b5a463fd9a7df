// Package history keeps a local log of device snapshots and issued
// commands in SQLite.
//
// Network snapshots reach the log through a Recorder registered as a
// coordinator listener. Commands are recorded by whoever issues them (the
// MQTT bridge and the REST API), with the outcome and any error text.
// Rows older than the retention period are pruned periodically.
package history
