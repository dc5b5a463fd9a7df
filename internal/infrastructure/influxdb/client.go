package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize       = 100
	defaultFlushIntervalMs = 10_000
)

// Client writes device telemetry to an InfluxDB v2 bucket.
//
// Points are queued on the library's non-blocking write API and sent in
// batches. Write failures never reach the caller; they are delivered to
// the SetOnError callback.
type Client struct {
	influx influxdb2.Client
	writer api.WriteAPI

	mu      sync.RWMutex
	open    bool
	onError func(error)
}

// writeOptions derives batching from cfg. The flush interval is given in
// seconds in config and milliseconds to the library.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flushMs := uint(defaultFlushIntervalMs)
	if cfg.FlushInterval > 0 {
		flushMs = uint(cfg.FlushInterval) * 1000 //nolint:gosec // positive
	}
	return influxdb2.DefaultOptions().SetBatchSize(batch).SetFlushInterval(flushMs)
}

// Connect pings the server and opens the write API for cfg.Org and
// cfg.Bucket.
//
// Returns:
//   - *Client: ready for writes; release it with Close
//   - error: ErrDisabled if cfg.Enabled is false, or wrapping
//     ErrConnectionFailed when the ping fails
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		influx: influx,
		writer: influx.WriteAPI(cfg.Org, cfg.Bucket),
		open:   true,
	}
	go c.forwardErrors(c.writer.Errors())
	return c, nil
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ok, err := influx.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("ping: server not ready")
	}
	return nil
}

// forwardErrors drains the write API's error channel until Close.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError sets the callback for failed batch writes.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// IsConnected reports whether the client is open. It does not contact
// the server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// HealthCheck pings the server, bounded to 5 seconds.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush sends queued points now. No-op once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Close flushes queued points and releases the client. Safe to call on
// a nil client and more than once.
func (c *Client) Close() error {
	if c == nil || c.influx == nil {
		return nil
	}
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if wasOpen {
		c.influx.Close()
	}
	return nil
}
