package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
)

// Logger receives handler failures. logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is the bridge's broker connection.
//
// It keeps the bridge's subscriptions and replays them after every
// reconnect, and it maintains the retained presence record on the health
// topic: online on connect, offline on Close, offline by Last Will when
// the connection drops.
//
// All methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	mu           sync.RWMutex
	online       bool
	subs         map[string]subscription
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

// Connect dials the broker and waits up to 10 seconds for the session.
//
// Parameters:
//   - cfg: the mqtt section of the bridge config
//
// Returns:
//   - *Client: connected client; release it with Close
//   - error: wrapping ErrConnectionFailed
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		subs:   make(map[string]subscription),
	}

	opts := clientOptions(cfg)
	setWill(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no answer from %s within %v", ErrConnectionFailed, brokerURL(cfg.Broker), connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// paho runs the connect handler on its own goroutine; callers expect
	// IsConnected to hold as soon as Connect returns.
	c.setOnline(true)
	return c, nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics { return c.topics }

// QoS returns the configured QoS, used for presence and PublishJSON.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated to 0-2 by config
}

// connected runs on the initial connect and every reconnect.
func (c *Client) connected() {
	c.setOnline(true)

	c.mu.RLock()
	subs := make([]subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	hook := c.onConnect
	c.mu.RUnlock()

	for _, s := range subs {
		c.paho.Subscribe(s.topic, s.qos, c.deliver(s.handler))
	}
	c.announce(StatusOnline, "")

	if hook != nil {
		hook()
	}
}

func (c *Client) lost(err error) {
	c.setOnline(false)

	c.mu.RLock()
	hook, logger := c.onDisconnect, c.logger
	c.mu.RUnlock()

	if logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	if hook != nil {
		hook(err)
	}
}

func (c *Client) setOnline(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	online := c.online
	c.mu.RUnlock()
	return online && c.paho != nil && c.paho.IsConnected()
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close publishes offline presence, waits briefly for it to leave, and
// disconnects. Safe on a nil or never-connected client.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce(StatusOffline, ReasonShutdown).WaitTimeout(operationTimeout)
	}
	c.paho.Disconnect(disconnectQuiesceMs)
	c.setOnline(false)
	return nil
}

// SetOnConnect registers a hook run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without
// one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}
