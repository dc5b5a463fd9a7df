package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/portacool-apex/internal/infrastructure/mqtt"
	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
	"github.com/nerrad567/portacool-apex/internal/portacool/entity"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// StateSource renders the current entity state. entity.View implements it.
type StateSource interface {
	State() entity.State
}

// Options configures a Bridge.
type Options struct {
	MQTT       MQTTClient
	Topics     mqtt.Topics
	QoS        byte
	DeviceID   string
	Dispatcher *Dispatcher
	State      StateSource
	Logger     Logger
}

// Bridge connects the device to MQTT: it publishes the entity state
// retained after every coordinator update, and executes commands
// received on the device's command topic, acknowledging each one.
type Bridge struct {
	mqtt       MQTTClient
	topics     mqtt.Topics
	qos        byte
	deviceID   string
	dispatcher *Dispatcher
	state      StateSource
	logger     Logger

	// dirty coalesces state publications: OnUpdate marks it and the
	// publish loop drains it.
	dirty chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bridge. MQTT, Dispatcher and State are required.
func New(opts Options) (*Bridge, error) {
	switch {
	case opts.MQTT == nil:
		return nil, fmt.Errorf("bridge: mqtt client is required")
	case opts.Dispatcher == nil:
		return nil, fmt.Errorf("bridge: dispatcher is required")
	case opts.State == nil:
		return nil, fmt.Errorf("bridge: state source is required")
	case opts.DeviceID == "":
		return nil, fmt.Errorf("bridge: device id is required")
	}

	b := &Bridge{
		mqtt:       opts.MQTT,
		topics:     opts.Topics,
		qos:        opts.QoS,
		deviceID:   opts.DeviceID,
		dispatcher: opts.Dispatcher,
		state:      opts.State,
		logger:     opts.Logger,
		dirty:      make(chan struct{}, 1),
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	return b, nil
}

// Start subscribes to the command topic and starts the state publisher.
// The current state is published once immediately.
//
// Parameters:
//   - ctx: stops the publisher and bounds in-flight commands
//
// Returns:
//   - error: if the command subscription fails
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	topic := b.topics.Command(b.deviceID)
	if err := b.mqtt.Subscribe(topic, b.qos, b.HandleCommand); err != nil {
		b.cancel()
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	b.wg.Add(1)
	go b.publishLoop()
	b.markDirty()

	b.logger.Info("mqtt bridge started", "command_topic", topic, "state_topic", b.topics.State(b.deviceID))
	return nil
}

// Stop cancels the publisher and waits for it to exit.
func (b *Bridge) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	b.wg.Wait()
}

// OnUpdate is registered as a coordinator listener. It never blocks.
func (b *Bridge) OnUpdate(u coordinator.Update) {
	if u.Err != nil {
		return
	}
	b.markDirty()
}

func (b *Bridge) markDirty() {
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.dirty:
			if err := b.PublishState(); err != nil {
				b.logger.Warn("publishing state failed", "error", err)
			}
		}
	}
}

// PublishState publishes the current entity state, retained.
func (b *Bridge) PublishState() error {
	payload, err := json.Marshal(b.state.State())
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return b.mqtt.Publish(b.topics.State(b.deviceID), payload, b.qos, true)
}

// HandleCommand is the MQTT handler for the command topic. Malformed JSON
// is acknowledged as failed when a command id can be recovered, and
// logged either way.
func (b *Bridge) HandleCommand(_ string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(AckMessage{
			CommandID: commandIDOf(payload),
			DeviceID:  b.deviceID,
			Status:    AckFailed,
			Error:     &AckError{Code: ErrCodeInvalidCommand, Message: "malformed command payload"},
			Timestamp: b.dispatcher.clock().UTC(),
		})
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.Source == "" {
		cmd.Source = "mqtt"
	}

	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	b.publishAck(b.dispatcher.Dispatch(ctx, cmd))
	return nil
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("encoding ack failed", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(b.deviceID), payload, b.qos, false); err != nil {
		b.logger.Warn("publishing ack failed", "command_id", ack.CommandID, "error", err)
	}
}

// commandIDOf pulls command_id out of a payload that failed full decoding.
func commandIDOf(payload []byte) string {
	var probe struct {
		CommandID string `json:"command_id"`
	}
	if json.Unmarshal(payload, &probe) != nil {
		return ""
	}
	return probe.CommandID
}
