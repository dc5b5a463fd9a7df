package bridge

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/portacool-apex/internal/history"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
	"github.com/nerrad567/portacool-apex/internal/portacool/entity"
)

// DefaultCommandTimeout bounds one command round trip to the cloud.
const DefaultCommandTimeout = 15 * time.Second

// ErrInvalidCommand is returned for messages that do not use exactly one
// command form or carry unusable values.
var ErrInvalidCommand = errors.New("bridge: invalid command")

// Commander executes commands against the device. The reconciler
// implements it.
type Commander interface {
	Issue(ctx context.Context, updates map[int]string) error
	Invoke(ctx context.Context, datapointID int, value string) error
}

// CommandLog persists command outcomes. The history repository
// implements it.
type CommandLog interface {
	RecordCommand(ctx context.Context, entry history.CommandEntry) (history.CommandEntry, error)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Commander  Commander
	DeviceID   string
	Datapoints config.DatapointConfig

	// History is optional.
	History CommandLog

	Timeout time.Duration
	Clock   func() time.Time
	Logger  Logger
}

// Dispatcher turns CommandMessages into reconciler calls and
// acknowledgements. It is shared by the MQTT bridge and the REST API.
type Dispatcher struct {
	commander Commander
	deviceID  string
	dps       config.DatapointConfig
	history   CommandLog
	timeout   time.Duration
	clock     func() time.Time
	logger    Logger

	accepted atomic.Uint64
	failed   atomic.Uint64
}

// NewDispatcher creates a Dispatcher. A Commander is required.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Commander == nil {
		return nil, fmt.Errorf("bridge: commander is required")
	}
	d := &Dispatcher{
		commander: opts.Commander,
		deviceID:  opts.DeviceID,
		dps:       opts.Datapoints,
		history:   opts.History,
		timeout:   opts.Timeout,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultCommandTimeout
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	return d, nil
}

// Dispatch validates and executes cmd and returns its acknowledgement.
// A failed command is reported in the ack, never as a panic or a
// partial local state change.
//
// Parameters:
//   - ctx: bounds the cloud call together with the dispatcher timeout
//   - cmd: the command, in any of the three forms
//
// Returns:
//   - AckMessage: accepted, or failed with an error code and message
func (d *Dispatcher) Dispatch(ctx context.Context, cmd CommandMessage) AckMessage {
	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	ack := AckMessage{
		CommandID: cmd.CommandID,
		DeviceID:  d.deviceID,
		Timestamp: d.clock().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	updates, err := d.execute(ctx, cmd)
	ack.Updates = updates
	switch {
	case err == nil:
		ack.Status = AckAccepted
		d.accepted.Add(1)
		d.logger.Info("command accepted", "command_id", cmd.CommandID, "source", cmd.Source, "updates", updates)
	case errors.Is(err, ErrInvalidCommand):
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ErrCodeInvalidCommand, Message: err.Error()}
		d.failed.Add(1)
		d.logger.Warn("command rejected", "command_id", cmd.CommandID, "error", err)
	case errors.Is(err, entity.ErrInvalidValue), errors.Is(err, entity.ErrUnknownEntity):
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ErrCodeInvalidValue, Message: err.Error()}
		d.failed.Add(1)
		d.logger.Warn("command rejected", "command_id", cmd.CommandID, "error", err)
	default:
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ErrCodeCommandFailed, Message: err.Error()}
		d.failed.Add(1)
		d.logger.Error("command failed", "command_id", cmd.CommandID, "error", err)
	}

	d.record(ctx, ack)
	return ack
}

func (d *Dispatcher) execute(ctx context.Context, cmd CommandMessage) (map[int]string, error) {
	switch cmd.Form() {
	case FormUpdates:
		updates, err := parseUpdates(cmd.Updates)
		if err != nil {
			return nil, err
		}
		return updates, d.commander.Issue(ctx, updates)

	case FormInvoke:
		value, ok := cmd.ValueString()
		if !ok {
			return nil, fmt.Errorf("%w: datapoint %d has no value", ErrInvalidCommand, *cmd.Datapoint)
		}
		updates := map[int]string{*cmd.Datapoint: value}
		return updates, d.commander.Invoke(ctx, *cmd.Datapoint, value)

	case FormEntity:
		value, ok := cmd.ValueString()
		if !ok {
			return nil, fmt.Errorf("%w: entity %s has no value", ErrInvalidCommand, cmd.Entity)
		}
		updates, err := entity.Command(d.dps, cmd.Entity, value)
		if err != nil {
			return nil, err
		}
		return updates, d.commander.Issue(ctx, updates)

	default:
		return nil, fmt.Errorf("%w: use exactly one of updates, datapoint or entity", ErrInvalidCommand)
	}
}

// parseUpdates converts string datapoint keys to ids.
func parseUpdates(raw map[string]string) (map[int]string, error) {
	updates := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: datapoint id %q", ErrInvalidCommand, k)
		}
		updates[id] = v
	}
	return updates, nil
}

func (d *Dispatcher) record(ctx context.Context, ack AckMessage) {
	if d.history == nil {
		return
	}
	entry := history.CommandEntry{
		ID:       ack.CommandID,
		DeviceID: d.deviceID,
		Updates:  maps.Clone(ack.Updates),
		Status:   history.StatusAccepted,
		IssuedAt: ack.Timestamp,
	}
	if !ack.Accepted() {
		entry.Status = history.StatusFailed
		entry.Error = ack.Error.Message
	}
	// Recorded even when the command context has expired.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := d.history.RecordCommand(ctx, entry); err != nil {
		d.logger.Warn("recording command failed", "command_id", ack.CommandID, "error", err)
	}
}

// Counts returns the accepted and failed command totals.
func (d *Dispatcher) Counts() (accepted, failed uint64) {
	return d.accepted.Load(), d.failed.Load()
}
