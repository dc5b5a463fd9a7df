package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/portacool-apex/internal/infrastructure/mqtt"
	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
)

// DefaultHealthInterval is how often health is published.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages. *mqtt.Client implements it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatusSource reports the coordinator's refresh status.
// *coordinator.Coordinator implements it.
type StatusSource interface {
	LastUpdateSuccess() bool
	LastSuccessAt() time.Time
	LastError() error
	Stats() coordinator.Stats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version   string
	DeviceID  string
	Topics    mqtt.Topics
	Interval  time.Duration
	Publisher HealthPublisher
	Status    StatusSource

	// Dispatcher supplies command counters. Optional.
	Dispatcher *Dispatcher

	Clock  func() time.Time
	Logger Logger
}

// HealthReporter publishes retained bridge health on
// {prefix}/health/bridge at a fixed interval.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: cfg.Clock(),
		done:      make(chan struct{}),
	}
}

// Start publishes "starting", then current health every interval until
// ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	if err := h.publish(HealthStarting, "bridge starting"); err != nil {
		h.cfg.Logger.Warn("publishing health failed", "error", err)
	}
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status. Safe to
// call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // best effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.cfg.Logger.Warn("publishing health failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.cfg.Logger.Warn("publishing health failed", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Status != nil && !h.cfg.Status.LastUpdateSuccess() {
		return HealthDegraded, "cloud refresh failing"
	}
	return HealthHealthy, ""
}

// Message builds the health message for a status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	now := h.cfg.Clock()
	msg := HealthMessage{
		Bridge:        mqtt.BridgeComponent,
		Status:        status,
		Reason:        reason,
		Version:       h.cfg.Version,
		DeviceID:      h.cfg.DeviceID,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Timestamp:     now.UTC(),
	}
	if s := h.cfg.Status; s != nil {
		msg.Cloud.LastUpdateSuccess = s.LastUpdateSuccess()
		if at := s.LastSuccessAt(); !at.IsZero() {
			at = at.UTC()
			msg.Cloud.LastSuccessAt = &at
		}
		if err := s.LastError(); err != nil {
			msg.Cloud.LastError = err.Error()
		}
		msg.Statistics.Stats = s.Stats()
	}
	if h.cfg.Dispatcher != nil {
		msg.Statistics.CommandsAccepted, msg.Statistics.CommandsFailed = h.cfg.Dispatcher.Counts()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topics.Health(mqtt.BridgeComponent), payload, 1, true)
}
