package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
)

// Defaults for the polling schedule.
const (
	DefaultPollInterval   = 8 * time.Second
	DefaultOfflineRefresh = 60 * time.Second
	DefaultPowerOffValue  = "2"
)

// ErrUpdateFailed wraps any failure of a network refresh.
var ErrUpdateFailed = errors.New("coordinator: update failed")

// Logger defines the logging interface used by the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TelemetrySource reads device state from the cloud.
type TelemetrySource interface {
	FetchTelemetry(ctx context.Context) (map[int]string, map[string]any, error)
	FetchLatestAlerts(ctx context.Context) ([]cloud.AlertRecord, error)
}

// Update is delivered to listeners after every network refresh, failed
// refresh and optimistic write.
type Update struct {
	Snapshot *Snapshot

	// Err is set when a network refresh failed. Snapshot is then the
	// previous, still current snapshot.
	Err error

	// Network is true when Snapshot came from a network read.
	Network bool

	// Optimistic is true when Snapshot holds just-commanded values.
	Optimistic bool
}

// ThrottleState is the bookkeeping that decides whether a tick touches
// the network.
type ThrottleState struct {
	LastNetworkFetch  time.Time `json:"last_network_fetch"`
	ForceRefreshUntil time.Time `json:"force_refresh_until"`
}

// Stats counts coordinator activity since start.
type Stats struct {
	NetworkFetches   uint64 `json:"network_fetches"`
	ThrottledTicks   uint64 `json:"throttled_ticks"`
	Failures         uint64 `json:"failures"`
	OptimisticWrites uint64 `json:"optimistic_writes"`
}

// Options configures a Coordinator.
type Options struct {
	Source TelemetrySource

	// PowerDatapoint and PowerOffValue identify the "device is off"
	// condition that enables offline throttling.
	PowerDatapoint int
	PowerOffValue  string

	PollInterval   time.Duration
	OfflineRefresh time.Duration

	Clock  func() time.Time
	Logger Logger
}

// Coordinator owns the shared device snapshot and decides, tick by tick,
// whether to read the device over the network or serve the cached state.
//
// When the device is off its telemetry barely changes, so network reads
// are spaced OfflineRefresh apart. A forced-refresh window, armed after
// every command, overrides that throttle.
//
// All public methods are thread-safe.
type Coordinator struct {
	source   TelemetrySource
	powerDP  int
	powerOff string
	clock    func() time.Time
	logger   Logger

	current atomic.Pointer[Snapshot]

	// tickMu serializes ticks so a timer tick and a requested refresh
	// never interleave.
	tickMu sync.Mutex

	mu                sync.Mutex // protects the fields below
	throttle          ThrottleState
	pollInterval      time.Duration
	offlineRefresh    time.Duration
	lastUpdateSuccess bool
	lastErr           error
	lastSuccessAt     time.Time

	networkFetches   atomic.Uint64
	throttledTicks   atomic.Uint64
	failures         atomic.Uint64
	optimisticWrites atomic.Uint64

	listenersMu  sync.RWMutex
	listeners    map[uint64]func(Update)
	nextListener uint64

	refreshCh  chan struct{}
	intervalCh chan struct{}
}

// New creates a Coordinator holding an empty snapshot.
func New(opts Options) (*Coordinator, error) {
	if opts.Source == nil {
		return nil, errors.New("coordinator: telemetry source is required")
	}

	c := &Coordinator{
		source:         opts.Source,
		powerDP:        opts.PowerDatapoint,
		powerOff:       opts.PowerOffValue,
		clock:          opts.Clock,
		logger:         opts.Logger,
		pollInterval:   opts.PollInterval,
		offlineRefresh: opts.OfflineRefresh,
		listeners:      make(map[uint64]func(Update)),
		refreshCh:      make(chan struct{}, 1),
		intervalCh:     make(chan struct{}, 1),
	}
	if c.powerOff == "" {
		c.powerOff = DefaultPowerOffValue
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.offlineRefresh <= 0 {
		c.offlineRefresh = DefaultOfflineRefresh
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	c.current.Store(emptySnapshot())
	return c, nil
}

// Snapshot returns the current snapshot. It is never nil and must not be
// modified.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.current.Load()
}

// Refresh runs one polling tick.
//
// When throttled it returns the current snapshot pointer unchanged,
// without a network call and without notifying listeners. On a failed
// network refresh it returns the still-current previous snapshot and an
// error wrapping ErrUpdateFailed.
func (c *Coordinator) Refresh(ctx context.Context) (*Snapshot, error) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	now := c.clock()
	if !c.shouldFetch(now) {
		c.throttledTicks.Add(1)
		c.logger.Debug("device off, serving cached snapshot")
		return c.current.Load(), nil
	}
	return c.fetch(ctx, now)
}

// FirstRefresh performs a network refresh regardless of the throttle.
// It is used at startup, where a failure should block rather than serve
// an empty snapshot.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	_, err := c.fetch(ctx, c.clock())
	return err
}

func (c *Coordinator) shouldFetch(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Before(c.throttle.ForceRefreshUntil) {
		return true
	}

	power, _ := c.current.Load().Datapoint(c.powerDP)
	if power == c.powerOff && now.Sub(c.throttle.LastNetworkFetch) < c.offlineRefresh {
		return false
	}
	return true
}

// fetch does the network half of a tick. Callers hold tickMu.
func (c *Coordinator) fetch(ctx context.Context, now time.Time) (*Snapshot, error) {
	c.networkFetches.Add(1)

	datapoints, timerInfo, err := c.source.FetchTelemetry(ctx)
	var alerts []cloud.AlertRecord
	if err == nil {
		alerts, err = c.source.FetchLatestAlerts(ctx)
	}
	if err != nil {
		return c.fail(err)
	}

	if datapoints == nil {
		datapoints = map[int]string{}
	}
	if timerInfo == nil {
		timerInfo = map[string]any{}
	}
	if alerts == nil {
		alerts = []cloud.AlertRecord{}
	}
	snap := &Snapshot{
		Datapoints: datapoints,
		TimerInfo:  timerInfo,
		Alerts:     alerts,
		FetchedAt:  now,
	}
	c.current.Store(snap)

	c.mu.Lock()
	c.throttle.LastNetworkFetch = now
	c.lastUpdateSuccess = true
	c.lastErr = nil
	c.lastSuccessAt = now
	c.mu.Unlock()

	c.logger.Debug("device refreshed", "datapoints", len(datapoints), "alerts", len(alerts))
	c.notify(Update{Snapshot: snap, Network: true})
	return snap, nil
}

func (c *Coordinator) fail(cause error) (*Snapshot, error) {
	err := fmt.Errorf("%w: %w", ErrUpdateFailed, cause)
	c.failures.Add(1)

	c.mu.Lock()
	c.lastUpdateSuccess = false
	c.lastErr = err
	c.mu.Unlock()

	prev := c.current.Load()
	c.logger.Warn("device refresh failed", "error", cause)
	c.notify(Update{Snapshot: prev, Err: err})
	return prev, err
}

// applyOptimistic merges commanded values over the current datapoints
// and arms the forced-refresh window until forceUntil.
func (c *Coordinator) applyOptimistic(updates map[int]string, forceUntil time.Time) *Snapshot {
	var next *Snapshot
	for {
		prev := c.current.Load()
		next = prev.withDatapoints(updates)
		if c.current.CompareAndSwap(prev, next) {
			break
		}
	}
	c.optimisticWrites.Add(1)

	c.mu.Lock()
	if forceUntil.After(c.throttle.ForceRefreshUntil) {
		c.throttle.ForceRefreshUntil = forceUntil
	}
	c.mu.Unlock()

	c.notify(Update{Snapshot: next, Optimistic: true})
	return next
}

// RequestRefresh asks the Run loop for an out-of-band tick. It never
// blocks; requests made while one is pending are coalesced.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Run drives polling ticks every poll interval and on RequestRefresh
// until ctx is cancelled. Tick failures are logged and recorded; they do
// not stop the loop.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.PollInterval())
	defer ticker.Stop()

	c.logger.Info("polling started", "interval", c.PollInterval())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("polling stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		case <-c.refreshCh:
			c.tick(ctx)
		case <-c.intervalCh:
			ticker.Reset(c.PollInterval())
			c.logger.Info("poll interval changed", "interval", c.PollInterval())
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.Debug("tick failed", "error", err)
	}
}

// SetIntervals changes the polling schedule. Non-positive values leave
// the corresponding interval unchanged.
func (c *Coordinator) SetIntervals(poll, offline time.Duration) {
	c.mu.Lock()
	changed := false
	if poll > 0 && poll != c.pollInterval {
		c.pollInterval = poll
		changed = true
	}
	if offline > 0 {
		c.offlineRefresh = offline
	}
	c.mu.Unlock()

	if changed {
		select {
		case c.intervalCh <- struct{}{}:
		default:
		}
	}
}

// PollInterval returns the current poll interval.
func (c *Coordinator) PollInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollInterval
}

// OfflineRefresh returns the current offline refresh interval.
func (c *Coordinator) OfflineRefresh() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offlineRefresh
}

// Throttle returns a copy of the throttle state.
func (c *Coordinator) Throttle() ThrottleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttle
}

// LastUpdateSuccess reports whether the most recent network refresh
// succeeded. False before the first refresh.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdateSuccess
}

// LastError returns the error of the most recent network refresh, or nil
// if it succeeded.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastSuccessAt returns the time of the last successful network refresh.
func (c *Coordinator) LastSuccessAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccessAt
}

// Stats returns activity counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		NetworkFetches:   c.networkFetches.Load(),
		ThrottledTicks:   c.throttledTicks.Load(),
		Failures:         c.failures.Load(),
		OptimisticWrites: c.optimisticWrites.Load(),
	}
}

// AddListener registers fn for every Update and returns a function that
// removes it. Listeners run synchronously on the updating goroutine,
// outside the coordinator's locks; a panicking listener is logged and
// skipped.
func (c *Coordinator) AddListener(fn func(Update)) (remove func()) {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Coordinator) notify(u Update) {
	c.listenersMu.RLock()
	fns := make([]func(Update), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.RUnlock()

	for _, fn := range fns {
		c.safeCall(fn, u)
	}
}

func (c *Coordinator) safeCall(fn func(Update), u Update) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in update listener", "panic", r)
		}
	}()
	fn(u)
}
