package history

import (
	"context"
	"time"

	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
)

const (
	recorderQueueSize  = 32
	defaultRetention   = 30 * 24 * time.Hour
	defaultPruneEvery  = 6 * time.Hour
	recordWriteTimeout = 5 * time.Second
)

// Logger is the logging surface the recorder needs.
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

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Repository *Repository
	DeviceID   string

	// Retention is the age after which rows are pruned. Default 30 days.
	Retention time.Duration

	// PruneEvery is how often Prune runs. Default 6 hours.
	PruneEvery time.Duration

	Logger Logger
}

// Recorder writes every network snapshot the coordinator publishes to the
// repository and prunes old rows on a timer.
//
// OnUpdate is registered as a coordinator listener and only queues. The
// writes happen on the Run goroutine.
type Recorder struct {
	repo       *Repository
	deviceID   string
	retention  time.Duration
	pruneEvery time.Duration
	logger     Logger
	queue      chan *coordinator.Snapshot
}

// NewRecorder creates a recorder. Call Run to start writing.
func NewRecorder(opts RecorderOptions) *Recorder {
	r := &Recorder{
		repo:       opts.Repository,
		deviceID:   opts.DeviceID,
		retention:  opts.Retention,
		pruneEvery: opts.PruneEvery,
		logger:     opts.Logger,
		queue:      make(chan *coordinator.Snapshot, recorderQueueSize),
	}
	if r.retention <= 0 {
		r.retention = defaultRetention
	}
	if r.pruneEvery <= 0 {
		r.pruneEvery = defaultPruneEvery
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r
}

// OnUpdate queues successful network snapshots. Optimistic writes and
// failures are not recorded. When the queue is full the snapshot is
// dropped.
func (r *Recorder) OnUpdate(u coordinator.Update) {
	if !u.Network || u.Err != nil || u.Snapshot == nil {
		return
	}
	select {
	case r.queue <- u.Snapshot:
	default:
		r.logger.Warn("history queue full, dropping snapshot")
	}
}

// Run writes queued snapshots and prunes until ctx is cancelled. Queued
// snapshots still pending at cancellation are discarded.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pruneEvery)
	defer ticker.Stop()

	r.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-r.queue:
			r.record(ctx, snap)
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) record(ctx context.Context, snap *coordinator.Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, recordWriteTimeout)
	defer cancel()
	if err := r.repo.RecordSnapshot(ctx, r.deviceID, snap); err != nil {
		r.logger.Warn("recording snapshot failed", "error", err)
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.repo.Prune(ctx, r.retention)
	if err != nil {
		r.logger.Warn("pruning history failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned history", "rows", n, "retention", r.retention.String())
	}
}
