package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
)

// Defaults for command reconciliation.
const (
	DefaultCommandGrace = 15 * time.Second
	DefaultForceRefresh = 15 * time.Second
)

// ErrInvalidUpdates is returned by Issue for an empty batch.
var ErrInvalidUpdates = errors.New("coordinator: no datapoint updates")

// Invoker sets one datapoint on the device.
type Invoker interface {
	Invoke(ctx context.Context, datapointID int, value string) error
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Invoker     Invoker
	Coordinator *Coordinator

	// Grace is how long a commanded value is preferred over polled data.
	Grace time.Duration

	// ForceRefresh is the length of the forced-refresh window armed
	// after each successful batch.
	ForceRefresh time.Duration

	Clock  func() time.Time
	Logger Logger
}

type graceRecord struct {
	value    string
	issuedAt time.Time
}

// Reconciler issues commands and hides the vendor's read-after-write lag.
//
// A successful batch is written into the shared snapshot straight away
// and remembered for the grace window, during which Datapoint serves the
// commanded value even if a poll reports otherwise.
type Reconciler struct {
	invoker Invoker
	coord   *Coordinator
	grace   time.Duration
	force   time.Duration
	clock   func() time.Time
	logger  Logger

	mu     sync.Mutex
	recent map[int]graceRecord
}

// NewReconciler creates a Reconciler bound to a coordinator.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if opts.Invoker == nil || opts.Coordinator == nil {
		return nil, errors.New("coordinator: reconciler needs an invoker and a coordinator")
	}

	r := &Reconciler{
		invoker: opts.Invoker,
		coord:   opts.Coordinator,
		grace:   opts.Grace,
		force:   opts.ForceRefresh,
		clock:   opts.Clock,
		logger:  opts.Logger,
		recent:  make(map[int]graceRecord),
	}
	if r.grace <= 0 {
		r.grace = DefaultCommandGrace
	}
	if r.force <= 0 {
		r.force = DefaultForceRefresh
	}
	if r.clock == nil {
		r.clock = opts.Coordinator.clock
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r, nil
}

// Issue sends a batch of datapoint updates in ascending id order.
//
// The first failing invocation aborts the batch with an error wrapping
// cloud.ErrCommand; datapoints already sent are not rolled back and
// nothing is recorded locally. When every invocation succeeds the values
// are merged into the snapshot, the forced-refresh window is armed and a
// refresh is requested. Issue does not wait for that refresh.
func (r *Reconciler) Issue(ctx context.Context, updates map[int]string) error {
	if len(updates) == 0 {
		return ErrInvalidUpdates
	}

	ids := make([]int, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if err := r.invoker.Invoke(ctx, id, updates[id]); err != nil {
			r.logger.Warn("command failed", "datapoint", id, "error", err)
			if errors.Is(err, cloud.ErrCommand) {
				return fmt.Errorf("datapoint %d: %w", id, err)
			}
			return fmt.Errorf("%w: datapoint %d: %w", cloud.ErrCommand, id, err)
		}
	}

	now := r.clock()
	r.mu.Lock()
	r.pruneLocked(now)
	for id, v := range updates {
		r.recent[id] = graceRecord{value: v, issuedAt: now}
	}
	r.mu.Unlock()

	// Snapshot merge and window arming must precede the refresh request
	// so the next tick sees the window.
	r.coord.applyOptimistic(updates, now.Add(r.force))
	r.coord.RequestRefresh()

	r.logger.Info("command issued", "datapoints", ids)
	return nil
}

// Invoke sets a single datapoint without reconciliation.
func (r *Reconciler) Invoke(ctx context.Context, datapointID int, value string) error {
	return r.invoker.Invoke(ctx, datapointID, value)
}

// Datapoint returns the value to show for a datapoint: the commanded
// value while it is within the grace window, else the polled value.
func (r *Reconciler) Datapoint(id int) (string, bool) {
	now := r.clock()

	r.mu.Lock()
	rec, ok := r.recent[id]
	if ok && now.Sub(rec.issuedAt) > r.grace {
		delete(r.recent, id)
		ok = false
	}
	r.mu.Unlock()

	if ok {
		return rec.value, true
	}
	return r.coord.Snapshot().Datapoint(id)
}

// Pending returns the datapoints currently inside their grace window.
func (r *Reconciler) Pending() map[int]string {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)

	out := make(map[int]string, len(r.recent))
	for id, rec := range r.recent {
		out[id] = rec.value
	}
	return out
}

func (r *Reconciler) pruneLocked(now time.Time) {
	for id, rec := range r.recent {
		if now.Sub(rec.issuedAt) > r.grace {
			delete(r.recent, id)
		}
	}
}

// Coordinator returns the coordinator the reconciler writes through.
func (r *Reconciler) Coordinator() *Coordinator {
	return r.coord
}
