package coordinator

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
)

type testClock struct {
	mu   sync.Mutex
	base time.Time
	now  time.Time
}

func newTestClock() *testClock {
	base := time.Date(2026, 1, 29, 6, 0, 0, 0, time.UTC)
	return &testClock{base: base, now: base}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// At moves the clock to base + seconds.
func (c *testClock) At(seconds int) {
	c.mu.Lock()
	c.now = c.base.Add(time.Duration(seconds) * time.Second)
	c.mu.Unlock()
}

// mockSource is a TelemetrySource that records calls.
type mockSource struct {
	mu             sync.Mutex
	datapoints     map[int]string
	timer          map[string]any
	alerts         []cloud.AlertRecord
	telemetryErr   error
	alertsErr      error
	telemetryCalls int
	alertCalls     int
}

func newMockSource(dps map[int]string) *mockSource {
	return &mockSource{datapoints: dps, timer: map[string]any{}}
}

func (m *mockSource) FetchTelemetry(context.Context) (map[int]string, map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetryCalls++
	if m.telemetryErr != nil {
		return nil, nil, m.telemetryErr
	}
	return maps.Clone(m.datapoints), m.timer, nil
}

func (m *mockSource) FetchLatestAlerts(context.Context) ([]cloud.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertCalls++
	if m.alertsErr != nil {
		return nil, m.alertsErr
	}
	return m.alerts, nil
}

func (m *mockSource) setDatapoints(dps map[int]string) {
	m.mu.Lock()
	m.datapoints = dps
	m.mu.Unlock()
}

func (m *mockSource) setErr(err error) {
	m.mu.Lock()
	m.telemetryErr = err
	m.mu.Unlock()
}

func (m *mockSource) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.telemetryCalls
}

type invocation struct {
	id    int
	value string
}

// mockInvoker records invocations and fails on configured datapoints.
type mockInvoker struct {
	mu     sync.Mutex
	calls  []invocation
	failOn map[int]error
}

func (m *mockInvoker) Invoke(_ context.Context, id int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, invocation{id, value})
	if err, ok := m.failOn[id]; ok {
		return err
	}
	return nil
}

func (m *mockInvoker) invoked() []invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]invocation(nil), m.calls...)
}

var errNetwork = errors.New("connection reset")

func newTestCoordinator(t *testing.T, src *mockSource, clock *testClock) *Coordinator {
	t.Helper()
	c, err := New(Options{
		Source:         src,
		PowerDatapoint: 12,
		PowerOffValue:  "2",
		OfflineRefresh: 60 * time.Second,
		Clock:          clock.Now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func newTestReconciler(t *testing.T, c *Coordinator, inv *mockInvoker, clock *testClock) *Reconciler {
	t.Helper()
	r, err := NewReconciler(ReconcilerOptions{
		Invoker:     inv,
		Coordinator: c,
		Clock:       clock.Now,
	})
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	return r
}
