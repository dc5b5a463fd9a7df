package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
)

func TestNew_RequiresSource(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without source expected error")
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Options{Source: newMockSource(nil)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.PollInterval() != DefaultPollInterval {
		t.Errorf("PollInterval() = %v, want %v", c.PollInterval(), DefaultPollInterval)
	}
	if c.OfflineRefresh() != DefaultOfflineRefresh {
		t.Errorf("OfflineRefresh() = %v, want %v", c.OfflineRefresh(), DefaultOfflineRefresh)
	}
	snap := c.Snapshot()
	if snap == nil || len(snap.Datapoints) != 0 || snap.TimerInfo == nil || snap.Alerts == nil {
		t.Errorf("initial snapshot = %+v, want empty non-nil fields", snap)
	}
	if c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true before any refresh")
	}
}

func TestRefresh_ThrottlesWhenOff(t *testing.T) {
	clock := newTestClock()
	src := newMockSource(map[int]string{12: "2"})
	c := newTestCoordinator(t, src, clock)
	ctx := context.Background()

	first, err := c.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	for _, sec := range []int{1, 30, 59} {
		clock.At(sec)
		got, err := c.Refresh(ctx)
		if err != nil {
			t.Fatalf("Refresh() at t=%d error = %v", sec, err)
		}
		if got != first {
			t.Errorf("Refresh() at t=%d returned a new snapshot, want the cached instance", sec)
		}
	}
	if src.calls() != 1 {
		t.Errorf("network calls = %d, want 1", src.calls())
	}
	if s := c.Stats(); s.ThrottledTicks != 3 || s.NetworkFetches != 1 {
		t.Errorf("Stats() = %+v, want 3 throttled, 1 fetch", s)
	}

	clock.At(60)
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if src.calls() != 2 {
		t.Errorf("network calls = %d, want 2 once the offline interval elapsed", src.calls())
	}
}

func TestRefresh_ThrottledTickDoesNotNotify(t *testing.T) {
	clock := newTestClock()
	c := newTestCoordinator(t, newMockSource(map[int]string{12: "2"}), clock)

	var updates int
	c.AddListener(func(Update) { updates++ })

	_, _ = c.Refresh(context.Background())
	clock.At(10)
	_, _ = c.Refresh(context.Background())

	if updates != 1 {
		t.Errorf("listener updates = %d, want 1", updates)
	}
}

func TestRefresh_ForceWindowOverridesThrottle(t *testing.T) {
	clock := newTestClock()
	src := newMockSource(map[int]string{12: "2"})
	c := newTestCoordinator(t, src, clock)
	ctx := context.Background()

	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	c.mu.Lock()
	c.throttle.ForceRefreshUntil = clock.Now().Add(15 * time.Second)
	c.mu.Unlock()

	clock.At(5)
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if src.calls() != 2 {
		t.Errorf("network calls = %d, want 2 inside force window", src.calls())
	}

	// The window end is exclusive.
	clock.At(15)
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if src.calls() != 2 {
		t.Errorf("network calls = %d, want 2 at window end", src.calls())
	}
}

func TestRefresh_PowerOnAlwaysPolls(t *testing.T) {
	tests := []struct {
		name  string
		power map[int]string
	}{
		{"on", map[int]string{12: "3"}},
		{"unknown power value", map[int]string{12: "9"}},
		{"power datapoint missing", map[int]string{13: "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			src := newMockSource(tt.power)
			c := newTestCoordinator(t, src, clock)

			for i := 0; i < 5; i++ {
				if _, err := c.Refresh(context.Background()); err != nil {
					t.Fatalf("Refresh() error = %v", err)
				}
			}
			if src.calls() != 5 {
				t.Errorf("network calls = %d, want 5", src.calls())
			}
		})
	}
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	clock := newTestClock()
	src := newMockSource(map[int]string{12: "3", 1: "88"})
	c := newTestCoordinator(t, src, clock)
	ctx := context.Background()

	good, err := c.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	successAt := c.LastSuccessAt()

	var got []Update
	c.AddListener(func(u Update) { got = append(got, u) })

	src.setErr(errNetwork)
	clock.At(8)
	snap, err := c.Refresh(ctx)
	if !errors.Is(err, ErrUpdateFailed) || !errors.Is(err, errNetwork) {
		t.Fatalf("Refresh() error = %v, want ErrUpdateFailed wrapping cause", err)
	}
	if snap != good || c.Snapshot() != good {
		t.Error("failed refresh replaced the snapshot")
	}
	if c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true after failure")
	}
	if !errors.Is(c.LastError(), errNetwork) {
		t.Errorf("LastError() = %v", c.LastError())
	}
	if !c.LastSuccessAt().Equal(successAt) {
		t.Error("LastSuccessAt() moved on failure")
	}
	if len(got) != 1 || got[0].Err == nil || got[0].Snapshot != good {
		t.Errorf("listener got %+v, want one failure update carrying the old snapshot", got)
	}

	src.setErr(nil)
	clock.At(16)
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() after recovery error = %v", err)
	}
	if !c.LastUpdateSuccess() || c.LastError() != nil {
		t.Error("status not cleared after recovery")
	}
	if c.Stats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", c.Stats().Failures)
	}
}

func TestRefresh_FailedFetchDoesNotAdvanceLastFetch(t *testing.T) {
	clock := newTestClock()
	src := newMockSource(map[int]string{12: "2"})
	c := newTestCoordinator(t, src, clock)
	ctx := context.Background()

	_, _ = c.Refresh(ctx)
	clock.At(60)
	src.setErr(errNetwork)
	_, _ = c.Refresh(ctx)

	src.setErr(nil)
	clock.At(61)
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if src.calls() != 3 {
		t.Errorf("network calls = %d, want a retry right after the failure", src.calls())
	}
}

func TestRefresh_AlertsFailure(t *testing.T) {
	src := newMockSource(map[int]string{12: "3"})
	src.alertsErr = &cloud.HTTPError{Op: "latest alerts", StatusCode: 500, Kind: cloud.ErrTransport}
	c := newTestCoordinator(t, src, newTestClock())

	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrUpdateFailed) || !errors.Is(err, cloud.ErrTransport) {
		t.Errorf("Refresh() error = %v, want ErrUpdateFailed wrapping ErrTransport", err)
	}
	if len(c.Snapshot().Datapoints) != 0 {
		t.Error("partial refresh published datapoints without alerts")
	}
}

func TestRefresh_SnapshotContents(t *testing.T) {
	clock := newTestClock()
	src := newMockSource(map[int]string{12: "3"})
	src.timer = map[string]any{"TimerExpiry": "2026-01-29T07:00:00Z"}
	src.alerts = []cloud.AlertRecord{{AlertID: "4-1", Value: 2}, {AlertID: "2-1", Value: 1}}
	c := newTestCoordinator(t, src, clock)

	snap, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !snap.FetchedAt.Equal(clock.Now()) {
		t.Errorf("FetchedAt = %v, want %v", snap.FetchedAt, clock.Now())
	}
	if snap.TimerInfo["TimerExpiry"] != "2026-01-29T07:00:00Z" {
		t.Errorf("TimerInfo = %v", snap.TimerInfo)
	}
	if active := snap.ActiveAlerts(); len(active) != 1 || active[0].AlertID != "4-1" {
		t.Errorf("ActiveAlerts() = %v", active)
	}
	if got := c.Throttle().LastNetworkFetch; !got.Equal(clock.Now()) {
		t.Errorf("LastNetworkFetch = %v", got)
	}
}

func TestFirstRefresh_IgnoresThrottle(t *testing.T) {
	clock := newTestClock()
	src := newMockSource(map[int]string{12: "2"})
	c := newTestCoordinator(t, src, clock)
	ctx := context.Background()

	_, _ = c.Refresh(ctx)
	clock.At(5)
	if err := c.FirstRefresh(ctx); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}
	if src.calls() != 2 {
		t.Errorf("network calls = %d, want 2", src.calls())
	}

	src.setErr(errNetwork)
	if err := c.FirstRefresh(ctx); !errors.Is(err, ErrUpdateFailed) {
		t.Errorf("FirstRefresh() error = %v, want ErrUpdateFailed", err)
	}
}

func TestListeners_RemoveAndPanic(t *testing.T) {
	c := newTestCoordinator(t, newMockSource(map[int]string{12: "3"}), newTestClock())

	var calls int
	c.AddListener(func(Update) { panic("listener bug") })
	remove := c.AddListener(func(u Update) {
		if !u.Network {
			t.Error("refresh update not marked Network")
		}
		calls++
	})

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	remove()
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("listener calls = %d, want 1", calls)
	}
}

func TestRequestRefresh_Coalesces(t *testing.T) {
	c := newTestCoordinator(t, newMockSource(nil), newTestClock())
	for i := 0; i < 5; i++ {
		c.RequestRefresh()
	}
	if len(c.refreshCh) != 1 {
		t.Errorf("pending refresh requests = %d, want 1", len(c.refreshCh))
	}
}

func TestSetIntervals(t *testing.T) {
	c := newTestCoordinator(t, newMockSource(nil), newTestClock())

	c.SetIntervals(20*time.Second, 0)
	if c.PollInterval() != 20*time.Second || c.OfflineRefresh() != 60*time.Second {
		t.Errorf("intervals = %v/%v", c.PollInterval(), c.OfflineRefresh())
	}
	c.SetIntervals(-1, 120*time.Second)
	if c.PollInterval() != 20*time.Second || c.OfflineRefresh() != 120*time.Second {
		t.Errorf("intervals = %v/%v", c.PollInterval(), c.OfflineRefresh())
	}
}

func TestSetIntervals_OfflineAppliesToThrottle(t *testing.T) {
	clock := newTestClock()
	src := newMockSource(map[int]string{12: "2"})
	c := newTestCoordinator(t, src, clock)

	_, _ = c.Refresh(context.Background())
	c.SetIntervals(0, 10*time.Second)
	clock.At(10)
	_, _ = c.Refresh(context.Background())

	if src.calls() != 2 {
		t.Errorf("network calls = %d, want 2 with shortened offline interval", src.calls())
	}
}

func TestRun_PollsAndServesRequests(t *testing.T) {
	src := newMockSource(map[int]string{12: "3"})
	c, err := New(Options{Source: src, PowerDatapoint: 12, PollInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	refreshed := make(chan struct{}, 8)
	c.AddListener(func(Update) {
		select {
		case refreshed <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run(ctx)
	}()

	c.RequestRefresh()
	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("requested refresh did not run")
	}

	c.SetIntervals(10*time.Millisecond, 0)
	for i := 0; i < 2; i++ {
		select {
		case <-refreshed:
		case <-time.After(2 * time.Second):
			t.Fatal("ticker did not fire after interval change")
		}
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
