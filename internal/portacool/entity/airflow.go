package entity

import (
	"math"
	"sync"
	"time"
)

// airflowOffGrace is how long an unchanged fan feedback reading may
// linger after the fan is switched off before it is reported as zero.
const airflowOffGrace = 10 * time.Second

// AirflowTracker remembers when the fan feedback reading last changed.
//
// The feedback datapoint keeps its last value for a while after the fan
// is turned off. The tracker lets the airflow view report zero once the
// reading has gone stale.
type AirflowTracker struct {
	clock func() time.Time

	mu         sync.Mutex
	hasRaw     bool
	lastRaw    int
	lastChange time.Time
}

// NewAirflowTracker creates a tracker. A nil clock means time.Now.
func NewAirflowTracker(clock func() time.Time) *AirflowTracker {
	if clock == nil {
		clock = time.Now
	}
	return &AirflowTracker{clock: clock}
}

// Observe records a fan feedback reading. Unparseable readings are
// ignored.
func (t *AirflowTracker) Observe(raw string) {
	f, ok := parseNumber(raw)
	if !ok {
		return
	}
	val := int(math.Trunc(f))

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasRaw || val != t.lastRaw {
		t.hasRaw = true
		t.lastRaw = val
		t.lastChange = t.clock()
	}
}

// ShouldClampOff reports whether airflow should read zero for the given
// fan speed setting.
func (t *AirflowTracker) ShouldClampOff(fanSpeed string) bool {
	if fanSpeed != "0" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasRaw || t.lastRaw == 0 {
		return true
	}
	return t.clock().Sub(t.lastChange) >= airflowOffGrace
}

// AirflowPercent converts CFM to a percentage of the fan's maximum,
// clamped to 0..100. Nil when the maximum is not configured.
func AirflowPercent(cfm int, maxCFM float64) *int {
	if cfm <= 0 {
		return ptr(0)
	}
	if maxCFM <= 0 {
		return nil
	}
	pct := roundInt(float64(cfm) / maxCFM * 100)
	return ptr(min(100, max(0, pct)))
}
