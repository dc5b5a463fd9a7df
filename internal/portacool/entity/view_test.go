package entity

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
)

// fakeDevice serves a fixed snapshot as both reader and snapshot source.
type fakeDevice struct {
	mu   sync.Mutex
	snap *coordinator.Snapshot
}

func newFakeDevice(dps map[int]string) *fakeDevice {
	return &fakeDevice{snap: &coordinator.Snapshot{
		Datapoints: dps,
		TimerInfo:  map[string]any{},
		Alerts:     []cloud.AlertRecord{},
	}}
}

func (f *fakeDevice) Snapshot() *coordinator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeDevice) Datapoint(id int) (string, bool) {
	return f.Snapshot().Datapoint(id)
}

func (f *fakeDevice) set(id int, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dps := make(map[int]string, len(f.snap.Datapoints)+1)
	for k, val := range f.snap.Datapoints {
		dps[k] = val
	}
	dps[id] = v
	f.snap = &coordinator.Snapshot{Datapoints: dps, TimerInfo: f.snap.TimerInfo, Alerts: f.snap.Alerts}
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 1, 29, 6, 0, 0, 0, time.UTC)}
}

func newTestView(t *testing.T, dev *fakeDevice, clock *stepClock, name string) *View {
	t.Helper()
	v, err := New(Options{
		Reader:     dev,
		Snapshots:  dev,
		Datapoints: config.Default().Device.Datapoints,
		UniqueID:   "APEX001",
		Name:       name,
		FanCFMMax:  3500,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without reader expected error")
	}
}

func TestPower(t *testing.T) {
	tests := []struct {
		raw  string
		want *bool
	}{
		{"3", ptr(true)},
		{"2", ptr(false)},
		{"7", nil},
	}
	for _, tt := range tests {
		v := newTestView(t, newFakeDevice(map[int]string{12: tt.raw}), newStepClock(), "")
		got := v.Power()
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("Power(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	v := newTestView(t, newFakeDevice(map[int]string{}), newStepClock(), "")
	if v.Power() != nil {
		t.Error("Power() with no datapoint should be nil")
	}
}

func TestFanSpeedAndTimer(t *testing.T) {
	v := newTestView(t, newFakeDevice(map[int]string{13: "4", 21: "3"}), newStepClock(), "")
	if got := v.FanSpeed(); got == nil || *got != "4" {
		t.Errorf("FanSpeed() = %v, want 4", got)
	}
	if got := v.Timer(); got == nil || *got != "1 hour" {
		t.Errorf("Timer() = %v, want 1 hour", got)
	}

	v = newTestView(t, newFakeDevice(map[int]string{13: "9", 21: "0"}), newStepClock(), "")
	if v.FanSpeed() != nil || v.Timer() != nil {
		t.Error("out-of-range fan speed or timer should be nil")
	}
}

func TestTemperatureHumidityVoltage(t *testing.T) {
	dev := newFakeDevice(map[int]string{
		1: "72.5", // half-even rounds down
		2: "73.5", // half-even rounds up
		3: "bogus",
		4: "104.27",
		8: "119.5",
		9: "",
	})
	v := newTestView(t, dev, newStepClock(), "")

	if got := v.Temperature(1); got == nil || *got != 72 {
		t.Errorf("Temperature(1) = %v, want 72", got)
	}
	if got := v.Temperature(2); got == nil || *got != 74 {
		t.Errorf("Temperature(2) = %v, want 74", got)
	}
	if v.Temperature(3) != nil {
		t.Error("unparseable temperature should be nil")
	}
	if got := v.RelativeHumidity(); got == nil || *got != 100 {
		t.Errorf("RelativeHumidity() = %v, want clamped 100", got)
	}
	if got := v.InputVoltage(); got == nil || *got != 119.5 {
		t.Errorf("InputVoltage() = %v, want fallback to A (119.5)", got)
	}

	dev.set(4, "45.26")
	dev.set(9, "121")
	if got := v.RelativeHumidity(); got == nil || *got != 45.3 {
		t.Errorf("RelativeHumidity() = %v, want 45.3", got)
	}
	if got := v.InputVoltage(); got == nil || *got != 121 {
		t.Errorf("InputVoltage() = %v, want B channel 121", got)
	}
}

func TestAirflow_ClampsAfterGrace(t *testing.T) {
	clock := newStepClock()
	dev := newFakeDevice(map[int]string{7: "1800", 13: "3"})
	v := newTestView(t, dev, clock, "")

	if got := v.AirflowCFM(); got == nil || *got != 1800 {
		t.Fatalf("AirflowCFM() = %v, want 1800", got)
	}
	if got := v.AirflowPercent(); got == nil || *got != 51 {
		t.Errorf("AirflowPercent() = %v, want 51", got)
	}

	// Fan switched off; feedback lingers.
	dev.set(13, "0")
	clock.Advance(5 * time.Second)
	if got := v.AirflowCFM(); got == nil || *got != 1800 {
		t.Errorf("AirflowCFM() during grace = %v, want lingering 1800", got)
	}

	clock.Advance(5 * time.Second)
	if got := v.AirflowCFM(); got == nil || *got != 0 {
		t.Errorf("AirflowCFM() after grace = %v, want 0", got)
	}
	if got := v.AirflowPercent(); got == nil || *got != 0 {
		t.Errorf("AirflowPercent() after grace = %v, want 0", got)
	}
}

func TestAirflow_ChangingFeedbackResetsGrace(t *testing.T) {
	clock := newStepClock()
	dev := newFakeDevice(map[int]string{7: "1800", 13: "0"})
	v := newTestView(t, dev, clock, "")
	v.Observe()

	clock.Advance(9 * time.Second)
	dev.set(7, "900")
	v.Observe()

	clock.Advance(9 * time.Second)
	if got := v.AirflowCFM(); got == nil || *got != 900 {
		t.Errorf("AirflowCFM() = %v, want 900 while still spinning down", got)
	}
}

func TestAirflow_ZeroFeedbackWhenOff(t *testing.T) {
	v := newTestView(t, newFakeDevice(map[int]string{7: "0", 13: "0"}), newStepClock(), "")
	if got := v.AirflowCFM(); got == nil || *got != 0 {
		t.Errorf("AirflowCFM() = %v, want 0", got)
	}
}

func TestAirflowPercent(t *testing.T) {
	tests := []struct {
		cfm  int
		max  float64
		want *int
	}{
		{0, 3500, ptr(0)},
		{-5, 3500, ptr(0)},
		{1750, 3500, ptr(50)},
		{5000, 3500, ptr(100)},
		{100, 0, nil},
	}
	for _, tt := range tests {
		got := AirflowPercent(tt.cfm, tt.max)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("AirflowPercent(%d, %v) = %v, want %v", tt.cfm, tt.max, got, tt.want)
		}
	}
}

func TestState(t *testing.T) {
	clock := newStepClock()
	dev := newFakeDevice(map[int]string{12: "3", 13: "2", 21: "2", 1: "95", 5: "3"})
	dev.snap.TimerInfo = map[string]any{"TimerExpiry": "2026-01-29T06:30:00.1234567Z"}
	dev.snap.Alerts = []cloud.AlertRecord{
		{AlertID: "1-2", AlertType: "Warning", Value: 2},
		{AlertID: "2-1", AlertType: "Error", Value: 1},
		{AlertID: "6-1", AlertType: "Error", Value: 3},
	}
	v := newTestView(t, dev, clock, "Shop APEX 700")

	st := v.State()
	if st.Power == nil || !*st.Power {
		t.Error("State.Power should be on")
	}
	if st.Timer == nil || *st.Timer != "30 minutes" {
		t.Errorf("State.Timer = %v", st.Timer)
	}
	if st.TimerRemaining != 1800 {
		t.Errorf("State.TimerRemaining = %d, want 1800", st.TimerRemaining)
	}
	if st.WaterLevel == nil || *st.WaterLevel != 60 {
		t.Errorf("State.WaterLevel = %v, want 60", st.WaterLevel)
	}
	if st.WaterAlert != WaterOK {
		t.Errorf("State.WaterAlert = %q", st.WaterAlert)
	}

	wantStatus := map[string]string{
		"Fan": "Warning", "Pump": "OK", "Louvers": "OK", "Temperature": "OK", "Voltage": "Error",
	}
	if len(st.CategoryStatus) != len(wantStatus) {
		t.Errorf("CategoryStatus = %v, want %v", st.CategoryStatus, wantStatus)
	}
	for k, want := range wantStatus {
		if st.CategoryStatus[k] != want {
			t.Errorf("CategoryStatus[%s] = %q, want %q", k, st.CategoryStatus[k], want)
		}
	}
	if st.OverallStatus != SeverityError || len(st.ActiveAlerts) != 2 {
		t.Errorf("OverallStatus = %q with %d active", st.OverallStatus, len(st.ActiveAlerts))
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal(State) error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["fan_speed"] != "2" || decoded["device_id"] != "APEX001" {
		t.Errorf("State JSON = %s", data)
	}
	if _, ok := decoded["exit_temp_f"]; !ok {
		t.Error("unknown values should still be present as null")
	}
}

func TestStatusCategories(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"PortaCool Apex 2000", 4},
		{"patio apex 500", 5},
		{"APEX 700 Barn", 5},
		{"", 4},
	}
	for _, tt := range tests {
		got := StatusCategories(tt.name)
		if len(got) != tt.want {
			t.Errorf("StatusCategories(%q) = %v, want %d categories", tt.name, got, tt.want)
		}
		for _, c := range got {
			if c.ID == "4" {
				t.Errorf("StatusCategories(%q) includes water", tt.name)
			}
		}
	}
}

func TestCommand(t *testing.T) {
	dps := config.Default().Device.Datapoints
	tests := []struct {
		entity string
		value  string
		want   map[int]string
		err    error
	}{
		{EntityPower, "on", map[int]string{12: "3"}, nil},
		{EntityPower, "OFF", map[int]string{12: "2"}, nil},
		{EntityPower, "true", map[int]string{12: "3"}, nil},
		{EntityPower, "maybe", nil, ErrInvalidValue},
		{EntityFanSpeed, "5", map[int]string{13: "5"}, nil},
		{EntityFanSpeed, "6", nil, ErrInvalidValue},
		{EntityTimer, "2 hours", map[int]string{21: "4"}, nil},
		{EntityTimer, "6", map[int]string{21: "6"}, nil},
		{EntityTimer, "3 hours", nil, ErrInvalidValue},
		{"pump", "on", nil, ErrUnknownEntity},
	}

	for _, tt := range tests {
		got, err := Command(dps, tt.entity, tt.value)
		if !errors.Is(err, tt.err) {
			t.Errorf("Command(%s, %s) error = %v, want %v", tt.entity, tt.value, err, tt.err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("Command(%s, %s) = %v, want %v", tt.entity, tt.value, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("Command(%s, %s)[%d] = %q, want %q", tt.entity, tt.value, k, got[k], v)
			}
		}
	}
}

func TestStateFields(t *testing.T) {
	on := true
	fan := "3"
	timer := "1 hour"
	cfm := 4200
	rh := 41.5

	st := State{
		Power:            &on,
		FanSpeed:         &fan,
		Timer:            &timer,
		TimerRemaining:   1800,
		AirflowCFM:       &cfm,
		RelativeHumidity: &rh,
		ActiveAlerts:     []cloud.AlertRecord{{AlertID: "4-3", Value: 0}},
	}
	fields := st.Fields()

	want := map[string]any{
		"power":                   1,
		"fan_speed":               3.0,
		"timer":                   3.0,
		"timer_remaining_seconds": 1800,
		"airflow_cfm":             4200,
		"relative_humidity":       41.5,
		"active_alerts":           1,
	}
	if len(fields) != len(want) {
		t.Errorf("Fields() = %v, want %v", fields, want)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("Fields()[%q] = %v (%T), want %v (%T)", k, fields[k], fields[k], v, v)
		}
	}
	if _, ok := fields["exit_temp_f"]; ok {
		t.Error("absent temperature present in fields")
	}
}
