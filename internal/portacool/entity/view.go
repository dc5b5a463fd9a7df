package entity

import (
	"errors"
	"math"
	"time"

	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
)

const defaultDeviceName = "PortaCool Apex"

// DatapointReader returns the value to display for a datapoint. The
// command reconciler implements it, preferring just-commanded values.
type DatapointReader interface {
	Datapoint(id int) (string, bool)
}

// SnapshotSource returns the current device snapshot.
type SnapshotSource interface {
	Snapshot() *coordinator.Snapshot
}

// Options configures a View.
type Options struct {
	Reader     DatapointReader
	Snapshots  SnapshotSource
	Datapoints config.DatapointConfig

	UniqueID  string
	Name      string
	Model     string
	FanCFMMax int

	Clock func() time.Time
}

// View derives typed entity values from the shared snapshot.
// It never writes device state.
type View struct {
	reader    DatapointReader
	snapshots SnapshotSource
	dps       config.DatapointConfig
	uniqueID  string
	name      string
	model     string
	fanCFMMax float64
	clock     func() time.Time
	airflow   *AirflowTracker
}

// New creates a View.
func New(opts Options) (*View, error) {
	if opts.Reader == nil || opts.Snapshots == nil {
		return nil, errors.New("entity: reader and snapshot source are required")
	}

	v := &View{
		reader:    opts.Reader,
		snapshots: opts.Snapshots,
		dps:       opts.Datapoints,
		uniqueID:  opts.UniqueID,
		name:      opts.Name,
		model:     opts.Model,
		fanCFMMax: float64(opts.FanCFMMax),
		clock:     opts.Clock,
	}
	if v.name == "" {
		v.name = defaultDeviceName
	}
	if v.clock == nil {
		v.clock = time.Now
	}
	v.airflow = NewAirflowTracker(v.clock)
	return v, nil
}

// Datapoints returns the datapoint mapping the view reads.
func (v *View) Datapoints() config.DatapointConfig {
	return v.dps
}

// Name returns the device display name.
func (v *View) Name() string {
	return v.name
}

// Observe updates the airflow tracker from the latest datapoints. Call it
// on every coordinator update.
func (v *View) Observe() {
	if raw, ok := v.reader.Datapoint(v.dps.FanFeedback); ok {
		v.airflow.Observe(raw)
	}
}

// Power reports whether the device is on. Nil for an unknown value.
func (v *View) Power() *bool {
	raw, ok := v.reader.Datapoint(v.dps.Power)
	if !ok {
		return nil
	}
	switch raw {
	case PowerOnValue:
		return ptr(true)
	case PowerOffValue:
		return ptr(false)
	}
	return nil
}

// FanSpeed returns the fan speed option, or nil if not one of "0".."5".
func (v *View) FanSpeed() *string {
	raw, ok := v.reader.Datapoint(v.dps.FanSpeed)
	if !ok {
		return nil
	}
	for _, o := range FanSpeedOptions {
		if o == raw {
			return ptr(raw)
		}
	}
	return nil
}

// Timer returns the selected auto-off timer label.
func (v *View) Timer() *string {
	raw, ok := v.reader.Datapoint(v.dps.Timer)
	if !ok {
		return nil
	}
	if label, found := TimerLabel(raw); found {
		return ptr(label)
	}
	return nil
}

// TimerExpiry returns the timer's expiry time from the timer node.
func (v *View) TimerExpiry() (time.Time, bool) {
	return ParseTimerExpiry(v.snapshots.Snapshot().TimerInfo["TimerExpiry"])
}

// TimerRemaining returns the seconds left on the auto-off timer, zero
// when no timer is running.
func (v *View) TimerRemaining() int {
	expiry, ok := v.TimerExpiry()
	if !ok {
		return 0
	}
	return TimerRemaining(expiry, v.clock())
}

// Temperature returns a temperature datapoint in whole °F.
func (v *View) Temperature(id int) *int {
	f, ok := v.number(id)
	if !ok {
		return nil
	}
	return ptr(roundInt(f))
}

// RelativeHumidity returns humidity in percent, clamped to 0..100 with
// one decimal.
func (v *View) RelativeHumidity() *float64 {
	f, ok := v.number(v.dps.RelativeHumidity)
	if !ok {
		return nil
	}
	f = min(100, max(0, f))
	return ptr(math.Round(f*10) / 10)
}

// InputVoltage returns the supply voltage, preferring the B channel.
func (v *View) InputVoltage() *float64 {
	raw, ok := v.reader.Datapoint(v.dps.VoltageB)
	if !ok || raw == "" {
		raw, ok = v.reader.Datapoint(v.dps.VoltageA)
	}
	if !ok {
		return nil
	}
	f, ok := parseNumber(raw)
	if !ok {
		return nil
	}
	return ptr(f)
}

// AirflowCFM returns the observed airflow. It reads zero once the fan is
// set to off and the feedback reading has gone stale.
func (v *View) AirflowCFM() *int {
	raw, ok := v.reader.Datapoint(v.dps.FanFeedback)
	if !ok {
		return nil
	}
	f, ok := parseNumber(raw)
	if !ok {
		return nil
	}
	v.airflow.Observe(raw)

	fanSpeed, _ := v.reader.Datapoint(v.dps.FanSpeed)
	if v.airflow.ShouldClampOff(fanSpeed) {
		return ptr(0)
	}
	return ptr(int(math.Trunc(f)))
}

// AirflowPercent returns airflow as a percentage of the fan's maximum.
func (v *View) AirflowPercent() *int {
	cfm := v.AirflowCFM()
	if cfm == nil {
		return nil
	}
	return AirflowPercent(*cfm, v.fanCFMMax)
}

func (v *View) number(id int) (float64, bool) {
	raw, ok := v.reader.Datapoint(id)
	if !ok {
		return 0, false
	}
	return parseNumber(raw)
}

// State is every entity value of the device at one moment. It is what
// MQTT, WebSocket and REST consumers receive.
type State struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Model    string `json:"model,omitempty"`

	Power    *bool   `json:"power"`
	FanSpeed *string `json:"fan_speed"`
	Timer    *string `json:"timer"`

	TimerRemaining int        `json:"timer_remaining_seconds"`
	TimerExpiry    *time.Time `json:"timer_expiry,omitempty"`

	AirflowCFM     *int `json:"airflow_cfm"`
	AirflowPercent *int `json:"airflow_percent"`

	AmbientTemp           *int     `json:"ambient_temp_f"`
	ExitTemp              *int     `json:"exit_temp_f"`
	InternalComponentTemp *int     `json:"internal_component_temp_f"`
	RelativeHumidity      *float64 `json:"relative_humidity"`
	InputVoltage          *float64 `json:"input_voltage"`

	WaterAlert string   `json:"water_alert"`
	WaterLevel *float64 `json:"water_level"`

	CategoryStatus map[string]string   `json:"category_status"`
	OverallStatus  string              `json:"overall_status"`
	ActiveAlerts   []cloud.AlertRecord `json:"active_alerts"`

	FetchedAt time.Time `json:"fetched_at"`
}

// State collects every entity value.
func (v *View) State() State {
	snap := v.snapshots.Snapshot()
	active := snap.ActiveAlerts()
	waterRaw, waterOK := v.reader.Datapoint(v.dps.WaterLevel)

	st := State{
		DeviceID:              v.uniqueID,
		Name:                  v.name,
		Model:                 v.model,
		Power:                 v.Power(),
		FanSpeed:              v.FanSpeed(),
		Timer:                 v.Timer(),
		TimerRemaining:        v.TimerRemaining(),
		AirflowCFM:            v.AirflowCFM(),
		AirflowPercent:        v.AirflowPercent(),
		AmbientTemp:           v.Temperature(v.dps.AmbientTemp),
		ExitTemp:              v.Temperature(v.dps.ExitTemp),
		InternalComponentTemp: v.Temperature(v.dps.InternalComponentTemp),
		RelativeHumidity:      v.RelativeHumidity(),
		InputVoltage:          v.InputVoltage(),
		WaterAlert:            WaterAlert(active),
		WaterLevel:            WaterLevel(active, waterRaw, waterOK),
		CategoryStatus:        make(map[string]string),
		OverallStatus:         Severity(active),
		ActiveAlerts:          active,
		FetchedAt:             snap.FetchedAt,
	}
	if expiry, ok := v.TimerExpiry(); ok {
		st.TimerExpiry = &expiry
	}
	for _, c := range StatusCategories(v.name) {
		st.CategoryStatus[c.Name] = Severity(activeInCategory(active, c.ID))
	}
	return st
}

// Fields returns the numeric entity values present in the state, keyed
// for time-series storage. Absent values are left out. Power is 1 or 0,
// and fan speed and timer are their numeric datapoint values.
func (s State) Fields() map[string]any {
	fields := make(map[string]any)
	if s.Power != nil {
		fields["power"] = boolInt(*s.Power)
	}
	if s.FanSpeed != nil {
		if n, ok := parseNumber(*s.FanSpeed); ok {
			fields["fan_speed"] = n
		}
	}
	if s.Timer != nil {
		if value, ok := TimerValue(*s.Timer); ok {
			if n, ok := parseNumber(value); ok {
				fields["timer"] = n
			}
		}
	}
	fields["timer_remaining_seconds"] = s.TimerRemaining

	putInt(fields, "airflow_cfm", s.AirflowCFM)
	putInt(fields, "airflow_percent", s.AirflowPercent)
	putInt(fields, "ambient_temp_f", s.AmbientTemp)
	putInt(fields, "exit_temp_f", s.ExitTemp)
	putInt(fields, "internal_component_temp_f", s.InternalComponentTemp)
	putFloat(fields, "relative_humidity", s.RelativeHumidity)
	putFloat(fields, "input_voltage", s.InputVoltage)
	putFloat(fields, "water_level", s.WaterLevel)

	fields["active_alerts"] = len(s.ActiveAlerts)
	return fields
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func putInt(fields map[string]any, key string, v *int) {
	if v != nil {
		fields[key] = *v
	}
}

func putFloat(fields map[string]any, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}
