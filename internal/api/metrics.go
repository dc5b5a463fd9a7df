package api

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
	"github.com/nerrad567/portacool-apex/internal/portacool/entity"
)

const metricsNamespace = "portacool"

// Metrics holds the Prometheus collectors for one device. Entity gauges
// are set from coordinator updates; activity counters read the
// coordinator's stats at scrape time.
type Metrics struct {
	registry *prometheus.Registry

	cloudUp        prometheus.Gauge
	lastRefresh    prometheus.Gauge
	power          *prometheus.GaugeVec
	fanSpeed       *prometheus.GaugeVec
	timerRemaining *prometheus.GaugeVec
	temperature    *prometheus.GaugeVec
	humidity       *prometheus.GaugeVec
	voltage        *prometheus.GaugeVec
	waterLevel     *prometheus.GaugeVec
	airflow        *prometheus.GaugeVec
	activeAlerts   *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(coord *coordinator.Coordinator) *Metrics {
	deviceGauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, append([]string{"device_id"}, labels...))
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cloudUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cloud_up",
			Help:      "1 if the last cloud refresh succeeded, 0 otherwise",
		}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful network refresh",
		}),
		power:          deviceGauge("power", "1 if the cooler is on"),
		fanSpeed:       deviceGauge("fan_speed", "Fan speed setting, 0 to 5"),
		timerRemaining: deviceGauge("timer_remaining_seconds", "Seconds until the shutoff timer fires"),
		temperature:    deviceGauge("temperature_fahrenheit", "Temperature sensor readings", "sensor"),
		humidity:       deviceGauge("relative_humidity_percent", "Relative humidity"),
		voltage:        deviceGauge("input_voltage_volts", "Supply voltage"),
		waterLevel:     deviceGauge("water_level_percent", "Reservoir water level"),
		airflow:        deviceGauge("airflow_cfm", "Estimated airflow in cubic feet per minute"),
		activeAlerts:   deviceGauge("active_alerts", "Number of raised alerts"),
	}

	m.registry.MustRegister(
		m.cloudUp, m.lastRefresh, m.power, m.fanSpeed, m.timerRemaining,
		m.temperature, m.humidity, m.voltage, m.waterLevel, m.airflow, m.activeAlerts,
	)

	if coord != nil {
		counter := func(name, help string, read func(coordinator.Stats) uint64) prometheus.CounterFunc {
			return prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      name,
				Help:      help,
			}, func() float64 { return float64(read(coord.Stats())) })
		}
		m.registry.MustRegister(
			counter("network_fetches_total", "Refreshes that read the cloud",
				func(s coordinator.Stats) uint64 { return s.NetworkFetches }),
			counter("throttled_ticks_total", "Ticks served from cache while the cooler was off",
				func(s coordinator.Stats) uint64 { return s.ThrottledTicks }),
			counter("refresh_failures_total", "Failed network refreshes",
				func(s coordinator.Stats) uint64 { return s.Failures }),
			counter("optimistic_writes_total", "Commanded values applied before confirmation",
				func(s coordinator.Stats) uint64 { return s.OptimisticWrites }),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe updates the gauges from a coordinator update and the state
// derived from it.
func (m *Metrics) Observe(u coordinator.Update, st entity.State) {
	if u.Err != nil {
		m.cloudUp.Set(0)
		return
	}
	if u.Network {
		m.cloudUp.Set(1)
		if !st.FetchedAt.IsZero() {
			m.lastRefresh.Set(float64(st.FetchedAt.Unix()))
		}
	}

	id := st.DeviceID
	if st.Power != nil {
		m.power.WithLabelValues(id).Set(float64(boolGauge(*st.Power)))
	}
	setParsed(m.fanSpeed.WithLabelValues(id), st.FanSpeed)
	m.timerRemaining.WithLabelValues(id).Set(float64(st.TimerRemaining))
	setInt(m.temperature.WithLabelValues(id, "ambient"), st.AmbientTemp)
	setInt(m.temperature.WithLabelValues(id, "exit"), st.ExitTemp)
	setInt(m.temperature.WithLabelValues(id, "internal_component"), st.InternalComponentTemp)
	setFloat(m.humidity.WithLabelValues(id), st.RelativeHumidity)
	setFloat(m.voltage.WithLabelValues(id), st.InputVoltage)
	setFloat(m.waterLevel.WithLabelValues(id), st.WaterLevel)
	setInt(m.airflow.WithLabelValues(id), st.AirflowCFM)
	m.activeAlerts.WithLabelValues(id).Set(float64(len(st.ActiveAlerts)))
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

func setInt(g prometheus.Gauge, v *int) {
	if v != nil {
		g.Set(float64(*v))
	}
}

func setFloat(g prometheus.Gauge, v *float64) {
	if v != nil {
		g.Set(*v)
	}
}

func setParsed(g prometheus.Gauge, v *string) {
	if v == nil {
		return
	}
	if f, err := strconv.ParseFloat(*v, 64); err == nil {
		g.Set(f)
	}
}
