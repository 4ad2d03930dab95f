// Package monitor exposes driver activity and live readings as Prometheus
// metrics.
package monitor

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/ut330-logger/internal/ut330"
)

// Monitor owns a registry with the ut330 metrics registered on it.
type Monitor struct {
	log *logrus.Entry
	reg *prometheus.Registry

	Operations  *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Connected   prometheus.Gauge
	Temperature prometheus.Gauge
	Humidity    prometheus.Gauge
	Pressure    prometheus.Gauge
	Readings    prometheus.Gauge
	Battery     prometheus.Gauge
	LastPoll    prometheus.Gauge
	Goroutines  prometheus.Gauge
	MemoryUsage prometheus.Gauge
}

// New creates a Monitor with its own registry.
func New() *Monitor {
	m := &Monitor{
		log: logrus.WithField("component", "monitor"),
		reg: prometheus.NewRegistry(),

		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ut330_operations_total",
			Help: "Device operations by name and result.",
		}, []string{"op", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ut330_operation_duration_seconds",
			Help:    "Time spent in device operations, including the rate-limit wait.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ut330_connected",
			Help: "1 while the logger is connected.",
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ut330_temperature_celsius",
			Help: "Current temperature including the calibration offset.",
		}),
		Humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ut330_humidity_percent",
			Help: "Current relative humidity including the calibration offset.",
		}),
		Pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ut330_pressure",
			Help: "Current pressure including the calibration offset.",
		}),
		Readings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ut330_stored_readings",
			Help: "Readings stored on the logger at the last config read.",
		}),
		Battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ut330_battery_percent",
			Help: "Battery level at the last config read.",
		}),
		LastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ut330_last_poll_timestamp_seconds",
			Help: "Unix time of the last successful live reading.",
		}),
		Goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ut330_goroutines",
			Help: "Current number of goroutines.",
		}),
		MemoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ut330_memory_usage_bytes",
			Help: "Heap bytes allocated.",
		}),
	}
	m.reg.MustRegister(
		m.Operations, m.Duration, m.Connected,
		m.Temperature, m.Humidity, m.Pressure,
		m.Readings, m.Battery, m.LastPoll,
		m.Goroutines, m.MemoryUsage,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Observe matches ut330.ConnConfig.Observer.
func (m *Monitor) Observe(op string, took time.Duration, err error) {
	m.Operations.WithLabelValues(op, result(err)).Inc()
	m.Duration.WithLabelValues(op).Observe(took.Seconds())
}

// result maps an operation error to a low-cardinality label value.
func result(err error) string {
	var (
		pe *ut330.ProtocolError
		re *ut330.ReadTimeoutError
		we *ut330.WriteError
		ve *ut330.ValidationError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ut330.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ut330.ErrPortClosed):
		return "port_closed"
	case errors.As(err, &pe):
		return "protocol_error"
	case errors.As(err, &re):
		return "read_timeout"
	case errors.As(err, &we):
		return "write_error"
	case errors.As(err, &ve):
		return "invalid"
	default:
		return "error"
	}
}

// SetConnected records the connection state.
func (m *Monitor) SetConnected(on bool) {
	if on {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// ObserveLive records a live reading.
func (m *Monitor) ObserveLive(o *ut330.Offsets, at time.Time) {
	m.Temperature.Set(o.Temperature)
	m.Humidity.Set(o.Humidity)
	m.Pressure.Set(o.Pressure)
	m.LastPoll.Set(float64(at.Unix()))
}

// ObserveConfig records the device-maintained config fields.
func (m *Monitor) ObserveConfig(c *ut330.Config) {
	m.Readings.Set(float64(c.ReadingsCount))
	m.Battery.Set(float64(c.BatteryPower))
}

// StartRuntimeMonitor samples goroutine and heap figures every interval
// until stop is closed.
func (m *Monitor) StartRuntimeMonitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sampleRuntime()
			}
		}
	}()
}

func (m *Monitor) sampleRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines.Set(float64(runtime.NumGoroutine()))
	m.MemoryUsage.Set(float64(ms.Alloc))
	m.log.Debugf("goroutines: %d, heap: %.2f MB", runtime.NumGoroutine(), float64(ms.Alloc)/1024/1024)
}
