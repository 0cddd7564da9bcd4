/*Package monitor serves the live view of a tracking session.

It keeps ring buffers of the three tracked series (efficiency, voltage,
current density) plus elapsed time, and serves them as JSON parallel arrays
for a browser plot to poll, alongside the static sweep curve with the chosen
MPP marker and prometheus gauges of the most recent values.

The control loop pushes samples synchronously; retention of plot points is
paced by a rate limiter so the series stay at display resolution no matter
how fast the instrument cycles.  HTTP readers run concurrently with the
control loop and are isolated behind the monitor's mutex.
*/
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/brandondube/ringo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"goji.io"
	"goji.io/pat"

	"github.com/epmm-lab/pvtrack/mppt"
)

// refreshHz bounds how many points per second are retained for plotting,
// the same role the display refresh pause played on the old bench.
const refreshHz = 10

// Monitor accumulates live series and the static sweep for HTTP consumers.
// It implements mppt.SampleSink.  Monitors must be created with New.
type Monitor struct {
	mu      sync.Mutex
	time    ringo.CircleF64
	eff     ringo.CircleF64
	volt    ringo.CircleF64
	density ringo.CircleF64
	sweep   sweepData
	limiter *rate.Limiter

	gaugeEff prometheus.Gauge
	gaugeV   prometheus.Gauge
	gaugeJ   prometheus.Gauge
	registry *prometheus.Registry
}

type seriesData struct {
	Time           []float64 `json:"elapsed"`
	Efficiency     []float64 `json:"efficiency"`
	Voltage        []float64 `json:"voltage"`
	CurrentDensity []float64 `json:"currentDensity"`
}

type sweepData struct {
	mppt.SweepResult
	Voc float64 `json:"voc"`
	Isc float64 `json:"isc"`
}

// New creates a monitor retaining up to capacity plot points per series.
func New(capacity int) *Monitor {
	m := &Monitor{
		limiter:  rate.NewLimiter(rate.Limit(refreshHz), 1),
		registry: prometheus.NewRegistry(),
		gaugeEff: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "pvtrack",
			Name:      "efficiency_percent",
			Help:      "Power conversion efficiency of the device under test.",
		}),
		gaugeV: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "pvtrack",
			Name:      "voltage_volts",
			Help:      "Operating voltage of the device under test.",
		}),
		gaugeJ: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "pvtrack",
			Name:      "current_density_ma_cm2",
			Help:      "Areal current of the device under test.",
		}),
	}
	m.time.Init(capacity)
	m.eff.Init(capacity)
	m.volt.Init(capacity)
	m.density.Init(capacity)
	m.registry.MustRegister(m.gaugeEff, m.gaugeV, m.gaugeJ)
	return m
}

// Sample ingests one tracking sample.  Gauges always reflect the newest
// sample; series retention is paced to the display refresh rate.
func (m *Monitor) Sample(s mppt.Sample) {
	m.gaugeEff.Set(s.Efficiency)
	m.gaugeV.Set(s.Voltage)
	m.gaugeJ.Set(s.CurrentDensity)
	if !m.limiter.Allow() {
		return
	}
	m.mu.Lock()
	m.time.Append(s.Elapsed)
	m.eff.Append(s.Efficiency)
	m.volt.Append(s.Voltage)
	m.density.Append(s.CurrentDensity)
	m.mu.Unlock()
}

// SetSweep publishes the initial sweep curve and device state for the
// static I-V / P-V plot.
func (m *Monitor) SetSweep(res mppt.SweepResult, dev mppt.Device) {
	m.mu.Lock()
	m.sweep = sweepData{SweepResult: res, Voc: dev.Voc, Isc: dev.Isc}
	m.mu.Unlock()
}

// Mux returns the route table: GET /series, GET /sweep, GET /metrics.
func (m *Monitor) Mux() *goji.Mux {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/series"), m.HTTPSeries)
	mux.HandleFunc(pat.Get("/sweep"), m.HTTPSweep)
	mux.Handle(pat.Get("/metrics"), promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return mux
}

// HTTPSeries yields the live series as JSON parallel arrays.
func (m *Monitor) HTTPSeries(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	s := seriesData{
		Time:           m.time.Contiguous(),
		Efficiency:     m.eff.Contiguous(),
		Voltage:        m.volt.Contiguous(),
		CurrentDensity: m.density.Contiguous(),
	}
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTPSweep yields the static sweep curve with the MPP marker index.
func (m *Monitor) HTTPSweep(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	s := m.sweep
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
