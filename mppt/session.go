package mppt

import (
	"fmt"
	"io"
	"math"
)

// Sample is one recorded measurement cycle.  Samples are immutable once
// recorded.
type Sample struct {
	// Elapsed is seconds since the session began, on the instrument clock.
	Elapsed float64 `json:"elapsed"`

	// Voltage is the sensed voltage in volts.
	Voltage float64 `json:"voltage"`

	// Current is the sensed current in amps.
	Current float64 `json:"current"`

	// CurrentDensity is the magnitude of the areal current in mA/cm^2,
	// tolerant of either current sign convention from the instrument.
	CurrentDensity float64 `json:"currentDensity"`

	// Efficiency is the power conversion efficiency in percent, assuming
	// the 100 mW/cm^2 reference irradiance of the simulator.
	Efficiency float64 `json:"efficiency"`
}

// SampleSink receives each sample as it is recorded.  Sinks must not block
// the control loop; anything slow should buffer internally.
type SampleSink interface {
	Sample(Sample)
}

// Session holds the state of one tracking run: its start time on the
// instrument clock, the run time limit, the device area used to normalize
// current, and the ordered record of samples.  The control loop is the sole
// writer.
type Session struct {
	// Start is the instrument timestamp of the first post-sweep
	// measurement, set by Begin.
	Start float64

	// Limit is the configured total tracking time in seconds.
	Limit float64

	// Area is the device active area in cm^2.
	Area float64

	// Samples is the ordered record of every measurement cycle.
	Samples []Sample

	sinks []SampleSink
}

// NewSession creates a session with the given run time limit and device
// area.  Sinks receive every recorded sample in order of registration.
func NewSession(limit, area float64, sinks ...SampleSink) *Session {
	return &Session{Limit: limit, Area: area, sinks: sinks}
}

// Begin marks the session start on the instrument clock.
func (s *Session) Begin(t float64) {
	s.Start = t
}

// Record appends a sample for the raw reading (v, i, t), deriving current
// density and efficiency, and forwards it to every sink.
func (s *Session) Record(v, i, t float64) Sample {
	j := i * 1000 / s.Area
	smp := Sample{
		Elapsed:        t - s.Start,
		Voltage:        v,
		Current:        i,
		CurrentDensity: math.Abs(j),
		// Pout/Pin = v*j / 100 mW/cm^2; the 100 cancels against the
		// conversion to percent.
		Efficiency: math.Abs(v * j),
	}
	s.Samples = append(s.Samples, smp)
	for _, sink := range s.sinks {
		sink.Sample(smp)
	}
	return smp
}

// Exceeded reports whether the instrument timestamp t is past the session's
// run time limit.  It is pure: repeated calls with the same t agree.
func (s *Session) Exceeded(t float64) bool {
	return t-s.Start > s.Limit
}

// LogSink writes one append-only text line per sample: elapsed seconds,
// voltage, current.  Writes go straight to the underlying writer, so an
// os.File is flushed at the syscall boundary on every sample.
type LogSink struct {
	W io.Writer
}

// Sample writes the log line for one sample.
func (l LogSink) Sample(s Sample) {
	fmt.Fprintf(l.W, "%g, %g, %g\n", s.Elapsed, s.Voltage, s.Current)
}
