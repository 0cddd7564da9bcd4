/*Package mppt implements maximum power point tracking of a photovoltaic
device under test on a source-measure instrument.

Operation has three phases.  First the device's open-circuit voltage is
measured at zero forced current.  Second, a linear voltage sweep from Voc
down to 0 V locates the initial maximum power voltage and the instrument's
step quantization.  Third, a perturb-and-observe loop walks the source up to
the located voltage and then hunts around the true maximum indefinitely,
bounded by the session's run time limit or cancellation.

The package speaks to hardware only through the Instrument interface; the
keithley package provides the production implementation.
*/
package mppt

import "fmt"

// Sweep and stabilization constants of the measurement procedure.  These are
// fixed properties of the bench protocol, not tunables.
const (
	// SweepPoints is the number of samples in the initial Voc to 0 sweep.
	SweepPoints = 600

	// SweepCompliance is the current limit in amps protecting the device
	// during the sweep.
	SweepCompliance = 0.04

	// SweepDelay is the per-point source settling delay in seconds.
	SweepDelay = 0.05

	// VocSettleSeconds is how long the device floats at zero current
	// before the open-circuit voltage is read.
	VocSettleSeconds = 5
)

// Instrument is the measurement port: a source-measure unit that can force
// a voltage, read back (voltage, current, timestamp) triples, and run a
// buffered linear sweep.  All calls block until the instrument responds.
type Instrument interface {
	// PrepareVoc configures zero forced current for an open-circuit
	// voltage measurement.
	PrepareVoc() error

	// ConfigureSweep programs a linear sweep from start down to 0 V.
	ConfigureSweep(start float64, points int, delay, compliance float64) error

	// VoltageStep reads back the instrument's actual sweep quantization.
	VoltageStep() (float64, error)

	// PrepareTracking configures fixed-voltage sourcing with single
	// point triggers.
	PrepareTracking() error

	// SetVoltage sets the fixed source voltage.
	SetVoltage(v float64) error

	// Read triggers one measurement, returning sensed voltage, current,
	// and the instrument timestamp in seconds.
	Read() (v, i, t float64, err error)

	// AcquireSweep runs the programmed sweep and returns parallel
	// voltage and current slices of the requested length.
	AcquireSweep(points int) (v, i []float64, err error)

	// Output switches the source output on or off.
	Output(on bool) error
}

// Device is the electrical state of the device under test.  Voc and Isc are
// set exactly once per session by the initial sweep; Vmpp is updated by the
// tracking loop and always satisfies 0 <= Vmpp <= Voc; Step is positive
// once set.
type Device struct {
	Voc  float64 // open-circuit voltage, volts
	Isc  float64 // short-circuit current, amps
	Vmpp float64 // present maximum power voltage estimate, volts
	Step float64 // instrument voltage quantization, volts
}

func (d Device) String() string {
	return fmt.Sprintf("Voc=%.4f V Isc=%.4g A Vmpp=%.4f V step=%.4g V",
		d.Voc, d.Isc, d.Vmpp, d.Step)
}
