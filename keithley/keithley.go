// Package keithley provides a driver for Keithley 2400 series sourcemeters.
//
// The 2400 is used as a source-measure unit: it forces a voltage (or
// current) on the device under test and senses voltage, current, and the
// instrument timestamp concurrently.  Communication is SCPI over a terminal
// server (TCP) or RS-232.
package keithley

import (
	"fmt"
	"math"
	"time"

	"github.com/epmm-lab/pvtrack/comm"
	"github.com/epmm-lab/pvtrack/scpi"
	"github.com/tarm/serial"
)

// Sourcemeter2400 is a remote interface to a Keithley 2400 sourcemeter.
type Sourcemeter2400 struct {
	scpi.SCPI
}

// New creates a new Sourcemeter2400 connected over TCP, e.g. through a digi
// portserver fronting the instrument's RS-232 port.
func New(addr string) *Sourcemeter2400 {
	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	return &Sourcemeter2400{scpi.SCPI{Pool: pool}}
}

// NewSerial creates a new Sourcemeter2400 connected over a local RS-232
// port.
func NewSerial(conf *serial.Config) *Sourcemeter2400 {
	maker := comm.SerialConnMaker(conf)
	pool := comm.NewPool(1, time.Hour, maker)
	return &Sourcemeter2400{scpi.SCPI{Pool: pool}}
}

// Initialize resets the instrument and configures concurrent V/I sensing
// with voltage, current, timestamp readback elements.  Call once before any
// measurement.
func (k *Sourcemeter2400) Initialize() error {
	cmds := []string{
		"*RST",
		":trace:clear",
		":system:azero on",
		":sense:function:concurrent on",
		`:sense:function "current:dc", "voltage:dc"`,
		":format:elements voltage,current,time",
	}
	for _, cmd := range cmds {
		if err := k.Write(cmd); err != nil {
			return fmt.Errorf("keithley: initialize: %w", err)
		}
	}
	return nil
}

// PrepareVoc configures the instrument to force zero current so the device
// floats at its open-circuit voltage.  Output is left off; turn it on and
// allow the device to stabilize before reading.
func (k *Sourcemeter2400) PrepareVoc() error {
	cmds := []string{
		":source:function current",
		":source:current:mode fixed",
		":source:current:range min",
		":source:current 0",
		":sense:voltage:protection 10",
		":sense:voltage:range 10",
		":sense:voltage:nplcycles 1",
		":sense:current:nplcycles 1",
		":display:digits 7",
	}
	for _, cmd := range cmds {
		if err := k.Write(cmd); err != nil {
			return fmt.Errorf("keithley: prepare Voc: %w", err)
		}
	}
	return nil
}

// ConfigureSweep programs a linear voltage sweep from start down to 0 V
// with the given number of points, per-point source delay, and current
// compliance.  The instrument quantizes the sweep; read the actual step
// with VoltageStep.
func (k *Sourcemeter2400) ConfigureSweep(start float64, points int, delay, compliance float64) error {
	cmds := []string{
		":source:function voltage",
		":source:voltage:mode sweep",
		":source:sweep:spacing linear",
		fmt.Sprintf(":source:delay %.3f", delay),
		fmt.Sprintf(":trigger:count %d", points),
		fmt.Sprintf(":source:sweep:points %d", points),
		fmt.Sprintf(":source:voltage:start %.4f", start),
		":source:voltage:stop 0.0000",
		fmt.Sprintf(":source:voltage:range %.4f", start),
		":source:sweep:ranging best",
		fmt.Sprintf(":sense:current:protection %.6f", compliance),
		fmt.Sprintf(":sense:current:range %.6f", compliance),
		":sense:voltage:nplcycles 0.5",
		":sense:current:nplcycles 0.5",
		":display:digits 5",
		fmt.Sprintf(":source:voltage %.4f", start),
	}
	for _, cmd := range cmds {
		if err := k.Write(cmd); err != nil {
			return fmt.Errorf("keithley: configure sweep: %w", err)
		}
	}
	return nil
}

// VoltageStep reads back the voltage increment of the programmed sweep,
// which is the instrument's actual quantization of the requested span.
func (k *Sourcemeter2400) VoltageStep() (float64, error) {
	step, err := k.ReadFloat(":source:voltage:step?")
	if err != nil {
		return 0, fmt.Errorf("keithley: step readback: %w", err)
	}
	return math.Abs(step), nil
}

// PrepareTracking switches the source to fixed-voltage mode with single
// point triggering, the configuration used for perturb and observe cycles.
func (k *Sourcemeter2400) PrepareTracking() error {
	cmds := []string{
		":source:voltage:mode fixed",
		":trigger:count 1",
	}
	for _, cmd := range cmds {
		if err := k.Write(cmd); err != nil {
			return fmt.Errorf("keithley: prepare tracking: %w", err)
		}
	}
	return nil
}

// SetVoltage sets the fixed source voltage.
func (k *Sourcemeter2400) SetVoltage(v float64) error {
	return k.Write(fmt.Sprintf(":source:voltage %.4f", v))
}

// Output turns the instrument output on or off.
func (k *Sourcemeter2400) Output(on bool) error {
	if on {
		return k.Write(":output on")
	}
	return k.Write(":output off")
}

// Idle returns the instrument to a de-energized safe state.
func (k *Sourcemeter2400) Idle() error {
	return k.Output(false)
}

// Read triggers one measurement and returns the sensed voltage, current,
// and the instrument timestamp in seconds.
func (k *Sourcemeter2400) Read() (v, i, t float64, err error) {
	vals, err := k.ReadFloats("READ?")
	if err != nil {
		return 0, 0, 0, err
	}
	if len(vals) != 3 {
		return 0, 0, 0, fmt.Errorf("keithley: READ? returned %d elements, expected 3", len(vals))
	}
	return vals[0], vals[1], vals[2], nil
}

// AcquireSweep triggers the programmed sweep and blocks until the full
// buffer is returned, then unpacks it into parallel voltage and current
// slices.  points must match the configured sweep length.
func (k *Sourcemeter2400) AcquireSweep(points int) (v, i []float64, err error) {
	vals, err := k.ReadFloats("READ?")
	if err != nil {
		return nil, nil, err
	}
	if len(vals)%3 != 0 {
		return nil, nil, fmt.Errorf("keithley: sweep buffer length %d is not a multiple of 3", len(vals))
	}
	n := len(vals) / 3
	if n != points {
		return nil, nil, fmt.Errorf("keithley: sweep returned %d points, expected %d", n, points)
	}
	v = make([]float64, n)
	i = make([]float64, n)
	for j := 0; j < n; j++ {
		v[j] = vals[3*j]
		i[j] = vals[3*j+1]
	}
	return v, i, nil
}

// Close releases the connection pool.
func (k *Sourcemeter2400) Close() error {
	conn, err := k.Pool.Get()
	if err != nil {
		return nil // nothing held open
	}
	k.Pool.Destroy(conn)
	return nil
}
