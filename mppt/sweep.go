package mppt

import (
	"context"
	"fmt"
	"math"
	"time"
)

// SweepResult is the raw outcome of the initial Voc to 0 sweep.  It is
// transient: callers consume it to populate a Device and to render the
// static I-V / P-V curves.
type SweepResult struct {
	// Voltages and Currents are the sampled pairs in sweep order
	// (Voc first, 0 V last).
	Voltages []float64 `json:"voltages"`
	Currents []float64 `json:"currents"`

	// Powers is |v*i| elementwise.
	Powers []float64 `json:"powers"`

	// MaxIndex is the argmax of Powers; the first index wins ties.
	MaxIndex int `json:"maxIndex"`
}

// AnalyzeSweep computes elementwise absolute power and its argmax from
// parallel voltage and current samples.  An all-zero power curve (device in
// the dark) yields MaxIndex 0, which collapses Vmpp to the first sample;
// that is a defined degenerate outcome, not an error.
func AnalyzeSweep(v, i []float64) SweepResult {
	n := len(v)
	res := SweepResult{Voltages: v, Currents: i, Powers: make([]float64, n)}
	for k := 0; k < n; k++ {
		res.Powers[k] = math.Abs(v[k] * i[k])
		if res.Powers[k] > res.Powers[res.MaxIndex] {
			res.MaxIndex = k
		}
	}
	return res
}

// MeasureVoc holds the device at zero forced current for the stabilization
// delay, then performs one open-circuit voltage reading.  The output is
// returned to off before the function returns on every path.  A read
// failure propagates; the caller must not proceed with an undefined Voc.
func MeasureVoc(ctx context.Context, inst Instrument) (float64, error) {
	if err := inst.PrepareVoc(); err != nil {
		return 0, err
	}
	if err := inst.Output(true); err != nil {
		return 0, err
	}
	defer inst.Output(false)

	select {
	case <-time.After(VocSettleSeconds * time.Second):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	voc, _, _, err := inst.Read()
	if err != nil {
		return 0, fmt.Errorf("mppt: Voc measurement: %w", err)
	}
	return voc, nil
}

// FindInitialMPP sweeps the source from voc down to 0 V and derives the
// device's initial electrical state: Isc from the final (zero voltage)
// sample, Vmpp from the power argmax, and the step size read back from the
// instrument so it matches the actual quantization.
func FindInitialMPP(ctx context.Context, inst Instrument, voc float64) (Device, SweepResult, error) {
	var dev Device
	if err := ctx.Err(); err != nil {
		return dev, SweepResult{}, err
	}
	if err := inst.ConfigureSweep(voc, SweepPoints, SweepDelay, SweepCompliance); err != nil {
		return dev, SweepResult{}, err
	}
	step, err := inst.VoltageStep()
	if err != nil {
		return dev, SweepResult{}, err
	}
	if step <= 0 {
		return dev, SweepResult{}, fmt.Errorf("mppt: instrument reported non-positive step %g", step)
	}
	if err := inst.Output(true); err != nil {
		return dev, SweepResult{}, err
	}
	defer inst.Output(false)

	v, i, err := inst.AcquireSweep(SweepPoints)
	if err != nil {
		return dev, SweepResult{}, fmt.Errorf("mppt: sweep acquisition: %w", err)
	}
	res := AnalyzeSweep(v, i)
	dev = Device{
		Voc:  voc,
		Isc:  i[len(i)-1],
		Vmpp: v[res.MaxIndex],
		Step: step,
	}
	return dev, res, nil
}
