package mppt_test

import (
	"context"
	"math"
	"testing"

	"github.com/epmm-lab/pvtrack/mppt"
)

// diode builds a 600 point Voc-to-0 sweep with a single power peak near the
// knee of an idealized J-V curve.
func diodeSweep(voc, isc float64, points int) (v, i []float64) {
	v = make([]float64, points)
	i = make([]float64, points)
	step := voc / float64(points-1)
	for k := 0; k < points; k++ {
		v[k] = voc - float64(k)*step
		// single-diode shape: current magnitude rises toward Isc as the
		// voltage falls
		i[k] = isc * (1 - math.Exp((v[k]-voc)/0.03)*0.999)
	}
	i[points-1] = isc
	return v, i
}

func TestAnalyzeSweepMaxIndexIsArgmax(t *testing.T) {
	v, i := diodeSweep(0.65, -0.020, 600)
	res := mppt.AnalyzeSweep(v, i)
	for k := range res.Powers {
		if res.Powers[k] > res.Powers[res.MaxIndex] {
			t.Fatalf("power[%d]=%g exceeds power[MaxIndex=%d]=%g",
				k, res.Powers[k], res.MaxIndex, res.Powers[res.MaxIndex])
		}
	}
	if res.MaxIndex == 0 || res.MaxIndex == len(v)-1 {
		t.Fatalf("peak at an endpoint (%d) is not a credible diode curve", res.MaxIndex)
	}
}

func TestAnalyzeSweepPowersAreAbsolute(t *testing.T) {
	v := []float64{0.5, 0.25, 0.0}
	i := []float64{-0.01, -0.02, -0.03}
	res := mppt.AnalyzeSweep(v, i)
	want := []float64{0.005, 0.005, 0}
	for k := range want {
		if math.Abs(res.Powers[k]-want[k]) > 1e-15 {
			t.Errorf("power[%d] = %g, want %g", k, res.Powers[k], want[k])
		}
	}
}

func TestAnalyzeSweepDarkDeviceDegeneratesToFirstSample(t *testing.T) {
	v := []float64{0.65, 0.325, 0}
	i := []float64{0, 0, 0}
	res := mppt.AnalyzeSweep(v, i)
	if res.MaxIndex != 0 {
		t.Fatalf("all-zero power must collapse to index 0, got %d", res.MaxIndex)
	}
	if res.Voltages[res.MaxIndex] != 0.65 {
		t.Fatalf("degenerate Vmpp must collapse to the first (Voc) sample")
	}
}

func TestFindInitialMPPEndToEnd(t *testing.T) {
	const (
		voc = 0.65
		isc = -0.020
	)
	v, i := diodeSweep(voc, isc, mppt.SweepPoints)
	// plant a sharp peak so the argmax lands at a known index
	peak := 300
	i[peak] = -0.060

	inst := &fakeInstrument{
		step:   voc / float64(mppt.SweepPoints-1),
		sweepV: v,
		sweepI: i,
		tick:   1,
	}
	dev, res, err := mppt.FindInitialMPP(context.Background(), inst, voc)
	if err != nil {
		t.Fatal(err)
	}
	if res.MaxIndex != peak {
		t.Fatalf("MaxIndex = %d, want %d", res.MaxIndex, peak)
	}
	if dev.Vmpp != v[peak] {
		t.Errorf("Vmpp = %g, want the voltage at the peak, %g", dev.Vmpp, v[peak])
	}
	if dev.Isc != isc {
		t.Errorf("Isc = %g, want the final (0 V) sample current %g", dev.Isc, isc)
	}
	wantStep := voc / 599
	if math.Abs(dev.Step-wantStep) > 1e-12 {
		t.Errorf("step = %g, want the instrument quantization %g", dev.Step, wantStep)
	}
	if dev.Vmpp < 0 || dev.Vmpp > dev.Voc {
		t.Fatalf("invariant violated: Vmpp %g outside [0, %g]", dev.Vmpp, dev.Voc)
	}
	// the output must be returned to off after the sweep
	if len(inst.outputs) < 2 || inst.outputs[len(inst.outputs)-1] {
		t.Fatalf("sweep must de-energize the output on completion, got %v", inst.outputs)
	}
}

func TestFindInitialMPPRejectsNonPositiveStep(t *testing.T) {
	v, i := diodeSweep(0.65, -0.02, mppt.SweepPoints)
	inst := &fakeInstrument{step: 0, sweepV: v, sweepI: i}
	_, _, err := mppt.FindInitialMPP(context.Background(), inst, 0.65)
	if err == nil {
		t.Fatal("a zero step from the instrument must be rejected")
	}
}
