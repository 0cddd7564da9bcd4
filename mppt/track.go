package mppt

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Tracker runs the perturb-and-observe feedback loop.  It owns the Device
// state for the duration of Run; no other goroutine may touch it.
type Tracker struct {
	inst    Instrument
	dev     Device
	session *Session
	log     zerolog.Logger
}

// NewTracker creates a tracker for the device state found by the initial
// sweep.  The logger receives phase transitions and per-cycle debug lines.
func NewTracker(inst Instrument, dev Device, session *Session, log zerolog.Logger) *Tracker {
	return &Tracker{inst: inst, dev: dev, session: session, log: log}
}

// Device returns the current device state, including the live Vmpp
// estimate.
func (t *Tracker) Device() Device {
	return t.dev
}

// WalkInCycles is the number of walk-in steps from 0 V to vmpp at the given
// step size: ceil(vmpp/step).  The small bias keeps float rounding from
// adding a spurious extra cycle when vmpp is an exact multiple of step.
func WalkInCycles(vmpp, step float64) int {
	if vmpp <= 0 || step <= 0 {
		return 0
	}
	return int(math.Ceil(vmpp/step - 1e-9))
}

// NextDirection returns the perturbation direction for the next cycle.
// Strictly greater power keeps the current direction; anything else,
// including equal power, reverses it.  Equality reversing is what produces
// the one-step hunting oscillation around a flat maximum.
func NextDirection(power, previousPower, direction float64) float64 {
	if power > previousPower {
		return direction
	}
	return -direction
}

// clamp keeps the Vmpp estimate inside the physical interval [0, Voc].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Run executes the walk-in and tracking phases until the session's run time
// limit is exceeded or ctx is cancelled (both return nil), or a measurement
// fails (returns the error).  The caller owns shutdown: returning the
// instrument output to a safe state and closing the shutter happen on its
// cleanup path regardless of how Run exits.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.inst.PrepareTracking(); err != nil {
		return fmt.Errorf("mppt: tracking setup: %w", err)
	}
	// the sweep de-energizes the source on completion; tracking needs it
	// forcing voltage again for every measurement that follows.
	if err := t.inst.Output(true); err != nil {
		return fmt.Errorf("mppt: output on: %w", err)
	}
	// priming read: establishes the session start on the instrument clock
	// and seeds the power comparison if the walk-in is empty.
	v, i, t0, err := t.inst.Read()
	if err != nil {
		return fmt.Errorf("mppt: priming read: %w", err)
	}
	t.session.Begin(t0)

	t.log.Info().Float64("vmpp", t.dev.Vmpp).Float64("step", t.dev.Step).
		Msg("walking in to the initial Vmpp")
	cycles := WalkInCycles(t.dev.Vmpp, t.dev.Step)
	for c := 0; c < cycles; c++ {
		if ctx.Err() != nil {
			return nil
		}
		// computed, not accumulated, so the cycle count is exact
		vset := float64(c) * t.dev.Step
		if err := t.inst.SetVoltage(vset); err != nil {
			return fmt.Errorf("mppt: walk-in set: %w", err)
		}
		var tx float64
		v, i, tx, err = t.inst.Read()
		if err != nil {
			return fmt.Errorf("mppt: walk-in read: %w", err)
		}
		smp := t.session.Record(v, i, tx)
		t.log.Debug().Float64("t", smp.Elapsed).Float64("v", v).Float64("i", i).Msg("walk-in")
		if t.session.Exceeded(tx) {
			return nil
		}
	}

	if err := t.inst.SetVoltage(t.dev.Vmpp); err != nil {
		return fmt.Errorf("mppt: set Vmpp: %w", err)
	}
	t.log.Info().Msg("device at Vmpp, beginning MPP tracking")

	previous := math.Abs(v * i)
	direction := 1.0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := t.inst.SetVoltage(t.dev.Vmpp); err != nil {
			return fmt.Errorf("mppt: tracking set: %w", err)
		}
		v, i, tx, err := t.inst.Read()
		if err != nil {
			return fmt.Errorf("mppt: tracking read: %w", err)
		}
		power := math.Abs(v * i)
		smp := t.session.Record(v, i, tx)
		t.log.Debug().Float64("t", smp.Elapsed).Float64("v", v).
			Float64("i", i).Float64("p", power).Msg("track")
		if t.session.Exceeded(tx) {
			return nil
		}

		// a non-improving reading reverses and immediately steps in the
		// new direction, a two-step net excursion per reversal.  The
		// bench has always behaved this way; keep it.
		direction = NextDirection(power, previous, direction)
		t.dev.Vmpp = clamp(t.dev.Vmpp+direction*t.dev.Step, 0, t.dev.Voc)
		previous = power
	}
}
