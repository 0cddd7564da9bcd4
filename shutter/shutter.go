// Package shutter controls the solar simulator shutter through one digital
// output line on an SCPI data acquisition unit.
//
// The shutter follows the BNC convention of the bench: line low (false)
// holds the shutter open, line high (true) holds it closed.  Absence of the
// DAQ degrades gracefully; callers receive a Nop controller and operate the
// shutter by hand.
package shutter

import (
	"fmt"
	"time"

	"github.com/epmm-lab/pvtrack/comm"
	"github.com/epmm-lab/pvtrack/scpi"
)

// Shutter is the interface the tracking system sees.  Set(true) closes the
// shutter, Set(false) opens it.
type Shutter interface {
	Set(closed bool) error
	Present() bool
}

// Controller drives one digital line on an SCPI DAQ.
type Controller struct {
	s       scpi.SCPI
	channel string
}

// New dials the DAQ at addr and opens the shutter on the given channel
// (e.g. "101").  A dial or write failure is returned to the caller, which
// should fall back to Nop.
func New(addr, channel string) (*Controller, error) {
	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	c := &Controller{s: scpi.SCPI{Pool: pool}, channel: channel}
	if err := c.Set(false); err != nil {
		return nil, fmt.Errorf("shutter: initial open failed: %w", err)
	}
	return c, nil
}

// Set drives the line; true closes the shutter, false opens it.
func (c *Controller) Set(closed bool) error {
	bit := 0
	if closed {
		bit = 1
	}
	return c.s.Write(fmt.Sprintf(":SOURce:DIGital:DATA %d, (@%s)", bit, c.channel))
}

// Present reports that hardware shutter control is available.
func (c *Controller) Present() bool { return true }

// Close leaves the shutter closed and releases the DAQ.
func (c *Controller) Close() error {
	return c.Set(true)
}

// Nop is the stand-in used when no shutter hardware is reachable.  Every
// operation succeeds without doing anything.
type Nop struct{}

// Set does nothing.
func (Nop) Set(bool) error { return nil }

// Present reports that no hardware shutter is attached.
func (Nop) Present() bool { return false }
