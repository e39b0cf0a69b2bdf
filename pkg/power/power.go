// Package power switches the supply of the device under provisioning.
package power

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/opentrv/otprovision/pkg/framework"
)

const (
	// DefaultOffDuration is how long the device stays unpowered in a reset.
	// Shorter intervals leave the REV7 in an undefined boot state.
	DefaultOffDuration = 9 * time.Second
	// DefaultSettleDelay gives the device time to print its POST banner.
	DefaultSettleDelay = 500 * time.Millisecond
)

// ErrTooSoon is returned when power would be reasserted before the minimum
// off duration elapsed.
var ErrTooSoon = errors.New("power reasserted before minimum off duration")

// Line is a single digital output gating the device supply.
type Line interface {
	// Set asserts (true) or deasserts (false) power.
	Set(on bool) error
	Close() error
}

// Flusher discards pending input on a link.
type Flusher interface {
	Flush() error
}

// Controller owns the power line of the primary device.
type Controller struct {
	OffDuration time.Duration
	SettleDelay time.Duration
	Clock       fx.Clock

	line    Line
	on      bool
	offAt   time.Time
	offSeen bool
	lock    sync.Mutex
}

// NewController creates a Controller with default timing.
func NewController(line Line) *Controller {
	return &Controller{
		OffDuration: DefaultOffDuration,
		SettleDelay: DefaultSettleDelay,
		Clock:       fx.SystemClock,
		line:        line,
	}
}

// IsOn reports the last asserted state.
func (c *Controller) IsOn() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.on
}

// On asserts power. It fails with ErrTooSoon if the line was switched off
// less than OffDuration ago.
func (c *Controller) On() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.on {
		return nil
	}
	if c.offSeen {
		if off := c.Clock.Time().Sub(c.offAt); off < c.OffDuration {
			glog.Errorf("power on after %v off, need %v", off, c.OffDuration)
			return ErrTooSoon
		}
	}
	if err := c.line.Set(true); err != nil {
		return err
	}
	c.on = true
	glog.V(2).Info("power on")
	return nil
}

// Off deasserts power.
func (c *Controller) Off() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.line.Set(false); err != nil {
		return err
	}
	if c.on || !c.offSeen {
		c.offAt = c.Clock.Time()
		c.offSeen = true
	}
	c.on = false
	glog.V(2).Info("power off")
	return nil
}

// ResetCycle power cycles the device: off, wait OffDuration, flush stale
// input of the link attached to the device, on, wait SettleDelay.
// If ctx is done while waiting, power stays off.
func (c *Controller) ResetCycle(ctx context.Context, link Flusher) error {
	glog.Infof("reset cycle: off for %v", c.OffDuration)
	if err := c.Off(); err != nil {
		return err
	}
	if err := c.Clock.Sleep(ctx, c.OffDuration); err != nil {
		return err
	}
	if link != nil {
		if err := link.Flush(); err != nil {
			return err
		}
	}
	if err := c.On(); err != nil {
		return err
	}
	return c.Clock.Sleep(ctx, c.SettleDelay)
}

// Close deasserts power and releases the line.
func (c *Controller) Close() error {
	var errs fx.AggregatedError
	errs.Add(c.Off(), c.line.Close())
	return errs.Aggregate()
}
