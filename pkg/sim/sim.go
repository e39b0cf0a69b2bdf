// Package sim simulates the provisioning bench: a REV7 on a switchable
// supply, an always powered REV11 listening for it, and a manual clock so a
// full session runs without real delays.
package sim

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opentrv/otprovision/pkg/device"
	fx "github.com/opentrv/otprovision/pkg/framework"
	"github.com/opentrv/otprovision/pkg/link"
	"github.com/opentrv/otprovision/pkg/power"
)

// DefaultID is the identity a simulated REV7 reports.
const DefaultID = "a1 b2 c3 d4 e5 f6 a7 b8"

type timedLine struct {
	at   time.Time
	line string
}

// Device is a simulated device implementing link.Port.
type Device struct {
	Name string
	// Boot is printed at power on, or BootDelay after it.
	Boot      []string
	BootDelay time.Duration
	ID   string
	Key  string
	// Delay is the start delay parameter.
	Delay string
	Nodes []string
	// IdlePrompt is the period at which an idle device prints '>'.
	IdlePrompt  time.Duration
	ReadTimeout time.Duration
	// Override, when it returns true, replaces the built-in reply to cmd.
	Override func(cmd string) ([]string, bool)

	clock     *fx.ManualClock
	powered   bool
	out       []byte
	partial   []byte
	written   []string
	scheduled []timedLine
	closed    bool
	lock      sync.Mutex
}

// NewDevice creates an unpowered device.
func NewDevice(name string, clock *fx.ManualClock) *Device {
	return &Device{
		Name:        name,
		IdlePrompt:  time.Second,
		ReadTimeout: link.DefaultReadTimeout,
		clock:       clock,
	}
}

// SetPower switches the device supply. Powering on prints the boot lines.
func (d *Device) SetPower(on bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !on {
		d.scheduled = nil
	}
	if on && !d.powered {
		if d.BootDelay > 0 {
			d.schedule(d.BootDelay, d.Boot)
		} else {
			for _, line := range d.Boot {
				d.out = append(d.out, line+"\r\n"...)
			}
		}
	}
	d.powered = on
}

// Schedule prints lines once after is elapsed from now.
func (d *Device) Schedule(after time.Duration, lines ...string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.schedule(after, lines)
}

func (d *Device) schedule(after time.Duration, lines []string) {
	at := d.clock.Time().Add(after)
	for _, line := range lines {
		d.scheduled = append(d.scheduled, timedLine{at: at, line: line})
	}
	sort.SliceStable(d.scheduled, func(i, j int) bool {
		return d.scheduled[i].at.Before(d.scheduled[j].at)
	})
}

// ScheduleEvery prints lines one interval apart, the first one interval
// from now.
func (d *Device) ScheduleEvery(interval time.Duration, lines ...string) {
	for n, line := range lines {
		d.Schedule(time.Duration(n+1)*interval, line)
	}
}

// Written returns the lines received so far.
func (d *Device) Written() []string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]string(nil), d.written...)
}

// HasNode reports whether id (spaces ignored) is a registered node.
func (d *Device) HasNode(id string) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	for _, node := range d.Nodes {
		if device.StripSpaces(node) == device.StripSpaces(id) {
			return true
		}
	}
	return false
}

// Read implements link.Port.
func (d *Device) Read(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return 0, link.ErrClosed
	}
	d.release(d.clock.Time())
	if len(d.out) == 0 {
		wait := d.ReadTimeout
		if d.powered && d.IdlePrompt > 0 {
			wait = d.IdlePrompt
		}
		if next, ok := d.nextScheduled(); ok && !next.After(d.clock.Time().Add(wait)) {
			d.clock.Advance(next.Sub(d.clock.Time()))
			d.release(next)
		} else {
			d.clock.Advance(wait)
			if d.powered && d.IdlePrompt > 0 {
				d.out = append(d.out, device.Prompt)
			}
		}
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

// Write implements link.Port.
func (d *Device) Write(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return 0, link.ErrClosed
	}
	for _, c := range p {
		if c != '\n' {
			d.partial = append(d.partial, c)
			continue
		}
		cmd := strings.TrimSuffix(string(d.partial), "\r")
		d.partial = nil
		d.written = append(d.written, cmd)
		if !d.powered {
			continue
		}
		for _, line := range d.reply(cmd) {
			d.out = append(d.out, line+"\r\n"...)
		}
	}
	return len(p), nil
}

// SetReadTimeout changes how long an empty read takes.
func (d *Device) SetReadTimeout(t time.Duration) error {
	d.lock.Lock()
	d.ReadTimeout = t
	d.lock.Unlock()
	return nil
}

// ResetInputBuffer implements link.Port.
func (d *Device) ResetInputBuffer() error {
	d.lock.Lock()
	d.out = nil
	d.lock.Unlock()
	return nil
}

// Close implements link.Port.
func (d *Device) Close() error {
	d.lock.Lock()
	d.closed = true
	d.lock.Unlock()
	return nil
}

func (d *Device) nextScheduled() (time.Time, bool) {
	if len(d.scheduled) == 0 {
		return time.Time{}, false
	}
	return d.scheduled[0].at, true
}

func (d *Device) release(now time.Time) {
	for len(d.scheduled) > 0 && !d.scheduled[0].at.After(now) {
		d.out = append(d.out, d.scheduled[0].line+"\r\n"...)
		d.scheduled = d.scheduled[1:]
	}
}

func (d *Device) reply(cmd string) []string {
	if d.Override != nil {
		if lines, ok := d.Override(cmd); ok {
			return lines
		}
	}
	switch {
	case cmd == "":
		return []string{">"}
	case cmd == device.CmdSetStartDelay:
		d.Delay = strings.TrimPrefix(cmd, device.CmdQueryStartDelay+" ")
		return []string{cmd}
	case cmd == device.CmdQueryStartDelay:
		return []string{cmd, d.Delay}
	case cmd == device.CmdClearID:
		return []string{cmd, "ID cleared"}
	case cmd == device.CmdQueryID:
		return []string{cmd, "ID: " + d.ID, "OK"}
	case strings.HasPrefix(cmd, "K "):
		d.Key = cmd
		return []string{cmd, "OK"}
	case cmd == device.CmdClearNodes:
		d.Nodes = nil
		return []string{cmd}
	case strings.HasPrefix(cmd, "A "):
		d.Nodes = append(d.Nodes, strings.TrimPrefix(cmd, "A "))
		return []string{cmd}
	}
	return []string{"?"}
}

// Bench wires a simulated REV7 and REV11 to a shared clock and power line.
type Bench struct {
	Clock *fx.ManualClock
	REV7  *Device
	REV11 *Device
	Line  *power.MemLine
	// RelayDelay is when the REV11 reports a frame after REV7 power on.
	RelayDelay time.Duration
}

// NewBench creates a bench whose REV7 reports id.
func NewBench(id string) *Bench {
	clock := fx.NewManualClock(time.Date(2016, 11, 18, 9, 0, 0, 0, time.UTC))
	b := &Bench{
		Clock:      clock,
		REV7:       NewDevice("REV7", clock),
		REV11:      NewDevice("REV11", clock),
		Line:       &power.MemLine{},
		RelayDelay: 3 * time.Second,
	}
	b.REV7.ID = id
	b.REV7.Boot = []string{"", device.BannerREV7 + " 2016/11/18"}
	b.REV11.SetPower(true)
	b.REV11.Boot = []string{"", device.BannerREV11 + " 2016/11/18"}
	b.Line.OnChange = b.powerChanged
	return b
}

func (b *Bench) powerChanged(on bool) {
	b.REV7.SetPower(on)
	if !on {
		return
	}
	b.REV7.lock.Lock()
	id, key := b.REV7.ID, b.REV7.Key
	b.REV7.lock.Unlock()
	b.REV11.lock.Lock()
	paired := key != "" && b.REV11.Key == key
	b.REV11.lock.Unlock()
	if paired && b.REV11.HasNode(id) {
		b.REV11.Schedule(b.RelayDelay, "RX "+device.StripSpaces(id)+" T|19|C5")
	} else {
		b.REV11.Schedule(b.RelayDelay, "RX ?? undecodable frame")
	}
}

// Power creates a controller on the bench line and clock.
func (b *Bench) Power() *power.Controller {
	c := power.NewController(b.Line)
	c.Clock = b.Clock
	return c
}

// Link creates a link to dev on the bench clock.
func (b *Bench) Link(name string, dev *Device) *link.Link {
	l := link.New(name, dev)
	l.Path = "sim:" + dev.Name
	l.Clock = b.Clock
	return l
}
