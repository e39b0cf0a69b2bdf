package power

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultPin is the Raspberry Pi GPIO wired to the REV7 supply switch
// (header pin 11).
const DefaultPin = "GPIO17"

var (
	hostOnce sync.Once
	hostErr  error
)

// GPIOLine drives a GPIO pin through periph.io.
type GPIOLine struct {
	pin       gpio.PinIO
	activeLow bool
}

// OpenGPIO resolves the named pin. With activeLow, a low output powers the
// device, which is how the bench switch is wired.
func OpenGPIO(name string, activeLow bool) (*GPIOLine, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, fmt.Errorf("gpio host init: %w", hostErr)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return &GPIOLine{pin: pin, activeLow: activeLow}, nil
}

// Set implements Line.
func (l *GPIOLine) Set(on bool) error {
	return l.pin.Out(gpio.Level(on != l.activeLow))
}

// Close implements Line.
func (l *GPIOLine) Close() error {
	return l.pin.Halt()
}

// MemLine is a Line kept in memory, for dry runs and tests.
// OnChange, when set, is called after every level change.
type MemLine struct {
	OnChange func(on bool)

	history []bool
	closed  bool
	lock    sync.Mutex
}

// Set implements Line.
func (l *MemLine) Set(on bool) error {
	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		return fmt.Errorf("power line closed")
	}
	l.history = append(l.history, on)
	fn := l.OnChange
	l.lock.Unlock()
	if fn != nil {
		fn(on)
	}
	return nil
}

// Close implements Line.
func (l *MemLine) Close() error {
	l.lock.Lock()
	l.closed = true
	l.lock.Unlock()
	return nil
}

// History returns every level set so far.
func (l *MemLine) History() []bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]bool(nil), l.history...)
}

// Closed reports whether Close was called.
func (l *MemLine) Closed() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.closed
}
