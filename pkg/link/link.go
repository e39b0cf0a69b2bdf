// Package link provides the prompt driven line dialogue with a device over
// a serial port.
//
// All reads are bounded: a port read returning no data is a timeout, and a
// line which does not complete within ReadTimeout is returned partially.
// Waiting for the command prompt is bounded by PromptTimeout.
package link

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/opentrv/otprovision/pkg/device"
	fx "github.com/opentrv/otprovision/pkg/framework"
)

const (
	// DefaultReadTimeout bounds a single line read.
	DefaultReadTimeout = 2 * time.Second
	// DefaultPromptTimeout bounds waiting for the prompt before a command.
	DefaultPromptTimeout = 10 * time.Second
	// DefaultCLIRetries is how many extra blank lines WaitForCLI sends.
	DefaultCLIRetries = 5
)

var (
	// ErrTimeout indicates nothing was received before the read timed out.
	ErrTimeout = errors.New("read timeout")
	// ErrNoPrompt indicates the device never printed its prompt.
	ErrNoPrompt = errors.New("no command prompt")
	// ErrClosed indicates the link was closed.
	ErrClosed = errors.New("link closed")
)

// Port is the byte channel to a device.
// Read returns 0 bytes and no error when its timeout elapses.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// readTimeouter is implemented by ports whose read timeout can change,
// such as go.bug.st/serial ports.
type readTimeouter interface {
	SetReadTimeout(time.Duration) error
}

// Observer is told about every line passing through a link.
type Observer interface {
	LineRead(link, line string)
	LineWritten(link, line string)
}

// Link is a line oriented channel to one device.
// It is not safe for concurrent dialogues; the lock only guards Close.
type Link struct {
	Name          string
	Path          string
	ReadTimeout   time.Duration
	PromptTimeout time.Duration
	CLIRetries    int
	Clock         fx.TimeSource
	Observer      Observer

	port    Port
	pending []byte
	buf     [256]byte
	closed  bool
	lock    sync.Mutex
}

// New wraps an opened port.
func New(name string, port Port) *Link {
	return &Link{
		Name:          name,
		ReadTimeout:   DefaultReadTimeout,
		PromptTimeout: DefaultPromptTimeout,
		CLIRetries:    DefaultCLIRetries,
		Clock:         fx.SystemClock,
		port:          port,
	}
}

// IsOpen reports whether the link is still open.
func (l *Link) IsOpen() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return !l.closed
}

// Close closes the port. Closing twice is a no-op.
func (l *Link) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	glog.V(2).Infof("%s: close %s", l.Name, l.Path)
	return l.port.Close()
}

// Flush discards input not read yet.
func (l *Link) Flush() error {
	if !l.IsOpen() {
		return ErrClosed
	}
	if len(l.pending) > 0 {
		glog.V(3).Infof("%s: flush %q", l.Name, l.pending)
	}
	l.pending = nil
	return l.port.ResetInputBuffer()
}

// SendCommand waits for the prompt byte and then writes cmd and a newline.
// Everything received before the prompt is discarded.
func (l *Link) SendCommand(cmd string) error {
	deadline := l.Clock.Time().Add(l.PromptTimeout)
	for {
		if pos := bytes.IndexByte(l.pending, device.Prompt); pos >= 0 {
			if pos > 0 {
				glog.V(3).Infof("%s: skip %q", l.Name, l.pending[:pos])
			}
			l.pending = l.pending[pos+1:]
			break
		}
		if len(l.pending) > 0 {
			glog.V(3).Infof("%s: skip %q", l.Name, l.pending)
			l.pending = l.pending[:0]
		}
		if l.PromptTimeout > 0 && !l.Clock.Time().Before(deadline) {
			glog.Errorf("%s: no prompt in %v before %q", l.Name, l.PromptTimeout, device.Redact(cmd))
			return ErrNoPrompt
		}
		if _, err := l.fill(); err != nil {
			return err
		}
	}
	return l.writeLine(cmd)
}

// WaitForCLI writes blank lines until the device answers with a bare prompt
// line or CLIRetries extra attempts are used. Lines seen meanwhile are passed
// to the Observer. It reports whether the prompt was seen.
func (l *Link) WaitForCLI() (bool, error) {
	line, err := l.exchangeBlank()
	for n := 0; line != device.PromptLine && n < l.CLIRetries; n++ {
		if err != nil {
			return false, err
		}
		line, err = l.exchangeBlank()
	}
	if err != nil {
		return false, err
	}
	ready := line == device.PromptLine
	if !ready {
		glog.Warningf("%s: CLI prompt not seen after %d attempts", l.Name, l.CLIRetries+1)
	}
	return ready, nil
}

func (l *Link) exchangeBlank() (string, error) {
	if err := l.writeLine(""); err != nil {
		return "", err
	}
	line, err := l.ReadLine()
	if err == ErrTimeout {
		err = nil
	}
	return line, err
}

// ReadLine reads one line including its terminator. A line cut short by
// the read timeout is returned as is; ErrTimeout means nothing arrived.
func (l *Link) ReadLine() (string, error) {
	return l.ReadLineWithin(l.ReadTimeout)
}

// ReadLineWithin is ReadLine bounded by the shorter of d and ReadTimeout.
func (l *Link) ReadLineWithin(d time.Duration) (string, error) {
	if l.ReadTimeout > 0 && (d <= 0 || d > l.ReadTimeout) {
		d = l.ReadTimeout
	}
	if d > 0 && d < l.ReadTimeout {
		if rt, ok := l.port.(readTimeouter); ok && rt.SetReadTimeout(d) == nil {
			defer rt.SetReadTimeout(l.ReadTimeout)
		}
	}
	deadline := l.Clock.Time().Add(d)
	for {
		if pos := bytes.IndexByte(l.pending, '\n'); pos >= 0 {
			return l.takeLine(pos + 1), nil
		}
		got, err := l.fill()
		if err != nil {
			return "", err
		}
		if !got || (d > 0 && !l.Clock.Time().Before(deadline)) {
			if pos := bytes.IndexByte(l.pending, '\n'); pos >= 0 {
				return l.takeLine(pos + 1), nil
			}
			if len(l.pending) == 0 {
				glog.V(3).Infof("%s: read timeout", l.Name)
				return "", ErrTimeout
			}
			return l.takeLine(len(l.pending)), nil
		}
	}
}

// ReadLines reads up to n lines, stopping early at the first timeout.
// Short reads are normal and not an error.
func (l *Link) ReadLines(n int) ([]string, error) {
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, err := l.ReadLine()
		if err == ErrTimeout {
			break
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// ReadEach makes n independent reads, each with its own timeout. A read
// that times out yields an empty line, so the result always has n lines.
func (l *Link) ReadEach(n int) ([]string, error) {
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, err := l.ReadLine()
		if err != nil && err != ErrTimeout {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (l *Link) takeLine(n int) string {
	line := string(l.pending[:n])
	l.pending = l.pending[n:]
	if glog.V(2) {
		glog.Infof("%s: < %q", l.Name, device.Redact(line))
	}
	if l.Observer != nil {
		l.Observer.LineRead(l.Name, line)
	}
	return line
}

func (l *Link) fill() (bool, error) {
	if !l.IsOpen() {
		return false, ErrClosed
	}
	n, err := l.port.Read(l.buf[:])
	if n > 0 {
		l.pending = append(l.pending, l.buf[:n]...)
	}
	if err != nil && os.IsTimeout(err) {
		err = nil
	}
	return n > 0, err
}

func (l *Link) writeLine(line string) error {
	if !l.IsOpen() {
		return ErrClosed
	}
	if glog.V(2) {
		glog.Infof("%s: > %q", l.Name, device.Redact(line))
	}
	if l.Observer != nil && line != "" {
		l.Observer.LineWritten(l.Name, line)
	}
	_, err := l.port.Write([]byte(line + "\n"))
	return err
}
