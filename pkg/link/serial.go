package link

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
)

// DefaultBaud is the REV7/REV11 console speed.
const DefaultBaud = 4800

// Config describes a serial link.
type Config struct {
	Name        string
	Path        string
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the serial port (8N1) described by conf.
func Open(conf Config) (*Link, error) {
	baud := conf.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	timeout := conf.ReadTimeout
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	port, err := serial.Open(conf.Path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", conf.Path, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", conf.Path, err)
	}
	glog.Infof("%s: opened %s at %d baud", conf.Name, conf.Path, baud)
	l := New(conf.Name, port)
	l.Path = conf.Path
	l.ReadTimeout = timeout
	return l, nil
}
