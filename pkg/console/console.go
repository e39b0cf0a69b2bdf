// Package console prints operator progress: device traffic, state
// transitions and the final verdict.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/opentrv/otprovision/pkg/device"
	"github.com/opentrv/otprovision/pkg/session"
)

var (
	sectionFmt = color.New(color.FgBlue, color.Bold).SprintFunc()
	okFmt      = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnFmt    = color.New(color.FgYellow).SprintFunc()
	errFmt     = color.New(color.FgRed, color.Bold).SprintFunc()
	sentFmt    = color.New(color.FgCyan).SprintFunc()
	dimFmt     = color.New(color.Faint).SprintFunc()
)

// Console writes to Out. It implements link.Observer and session.Observer.
type Console struct {
	Out io.Writer
	// Quiet suppresses device traffic.
	Quiet bool

	lock sync.Mutex
}

// New creates a Console on stdout.
func New() *Console {
	return &Console{Out: color.Output}
}

func (c *Console) printf(format string, args ...interface{}) {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, format, args...)
}

// Section starts a block of output.
func (c *Console) Section(title string) {
	c.printf("%s\n", sectionFmt("==== "+title+" ===="))
}

// Info prints a plain message.
func (c *Console) Info(format string, args ...interface{}) {
	c.printf(format+"\n", args...)
}

// Warn prints a warning.
func (c *Console) Warn(format string, args ...interface{}) {
	c.printf("%s %s\n", warnFmt("WARNING:"), fmt.Sprintf(format, args...))
}

// Error prints an error.
func (c *Console) Error(err error) {
	c.printf("%s %v\n", errFmt("ERROR:"), err)
}

// LineRead implements link.Observer.
func (c *Console) LineRead(link, line string) {
	if c.Quiet {
		return
	}
	c.printf("%s %s\n", dimFmt(link+":"), dimFmt(fmt.Sprintf("%q", device.Redact(line))))
}

// LineWritten implements link.Observer.
func (c *Console) LineWritten(link, line string) {
	if c.Quiet {
		return
	}
	c.printf("%s %s\n", dimFmt(link+">"), sentFmt(device.Redact(line)))
}

// StateChanged implements session.Observer.
func (c *Console) StateChanged(state session.State, detail string) {
	switch state {
	case session.Succeeded, session.Failed:
		return
	}
	if detail != "" {
		c.Section(state.String() + ": " + detail)
		return
	}
	c.Section(state.String())
}

// Outcome prints the verdict of a session.
func (c *Console) Outcome(out session.Outcome) {
	if out.Succeeded() {
		c.printf("%s %s -> %s\n", okFmt("SUCCESS"), out.SerialNumber, out.ID)
		return
	}
	reason := out.Reason
	if reason == "" {
		reason = "unknown"
	}
	c.printf("%s %s: %s\n", errFmt("FAILED"), out.SerialNumber, strings.TrimSpace(reason))
}
