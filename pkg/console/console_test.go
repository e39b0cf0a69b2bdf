package console

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/opentrv/otprovision/pkg/session"
)

func newTestConsole() (*Console, *bytes.Buffer) {
	color.NoColor = true
	var buf bytes.Buffer
	return &Console{Out: &buf}, &buf
}

func TestConsoleTraffic(t *testing.T) {
	c, buf := newTestConsole()
	c.LineWritten("REV7", "K B 01 02 03")
	c.LineRead("REV7", "OK\r\n")
	assert.Equal(t, "REV7> K <redacted>\nREV7: \"OK\\r\\n\"\n", buf.String())

	buf.Reset()
	c.Quiet = true
	c.LineRead("REV7", "OK\r\n")
	assert.Empty(t, buf.String())
}

func TestConsoleStates(t *testing.T) {
	c, buf := newTestConsole()
	c.StateChanged(session.IDAcquired, "a1 b2")
	c.StateChanged(session.KeySet, "")
	c.StateChanged(session.Succeeded, "7700")
	assert.Equal(t, "==== IdAcquired: a1 b2 ====\n==== KeySet ====\n", buf.String())
}

func TestConsoleOutcome(t *testing.T) {
	c, buf := newTestConsole()
	c.Outcome(session.Outcome{State: session.Succeeded, SerialNumber: "7700", ID: "a1 b2"})
	c.Outcome(session.Outcome{State: session.Failed, SerialNumber: "7701", Reason: "key does not match"})
	c.Warn("port %s busy", "/dev/ttyUSB0")
	c.Error(errors.New("boom"))
	assert.Equal(t, "SUCCESS 7700 -> a1 b2\n"+
		"FAILED 7701: key does not match\n"+
		"WARNING: port /dev/ttyUSB0 busy\n"+
		"ERROR: boom\n", buf.String())
}
