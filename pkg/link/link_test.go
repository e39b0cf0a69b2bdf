package link

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fx "github.com/opentrv/otprovision/pkg/framework"
)

// scriptedPort replays chunks on Read. An empty chunk is a read timeout
// which advances the clock by the read timeout. Replies, if set, are
// queued when a complete line is written.
type scriptedPort struct {
	clock   *fx.ManualClock
	timeout time.Duration
	chunks  []string
	replies map[string][]string
	written []string
	partial []byte
	flushed int
	closed  int
	readErr error

	// perChunk is how long each non-empty read takes
	perChunk time.Duration
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.chunks) == 0 {
		p.clock.Advance(p.timeout)
		return 0, nil
	}
	chunk := p.chunks[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		p.chunks[0] = chunk[n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	if n == 0 {
		p.clock.Advance(p.timeout)
	} else {
		p.clock.Advance(p.perChunk)
	}
	return n, nil
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	for _, c := range b {
		if c != '\n' {
			p.partial = append(p.partial, c)
			continue
		}
		line := string(p.partial)
		p.partial = nil
		p.written = append(p.written, line)
		p.chunks = append(p.chunks, p.replies[line]...)
	}
	return len(b), nil
}

func (p *scriptedPort) ResetInputBuffer() error {
	p.flushed++
	p.chunks = nil
	return nil
}

func (p *scriptedPort) Close() error {
	p.closed++
	return nil
}

type observed struct {
	read    []string
	written []string
}

func (o *observed) LineRead(link, line string)    { o.read = append(o.read, link+":"+line) }
func (o *observed) LineWritten(link, line string) { o.written = append(o.written, link+":"+line) }

func newTestLink(chunks ...string) (*Link, *scriptedPort) {
	clock := fx.NewManualClock(time.Date(2016, 11, 18, 0, 0, 0, 0, time.UTC))
	port := &scriptedPort{clock: clock, timeout: DefaultReadTimeout, chunks: chunks}
	l := New("REV7", port)
	l.Clock = clock
	return l, port
}

func TestReadLine(t *testing.T) {
	l, _ := newTestLink("OpenTRV: board", " V0.2 REV7\r\nsec", "ond\r\n", "", "tail")
	line, err := l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "OpenTRV: board V0.2 REV7\r\n", line)

	line, err = l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "second\r\n", line)

	_, err = l.ReadLine()
	assert.Equal(t, ErrTimeout, err)

	// partial line returned on timeout
	line, err = l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "tail", line)
}

func TestReadLinesShortRead(t *testing.T) {
	l, _ := newTestLink("a\r\nb\r\n")
	obs := &observed{}
	l.Observer = obs
	lines, err := l.ReadLines(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a\r\n", "b\r\n"}, lines)
	assert.Equal(t, []string{"REV7:a\r\n", "REV7:b\r\n"}, obs.read)
}

func TestReadLinesError(t *testing.T) {
	l, port := newTestLink()
	port.readErr = errors.New("unplugged")
	_, err := l.ReadLines(1)
	assert.EqualError(t, err, "unplugged")
}

func TestReadLinesSplitAtDeadline(t *testing.T) {
	// both lines land in the read that ends the window
	l, port := newTestLink("a\r\nb\r\n")
	port.perChunk = DefaultReadTimeout
	lines, err := l.ReadLines(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a\r\n", "b\r\n"}, lines)
}

func TestReadLineWithinKeepsPartialTail(t *testing.T) {
	l, port := newTestLink("a\r\nb")
	port.perChunk = DefaultReadTimeout
	line, err := l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "a\r\n", line)
	line, err = l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "b", line)
}

func TestReadEachSurvivesSilentWindow(t *testing.T) {
	l, _ := newTestLink("", "OpenTRV: board V0.2 REV7\r\n")
	lines, err := l.ReadEach(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "OpenTRV: board V0.2 REV7\r\n"}, lines)

	// ReadLines gives up at the first timeout
	l, _ = newTestLink("", "OpenTRV: board V0.2 REV7\r\n")
	lines, err = l.ReadLines(2)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestReadEachError(t *testing.T) {
	l, port := newTestLink("a\r\n")
	lines, err := l.ReadEach(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a\r\n"}, lines)
	port.readErr = errors.New("unplugged")
	_, err = l.ReadEach(2)
	assert.EqualError(t, err, "unplugged")
}

func TestReadLineWithinDeadline(t *testing.T) {
	// a chatty device that never ends its line
	l, port := newTestLink("x", "x", "x", "x", "x")
	port.perChunk = 400 * time.Millisecond
	start := port.clock.Time()
	line, err := l.ReadLineWithin(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "xxx", line)
	assert.Equal(t, 1200*time.Millisecond, port.clock.Time().Sub(start))
	assert.Len(t, port.chunks, 2)
}

func TestSendCommandWaitsForPrompt(t *testing.T) {
	l, port := newTestLink("noise ", "more>", "\r\n")
	obs := &observed{}
	l.Observer = obs
	require.NoError(t, l.SendCommand("I"))
	assert.Equal(t, []string{"I"}, port.written)
	assert.Equal(t, []string{"REV7:I"}, obs.written)

	// bytes after the prompt are kept
	line, err := l.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "\r\n", line)
}

func TestSendCommandPromptTimeout(t *testing.T) {
	l, port := newTestLink("no prompt here\r\n")
	l.PromptTimeout = 5 * time.Second
	start := port.clock.Time()
	assert.Equal(t, ErrNoPrompt, l.SendCommand("I"))
	assert.Empty(t, port.written)
	elapsed := port.clock.Time().Sub(start)
	assert.True(t, elapsed >= 5*time.Second && elapsed < 5*time.Second+DefaultReadTimeout, "elapsed %v", elapsed)
}

func TestWaitForCLI(t *testing.T) {
	l, port := newTestLink()
	port.chunks = []string{"=F0%@18C;\r\n"}
	port.replies = map[string][]string{"": {">\r\n"}}
	obs := &observed{}
	l.Observer = obs
	ready, err := l.WaitForCLI()
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, []string{"", ""}, port.written)
	assert.Equal(t, []string{"REV7:=F0%@18C;\r\n", "REV7:>\r\n"}, obs.read)
}

func TestWaitForCLIGivesUp(t *testing.T) {
	l, port := newTestLink()
	ready, err := l.WaitForCLI()
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Len(t, port.written, DefaultCLIRetries+1)
}

func TestFlushAndClose(t *testing.T) {
	l, port := newTestLink("stale\r\n")
	_, err := l.ReadLineWithin(0)
	require.NoError(t, err)
	port.chunks = []string{"boot chatter"}
	require.NoError(t, l.Flush())
	assert.Equal(t, 1, port.flushed)
	_, err = l.ReadLine()
	assert.Equal(t, ErrTimeout, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, 1, port.closed)
	assert.False(t, l.IsOpen())
	assert.Equal(t, ErrClosed, l.SendCommand("I"))
	_, err = l.ReadLine()
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, ErrClosed, l.Flush())
}
