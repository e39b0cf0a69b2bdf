package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fx "github.com/opentrv/otprovision/pkg/framework"
	"github.com/opentrv/otprovision/pkg/link"
	"github.com/opentrv/otprovision/pkg/sim"
)

func newListener() (*Verifier, *sim.Device, *fx.ManualClock) {
	clock := fx.NewManualClock(time.Date(2016, 11, 18, 9, 0, 0, 0, time.UTC))
	dev := sim.NewDevice("REV11", clock)
	dev.IdlePrompt = 0
	dev.SetPower(true)
	l := link.New("REV11", dev)
	l.Clock = clock
	v := NewVerifier(l)
	v.Clock = clock
	return v, dev, clock
}

func noise(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("RX ?? noise %d", i)
	}
	return lines
}

func TestListenMatchAfterNoise(t *testing.T) {
	v, dev, _ := newListener()
	dev.ScheduleEvery(100*time.Millisecond, noise(5)...)
	dev.Schedule(3*time.Second, "RX a1b2c3d4e5f6a7b8 T|19|C5")

	res, err := v.Listen(context.Background(), sim.DefaultID)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 3*time.Second, res.Elapsed)
	// five noise lines, one empty read, then the frame
	assert.Equal(t, 7, res.Lines)
	assert.Equal(t, "RX a1b2c3d4e5f6a7b8 T|19|C5\r\n", res.Line)
}

func TestListenStopsAtLineLimit(t *testing.T) {
	v, dev, _ := newListener()
	dev.ScheduleEvery(50*time.Millisecond, noise(30)...)
	dev.Schedule(5*time.Second, "RX a1b2c3d4e5f6a7b8 T|19|C5")

	res, err := v.Listen(context.Background(), sim.DefaultID)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, 30, res.Lines)
	assert.Equal(t, 1500*time.Millisecond, res.Elapsed)
}

func TestListenStopsAtBudget(t *testing.T) {
	v, _, _ := newListener()

	res, err := v.Listen(context.Background(), sim.DefaultID)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, DefaultListenBudget, res.Elapsed)
	assert.Equal(t, 8, res.Lines)
}

func TestListenIgnoresSpacedID(t *testing.T) {
	v, dev, _ := newListener()
	dev.Schedule(time.Second, "RX "+sim.DefaultID)

	ok, err := v.Verify(context.Background(), sim.DefaultID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListenCanceled(t *testing.T) {
	v, _, _ := newListener()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Listen(ctx, sim.DefaultID)
	assert.Equal(t, context.Canceled, err)
}

func TestListenClosedLink(t *testing.T) {
	v, _, _ := newListener()
	require.NoError(t, v.Link.Close())

	ok, err := v.Verify(context.Background(), sim.DefaultID)
	assert.False(t, ok)
	assert.Equal(t, link.ErrClosed, err)
}
