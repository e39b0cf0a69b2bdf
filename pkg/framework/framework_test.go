package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseAllAggregates(t *testing.T) {
	var closed []int
	errA := errors.New("a")
	err := CloseAll(
		closerFunc(func() error { closed = append(closed, 1); return errA }),
		nil,
		closerFunc(func() error { closed = append(closed, 2); return nil }),
		closerFunc(func() error { closed = append(closed, 3); return errors.New("b") }),
	)
	require.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, closed)
	agg, ok := err.(*AggregatedError)
	require.True(t, ok)
	assert.Len(t, agg.Errors, 2)
	assert.Contains(t, err.Error(), "Multiple errors:")

	assert.NoError(t, CloseAll())
	assert.Equal(t, "a", (&AggregatedError{}).Add(errA).Error())
}

func TestRunnerCollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	r := NewRunner()
	err := r.Run(
		NamedRun("ok", RunFunc(func(context.Context) error { return nil })),
		NamedRun("canceled", RunFunc(func(context.Context) error { return context.Canceled })),
		RunFunc(func(context.Context) error { return boom }),
	)
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.NoError(t, r.Wait())
}

func TestRunnerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunnerWith(ctx)
	r.Go(RunFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	cancel()
	assert.NoError(t, r.Wait())
}

func TestManualClock(t *testing.T) {
	start := time.Date(2016, 11, 18, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	require.NoError(t, c.Sleep(context.Background(), 9*time.Second))
	c.Advance(500 * time.Millisecond)
	assert.Equal(t, start.Add(9500*time.Millisecond), c.Time())
	assert.Equal(t, []time.Duration{9 * time.Second}, c.Slept())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, c.Sleep(ctx, time.Second))
	assert.Len(t, c.Slept(), 1)
}

func TestSystemClockSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, SystemClock.Sleep(ctx, time.Hour))
	assert.NoError(t, SystemClock.Sleep(context.Background(), time.Millisecond))
}
