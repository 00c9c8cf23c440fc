package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitRun(t *testing.T, runs <-chan int) int {
	t.Helper()
	select {
	case n := <-runs:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task run")
		return 0
	}
}

func TestTask_RunsImmediatelyThenOnEveryTick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fc := clockwork.NewFakeClock()
	runs := make(chan int, 10)
	var n atomic.Int32
	task := New("sync", time.Minute, func(context.Context) error {
		runs <- int(n.Add(1))
		return nil
	}, fc, discardLogger(), time.Second)

	task.Start(ctx)
	t.Cleanup(func() { _ = task.Stop() })

	assert.Equal(t, 1, waitRun(t, runs))

	for want := 2; want <= 3; want++ {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(time.Minute)
		assert.Equal(t, want, waitRun(t, runs))
	}
}

func TestTask_FailuresDoNotStopSchedule(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fc := clockwork.NewFakeClock()
	runs := make(chan int, 10)
	var n atomic.Int32
	task := New("sync", time.Minute, func(context.Context) error {
		i := int(n.Add(1))
		runs <- i
		switch i {
		case 1:
			return errors.New("feed unreachable")
		case 2:
			panic("corrupt state")
		}
		return nil
	}, fc, discardLogger(), time.Second)

	task.Start(ctx)
	t.Cleanup(func() { _ = task.Stop() })

	assert.Equal(t, 1, waitRun(t, runs))
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(time.Minute)
	assert.Equal(t, 2, waitRun(t, runs))
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(time.Minute)
	assert.Equal(t, 3, waitRun(t, runs))
}

func TestTask_StopWaitsForInFlightRun(t *testing.T) {
	fc := clockwork.NewFakeClock()
	started := make(chan struct{})
	var finished atomic.Bool
	task := New("sync", time.Minute, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished.Store(true)
		return ctx.Err()
	}, fc, discardLogger(), time.Second)

	task.Start(context.Background())
	<-started

	require.NoError(t, task.Stop())
	assert.True(t, finished.Load())
	assert.NoError(t, task.Stop(), "second stop is a no-op")
}

func TestTask_StopTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fc := clockwork.NewFakeClock()
	started := make(chan struct{})
	release := make(chan struct{})
	task := New("sync", time.Minute, func(context.Context) error {
		close(started)
		<-release
		return nil
	}, fc, discardLogger(), 10*time.Second)
	defer close(release)

	task.Start(ctx)
	<-started

	errCh := make(chan error, 1)
	go func() { errCh <- task.Stop() }()

	// The ticker and Stop's timeout timer.
	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(10 * time.Second)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopTimeout)
	case <-ctx.Done():
		t.Fatal("Stop did not return")
	}
}

func TestTask_StartTwiceIsNoop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	var n atomic.Int32
	runs := make(chan int, 10)
	task := New("sync", time.Minute, func(context.Context) error {
		runs <- int(n.Add(1))
		return nil
	}, fc, discardLogger(), time.Second)

	task.Start(context.Background())
	task.Start(context.Background())
	assert.Equal(t, 1, waitRun(t, runs))
	require.NoError(t, task.Stop())

	select {
	case <-runs:
		t.Fatal("a second loop was started")
	default:
	}
}
