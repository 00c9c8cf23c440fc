// Package scheduler runs a function on a fixed interval in the background.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrStopTimeout is returned by Stop when the in-flight run outlives the
// stop timeout.
var ErrStopTimeout = errors.New("scheduler: timed out waiting for task to stop")

// Task invokes fn once on Start and then on every tick until stopped. A run
// that fails or panics is logged and the schedule continues.
type Task struct {
	name        string
	interval    time.Duration
	fn          func(ctx context.Context) error
	clock       clockwork.Clock
	logger      *slog.Logger
	stopTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a task. A nil clock uses the real clock.
func New(name string, interval time.Duration, fn func(ctx context.Context) error, clock clockwork.Clock, logger *slog.Logger, stopTimeout time.Duration) *Task {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Task{
		name:        name,
		interval:    interval,
		fn:          fn,
		clock:       clock,
		logger:      logger.With("task", name),
		stopTimeout: stopTimeout,
	}
}

// Start launches the loop. Starting a running task is a no-op. The loop also
// ends when ctx is cancelled.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.done)
}

// Stop cancels the loop and waits up to the stop timeout for an in-flight run
// to return.
func (t *Task) Stop() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		t.logger.Info("task stopped")
		return nil
	case <-t.clock.After(t.stopTimeout):
		t.logger.Warn("task did not stop in time", "timeout", t.stopTimeout)
		return ErrStopTimeout
	}
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t.logger.Info("task started", "interval", t.interval)

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	t.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.runOnce(ctx)
		}
	}
}

func (t *Task) runOnce(ctx context.Context) {
	start := t.clock.Now()
	if err := t.safeRun(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Error("task run failed", "error", err, "duration", t.clock.Since(start))
		return
	}
	t.logger.Debug("task run complete", "duration", t.clock.Since(start))
}

func (t *Task) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(ctx)
}
