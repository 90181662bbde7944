// Package clock provides the injected time source and the periodic-task
// abstraction used by every background monitor in groundsync.
//
// Production code uses [Real]; tests substitute a clockwork.FakeClock and
// drive monitors deterministically with Advance.
package clock

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/groundsync/internal/logging"
)

// Clock is the time source injected into monitors and coordinators.
type Clock = clockwork.Clock

// Real returns a Clock backed by the system time.
func Real() Clock {
	return clockwork.NewRealClock()
}

// OrReal returns c, or the real clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}

// Run calls fn every interval until ctx is done. It blocks and returns
// ctx.Err(). A panic inside fn is recovered and logged; the loop continues
// on the next tick.
func Run(ctx context.Context, clk Clock, interval time.Duration, logger *logging.Logger, fn func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("clock: non-positive interval %v", interval)
	}
	clk = OrReal(clk)
	if logger == nil {
		logger = logging.NopLogger()
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			safeTick(ctx, logger, fn)
		}
	}
}

func safeTick(ctx context.Context, logger *logging.Logger, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("periodic task panicked",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
		}
	}()
	fn(ctx)
}

// Task is a restartable periodic task. Start and Stop are idempotent and
// safe for concurrent use.
type Task struct {
	name     string
	interval time.Duration
	clock    Clock
	logger   *logging.Logger
	fn       func(context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithClock sets the clock driving the task.
func WithClock(c Clock) TaskOption {
	return func(t *Task) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the logger used for panics and lifecycle messages.
func WithLogger(l *logging.Logger) TaskOption {
	return func(t *Task) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTask creates a stopped task that will call fn every interval once started.
func NewTask(name string, interval time.Duration, fn func(context.Context), opts ...TaskOption) *Task {
	t := &Task{
		name:     name,
		interval: interval,
		clock:    Real(),
		logger:   logging.NopLogger(),
		fn:       fn,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("task", name)
	return t
}

// Start launches the task loop. It returns false if the task is already running.
func (t *Task) Start(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runningLocked() {
		return false
	}
	if t.cancel != nil {
		// previous loop ended with its parent context
		t.cancel()
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go func() {
		defer close(done)
		if err := Run(ctx, t.clock, t.interval, t.logger, t.fn); err != nil && ctx.Err() == nil {
			t.logger.Error("periodic task exited", "error", err)
		}
		t.logger.Debug("periodic task stopped")
	}()

	t.logger.Debug("periodic task started", "interval", t.interval.String())
	return true
}

// Stop cancels the task loop and waits for it to exit.
// It is safe to call Stop on a task that was never started. Stop must not be
// called from inside the task function.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the task loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runningLocked()
}

func (t *Task) runningLocked() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}
