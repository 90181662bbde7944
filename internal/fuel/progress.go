package fuel

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/Iron-Ham/groundsync/internal/clock"
	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// DefaultProgressInterval is the refueling progress poll period.
const DefaultProgressInterval = time.Second

// Percentage returns current/planned as a whole percent clamped to 0..100.
// A non-positive plan counts as complete.
func Percentage(current, planned float64) int {
	if planned <= 0 {
		return 100
	}
	p := math.Floor(current / planned * 100)
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}

// HoseState reports whether the fuel hose is connected.
type HoseState interface {
	Connected() bool
}

// ProgressTracker polls the fuel quantity while refueling with the hose
// connected, publishes RefuelingProgressChanged when the whole percentage
// changes and completes the refuel when the plan is reached.
type ProgressTracker struct {
	bus     varbus.Bus
	key     string
	manager *StateManager
	hose    HoseState
	planned func() float64
	events  *event.Bus
	logger  *logging.Logger
	task    *clock.Task

	mu        sync.Mutex
	last      int
	currentKg float64
}

// NewProgressTracker creates a stopped tracker reading the quantity key.
// planned returns the current target in kilograms.
func NewProgressTracker(bus varbus.Bus, key string, manager *StateManager, hose HoseState,
	planned func() float64, interval time.Duration, clk clock.Clock,
	events *event.Bus, logger *logging.Logger) *ProgressTracker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	t := &ProgressTracker{
		bus:     bus,
		key:     key,
		manager: manager,
		hose:    hose,
		planned: planned,
		events:  events,
		logger:  logger.WithComponent("progress-tracker"),
		last:    -1,
	}
	t.task = clock.NewTask("progress-tracker", interval, t.Tick,
		clock.WithClock(clk), clock.WithLogger(t.logger))
	return t
}

// Start begins polling. It returns false if already running.
func (t *ProgressTracker) Start(ctx context.Context) bool {
	return t.task.Start(ctx)
}

// Stop halts polling.
func (t *ProgressTracker) Stop() {
	t.task.Stop()
}

// Percentage returns the last published percentage, or -1 before the first.
func (t *ProgressTracker) Percentage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// CurrentKg returns the quantity read by the last tick.
func (t *ProgressTracker) CurrentKg() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentKg
}

// observe records a quantity read outside the poll loop.
func (t *ProgressTracker) observe(currentKg float64) {
	t.mu.Lock()
	t.currentKg = currentKg
	t.mu.Unlock()
}

// Reset forgets the last published percentage so the next refuel reports
// from scratch.
func (t *ProgressTracker) Reset() {
	t.mu.Lock()
	t.last = -1
	t.mu.Unlock()
}

// Tick performs one progress poll.
func (t *ProgressTracker) Tick(ctx context.Context) {
	if t.manager.State() != Refueling || !t.hose.Connected() {
		return
	}

	current, err := varbus.ReadFloat(ctx, t.bus, t.key)
	if err != nil {
		if errors.IsCanceled(err) {
			t.logger.Warn("progress poll canceled")
		} else {
			t.logger.Error("fuel quantity read failed", "key", t.key, "error", err)
			t.manager.Fail("fuel quantity read failed")
		}
		return
	}

	planned := t.planned()
	pct := Percentage(current, planned)

	t.mu.Lock()
	changed := pct != t.last
	t.last = pct
	t.currentKg = current
	t.mu.Unlock()

	if changed {
		t.logger.Debug("refueling progress", "percent", pct, "current_kg", current, "planned_kg", planned)
		if t.events != nil {
			t.events.Publish(event.NewRefuelingProgressChangedEvent(pct, current, planned))
		}
	}
	if planned > 0 && current >= planned {
		t.manager.Complete()
	}
}
