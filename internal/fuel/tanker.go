package fuel

import (
	"context"
	"time"

	"github.com/Iron-Ham/groundsync/internal/clock"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// Tanker stands in for the ground tanker and the cockpit fuel system when
// both simulators share the in-memory bus. It connects the hose while a
// refuel is requested, moves fuel at a fixed rate while the transfer is
// active and stops at the planned amount.
type Tanker struct {
	bus      varbus.Bus
	keys     varbus.FuelKeys
	rate     float64
	interval time.Duration
	logger   *logging.Logger
	task     *clock.Task

	// owned by the task goroutine
	fullTicks int
	finished  bool
}

const tankerDwellTicks = 3

// NewTanker creates a stopped tanker moving rateKgPerSec.
func NewTanker(bus varbus.Bus, keys varbus.FuelKeys, rateKgPerSec float64, interval time.Duration,
	clk clock.Clock, logger *logging.Logger) *Tanker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if interval <= 0 {
		interval = time.Second
	}
	t := &Tanker{
		bus:      bus,
		keys:     keys,
		rate:     rateKgPerSec,
		interval: interval,
		logger:   logger.WithComponent("tanker"),
	}
	t.task = clock.NewTask("tanker", interval, t.Tick, clock.WithClock(clk), clock.WithLogger(t.logger))
	return t
}

// Start runs the tanker until ctx ends or Stop.
func (t *Tanker) Start(ctx context.Context) bool {
	return t.task.Start(ctx)
}

// Stop halts the tanker.
func (t *Tanker) Stop() {
	t.task.Stop()
}

// Tick advances the simulation by one interval. A failed read ends the
// tick with nothing written.
func (t *Tanker) Tick(ctx context.Context) {
	requested, err := varbus.ReadBool(ctx, t.bus, t.keys.RefuelRequest)
	if err != nil {
		t.readFailed(t.keys.RefuelRequest, err)
		return
	}
	if !requested {
		t.finished = false
		t.fullTicks = 0
	}

	wantHose := requested && !t.finished
	hose, err := varbus.ReadBool(ctx, t.bus, t.keys.HoseConnected)
	if err != nil {
		t.readFailed(t.keys.HoseConnected, err)
		return
	}
	if hose != wantHose {
		if err := varbus.WriteBool(ctx, t.bus, t.keys.HoseConnected, wantHose); err != nil {
			t.logger.Warn("tanker hose write failed", "error", err)
			return
		}
		t.logger.Info("tanker hose", "connected", wantHose)
	}

	step := t.rate * t.interval.Seconds()
	current, err := varbus.ReadFloat(ctx, t.bus, t.keys.QuantityKg)
	if err != nil {
		t.readFailed(t.keys.QuantityKg, err)
		return
	}

	active, err := varbus.ReadBool(ctx, t.bus, t.keys.TransferActive)
	if err != nil {
		t.readFailed(t.keys.TransferActive, err)
		return
	}
	if active && wantHose {
		planned, err := varbus.ReadFloat(ctx, t.bus, t.keys.PlannedKg)
		if err != nil {
			t.readFailed(t.keys.PlannedKg, err)
			return
		}
		if current < planned {
			t.setQuantity(ctx, min(current+step, planned))
			return
		}
		// the crew waits a few ticks at the planned amount, then disconnects
		t.fullTicks++
		if t.fullTicks >= tankerDwellTicks {
			t.finished = true
		}
		return
	}

	defuel, err := varbus.ReadBool(ctx, t.bus, t.keys.DefuelRequest)
	if err != nil {
		t.readFailed(t.keys.DefuelRequest, err)
		return
	}
	if defuel && current > 0 {
		t.setQuantity(ctx, max(current-step, 0))
	}
}

func (t *Tanker) setQuantity(ctx context.Context, kg float64) {
	if err := varbus.WriteFloat(ctx, t.bus, t.keys.QuantityKg, kg); err != nil {
		t.logger.Warn("tanker quantity write failed", "error", err)
	}
}

func (t *Tanker) readFailed(key string, err error) {
	t.logger.Debug("tanker read failed", "key", key, "error", err)
}
