// Package equipment reconciles ground equipment (GPU, PCA, chocks, jetway)
// between the ground-service and flight-management simulators.
package equipment

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// Coordinator owns the connected flag of every equipment item.
type Coordinator struct {
	bus    varbus.Bus
	keys   varbus.Keys
	events *event.Bus
	logger *logging.Logger

	// serializes commands per coordinator; flags are read lock-free
	mu        sync.Mutex
	connected map[Type]*atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEventBus publishes EquipmentStateChanged events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(c *Coordinator) {
		c.events = bus
	}
}

// WithKeys overrides the default variable key profile.
func WithKeys(keys varbus.Keys) Option {
	return func(c *Coordinator) {
		c.keys = keys
	}
}

// New creates an equipment coordinator with everything disconnected.
func New(bus varbus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:       bus,
		keys:      varbus.DefaultKeys(),
		logger:    logging.NopLogger(),
		connected: make(map[Type]*atomic.Bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("equipment")
	for _, t := range AllTypes() {
		c.connected[t] = &atomic.Bool{}
	}
	return c
}

// IsConnected reports the tracked flag of t.
func (c *Coordinator) IsConnected(t Type) bool {
	f, ok := c.connected[t]
	return ok && f.Load()
}

// AnyConnected reports whether any item is connected.
func (c *Coordinator) AnyConnected() bool {
	for _, f := range c.connected {
		if f.Load() {
			return true
		}
	}
	return false
}

// States returns a copy of every tracked flag keyed by equipment name.
func (c *Coordinator) States() map[string]bool {
	out := make(map[string]bool, len(c.connected))
	for t, f := range c.connected {
		out[t.String()] = f.Load()
	}
	return out
}

// ConnectEquipment connects t. Connecting an item that is already
// connected succeeds without an event.
func (c *Coordinator) ConnectEquipment(t Type) bool {
	return c.ConnectEquipmentAsync(context.Background(), t)
}

// ConnectEquipmentAsync is ConnectEquipment with cancellation.
func (c *Coordinator) ConnectEquipmentAsync(ctx context.Context, t Type) bool {
	return c.command(ctx, t, true)
}

// DisconnectEquipment disconnects t.
func (c *Coordinator) DisconnectEquipment(t Type) bool {
	return c.DisconnectEquipmentAsync(context.Background(), t)
}

// DisconnectEquipmentAsync is DisconnectEquipment with cancellation.
func (c *Coordinator) DisconnectEquipmentAsync(ctx context.Context, t Type) bool {
	return c.command(ctx, t, false)
}

// command writes the GS request and mirrors it to FM. The GS result decides
// success; an FM failure is left for the next SynchronizeStates pass.
func (c *Coordinator) command(ctx context.Context, t Type, connected bool) bool {
	keys, ok := c.keys.EquipmentItem(t.String())
	if !ok {
		c.logger.Error("no variable keys for equipment", "equipment", t.String())
		return false
	}
	if err := ctx.Err(); err != nil {
		c.logger.Warn("equipment command canceled", "equipment", t.String(), "connected", connected)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := varbus.WriteBool(ctx, c.bus, keys.GS, connected); err != nil {
		c.report(errors.NewCoordinatorError("equipment command failed", err).WithOp(opName(connected)), t)
		return false
	}
	if err := varbus.WriteBool(ctx, c.bus, keys.FM, connected); err != nil {
		c.report(errors.NewCoordinatorError("equipment mirror to FM failed", err).WithOp(opName(connected)), t)
	}
	c.setLocked(t, connected)
	return true
}

// setLocked stores the flag and publishes only when it flips.
func (c *Coordinator) setLocked(t Type, connected bool) bool {
	if c.connected[t].Swap(connected) == connected {
		return false
	}
	c.logger.Info("equipment state changed", "equipment", t.String(), "connected", connected)
	if c.events != nil {
		c.events.Publish(event.NewEquipmentStateChangedEvent(t.String(), connected))
	}
	return true
}

// SynchronizeStates reconciles every item. A GS value that differs from the
// tracked flag is adopted and FM is rewritten to match. It reports whether
// every read and write succeeded.
func (c *Coordinator) SynchronizeStates(ctx context.Context) bool {
	ok := true
	for _, t := range AllTypes() {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("equipment sync canceled")
			return false
		}
		ok = c.synchronize(ctx, t) && ok
	}
	return ok
}

func (c *Coordinator) synchronize(ctx context.Context, t Type) bool {
	keys, ok := c.keys.EquipmentItem(t.String())
	if !ok {
		return false
	}
	gs, err := varbus.ReadBool(ctx, c.bus, keys.GS)
	if err != nil {
		c.report(errors.NewCoordinatorError("read GS equipment", err).WithOp("sync"), t)
		return false
	}
	fm, err := varbus.ReadBool(ctx, c.bus, keys.FM)
	if err != nil {
		c.report(errors.NewCoordinatorError("read FM equipment", err).WithOp("sync"), t)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(t, gs)
	if fm != gs {
		if err := varbus.WriteBool(ctx, c.bus, keys.FM, gs); err != nil {
			c.report(errors.NewCoordinatorError("repair FM equipment", err).WithOp("sync"), t)
			return false
		}
		c.logger.Debug("FM equipment repaired", "equipment", t.String(), "connected", gs)
	}
	return true
}

// ManageForPhase connects all ground equipment on the ground at the gate
// (PREFLIGHT, DEPARTURE, ARRIVAL, TURNAROUND) and disconnects it once the
// aircraft moves (TAXIOUT, FLIGHT, TAXIIN).
func (c *Coordinator) ManageForPhase(ctx context.Context, phase flight.Phase) bool {
	var connect bool
	switch phase {
	case flight.Preflight, flight.Departure, flight.Arrival, flight.Turnaround:
		connect = true
	case flight.TaxiOut, flight.Flight, flight.TaxiIn:
		connect = false
	default:
		return false
	}

	ok := true
	for _, t := range AllTypes() {
		if c.IsConnected(t) == connect {
			continue
		}
		ok = c.command(ctx, t, connect) && ok
	}
	return ok
}

func (c *Coordinator) report(err *errors.CoordinatorError, t Type) {
	err = err.WithResource("equipment")
	if errors.GetSeverity(err) <= errors.SeverityWarning {
		c.logger.Warn("equipment operation rejected", "equipment", t.String(), "error", err)
		return
	}
	c.logger.Error("equipment operation failed", "equipment", t.String(), "error", err)
}

func opName(connected bool) string {
	if connected {
		return "connect"
	}
	return "disconnect"
}
