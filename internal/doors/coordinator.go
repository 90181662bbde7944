// Package doors reconciles door state between the ground-service and
// flight-management simulators.
package doors

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/groundsync/internal/clock"
	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/guard"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// doorState is mutated under Coordinator.mu; open and serviceActive are
// read lock-free.
type doorState struct {
	open          atomic.Bool
	serviceActive atomic.Bool

	// last value read from or written to each side
	seenGS bool
	seenFM bool
}

// Coordinator owns the open and service-active flags of every door.
type Coordinator struct {
	bus    varbus.Bus
	keys   varbus.Keys
	events *event.Bus
	logger *logging.Logger

	mu      sync.Mutex
	doors   map[DoorType]*doorState
	limiter *guard.FlipLimiter[DoorType]

	toggles *toggleMapper

	autoOpenOnArrival bool

	clock      clock.Clock
	flipLimit  int
	flipWindow time.Duration
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

// WithEventBus publishes DoorStateChanged events to bus.
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

// WithClock sets the clock used by the flip limiter.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithFlipLimit sets the per-door flip limit and rolling window.
func WithFlipLimit(limit int, window time.Duration) Option {
	return func(c *Coordinator) {
		c.flipLimit = limit
		c.flipWindow = window
	}
}

// WithAutoOpenOnArrival controls whether ARRIVAL and TURNAROUND open the
// passenger and cargo doors.
func WithAutoOpenOnArrival(enabled bool) Option {
	return func(c *Coordinator) {
		c.autoOpenOnArrival = enabled
	}
}

// New creates a door coordinator on bus. All doors start closed.
func New(bus varbus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:               bus,
		keys:              varbus.DefaultKeys(),
		logger:            logging.NopLogger(),
		doors:             make(map[DoorType]*doorState),
		autoOpenOnArrival: true,
		clock:             clock.Real(),
		flipLimit:         guard.DefaultFlipLimit,
		flipWindow:        guard.DefaultFlipWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("doors")
	c.limiter = guard.NewFlipLimiter[DoorType](c.flipLimit, c.flipWindow, guard.WithClock(c.clock))
	c.toggles = newToggleMapper()
	for _, d := range AllDoors() {
		c.doors[d] = &doorState{}
	}
	return c
}

// IsOpen reports the tracked open flag of door.
func (c *Coordinator) IsOpen(door DoorType) bool {
	st, ok := c.doors[door]
	return ok && st.open.Load()
}

// IsServiceActive reports whether a ground service is running at door.
func (c *Coordinator) IsServiceActive(door DoorType) bool {
	st, ok := c.doors[door]
	return ok && st.serviceActive.Load()
}

// States returns a snapshot of every door.
func (c *Coordinator) States() map[DoorType]State {
	out := make(map[DoorType]State, len(c.doors))
	for d, st := range c.doors {
		out[d] = State{Open: st.open.Load(), ServiceActive: st.serviceActive.Load()}
	}
	return out
}

// OpenDoor opens door on GS and mirrors it to FM.
func (c *Coordinator) OpenDoor(door DoorType) bool {
	return c.OpenDoorAsync(context.Background(), door)
}

// CloseDoor closes door on GS and mirrors it to FM.
func (c *Coordinator) CloseDoor(door DoorType) bool {
	return c.CloseDoorAsync(context.Background(), door)
}

// OpenDoorAsync is OpenDoor with cancellation.
func (c *Coordinator) OpenDoorAsync(ctx context.Context, door DoorType) bool {
	return c.command(ctx, door, true)
}

// CloseDoorAsync is CloseDoor with cancellation.
func (c *Coordinator) CloseDoorAsync(ctx context.Context, door DoorType) bool {
	return c.command(ctx, door, false)
}

// command writes the GS command, mirrors it to FM and records the new state.
// The GS result decides success; an FM failure is logged and left for the
// next SynchronizeStates pass.
func (c *Coordinator) command(ctx context.Context, door DoorType, open bool) bool {
	keys, ok := c.keys.Door(door.String())
	if !ok {
		c.logger.Error("no variable keys for door", "door", door.String())
		return false
	}
	if err := ctx.Err(); err != nil {
		c.logger.Warn("door command canceled", "door", door.String(), "open", open)
		return false
	}

	// The flip is reserved before GS is told, so a command that reaches GS
	// always lands in the tracked state.
	changing := c.IsOpen(door) != open
	if changing && !c.limiter.Allow(door) {
		c.logger.Warn("door flip rate limited", "door", door.String(), "open", open)
		return false
	}

	if err := varbus.WriteBool(ctx, c.bus, keys.GS, open); err != nil {
		if changing {
			c.limiter.Undo(door)
		}
		c.logFailure("door command failed", err, door, open)
		return false
	}
	c.markSeen(door, SourceGS, open)
	if err := varbus.WriteBool(ctx, c.bus, keys.FM, open); err != nil {
		c.logFailure("door mirror to FM failed", err, door, open)
	} else {
		c.markSeen(door, SourceFM, open)
	}

	if changing && !c.applyState(door, open, SourceCoordinator, false) {
		// a concurrent change got there first
		c.limiter.Undo(door)
	}
	return true
}

func (c *Coordinator) logFailure(msg string, err error, door DoorType, open bool) {
	if errors.IsCanceled(err) {
		c.logger.Warn(msg, "door", door.String(), "open", open, "error", err)
		return
	}
	c.logger.Error(msg, "door", door.String(), "open", open, "error", err)
}

// SetDoorState is the single mutator for door flags. It applies open if it
// differs from the tracked value and the door's flip limiter permits it,
// then publishes DoorStateChanged. It reports whether the flag changed.
func (c *Coordinator) SetDoorState(door DoorType, open bool, source Source) bool {
	return c.applyState(door, open, source, true)
}

// applyState sets the door flag. limit is false when the caller already
// reserved the flip.
func (c *Coordinator) applyState(door DoorType, open bool, source Source, limit bool) bool {
	st, ok := c.doors[door]
	if !ok {
		return false
	}

	c.mu.Lock()
	if st.open.Load() == open {
		c.mu.Unlock()
		return false
	}
	if limit && !c.limiter.Allow(door) {
		c.mu.Unlock()
		c.logger.Warn("door flip rate limited",
			"door", door.String(), "open", open, "source", string(source))
		return false
	}
	st.open.Store(open)
	serviceActive := st.serviceActive.Load()
	c.mu.Unlock()

	c.logger.Info("door state changed",
		"door", door.String(), "open", open, "source", string(source))
	if c.events != nil {
		c.events.Publish(event.NewDoorStateChangedEvent(door.String(), open, serviceActive, string(source)))
	}
	return true
}

func (c *Coordinator) markSeen(door DoorType, side Source, v bool) {
	st, ok := c.doors[door]
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch side {
	case SourceGS:
		st.seenGS = v
	case SourceFM:
		st.seenFM = v
	}
}

func (c *Coordinator) seen(door DoorType) (gs, fm bool) {
	st := c.doors[door]
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.seenGS, st.seenFM
}

func (c *Coordinator) setServiceActive(door DoorType, active bool) {
	st, ok := c.doors[door]
	if !ok || !door.IsServiceDoor() {
		return
	}
	c.mu.Lock()
	st.serviceActive.Store(active)
	c.mu.Unlock()
}

// SynchronizeStates reconciles every door between GS and FM. A side whose
// value moved since it was last seen updates the tracked flag (GS wins when
// both moved), then any side that disagrees with the tracked flag is
// rewritten. It reports whether every
// door was read and written.
func (c *Coordinator) SynchronizeStates(ctx context.Context) bool {
	ok := true
	for _, door := range AllDoors() {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("door synchronization canceled")
			return false
		}
		if !c.synchronizeDoor(ctx, door) {
			ok = false
		}
	}
	return ok
}

func (c *Coordinator) synchronizeDoor(ctx context.Context, door DoorType) bool {
	keys, ok := c.keys.Door(door.String())
	if !ok {
		return false
	}

	gs, err := varbus.ReadBool(ctx, c.bus, keys.GS)
	if err != nil {
		c.logFailure("door read from GS failed", err, door, c.IsOpen(door))
		return false
	}
	fm, err := varbus.ReadBool(ctx, c.bus, keys.FM)
	if err != nil {
		c.logFailure("door read from FM failed", err, door, c.IsOpen(door))
		return false
	}

	tracked := c.IsOpen(door)
	seenGS, seenFM := c.seen(door)
	switch {
	case gs != seenGS && gs != tracked:
		c.SetDoorState(door, gs, SourceGS)
	case fm != seenFM && fm != tracked:
		c.SetDoorState(door, fm, SourceFM)
	}
	c.markSeen(door, SourceGS, gs)
	c.markSeen(door, SourceFM, fm)

	want := c.IsOpen(door)
	result := true
	if gs != want {
		if err := varbus.WriteBool(ctx, c.bus, keys.GS, want); err != nil {
			c.logFailure("door reconcile to GS failed", err, door, want)
			result = false
		} else {
			c.markSeen(door, SourceGS, want)
		}
	}
	if fm != want {
		if err := varbus.WriteBool(ctx, c.bus, keys.FM, want); err != nil {
			c.logFailure("door reconcile to FM failed", err, door, want)
			result = false
		} else {
			c.markSeen(door, SourceFM, want)
		}
	}
	return result
}

// ManageForPhase applies the door policy of phase. It reports whether every
// command succeeded.
func (c *Coordinator) ManageForPhase(ctx context.Context, phase flight.Phase) bool {
	logger := c.logger.WithPhase(phase.String())

	var targets []DoorType
	open := false
	switch phase {
	case flight.Preflight, flight.TaxiOut, flight.Flight, flight.TaxiIn:
		targets = AllDoors()
	case flight.Departure:
		for _, d := range AllDoors() {
			if !c.IsServiceActive(d) {
				targets = append(targets, d)
			}
		}
	case flight.Arrival, flight.Turnaround:
		if !c.autoOpenOnArrival {
			return true
		}
		open = true
		targets = append(PassengerDoors(), CargoDoors()...)
	default:
		return true
	}

	ok := true
	for _, d := range targets {
		if c.IsOpen(d) == open {
			continue
		}
		if !c.command(ctx, d, open) {
			ok = false
		}
	}
	logger.Debug("door policy applied", "open", open, "doors", len(targets), "ok", ok)
	return ok
}
