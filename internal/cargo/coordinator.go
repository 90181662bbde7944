// Package cargo coordinates cargo loading and unloading between the
// ground-service and flight-management simulators.
package cargo

import (
	"context"
	"sync"

	"github.com/Iron-Ham/groundsync/internal/doors"
	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/guard"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// DefaultPlannedKg is the cargo load planned when none is configured.
const DefaultPlannedKg = 3000

// State is a copy of the tracked cargo state. Loading and Unloading are
// never both set.
type State struct {
	PlannedKg  int  `json:"planned_kg"`
	Percentage int  `json:"percentage"`
	Loading    bool `json:"loading"`
	Unloading  bool `json:"unloading"`
}

// DoorController is the part of the door coordinator cargo drives.
type DoorController interface {
	OpenDoorAsync(ctx context.Context, door doors.DoorType) bool
	CloseDoorAsync(ctx context.Context, door doors.DoorType) bool
}

// Coordinator owns the cargo state.
type Coordinator struct {
	bus    varbus.Bus
	keys   varbus.CargoKeys
	events *event.Bus
	logger *logging.Logger
	phases *guard.PhaseGuard

	mu    sync.Mutex
	state State
	doors DoorController
	// set when unloading stops, cleared when either activity starts
	unloadFinished bool

	// outstanding cargo door requests
	doorWG sync.WaitGroup
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

// WithEventBus publishes CargoStateChanged events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(c *Coordinator) {
		c.events = bus
	}
}

// WithKeys overrides the default cargo keys.
func WithKeys(keys varbus.Keys) Option {
	return func(c *Coordinator) {
		c.keys = keys.Cargo
	}
}

// WithPlannedKg sets the initial planned load.
func WithPlannedKg(kg int) Option {
	return func(c *Coordinator) {
		if kg >= 0 {
			c.state.PlannedKg = kg
		}
	}
}

// New creates a cargo coordinator on bus with nothing loading.
func New(bus varbus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:    bus,
		keys:   varbus.DefaultKeys().Cargo,
		logger: logging.NopLogger(),
		phases: guard.NewPhaseGuard(),
		state:  State{PlannedKg: DefaultPlannedKg},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("cargo")
	return c
}

// SetDoorCoordinator registers the door coordinator that cargo doors are
// driven through. Passing nil detaches it.
func (c *Coordinator) SetDoorCoordinator(d DoorController) {
	c.mu.Lock()
	c.doors = d
	c.mu.Unlock()
}

// State returns a copy of the tracked state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsLoading reports whether loading is in progress.
func (c *Coordinator) IsLoading() bool {
	return c.State().Loading
}

// IsUnloading reports whether unloading is in progress.
func (c *Coordinator) IsUnloading() bool {
	return c.State().Unloading
}

// Wait blocks until every outstanding cargo door request has returned.
func (c *Coordinator) Wait() {
	c.doorWG.Wait()
}

// StartLoading starts loading. It fails while loading or unloading.
func (c *Coordinator) StartLoading() bool {
	return c.StartLoadingAsync(context.Background())
}

// StartLoadingAsync is StartLoading with cancellation.
func (c *Coordinator) StartLoadingAsync(ctx context.Context) bool {
	return c.setActivity(ctx, "start_loading", c.keys.Loading, true, func(s *State) *bool { return &s.Loading })
}

// StopLoading stops loading in progress.
func (c *Coordinator) StopLoading() bool {
	return c.StopLoadingAsync(context.Background())
}

// StopLoadingAsync is StopLoading with cancellation.
func (c *Coordinator) StopLoadingAsync(ctx context.Context) bool {
	return c.setActivity(ctx, "stop_loading", c.keys.Loading, false, func(s *State) *bool { return &s.Loading })
}

// StartUnloading starts unloading. It fails while loading or unloading.
func (c *Coordinator) StartUnloading() bool {
	return c.StartUnloadingAsync(context.Background())
}

// StartUnloadingAsync is StartUnloading with cancellation.
func (c *Coordinator) StartUnloadingAsync(ctx context.Context) bool {
	return c.setActivity(ctx, "start_unloading", c.keys.Unloading, true, func(s *State) *bool { return &s.Unloading })
}

// StopUnloading stops unloading in progress.
func (c *Coordinator) StopUnloading() bool {
	return c.StopUnloadingAsync(context.Background())
}

// StopUnloadingAsync is StopUnloading with cancellation.
func (c *Coordinator) StopUnloadingAsync(ctx context.Context) bool {
	return c.setActivity(ctx, "stop_unloading", c.keys.Unloading, false, func(s *State) *bool { return &s.Unloading })
}

// setActivity flips one of the mutually exclusive activity flags. The GS
// write happens under the lock so a concurrent start of the other activity
// cannot slip in between the check and the commit.
func (c *Coordinator) setActivity(ctx context.Context, op, key string, on bool, flag func(*State) *bool) bool {
	if err := ctx.Err(); err != nil {
		c.logger.Warn("cargo operation canceled", "op", op)
		return false
	}

	c.mu.Lock()
	target := flag(&c.state)
	switch {
	case *target == on:
		c.mu.Unlock()
		c.report(errors.NewCoordinatorError("cargo already in requested state", errors.ErrAlreadyInState).WithOp(op))
		return false
	case on && (c.state.Loading || c.state.Unloading):
		c.mu.Unlock()
		c.report(errors.NewCoordinatorError("loading and unloading are exclusive", errors.ErrResourceConflict).WithOp(op))
		return false
	}
	if err := varbus.WriteBool(ctx, c.bus, key, on); err != nil {
		c.mu.Unlock()
		c.report(errors.NewCoordinatorError("write cargo activity", err).WithOp(op))
		return false
	}
	*target = on
	c.noteActivity(on, key == c.keys.Unloading)
	snapshot := c.state
	doorCtl := c.doors
	c.mu.Unlock()

	c.logger.Info("cargo activity changed", "op", op)
	c.publish(snapshot)
	if doorCtl != nil {
		c.driveCargoDoors(ctx, doorCtl, on)
	}
	return true
}

// noteActivity tracks unloading completion. Callers hold c.mu.
func (c *Coordinator) noteActivity(on, unloading bool) {
	switch {
	case on:
		c.unloadFinished = false
	case unloading:
		c.unloadFinished = true
	}
}

// UnloadingComplete reports whether unloading has run and stopped since
// the last activity started.
func (c *Coordinator) UnloadingComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unloadFinished
}

// driveCargoDoors requests both cargo doors open or closed without waiting
// for the result. Door failures are logged only.
func (c *Coordinator) driveCargoDoors(ctx context.Context, d DoorController, open bool) {
	ctx = context.WithoutCancel(ctx)
	for _, door := range doors.CargoDoors() {
		c.doorWG.Go(func() {
			var ok bool
			if open {
				ok = d.OpenDoorAsync(ctx, door)
			} else {
				ok = d.CloseDoorAsync(ctx, door)
			}
			if !ok {
				c.logger.Warn("cargo door request not applied", "door", door.String(), "open", open)
			}
		})
	}
}

// UpdateAmount sets the planned cargo load in kilograms.
func (c *Coordinator) UpdateAmount(kg int) bool {
	return c.UpdateAmountAsync(context.Background(), kg)
}

// UpdateAmountAsync is UpdateAmount with cancellation.
func (c *Coordinator) UpdateAmountAsync(ctx context.Context, kg int) bool {
	if kg < 0 {
		c.report(errors.NewCoordinatorError("negative cargo amount", errors.ErrOutOfRange).WithOp("update_amount"))
		return false
	}
	if err := ctx.Err(); err != nil {
		c.logger.Warn("cargo operation canceled", "op", "update_amount")
		return false
	}

	c.mu.Lock()
	if err := varbus.WriteFloat(ctx, c.bus, c.keys.PlannedKg, float64(kg)); err != nil {
		c.mu.Unlock()
		c.report(errors.NewCoordinatorError("write planned cargo", err).WithOp("update_amount"))
		return false
	}
	changed := c.state.PlannedKg != kg
	c.state.PlannedKg = kg
	snapshot := c.state
	c.mu.Unlock()

	if changed {
		c.publish(snapshot)
	}
	return true
}

// ChangePercentage sets the cargo loading percentage. Values outside
// 0..100 are rejected without changing state.
func (c *Coordinator) ChangePercentage(percent int) bool {
	return c.ChangePercentageAsync(context.Background(), percent)
}

// ChangePercentageAsync is ChangePercentage with cancellation.
func (c *Coordinator) ChangePercentageAsync(ctx context.Context, percent int) bool {
	if percent < 0 || percent > 100 {
		c.report(errors.NewCoordinatorError("cargo percentage out of range", errors.ErrOutOfRange).WithOp("change_percentage"))
		return false
	}
	if err := ctx.Err(); err != nil {
		c.logger.Warn("cargo operation canceled", "op", "change_percentage")
		return false
	}

	c.mu.Lock()
	if err := varbus.WriteFloat(ctx, c.bus, c.keys.Percent, float64(percent)); err != nil {
		c.mu.Unlock()
		c.report(errors.NewCoordinatorError("write cargo percentage", err).WithOp("change_percentage"))
		return false
	}
	changed := c.state.Percentage != percent
	c.state.Percentage = percent
	snapshot := c.state
	c.mu.Unlock()

	if changed {
		c.publish(snapshot)
	}
	return true
}

// SynchronizeState reconciles cargo with both simulators. GS owns the
// activity flags, FM owns the percentage and the coordinator owns the
// planned amount. Loading that has reached 100% and unloading that has
// reached 0% are stopped. It reports whether every read and write
// succeeded.
func (c *Coordinator) SynchronizeState(ctx context.Context) bool {
	loading, err1 := varbus.ReadBool(ctx, c.bus, c.keys.Loading)
	unloading, err2 := varbus.ReadBool(ctx, c.bus, c.keys.Unloading)
	percent, err3 := varbus.ReadFloat(ctx, c.bus, c.keys.Percent)
	gsPlanned, err4 := varbus.ReadFloat(ctx, c.bus, c.keys.PlannedKg)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		c.report(errors.NewCoordinatorError("read cargo state", err).WithOp("sync"))
		return false
	}

	c.mu.Lock()
	prev := c.state
	if loading && unloading {
		c.logger.Warn("GS reports loading and unloading, keeping tracked activity")
	} else {
		c.state.Loading = loading
		c.state.Unloading = unloading
		switch {
		case loading && !prev.Loading, unloading && !prev.Unloading:
			c.unloadFinished = false
		case prev.Unloading && !unloading:
			c.unloadFinished = true
		}
	}
	if p := int(percent); p >= 0 && p <= 100 {
		c.state.Percentage = p
	}
	planned := c.state.PlannedKg
	snapshot := c.state
	c.mu.Unlock()

	ok := true
	if int(gsPlanned) != planned {
		if err := varbus.WriteFloat(ctx, c.bus, c.keys.PlannedKg, float64(planned)); err != nil {
			c.report(errors.NewCoordinatorError("push planned cargo", err).WithOp("sync"))
			ok = false
		}
	}
	if snapshot != prev {
		c.publish(snapshot)
	}

	switch {
	case snapshot.Loading && snapshot.Percentage >= 100:
		c.logger.Info("cargo loading complete")
		ok = c.StopLoadingAsync(ctx) && ok
	case snapshot.Unloading && snapshot.Percentage <= 0 && prev.Percentage > 0:
		c.logger.Info("cargo unloading complete")
		ok = c.StopUnloadingAsync(ctx) && ok
	}
	return ok
}

// OnPhaseChanged clears the processed-phase guard on a genuine change.
func (c *Coordinator) OnPhaseChanged(previous, next flight.Phase) {
	c.phases.OnPhaseChange(previous, next)
}

// ManageForPhase applies the cargo policy of phase once per phase entry.
func (c *Coordinator) ManageForPhase(ctx context.Context, phase flight.Phase) bool {
	if !c.phases.ShouldProcess(phase) {
		return true
	}

	s := c.State()
	ok := true
	switch phase {
	case flight.Departure:
		if !s.Loading && !s.Unloading {
			ok = c.StartLoadingAsync(ctx)
		}
	case flight.TaxiOut, flight.Flight:
		if s.Loading {
			c.logger.WithPhase(phase.String()).Warn("cargo still loading, forcing stop")
			ok = c.StopLoadingAsync(ctx)
		}
		c.assertCargoDoorsClosed(ctx)
	case flight.Arrival:
		if !s.Loading && !s.Unloading {
			ok = c.StartUnloadingAsync(ctx)
		}
	case flight.Turnaround:
		if s.Unloading {
			ok = c.StopUnloadingAsync(ctx)
		}
	}

	if ok {
		c.phases.MarkProcessed(phase)
	}
	return ok
}

func (c *Coordinator) assertCargoDoorsClosed(ctx context.Context) {
	c.mu.Lock()
	d := c.doors
	c.mu.Unlock()
	if d != nil {
		c.driveCargoDoors(ctx, d, false)
	}
}

func (c *Coordinator) publish(s State) {
	if c.events != nil {
		c.events.Publish(event.NewCargoStateChangedEvent(s.Loading, s.Unloading, s.Percentage, s.PlannedKg))
	}
}

func (c *Coordinator) report(err *errors.CoordinatorError) {
	err = err.WithResource("cargo")
	if errors.GetSeverity(err) <= errors.SeverityWarning {
		c.logger.Warn("cargo operation rejected", "error", err)
		return
	}
	c.logger.Error("cargo operation failed", "error", err)
}
