// Package fuel coordinates refueling between the ground-service and
// flight-management simulators: a small refueling state machine, a hose
// connection monitor, a progress tracker and idempotent commands.
package fuel

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/groundsync/internal/clock"
	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/guard"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// Settings are the fuel policy knobs.
type Settings struct {
	// AutoRefuel lets phase policy set the initial load and start refueling.
	AutoRefuel bool
	// InitialFuelKg is loaded once in PREFLIGHT.
	InitialFuelKg float64
	// LegFuelKg is the block fuel planned for each leg.
	LegFuelKg float64
	// RefuelRateKgPerSec is the nominal transfer rate for time estimates.
	RefuelRateKgPerSec float64
	HosePollInterval   time.Duration
	ProgressInterval   time.Duration
}

// DefaultSettings returns the built-in fuel policy.
func DefaultSettings() Settings {
	return Settings{
		AutoRefuel:         true,
		InitialFuelKg:      2000,
		LegFuelKg:          6200,
		RefuelRateKgPerSec: 28,
		HosePollInterval:   DefaultHosePollInterval,
		ProgressInterval:   DefaultProgressInterval,
	}
}

// Coordinator owns the refueling state and the planned amount.
type Coordinator struct {
	bus      varbus.Bus
	keys     varbus.FuelKeys
	events   *event.Bus
	logger   *logging.Logger
	clock    clock.Clock
	settings Settings

	manager  *StateManager
	hose     *HoseMonitor
	tracker  *ProgressTracker
	commands *CommandFactory
	phases   *guard.PhaseGuard

	mu             sync.Mutex
	plannedKg      float64
	initialFuelSet bool
	legStarted     bool
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

// WithEventBus publishes fuel events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(c *Coordinator) {
		c.events = bus
	}
}

// WithClock sets the clock driving the monitors.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithKeys overrides the default fuel keys.
func WithKeys(keys varbus.Keys) Option {
	return func(c *Coordinator) {
		c.keys = keys.Fuel
	}
}

// WithSettings overrides the default fuel policy.
func WithSettings(s Settings) Option {
	return func(c *Coordinator) {
		c.settings = s
	}
}

// New creates a fuel coordinator on bus. Monitors are created stopped; call
// Start to run them.
func New(bus varbus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:      bus,
		keys:     varbus.DefaultKeys().Fuel,
		logger:   logging.NopLogger(),
		clock:    clock.Real(),
		settings: DefaultSettings(),
		phases:   guard.NewPhaseGuard(flight.Departure, flight.Turnaround),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("fuel")
	c.plannedKg = c.settings.LegFuelKg

	c.manager = NewStateManager(c.events, c.logger)
	c.hose = NewHoseMonitor(bus, c.keys.HoseConnected, c.manager, transfer{c},
		c.settings.HosePollInterval, c.clock, c.logger)
	c.tracker = NewProgressTracker(bus, c.keys.QuantityKg, c.manager, c.hose, c.PlannedKg,
		c.settings.ProgressInterval, c.clock, c.events, c.logger)
	c.commands = &CommandFactory{c: c}
	return c
}

// Start runs the hose monitor and progress tracker until ctx ends or Stop.
func (c *Coordinator) Start(ctx context.Context) {
	c.hose.Start(ctx)
	c.tracker.Start(ctx)
}

// Stop halts the monitors.
func (c *Coordinator) Stop() {
	c.hose.Stop()
	c.tracker.Stop()
}

// State returns the refueling state.
func (c *Coordinator) State() RefuelingState {
	return c.manager.State()
}

// StateManager exposes the refueling state machine.
func (c *Coordinator) StateManager() *StateManager {
	return c.manager
}

// Hose exposes the hose monitor.
func (c *Coordinator) Hose() *HoseMonitor {
	return c.hose
}

// Tracker exposes the progress tracker.
func (c *Coordinator) Tracker() *ProgressTracker {
	return c.tracker
}

// Commands returns the command factory.
func (c *Coordinator) Commands() *CommandFactory {
	return c.commands
}

// PlannedKg returns the planned fuel amount.
func (c *Coordinator) PlannedKg() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plannedKg
}

func (c *Coordinator) setPlanned(kg float64) {
	c.mu.Lock()
	c.plannedKg = kg
	c.mu.Unlock()
}

// Progress returns the last refueling percentage, or -1 before any.
func (c *Coordinator) Progress() int {
	return c.tracker.Percentage()
}

// EstimatedTimeRemaining estimates how long until the planned amount is on
// board at the nominal rate.
func (c *Coordinator) EstimatedTimeRemaining() (time.Duration, bool) {
	rate := c.settings.RefuelRateKgPerSec
	if rate <= 0 {
		return 0, false
	}
	remaining := c.PlannedKg() - c.tracker.CurrentKg()
	if remaining <= 0 {
		return 0, true
	}
	return time.Duration(remaining / rate * float64(time.Second)), true
}

// StartRefueling requests refueling to the planned amount.
func (c *Coordinator) StartRefueling() bool {
	return c.StartRefuelingAsync(context.Background())
}

// StartRefuelingAsync is StartRefueling with cancellation.
func (c *Coordinator) StartRefuelingAsync(ctx context.Context) bool {
	return c.commands.Start().Execute(ctx)
}

// StopRefueling stops a refuel in progress.
func (c *Coordinator) StopRefueling() bool {
	return c.StopRefuelingAsync(context.Background())
}

// StopRefuelingAsync is StopRefueling with cancellation.
func (c *Coordinator) StopRefuelingAsync(ctx context.Context) bool {
	return c.commands.Stop().Execute(ctx)
}

// UpdatePlannedAmount changes the planned amount. During a refuel only the
// target moves.
func (c *Coordinator) UpdatePlannedAmount(kg float64) bool {
	return c.UpdatePlannedAmountAsync(context.Background(), kg)
}

// UpdatePlannedAmountAsync is UpdatePlannedAmount with cancellation.
func (c *Coordinator) UpdatePlannedAmountAsync(ctx context.Context, kg float64) bool {
	return c.commands.UpdateAmount(kg).Execute(ctx)
}

// StartDefueling starts defueling. It fails while a refuel is active.
func (c *Coordinator) StartDefueling() bool {
	return c.StartDefuelingAsync(context.Background())
}

// StartDefuelingAsync is StartDefueling with cancellation.
func (c *Coordinator) StartDefuelingAsync(ctx context.Context) bool {
	if ctx.Err() != nil {
		c.abortOnCancel(ctx, "start_defuel")
		return false
	}
	if state := c.manager.State(); state != Idle {
		cause := errors.ErrResourceConflict
		if state == Defueling {
			cause = errors.ErrAlreadyInState
		}
		c.report(errors.NewCoordinatorError("cannot start defueling while "+state.String(), cause).WithOp("start_defuel"))
		return false
	}
	if !c.manager.StartDefueling() {
		return false
	}
	if err := varbus.WriteBool(ctx, c.bus, c.keys.DefuelRequest, true); err != nil {
		return c.failCommand(ctx, "start_defuel", "request defueling", err)
	}
	return true
}

// StopDefueling stops defueling.
func (c *Coordinator) StopDefueling() bool {
	return c.StopDefuelingAsync(context.Background())
}

// StopDefuelingAsync is StopDefueling with cancellation.
func (c *Coordinator) StopDefuelingAsync(ctx context.Context) bool {
	if c.manager.State() != Defueling {
		return false
	}
	if err := varbus.WriteBool(context.WithoutCancel(ctx), c.bus, c.keys.DefuelRequest, false); err != nil {
		return c.failCommand(ctx, "stop_defuel", "stop defueling", err)
	}
	c.manager.StopDefueling()
	return ctx.Err() == nil
}

// SynchronizeQuantities reads the fuel on board from FM and pushes the
// planned amount to GS when it differs. It reports whether every read and
// write succeeded; a failed one moves refueling to Error.
func (c *Coordinator) SynchronizeQuantities(ctx context.Context) bool {
	current, err := varbus.ReadFloat(ctx, c.bus, c.keys.QuantityKg)
	if err != nil {
		c.syncFailed("read fuel quantity", err)
		return false
	}
	c.tracker.observe(current)

	planned := c.PlannedKg()
	gsPlanned, err := varbus.ReadFloat(ctx, c.bus, c.keys.PlannedKg)
	if err != nil {
		c.syncFailed("read planned fuel", err)
		return false
	}
	if planned > 0 && gsPlanned != planned {
		if err := varbus.WriteFloat(ctx, c.bus, c.keys.PlannedKg, planned); err != nil {
			c.syncFailed("push planned fuel", err)
			return false
		}
	}
	c.logger.Debug("fuel synchronized", "current_kg", current, "planned_kg", planned)
	return true
}

// syncFailed reports a failed bus access. Anything but cancellation moves
// refueling to Error; the next DEPARTURE policy clears it.
func (c *Coordinator) syncFailed(msg string, err error) {
	c.report(errors.NewCoordinatorError(msg, err).WithOp("sync"))
	if !errors.IsCanceled(err) {
		c.manager.Fail(msg)
	}
}

// OnPhaseChanged clears the processed-phase guard on a genuine change.
func (c *Coordinator) OnPhaseChanged(previous, next flight.Phase) {
	c.phases.OnPhaseChange(previous, next)
}

// ManageForPhase applies the fuel policy of phase. Non-idempotent actions
// run once per phase entry; DEPARTURE and TURNAROUND re-run every call and
// rely on the leg guard instead.
func (c *Coordinator) ManageForPhase(ctx context.Context, phase flight.Phase) bool {
	if !c.phases.ShouldProcess(phase) {
		return true
	}
	logger := c.logger.WithPhase(phase.String())

	ok := true
	switch phase {
	case flight.Preflight:
		ok = c.SynchronizeQuantities(ctx)
		if c.settings.AutoRefuel && !c.initialFuelLoaded() {
			ok = c.setInitialFuel(ctx) && ok
		}
	case flight.Departure:
		ok = c.startLegRefuel(ctx)
	case flight.TaxiOut, flight.Flight:
		if c.manager.State().IsRefuelActive() {
			logger.Warn("refueling still active, forcing stop")
			ok = c.StopRefuelingAsync(ctx)
		}
	case flight.Turnaround:
		ok = c.planNextLeg(ctx)
	}

	if ok {
		c.phases.MarkProcessed(phase)
	}
	return ok
}

func (c *Coordinator) initialFuelLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialFuelSet
}

func (c *Coordinator) setInitialFuel(ctx context.Context) bool {
	kg := c.settings.InitialFuelKg
	if err := varbus.WriteFloat(ctx, c.bus, c.keys.QuantityKg, kg); err != nil {
		c.report(errors.NewCoordinatorError("set initial fuel", err).WithOp("initial_fuel"))
		return false
	}
	c.mu.Lock()
	c.initialFuelSet = true
	c.mu.Unlock()
	c.logger.Info("initial fuel set", "kg", kg)
	return true
}

func (c *Coordinator) startLegRefuel(ctx context.Context) bool {
	if !c.settings.AutoRefuel {
		return true
	}
	c.mu.Lock()
	started := c.legStarted
	c.mu.Unlock()
	if started {
		return true
	}

	if c.manager.State() == Error {
		c.manager.Reset()
	}
	if c.manager.State() != Idle {
		return true
	}
	if !c.StartRefuelingAsync(ctx) {
		return false
	}
	c.mu.Lock()
	c.legStarted = true
	c.mu.Unlock()
	return true
}

func (c *Coordinator) planNextLeg(ctx context.Context) bool {
	c.mu.Lock()
	rearm := c.legStarted
	c.mu.Unlock()
	if !rearm {
		return true
	}

	required := c.settings.LegFuelKg
	if !c.UpdatePlannedAmountAsync(ctx, required) {
		return false
	}
	c.mu.Lock()
	c.legStarted = false
	c.mu.Unlock()
	c.logger.Info("next leg planned", "planned_kg", required)
	return true
}

// haltTransfer withdraws the GS request and stops the FM transfer.
func (c *Coordinator) haltTransfer(ctx context.Context) error {
	return errors.Join(
		varbus.WriteBool(ctx, c.bus, c.keys.RefuelRequest, false),
		varbus.WriteBool(ctx, c.bus, c.keys.TransferActive, false),
	)
}

// abortOnCancel is the cancellation path of every async operation: the
// transfer is halted on a detached context and any refuel is abandoned.
func (c *Coordinator) abortOnCancel(ctx context.Context, op string) {
	c.logger.Warn("fuel operation canceled, halting transfer", "op", op)
	state := c.manager.State()
	if !state.IsRefuelActive() && state != Complete {
		return
	}
	if err := c.haltTransfer(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("defensive transfer stop failed", "error", err)
		c.manager.Fail("defensive stop failed")
		return
	}
	c.manager.Cancel("operation canceled")
}

// failCommand handles an external failure inside a command.
func (c *Coordinator) failCommand(ctx context.Context, op, what string, err error) bool {
	if errors.IsCanceled(err) {
		c.abortOnCancel(ctx, op)
		return false
	}
	c.report(errors.NewCoordinatorError(what, err).WithOp(op))
	c.manager.Fail(what + " failed")
	return false
}

func (c *Coordinator) report(err *errors.CoordinatorError) {
	err = err.WithResource("fuel")
	if errors.GetSeverity(err) <= errors.SeverityWarning {
		c.logger.Warn("fuel operation rejected", "error", err)
		return
	}
	c.logger.Error("fuel operation failed", "error", err)
}

// transfer adapts the coordinator to the hose monitor.
type transfer struct {
	c *Coordinator
}

func (t transfer) StartTransfer(ctx context.Context) error {
	return varbus.WriteBool(ctx, t.c.bus, t.c.keys.TransferActive, true)
}

func (t transfer) StopTransfer(ctx context.Context) error {
	return t.c.haltTransfer(ctx)
}
