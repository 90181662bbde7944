package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/groundsync/internal/cargo"
	"github.com/Iron-Ham/groundsync/internal/clock"
	"github.com/Iron-Ham/groundsync/internal/config"
	"github.com/Iron-Ham/groundsync/internal/doors"
	"github.com/Iron-Ham/groundsync/internal/equipment"
	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/fuel"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/snapshot"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// Orchestrator composes the state machine and the coordinators.
type Orchestrator struct {
	bus    varbus.Bus
	keys   varbus.Keys
	cfg    *config.Config
	events *event.Bus
	logger *logging.Logger
	clock  clock.Clock

	machine   *flight.Machine
	doors     *doors.Coordinator
	fuel      *fuel.Coordinator
	cargo     *cargo.Coordinator
	equipment *equipment.Coordinator

	store     snapshot.Store
	menu      MenuService
	loadsheet LoadsheetService
	sequences map[flight.Phase]Sequence

	autoRefuel    bool
	autoOpenDoors bool

	// runCtx is the context phase hooks act under; set by Start
	ctxMu  sync.RWMutex
	runCtx context.Context

	mu            sync.RWMutex
	predictions   []ServicePrediction
	lastParams    flight.AircraftParameters
	haveParams    bool
	lastReconcile time.Time

	plans planTracker

	hooksMu    sync.RWMutex
	hooks      map[uint64]PredictionHook
	nextHookID uint64

	unregister []func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger shared by every component.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEventBus sets the event bus shared by every component.
func WithEventBus(bus *event.Bus) Option {
	return func(o *Orchestrator) {
		if bus != nil {
			o.events = bus
		}
	}
}

// WithClock sets the clock shared by every component.
func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) {
		if clk != nil {
			o.clock = clk
		}
	}
}

// WithKeys overrides the default variable key profile.
func WithKeys(keys varbus.Keys) Option {
	return func(o *Orchestrator) {
		o.keys = keys
	}
}

// WithStore persists the machine on every phase change.
func WithStore(s snapshot.Store) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

// WithMenu sets the menu used for service sequences.
func WithMenu(m MenuService) Option {
	return func(o *Orchestrator) {
		o.menu = m
	}
}

// WithLoadsheet sets the loadsheet service used when DEPARTURE is exited.
func WithLoadsheet(l LoadsheetService) Option {
	return func(o *Orchestrator) {
		o.loadsheet = l
	}
}

// WithSequences replaces the default service sequences.
func WithSequences(seqs map[flight.Phase]Sequence) Option {
	return func(o *Orchestrator) {
		o.sequences = seqs
	}
}

// New builds the machine and every coordinator on bus from cfg. A nil cfg
// uses config.Default().
func New(bus varbus.Bus, cfg *config.Config, opts ...Option) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &Orchestrator{
		bus:       bus,
		keys:      varbus.DefaultKeys(),
		cfg:       cfg,
		logger:    logging.NopLogger(),
		clock:     clock.Real(),
		store:     snapshot.NopStore{},
		sequences: DefaultSequences(),
		runCtx:    context.Background(),
		hooks:     make(map[uint64]PredictionHook),

		autoRefuel:    cfg.Fuel.AutoRefuel,
		autoOpenDoors: cfg.Doors.AutoOpenOnArrival,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.events == nil {
		o.events = event.NewBus(event.WithLogger(o.logger))
	}
	base := o.logger
	o.logger = base.WithComponent("orchestrator")

	o.machine = flight.NewMachine(
		flight.WithClock(o.clock),
		flight.WithLogger(base),
		flight.WithEventBus(o.events),
	)
	o.doors = doors.New(bus,
		doors.WithLogger(base),
		doors.WithEventBus(o.events),
		doors.WithKeys(o.keys),
		doors.WithClock(o.clock),
		doors.WithFlipLimit(cfg.Doors.FlipLimit, cfg.Doors.FlipWindow()),
		doors.WithAutoOpenOnArrival(cfg.Doors.AutoOpenOnArrival),
	)
	o.fuel = fuel.New(bus,
		fuel.WithLogger(base),
		fuel.WithEventBus(o.events),
		fuel.WithClock(o.clock),
		fuel.WithKeys(o.keys),
		fuel.WithSettings(fuel.Settings{
			AutoRefuel:         cfg.Fuel.AutoRefuel,
			InitialFuelKg:      cfg.Fuel.InitialFuelKg,
			LegFuelKg:          cfg.Fuel.LegFuelKg(),
			RefuelRateKgPerSec: cfg.Fuel.RefuelRateKgPerSec,
			HosePollInterval:   cfg.Fuel.HosePollInterval(),
			ProgressInterval:   cfg.Fuel.ProgressInterval(),
		}),
	)
	o.cargo = cargo.New(bus,
		cargo.WithLogger(base),
		cargo.WithEventBus(o.events),
		cargo.WithKeys(o.keys),
		cargo.WithPlannedKg(cfg.Cargo.PlannedKg),
	)
	o.cargo.SetDoorCoordinator(o.doors)
	o.equipment = equipment.New(bus,
		equipment.WithLogger(base),
		equipment.WithEventBus(o.events),
		equipment.WithKeys(o.keys),
	)

	o.unregister = append(o.unregister,
		o.machine.OnTransition(o.onTransition),
		o.machine.OnExit(flight.Departure, o.onDepartureExit),
	)
	return o
}

// Machine returns the flight state machine.
func (o *Orchestrator) Machine() *flight.Machine { return o.machine }

// Doors returns the door coordinator.
func (o *Orchestrator) Doors() *doors.Coordinator { return o.doors }

// Fuel returns the fuel coordinator.
func (o *Orchestrator) Fuel() *fuel.Coordinator { return o.fuel }

// Cargo returns the cargo coordinator.
func (o *Orchestrator) Cargo() *cargo.Coordinator { return o.cargo }

// Equipment returns the equipment coordinator.
func (o *Orchestrator) Equipment() *equipment.Coordinator { return o.equipment }

// Events returns the event bus.
func (o *Orchestrator) Events() *event.Bus { return o.events }

// LastParameters returns the telemetry read by the last successful tick.
func (o *Orchestrator) LastParameters() (flight.AircraftParameters, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastParams, o.haveParams
}

func (o *Orchestrator) runContext() context.Context {
	o.ctxMu.RLock()
	defer o.ctxMu.RUnlock()
	return o.runCtx
}

// Start restores the last snapshot, if any, and applies the policy of the
// current phase to every coordinator. Phase hooks act under ctx from here on.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctxMu.Lock()
	o.runCtx = ctx
	o.ctxMu.Unlock()

	if s, ok := o.store.Load(ctx); ok {
		if err := o.machine.Restore(s); err != nil {
			o.logger.Warn("snapshot not restored, starting fresh", "error", err)
		}
	}

	phase := o.machine.CurrentPhase()
	if phase != flight.Preflight {
		o.plans.resume()
	}
	o.logger.Info("orchestrator started", "phase", phase.String())
	if err := o.applyPhase(ctx, phase, phase); err != nil {
		o.logger.Warn("initial phase policy incomplete", "error", err)
	}
}

// Run starts the orchestrator and blocks running the control loop, the door
// watcher, the fuel monitors and event cleanup until ctx is done. It returns
// nil on a clean shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.Start(ctx)

	o.fuel.Start(ctx)
	defer o.fuel.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.doors.Watch(gctx)
	})
	g.Go(func() error {
		return o.events.RunCleanup(gctx, o.clock, o.cfg.Control.EventCleanupInterval())
	})
	g.Go(func() error {
		return clock.Run(gctx, o.clock, o.cfg.Control.TickInterval(), o.logger, o.Tick)
	})

	err := g.Wait()
	o.cargo.Wait()
	o.saveSnapshot(context.WithoutCancel(ctx))
	o.logger.Info("orchestrator stopped", "phase", o.machine.CurrentPhase().String())

	if errors.IsCanceled(err) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close removes the orchestrator's machine hooks.
func (o *Orchestrator) Close() {
	for _, fn := range o.unregister {
		fn()
	}
	o.unregister = nil
}

// Tick runs one control loop iteration.
func (o *Orchestrator) Tick(ctx context.Context) {
	params, err := ReadParameters(ctx, o.bus, o.keys)
	if err != nil {
		o.logger.Warn("telemetry unavailable, skipping tick", "error", err)
		return
	}
	params.NewFlightPlan = o.plans.observe(params.FlightPlanLoaded, params.FlightPlanID)
	params.DeboardingComplete = params.DeboardingComplete || o.cargo.UnloadingComplete()
	o.mu.Lock()
	o.lastParams = params
	o.haveParams = true
	o.mu.Unlock()

	next, confidence := o.machine.PredictNext(params)
	o.publishPredictions(o.predict(next, confidence))

	if o.cfg.Control.AutoTransition {
		if ok, _ := o.machine.EvaluateTransition(next, params); ok {
			o.machine.TryTransition(next, params, "telemetry gate satisfied")
		}
	}

	phase := o.machine.CurrentPhase()
	o.fuel.ManageForPhase(ctx, phase)
	o.cargo.ManageForPhase(ctx, phase)

	o.mu.Lock()
	due := o.clock.Since(o.lastReconcile) >= o.cfg.Control.ReconcileInterval()
	if due {
		o.lastReconcile = o.clock.Now()
	}
	o.mu.Unlock()
	if due {
		o.Reconcile(ctx)
	}
}

// Reconcile runs every coordinator's synchronize pass concurrently and
// reports whether all of them succeeded.
func (o *Orchestrator) Reconcile(ctx context.Context) bool {
	var g errgroup.Group
	passes := map[string]func(context.Context) bool{
		"doors":     o.doors.SynchronizeStates,
		"fuel":      o.fuel.SynchronizeQuantities,
		"cargo":     o.cargo.SynchronizeState,
		"equipment": o.equipment.SynchronizeStates,
	}
	for name, pass := range passes {
		g.Go(func() error {
			if !pass(ctx) {
				return errors.NewCoordinatorError("synchronize pass incomplete", nil).WithResource(name).WithOp("sync")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn("reconciliation incomplete", "error", err)
		return false
	}
	o.logger.Debug("reconciliation complete")
	return true
}

// onTransition fans a committed transition out to the coordinators, saves a
// snapshot and runs the new phase's service sequence.
func (o *Orchestrator) onTransition(rec flight.TransitionRecord) error {
	ctx := o.runContext()
	if rec.To == flight.Departure {
		o.mu.RLock()
		id := o.lastParams.FlightPlanID
		o.mu.RUnlock()
		o.plans.departed(id)
	}
	err := o.applyPhase(ctx, rec.From, rec.To)
	o.saveSnapshot(ctx)
	o.runSequence(ctx, rec.To)
	return err
}

// applyPhase clears the processed-phase guards on a genuine change and runs
// every coordinator's phase policy concurrently. No ordering between
// coordinators is implied.
func (o *Orchestrator) applyPhase(ctx context.Context, previous, next flight.Phase) error {
	o.fuel.OnPhaseChanged(previous, next)
	o.cargo.OnPhaseChanged(previous, next)

	var g errgroup.Group
	policies := map[string]func(context.Context, flight.Phase) bool{
		"doors":     o.doors.ManageForPhase,
		"fuel":      o.fuel.ManageForPhase,
		"cargo":     o.cargo.ManageForPhase,
		"equipment": o.equipment.ManageForPhase,
	}
	for name, policy := range policies {
		g.Go(func() error {
			if !policy(ctx, next) {
				o.logger.WithPhase(next.String()).Warn("phase policy not fully applied", "resource", name)
				return errors.NewCoordinatorError("phase policy not fully applied", nil).
					WithResource(name).WithOp(next.String())
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) onDepartureExit(flight.Phase) error {
	if o.loadsheet == nil {
		return nil
	}
	o.loadsheet.GenerateFinalLoadsheetAsync(o.runContext(), o.cfg.Control.FlightNumber)
	return nil
}

func (o *Orchestrator) saveSnapshot(ctx context.Context) {
	if err := o.store.Save(ctx, o.machine.Snapshot()); err != nil {
		o.logger.Warn("snapshot save failed", "error", err)
	}
}
