// Package flight implements the flight-phase state machine: the single
// forward cycle of phases, telemetry-gated transitions, next-phase
// prediction and phase hooks.
package flight

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Iron-Ham/groundsync/internal/clock"
	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/logging"
)

// PhaseHook runs on entry to or exit from a phase.
type PhaseHook func(phase Phase) error

// TransitionHook runs after every committed transition.
type TransitionHook func(rec TransitionRecord) error

type phaseHookEntry struct {
	id   uint64
	hook PhaseHook
}

type transitionHookEntry struct {
	id   uint64
	hook TransitionHook
}

// Prediction is the most recent PredictNext result.
type Prediction struct {
	Phase      Phase   `json:"phase"`
	Confidence float64 `json:"confidence"`
}

// Machine holds the current phase and its history.
//
// Hooks and the PhaseChanged event run after the transition has committed,
// outside the state lock, in commit order. A hook must not call
// TryTransition.
type Machine struct {
	mu        sync.RWMutex
	current   Phase
	enteredAt time.Time
	history   []TransitionRecord
	predicted *Prediction

	hooksMu         sync.Mutex
	nextHookID      uint64
	enterHooks      map[Phase][]phaseHookEntry
	exitHooks       map[Phase][]phaseHookEntry
	transitionHooks []transitionHookEntry

	// commitMu serializes commit + notification so observers see
	// transitions in order.
	commitMu sync.Mutex

	clock  clock.Clock
	bus    *event.Bus
	logger *logging.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the clock used for transition timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEventBus publishes PhaseChanged events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(m *Machine) {
		m.bus = bus
	}
}

// WithInitialPhase starts the machine in phase instead of PREFLIGHT.
func WithInitialPhase(phase Phase) Option {
	return func(m *Machine) {
		if phase.Valid() {
			m.current = phase
		}
	}
}

// NewMachine creates a machine in PREFLIGHT.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		current:    Preflight,
		enterHooks: make(map[Phase][]phaseHookEntry),
		exitHooks:  make(map[Phase][]phaseHookEntry),
		clock:      clock.Real(),
		logger:     logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("state-machine")
	m.enteredAt = m.clock.Now()
	return m
}

// CurrentPhase returns the current phase.
func (m *Machine) CurrentPhase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// EnteredAt returns when the current phase was entered.
func (m *Machine) EnteredAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enteredAt
}

// TimeInPhase returns how long the machine has been in the current phase.
func (m *Machine) TimeInPhase() time.Duration {
	return m.clock.Since(m.EnteredAt())
}

// History returns a copy of the transition history, oldest first.
func (m *Machine) History() []TransitionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// IsValidTransition reports whether to follows from on the phase cycle.
func (m *Machine) IsValidTransition(from, to Phase) bool {
	return IsValidTransition(from, to)
}

// EvaluateTransition checks whether the machine could move to target now.
// On rejection the reason names the unmet requirement.
func (m *Machine) EvaluateTransition(target Phase, params AircraftParameters) (bool, string) {
	err := m.evaluate(m.CurrentPhase(), target, params)
	if err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (m *Machine) evaluate(from, target Phase, params AircraftParameters) error {
	if !IsValidTransition(from, target) {
		return errors.NewTransitionError(from.String(), target.String(),
			"not the next phase in the cycle", errors.ErrInvalidTransition)
	}
	if ok, unmet := checkGate(from, params); !ok {
		return errors.NewTransitionError(from.String(), target.String(),
			unmet+" not satisfied", errors.ErrTransitionGated)
	}
	return nil
}

// PredictNext returns the next-hop phase and a heuristic confidence in [0, 1]
// that its gate is about to pass. Nothing is committed.
func (m *Machine) PredictNext(params AircraftParameters) (Phase, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current.Next()
	confidence := gateConfidence(m.current, params)
	m.predicted = &Prediction{Phase: next, Confidence: confidence}
	return next, confidence
}

// LastPrediction returns the most recent PredictNext result, if any.
func (m *Machine) LastPrediction() (Prediction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.predicted == nil {
		return Prediction{}, false
	}
	return *m.predicted, true
}

// TryTransition moves to target if the edge is valid and telemetry passes
// the gate. It returns false without mutating state otherwise.
func (m *Machine) TryTransition(target Phase, params AircraftParameters, reason string) bool {
	if err := m.Transition(target, params, reason); err != nil {
		m.logger.Debug("transition rejected", "target", target.String(), "reason", err.Error())
		return false
	}
	return true
}

// Transition is TryTransition with the rejection returned as a
// *errors.TransitionError.
func (m *Machine) Transition(target Phase, params AircraftParameters, reason string) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	from := m.current
	if err := m.evaluate(from, target, params); err != nil {
		m.mu.Unlock()
		return err
	}

	now := m.clock.Now()
	rec := TransitionRecord{From: from, To: target, At: now, Reason: reason}
	m.history = append(m.history, rec)
	m.current = target
	m.enteredAt = now
	m.predicted = nil
	m.mu.Unlock()

	m.logger.WithPhase(target.String()).Info("phase changed",
		"from", from.String(), "to", target.String(), "reason", reason)

	m.notify(rec)
	return nil
}

// notify runs exit hooks for the old phase, entry hooks for the new phase,
// then transition hooks, and finally publishes the event.
func (m *Machine) notify(rec TransitionRecord) {
	m.hooksMu.Lock()
	exits := append([]phaseHookEntry(nil), m.exitHooks[rec.From]...)
	enters := append([]phaseHookEntry(nil), m.enterHooks[rec.To]...)
	transitions := append([]transitionHookEntry(nil), m.transitionHooks...)
	m.hooksMu.Unlock()

	for _, h := range exits {
		m.runHook("exit", rec.From, func() error { return h.hook(rec.From) })
	}
	for _, h := range enters {
		m.runHook("enter", rec.To, func() error { return h.hook(rec.To) })
	}
	for _, h := range transitions {
		m.runHook("transition", rec.To, func() error { return h.hook(rec) })
	}

	if m.bus != nil {
		m.bus.Publish(event.NewPhaseChangedEvent(rec.From.String(), rec.To.String(), rec.Reason))
	}
}

// runHook isolates one hook: a returned error or a panic is logged and the
// remaining hooks still run.
func (m *Machine) runHook(kind string, phase Phase, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("phase hook panicked",
				"kind", kind,
				"phase", phase.String(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
		}
	}()
	if err := fn(); err != nil {
		m.logger.Error("phase hook failed", "kind", kind, "phase", phase.String(), "error", err)
	}
}

// OnEnter registers a hook run after phase is entered. The returned function
// removes it.
func (m *Machine) OnEnter(phase Phase, hook PhaseHook) func() {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.nextHookID++
	id := m.nextHookID
	m.enterHooks[phase] = append(m.enterHooks[phase], phaseHookEntry{id: id, hook: hook})
	return func() { m.removePhaseHook(m.enterHooks, phase, id) }
}

// OnExit registers a hook run after phase is left. The returned function
// removes it.
func (m *Machine) OnExit(phase Phase, hook PhaseHook) func() {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.nextHookID++
	id := m.nextHookID
	m.exitHooks[phase] = append(m.exitHooks[phase], phaseHookEntry{id: id, hook: hook})
	return func() { m.removePhaseHook(m.exitHooks, phase, id) }
}

// OnTransition registers a hook run after every transition. The returned
// function removes it.
func (m *Machine) OnTransition(hook TransitionHook) func() {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.nextHookID++
	id := m.nextHookID
	m.transitionHooks = append(m.transitionHooks, transitionHookEntry{id: id, hook: hook})
	return func() {
		m.hooksMu.Lock()
		defer m.hooksMu.Unlock()
		for i, h := range m.transitionHooks {
			if h.id == id {
				m.transitionHooks = append(m.transitionHooks[:i:i], m.transitionHooks[i+1:]...)
				return
			}
		}
	}
}

func (m *Machine) removePhaseHook(hooks map[Phase][]phaseHookEntry, phase Phase, id uint64) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	list := hooks[phase]
	for i, h := range list {
		if h.id == id {
			hooks[phase] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}
