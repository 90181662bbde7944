package fuel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/logging"
)

// RefuelingState is the state of the refueling process.
type RefuelingState int32

const (
	Idle RefuelingState = iota
	Requested
	Refueling
	Complete
	Defueling
	Error
)

var stateNames = [...]string{
	Idle:      "IDLE",
	Requested: "REQUESTED",
	Refueling: "REFUELING",
	Complete:  "COMPLETE",
	Defueling: "DEFUELING",
	Error:     "ERROR",
}

func (s RefuelingState) String() string {
	if s < Idle || s > Error {
		return fmt.Sprintf("RefuelingState(%d)", int(s))
	}
	return stateNames[s]
}

// IsRefuelActive reports whether a refuel has been requested and not yet
// completed.
func (s RefuelingState) IsRefuelActive() bool {
	return s == Requested || s == Refueling
}

// StateManager owns the RefuelingState. Transitions happen under its mutex;
// State is a lock-free read.
//
//	Idle -> Requested -> Refueling -> Complete -> Idle
//	Idle -> Defueling -> Idle
//	any  -> Error -> Idle (Reset)
type StateManager struct {
	mu     sync.Mutex
	state  atomic.Int32
	events *event.Bus
	logger *logging.Logger
}

// NewStateManager creates a manager in Idle. events may be nil.
func NewStateManager(events *event.Bus, logger *logging.Logger) *StateManager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &StateManager{events: events, logger: logger}
}

// State returns the current state.
func (m *StateManager) State() RefuelingState {
	return RefuelingState(m.state.Load())
}

// transition moves to next if the current state is one of from. It reports
// whether the move happened.
func (m *StateManager) transition(next RefuelingState, reason string, from ...RefuelingState) bool {
	m.mu.Lock()
	prev := RefuelingState(m.state.Load())
	allowed := len(from) == 0
	for _, f := range from {
		if prev == f {
			allowed = true
			break
		}
	}
	if !allowed || prev == next {
		m.mu.Unlock()
		return false
	}
	m.state.Store(int32(next))
	m.mu.Unlock()

	m.logger.Info("refueling state changed", "from", prev.String(), "to", next.String(), "reason", reason)
	if m.events != nil {
		m.events.Publish(event.NewFuelStateChangedEvent(prev.String(), next.String(), reason))
	}
	return true
}

// Request moves Idle to Requested.
func (m *StateManager) Request() bool {
	return m.transition(Requested, "refueling requested", Idle)
}

// Begin moves Requested to Refueling.
func (m *StateManager) Begin() bool {
	return m.transition(Refueling, "fuel hose connected", Requested)
}

// Complete moves Refueling to Complete.
func (m *StateManager) Complete() bool {
	return m.transition(Complete, "planned amount reached", Refueling)
}

// Finish moves Complete to Idle.
func (m *StateManager) Finish() bool {
	return m.transition(Idle, "fuel hose disconnected", Complete)
}

// Cancel abandons a refuel in progress and returns to Idle.
func (m *StateManager) Cancel(reason string) bool {
	return m.transition(Idle, reason, Requested, Refueling, Complete)
}

// StartDefueling moves Idle to Defueling.
func (m *StateManager) StartDefueling() bool {
	return m.transition(Defueling, "defueling requested", Idle)
}

// StopDefueling moves Defueling to Idle.
func (m *StateManager) StopDefueling() bool {
	return m.transition(Idle, "defueling stopped", Defueling)
}

// Fail moves any state to Error.
func (m *StateManager) Fail(reason string) bool {
	return m.transition(Error, reason)
}

// Reset moves Error to Idle.
func (m *StateManager) Reset() bool {
	return m.transition(Idle, "error cleared", Error)
}
