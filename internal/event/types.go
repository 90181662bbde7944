package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "phase.changed", "door.state_changed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypePhaseChanged             = "phase.changed"
	TypeDoorStateChanged         = "door.state_changed"
	TypeFuelStateChanged         = "fuel.state_changed"
	TypeRefuelingProgressChanged = "fuel.progress_changed"
	TypeCargoStateChanged        = "cargo.state_changed"
	TypeEquipmentStateChanged    = "equipment.state_changed"
	TypeServicePredicted         = "service.predicted"
	TypeLoadsheetGenerated       = "loadsheet.generated"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Flight Phase Events
// -----------------------------------------------------------------------------

// PhaseChangedEvent is emitted by the flight state machine on every committed
// transition. Phases are carried by name.
type PhaseChangedEvent struct {
	baseEvent
	Previous string
	New      string
	Reason   string
}

// NewPhaseChangedEvent creates a PhaseChangedEvent.
func NewPhaseChangedEvent(previous, next, reason string) PhaseChangedEvent {
	return PhaseChangedEvent{
		baseEvent: newBaseEvent(TypePhaseChanged),
		Previous:  previous,
		New:       next,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Resource Events
// -----------------------------------------------------------------------------

// DoorStateChangedEvent is emitted when a door's open flag actually flips.
type DoorStateChangedEvent struct {
	baseEvent
	Door          string
	Open          bool
	ServiceActive bool
	Source        string // "gs", "fm" or "coordinator"
}

// NewDoorStateChangedEvent creates a DoorStateChangedEvent.
func NewDoorStateChangedEvent(door string, open, serviceActive bool, source string) DoorStateChangedEvent {
	return DoorStateChangedEvent{
		baseEvent:     newBaseEvent(TypeDoorStateChanged),
		Door:          door,
		Open:          open,
		ServiceActive: serviceActive,
		Source:        source,
	}
}

// FuelStateChangedEvent is emitted when the refueling state machine moves.
type FuelStateChangedEvent struct {
	baseEvent
	Previous string
	New      string
	Reason   string
}

// NewFuelStateChangedEvent creates a FuelStateChangedEvent.
func NewFuelStateChangedEvent(previous, next, reason string) FuelStateChangedEvent {
	return FuelStateChangedEvent{
		baseEvent: newBaseEvent(TypeFuelStateChanged),
		Previous:  previous,
		New:       next,
		Reason:    reason,
	}
}

// RefuelingProgressChangedEvent is emitted when the whole-percent refueling
// progress changes.
type RefuelingProgressChangedEvent struct {
	baseEvent
	Percentage int
	CurrentKg  float64
	PlannedKg  float64
}

// NewRefuelingProgressChangedEvent creates a RefuelingProgressChangedEvent.
func NewRefuelingProgressChangedEvent(percentage int, currentKg, plannedKg float64) RefuelingProgressChangedEvent {
	return RefuelingProgressChangedEvent{
		baseEvent:  newBaseEvent(TypeRefuelingProgressChanged),
		Percentage: percentage,
		CurrentKg:  currentKg,
		PlannedKg:  plannedKg,
	}
}

// CargoStateChangedEvent is emitted when cargo flags, amount or percentage change.
type CargoStateChangedEvent struct {
	baseEvent
	Loading    bool
	Unloading  bool
	Percentage int
	PlannedKg  int
}

// NewCargoStateChangedEvent creates a CargoStateChangedEvent.
func NewCargoStateChangedEvent(loading, unloading bool, percentage, plannedKg int) CargoStateChangedEvent {
	return CargoStateChangedEvent{
		baseEvent:  newBaseEvent(TypeCargoStateChanged),
		Loading:    loading,
		Unloading:  unloading,
		Percentage: percentage,
		PlannedKg:  plannedKg,
	}
}

// EquipmentStateChangedEvent is emitted when a ground equipment item's
// connected flag flips.
type EquipmentStateChangedEvent struct {
	baseEvent
	Equipment string
	Connected bool
}

// NewEquipmentStateChangedEvent creates an EquipmentStateChangedEvent.
func NewEquipmentStateChangedEvent(equipment string, connected bool) EquipmentStateChangedEvent {
	return EquipmentStateChangedEvent{
		baseEvent: newBaseEvent(TypeEquipmentStateChanged),
		Equipment: equipment,
		Connected: connected,
	}
}

// -----------------------------------------------------------------------------
// Orchestration Events
// -----------------------------------------------------------------------------

// ServicePredictedEvent carries one service prediction produced by the
// orchestrator. EstimatedIn is nil when no estimate is available.
type ServicePredictedEvent struct {
	baseEvent
	Service         string
	PredictedStatus string
	Confidence      float64
	EstimatedIn     *time.Duration
}

// NewServicePredictedEvent creates a ServicePredictedEvent.
func NewServicePredictedEvent(service, status string, confidence float64, estimatedIn *time.Duration) ServicePredictedEvent {
	return ServicePredictedEvent{
		baseEvent:       newBaseEvent(TypeServicePredicted),
		Service:         service,
		PredictedStatus: status,
		Confidence:      confidence,
		EstimatedIn:     estimatedIn,
	}
}

// LoadsheetGeneratedEvent reports completion of a final loadsheet request.
type LoadsheetGeneratedEvent struct {
	baseEvent
	FlightNumber string
	Success      bool
	Error        string
}

// NewLoadsheetGeneratedEvent creates a LoadsheetGeneratedEvent.
func NewLoadsheetGeneratedEvent(flightNumber string, err error) LoadsheetGeneratedEvent {
	e := LoadsheetGeneratedEvent{
		baseEvent:    newBaseEvent(TypeLoadsheetGenerated),
		FlightNumber: flightNumber,
		Success:      err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
