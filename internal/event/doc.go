// Package event provides a pub-sub event bus for decoupled inter-component
// communication in groundsync.
//
// The flight state machine and the resource coordinators publish events
// without knowing who receives them; the orchestrator, the status API and
// snapshot persistence subscribe without knowing who produces them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Subscription]: Handle returned by Subscribe; Close it to unsubscribe
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Events
//
//   - [PhaseChangedEvent]: a flight phase transition committed
//   - [DoorStateChangedEvent]: a door opened or closed
//   - [FuelStateChangedEvent]: the refueling state machine moved
//   - [RefuelingProgressChangedEvent]: refueling percentage changed
//   - [CargoStateChangedEvent]: cargo loading state changed
//   - [EquipmentStateChangedEvent]: ground equipment connected or disconnected
//   - [ServicePredictedEvent]: a ground service prediction was produced
//   - [LoadsheetGeneratedEvent]: a final loadsheet request finished
//
// # Subscription Lifetime
//
// Every Subscribe call returns a [Subscription] that the caller owns.
// [SubscribeContext] ties the handle to a context so a component that is
// torn down by cancelling its context stops receiving events without an
// explicit Close. Dead handles are skipped on Publish and removed by
// [Bus.Sweep], which [Bus.RunCleanup] calls periodically.
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine and protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//
//	sub := event.On(bus, event.TypePhaseChanged, func(e event.PhaseChangedEvent) {
//	    logger.Info("phase changed", "from", e.Previous, "to", e.New)
//	})
//	defer sub.Close()
//
//	bus.Publish(event.NewPhaseChangedEvent("PREFLIGHT", "DEPARTURE", "flight plan loaded"))
package event
