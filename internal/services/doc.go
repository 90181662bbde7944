// Package services composes the flight state machine and the resource
// coordinators into one running system.
//
// The [Orchestrator] owns the control loop: every tick it reads
// [flight.AircraftParameters] from the variable bus, publishes service
// predictions, advances the flight phase when the next gate passes and
// re-runs the guarded fuel and cargo phase handlers. Every reconcile
// interval it runs the Synchronize pass of each coordinator, which is the
// only repair path for GS/FM divergence left by partial writes.
//
// # Main Types
//
//   - [Orchestrator]: composition root, phase fan-out and control loop
//   - [ServicePrediction]: one predicted service action, regenerated per tick
//   - [MenuService]: ground-service menu driving (bus-backed: [BusMenu])
//   - [LoadsheetService]: final loadsheet requests (logging: [LogLoadsheet])
//   - [Sequence]: the menu requests issued on entry to a phase
//
// # Phase Changes
//
// A committed transition is fanned out concurrently to the door, fuel,
// cargo and equipment coordinators. Coordinators must not assume any
// ordering between each other. After the fan-out the orchestrator saves a
// snapshot and runs the phase's service sequence.
//
// # Thread Safety
//
// [Orchestrator] is safe for concurrent use. Prediction hooks are invoked
// synchronously from the control loop; a panicking hook is logged and
// skipped.
package services
