// Package guard provides the two idempotency primitives shared by the
// resource coordinators.
//
//   - [PhaseGuard]: remembers which flight phases already ran their
//     non-idempotent actions, so a phase handler that runs every tick acts
//     once per phase entry.
//   - [FlipLimiter]: a per-key rolling-window limiter that absorbs flapping
//     source signals.
//
// # Usage
//
//	pg := guard.NewPhaseGuard(flight.Departure, flight.Turnaround)
//	if pg.TryProcess(flight.Preflight) {
//	    setInitialFuel()
//	}
//
//	limiter := guard.NewFlipLimiter[string](5, 5*time.Second, guard.WithClock(clk))
//	if !limiter.Allow("FWD_CARGO") {
//	    logger.Warn("door flapping, flip ignored")
//	}
//
// # Thread Safety
//
// Both types are safe for concurrent use.
package guard
