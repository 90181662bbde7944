package guard

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/groundsync/internal/flight"
)

func TestPhaseGuard_OncePerPhase(t *testing.T) {
	g := NewPhaseGuard(flight.Departure, flight.Turnaround)

	runs := 0
	for range 5 {
		if g.TryProcess(flight.Preflight) {
			runs++
		}
	}
	if runs != 1 {
		t.Errorf("PREFLIGHT processed %d times across ticks, want 1", runs)
	}
	if !g.Processed(flight.Preflight) {
		t.Error("Processed(PREFLIGHT) = false after TryProcess")
	}
}

func TestPhaseGuard_Exempt(t *testing.T) {
	g := NewPhaseGuard(flight.Departure, flight.Turnaround)

	for _, p := range []flight.Phase{flight.Departure, flight.Turnaround} {
		g.MarkProcessed(p)
		if !g.ShouldProcess(p) || !g.TryProcess(p) {
			t.Errorf("%s is exempt and should always be processed", p)
		}
	}

	g.MarkProcessed(flight.Flight)
	if g.ShouldProcess(flight.Flight) {
		t.Error("FLIGHT is not exempt and should be skipped once processed")
	}
}

func TestPhaseGuard_ClearOnlyOnGenuineChange(t *testing.T) {
	tests := []struct {
		name        string
		previous    flight.Phase
		next        flight.Phase
		wantCleared bool
	}{
		{"redundant re-entry", flight.Preflight, flight.Preflight, false},
		{"real transition", flight.Preflight, flight.Departure, true},
		{"cycle closes", flight.Turnaround, flight.Departure, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewPhaseGuard()
			g.MarkProcessed(flight.Preflight)

			if got := g.OnPhaseChange(tt.previous, tt.next); got != tt.wantCleared {
				t.Errorf("OnPhaseChange() = %v, want %v", got, tt.wantCleared)
			}
			if g.Processed(flight.Preflight) == tt.wantCleared {
				t.Errorf("Processed(PREFLIGHT) = %v after change, want %v",
					g.Processed(flight.Preflight), !tt.wantCleared)
			}
		})
	}
}

func TestFlipLimiter_RollingWindow(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := NewFlipLimiter[string](5, 5*time.Second, WithClock(fc))

	// 6 flips within 2 seconds: the 6th is rejected
	allowed := 0
	for i := range 6 {
		if l.Allow("FWD_CARGO") {
			allowed++
		} else if i != 5 {
			t.Errorf("flip %d rejected, only the 6th should be", i+1)
		}
		fc.Advance(400 * time.Millisecond)
	}
	if allowed != 5 {
		t.Fatalf("allowed = %d, want 5", allowed)
	}

	// Other keys are independent
	if !l.Allow("AFT_CARGO") {
		t.Error("a different key should not be limited")
	}

	// Once the oldest flip leaves the window, one more is allowed
	fc.Advance(5*time.Second - 6*400*time.Millisecond)
	if l.Count("FWD_CARGO") != 4 {
		t.Errorf("Count() = %d after the first flip expired, want 4", l.Count("FWD_CARGO"))
	}
	if !l.Allow("FWD_CARGO") {
		t.Error("flip should be allowed after the window rolls")
	}
}

func TestFlipLimiter_ResetAndDefaults(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := NewFlipLimiter[int](0, 0, WithClock(fc))
	if l.limit != DefaultFlipLimit || l.window != DefaultFlipWindow {
		t.Errorf("defaults = %d/%v", l.limit, l.window)
	}

	for range DefaultFlipLimit {
		l.Allow(1)
	}
	if l.Allow(1) {
		t.Fatal("limit not enforced")
	}
	l.Reset(1)
	if !l.Allow(1) {
		t.Error("Reset() should clear the history")
	}
}

func TestFlipLimiter_Undo(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := NewFlipLimiter[string](2, time.Minute, WithClock(fc))

	l.Undo("AFT_CARGO") // nothing recorded
	if !l.Allow("AFT_CARGO") || !l.Allow("AFT_CARGO") {
		t.Fatal("two flips should be allowed")
	}
	if l.Allow("AFT_CARGO") {
		t.Fatal("limit not enforced")
	}

	// a reserved flip that was not carried out gives its slot back
	l.Undo("AFT_CARGO")
	if l.Count("AFT_CARGO") != 1 {
		t.Errorf("Count() = %d after Undo, want 1", l.Count("AFT_CARGO"))
	}
	if !l.Allow("AFT_CARGO") {
		t.Error("the undone slot should be reusable")
	}
	l.Undo("AFT_CARGO")
	l.Undo("AFT_CARGO")
	if l.Count("AFT_CARGO") != 0 {
		t.Errorf("Count() = %d, want 0", l.Count("AFT_CARGO"))
	}
}

func TestFlipLimiter_Concurrent(t *testing.T) {
	l := NewFlipLimiter[string](10, time.Hour, WithClock(clockwork.NewFakeClock()))

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if l.Allow("door") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want 10", allowed)
	}
}
