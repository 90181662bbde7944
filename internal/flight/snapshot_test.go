package flight

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/groundsync/internal/errors"
)

func TestMachine_SnapshotRestore(t *testing.T) {
	fc := clockwork.NewFakeClock()
	src := NewMachine(WithClock(fc))
	src.TryTransition(Departure, gatePassing(Preflight), "plan loaded")
	fc.Advance(5 * time.Minute)
	src.TryTransition(TaxiOut, gatePassing(Departure), "pushback")
	src.PredictNext(AircraftParameters{})

	snap := src.Snapshot()
	if snap.Phase != TaxiOut || len(snap.History) != 2 {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	if snap.PredictedNext == nil || *snap.PredictedNext != Flight {
		t.Errorf("PredictedNext = %v, want FLIGHT", snap.PredictedNext)
	}

	// The snapshot is detached from the machine
	snap.History[0].Reason = "edited"
	if src.History()[0].Reason != "plan loaded" {
		t.Error("Snapshot() shares history with the machine")
	}
	snap.History[0].Reason = "plan loaded"

	dst := NewMachine()
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if dst.CurrentPhase() != TaxiOut || !dst.EnteredAt().Equal(snap.EnteredAt) {
		t.Errorf("restored phase %s entered %v", dst.CurrentPhase(), dst.EnteredAt())
	}
	if len(dst.History()) != 2 {
		t.Errorf("restored history len = %d, want 2", len(dst.History()))
	}
	if p, ok := dst.LastPrediction(); !ok || p.Phase != Flight {
		t.Errorf("restored prediction = %+v, %v", p, ok)
	}

	// Restored machine carries on from where the source stopped
	if !dst.TryTransition(Flight, gatePassing(TaxiOut), "rotate") {
		t.Error("transition after restore rejected")
	}
}

func TestSnapshot_Validate(t *testing.T) {
	now := time.Now()
	bad := Phase(12)

	tests := []struct {
		name    string
		snap    Snapshot
		wantErr bool
	}{
		{"empty preflight", Snapshot{Phase: Preflight}, false},
		{"chained history", Snapshot{Phase: TaxiOut, History: []TransitionRecord{
			{From: Preflight, To: Departure, At: now},
			{From: Departure, To: TaxiOut, At: now},
		}}, false},
		{"undefined phase", Snapshot{Phase: Phase(99)}, true},
		{"skip in history", Snapshot{Phase: Flight, History: []TransitionRecord{
			{From: Departure, To: Flight},
		}}, true},
		{"broken chain", Snapshot{Phase: Arrival, History: []TransitionRecord{
			{From: Preflight, To: Departure},
			{From: TaxiIn, To: Arrival},
		}}, true},
		{"history disagrees with phase", Snapshot{Phase: Flight, History: []TransitionRecord{
			{From: Preflight, To: Departure},
		}}, true},
		{"bad prediction", Snapshot{Phase: Preflight, PredictedNext: &bad}, true},
		{"confidence above one", Snapshot{Phase: Preflight, PredictedConfidence: 1.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snap.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrSnapshotCorrupt) {
				t.Errorf("Validate() error = %v, want ErrSnapshotCorrupt", err)
			}
		})
	}
}

func TestMachine_RestoreInvalidLeavesState(t *testing.T) {
	m := NewMachine()
	m.TryTransition(Departure, gatePassing(Preflight), "")

	err := m.Restore(Snapshot{Phase: Flight, History: []TransitionRecord{{From: Preflight, To: Flight}}})
	if err == nil {
		t.Fatal("Restore() accepted an invalid snapshot")
	}
	if m.CurrentPhase() != Departure || len(m.History()) != 1 {
		t.Error("invalid snapshot modified the machine")
	}
}
