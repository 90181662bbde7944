// Package internal contains integration tests that drive the orchestrator,
// the coordinators and the simulated tanker together over one in-memory
// variable bus.
package internal

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/groundsync/internal/config"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/fuel"
	"github.com/Iron-Ham/groundsync/internal/services"
	"github.com/Iron-Ham/groundsync/internal/snapshot"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.EventType() == typ {
			out = append(out, e)
		}
	}
	return out
}

type system struct {
	bus    *varbus.Memory
	keys   varbus.Keys
	orch   *services.Orchestrator
	tanker *fuel.Tanker
	seen   *recorder
}

func newSystem(t *testing.T, store snapshot.Store) *system {
	t.Helper()
	cfg := config.Default()
	cfg.Control.FlightNumber = "GSY42"
	clk := clockwork.NewFakeClock()

	s := &system{
		bus:  varbus.NewMemory(),
		keys: varbus.DefaultKeys(),
		seen: &recorder{},
	}
	events := event.NewBus()
	events.SubscribeAll(s.seen.handle)

	opts := []services.Option{
		services.WithClock(clk),
		services.WithEventBus(events),
		services.WithKeys(s.keys),
	}
	if store != nil {
		opts = append(opts, services.WithStore(store))
	}
	s.orch = services.New(s.bus, cfg, opts...)
	t.Cleanup(s.orch.Close)

	// 1200 kg per one-second tick
	s.tanker = fuel.NewTanker(s.bus, s.keys.Fuel, 1200, time.Second, clk, nil)
	return s
}

func (s *system) aircraft(onGround, engines, beacon, flightPlan bool, brake float64) {
	a := s.keys.Aircraft
	s.bus.Set(a.OnGround, varbus.Bool(onGround))
	s.bus.Set(a.EnginesRunning, varbus.Bool(engines))
	s.bus.Set(a.Beacon, varbus.Bool(beacon))
	s.bus.Set(a.FlightPlanLoaded, varbus.Bool(flightPlan))
	s.bus.Set(a.ParkingBrake, varbus.Float(brake))
	s.bus.Set(a.GroundSpeed, varbus.Float(0))
}

// step advances the tanker and the fuel monitors by one poll each.
func (s *system) step(ctx context.Context) {
	s.tanker.Tick(ctx)
	_ = s.orch.Fuel().Hose().Poll(ctx)
	s.orch.Fuel().Tracker().Tick(ctx)
}

func TestRefuelEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newSystem(t, nil)

	s.aircraft(true, false, false, false, 1)
	s.orch.Start(ctx)
	s.orch.Tick(ctx)
	s.orch.Cargo().Wait()
	if got, _ := s.bus.Get(s.keys.Fuel.QuantityKg); got.Float() != 2000 {
		t.Fatalf("initial fuel = %v, want 2000", got.Float())
	}

	s.aircraft(true, false, false, true, 1)
	s.orch.Tick(ctx)
	s.orch.Cargo().Wait()
	if phase := s.orch.Machine().CurrentPhase(); phase != flight.Departure {
		t.Fatalf("phase = %s, want DEPARTURE", phase)
	}
	if s.orch.Fuel().State() != fuel.Requested {
		t.Fatalf("fuel state = %s, want REQUESTED", s.orch.Fuel().State())
	}

	for i := 0; i < 20 && s.orch.Fuel().State() != fuel.Idle; i++ {
		s.step(ctx)
		// repeated policy runs must not request a second refuel for this leg
		s.orch.Tick(ctx)
	}
	if s.orch.Fuel().State() != fuel.Idle {
		t.Fatalf("fuel state = %s, want IDLE after the tanker disconnects", s.orch.Fuel().State())
	}
	if got, _ := s.bus.Get(s.keys.Fuel.QuantityKg); got.Float() != 6200 {
		t.Errorf("fuel on board = %v, want 6200", got.Float())
	}
	if active, _ := s.bus.Get(s.keys.Fuel.TransferActive); active.Bool() {
		t.Error("transfer should be inactive after completion")
	}

	var states []string
	for _, e := range s.seen.ofType(event.TypeFuelStateChanged) {
		states = append(states, e.(event.FuelStateChangedEvent).New)
	}
	want := []string{"REQUESTED", "REFUELING", "COMPLETE", "IDLE"}
	if !slices.Equal(states, want) {
		t.Errorf("fuel states = %v, want %v", states, want)
	}

	progress := s.seen.ofType(event.TypeRefuelingProgressChanged)
	if len(progress) == 0 {
		t.Fatal("no progress events")
	}
	last := -1
	for _, e := range progress {
		pct := e.(event.RefuelingProgressChangedEvent).Percentage
		if pct <= last {
			t.Errorf("progress went from %d to %d", last, pct)
		}
		last = pct
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestPhaseEventsMatchHistory(t *testing.T) {
	ctx := context.Background()
	store, err := snapshot.NewFileStore(t.TempDir()+"/state.msgpack", nil)
	if err != nil {
		t.Fatal(err)
	}
	s := newSystem(t, store)

	s.aircraft(true, false, false, true, 1)
	s.orch.Start(ctx)
	s.orch.Tick(ctx)
	s.orch.Cargo().Wait()

	// crew removes the ground equipment and starts up
	for _, k := range s.keys.Equipment {
		s.bus.Set(k.GS, varbus.Bool(false))
	}
	s.aircraft(true, true, true, true, 0)
	s.orch.Tick(ctx)
	s.orch.Cargo().Wait()

	history := s.orch.Machine().History()
	changed := s.seen.ofType(event.TypePhaseChanged)
	if len(history) != 2 || len(changed) != len(history) {
		t.Fatalf("history = %d records, phase events = %d", len(history), len(changed))
	}
	for i, rec := range history {
		e := changed[i].(event.PhaseChangedEvent)
		if e.Previous != rec.From.String() || e.New != rec.To.String() {
			t.Errorf("event[%d] = %s -> %s, history says %s -> %s", i, e.Previous, e.New, rec.From, rec.To)
		}
	}

	if ls := s.seen.ofType(event.TypeLoadsheetGenerated); len(ls) != 0 {
		// no loadsheet service is configured
		t.Errorf("unexpected loadsheet events: %d", len(ls))
	}

	saved, ok := store.Load(ctx)
	if !ok {
		t.Fatal("no snapshot saved")
	}
	if saved.Phase != flight.TaxiOut || len(saved.History) != 2 {
		t.Errorf("saved snapshot = %s with %d records, want TAXIOUT with 2", saved.Phase, len(saved.History))
	}
}
