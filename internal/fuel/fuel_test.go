package fuel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

var keys = varbus.DefaultKeys().Fuel

type harness struct {
	bus    *varbus.Memory
	events *event.Bus
	clock  *clockwork.FakeClock
	coord  *Coordinator

	mu       sync.Mutex
	states   []event.FuelStateChangedEvent
	progress []event.RefuelingProgressChangedEvent
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		bus:    varbus.NewMemory(),
		events: event.NewBus(),
		clock:  clockwork.NewFakeClock(),
	}
	opts = append([]Option{WithEventBus(h.events), WithClock(h.clock)}, opts...)
	h.coord = New(h.bus, opts...)

	s1 := event.On(h.events, event.TypeFuelStateChanged, func(e event.FuelStateChangedEvent) {
		h.mu.Lock()
		h.states = append(h.states, e)
		h.mu.Unlock()
	})
	s2 := event.On(h.events, event.TypeRefuelingProgressChanged, func(e event.RefuelingProgressChangedEvent) {
		h.mu.Lock()
		h.progress = append(h.progress, e)
		h.mu.Unlock()
	})
	t.Cleanup(func() { event.CloseAll(s1, s2) })
	return h
}

func (h *harness) transitionsTo(state RefuelingState) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.states {
		if e.New == state.String() {
			n++
		}
	}
	return n
}

func (h *harness) progressEvents() []event.RefuelingProgressChangedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]event.RefuelingProgressChangedEvent(nil), h.progress...)
}

func (h *harness) boolValue(key string) bool {
	v, _ := h.bus.Get(key)
	return v.Bool()
}

// refueling drives the coordinator into Refueling with the hose connected.
func (h *harness) refueling(t *testing.T) {
	t.Helper()
	if !h.coord.StartRefueling() {
		t.Fatal("StartRefueling() = false")
	}
	h.bus.Set(keys.HoseConnected, varbus.Bool(true))
	if err := h.coord.Hose().Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if h.coord.State() != Refueling {
		t.Fatalf("State() = %s, want REFUELING", h.coord.State())
	}
}

func TestStateManager_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		steps func(m *StateManager) bool
		want  RefuelingState
	}{
		{"request", func(m *StateManager) bool { return m.Request() }, Requested},
		{"begin without request", func(m *StateManager) bool { return !m.Begin() }, Idle},
		{"full refuel cycle", func(m *StateManager) bool {
			return m.Request() && m.Begin() && m.Complete() && m.Finish()
		}, Idle},
		{"complete requires refueling", func(m *StateManager) bool { return m.Request() && !m.Complete() }, Requested},
		{"defuel branch", func(m *StateManager) bool { return m.StartDefueling() && m.StopDefueling() }, Idle},
		{"no defuel while requested", func(m *StateManager) bool { return m.Request() && !m.StartDefueling() }, Requested},
		{"no request while defueling", func(m *StateManager) bool { return m.StartDefueling() && !m.Request() }, Defueling},
		{"fail from anywhere", func(m *StateManager) bool { return m.Request() && m.Begin() && m.Fail("boom") }, Error},
		{"reset only from error", func(m *StateManager) bool { return !m.Reset() && m.Fail("x") && m.Reset() }, Idle},
		{"cancel refuel", func(m *StateManager) bool { return m.Request() && m.Begin() && m.Cancel("stop") }, Idle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStateManager(nil, nil)
			if !tt.steps(m) {
				t.Fatal("unexpected transition result")
			}
			if m.State() != tt.want {
				t.Errorf("State() = %s, want %s", m.State(), tt.want)
			}
		})
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		current, planned float64
		want             int
	}{
		{0, 6000, 0},
		{3000, 6000, 50},
		{5999, 6000, 99},
		{6000, 6000, 100},
		{9000, 6000, 100},
		{-10, 6000, 0},
		{100, 0, 100},
	}
	for _, tt := range tests {
		if got := Percentage(tt.current, tt.planned); got != tt.want {
			t.Errorf("Percentage(%v, %v) = %d, want %d", tt.current, tt.planned, got, tt.want)
		}
	}
}

func TestCoordinator_StartRefuelingTwice(t *testing.T) {
	h := newHarness(t)
	h.refueling(t)

	if h.coord.StartRefueling() {
		t.Error("second StartRefueling() should return false")
	}
	if h.coord.State() != Refueling {
		t.Errorf("State() = %s, want REFUELING", h.coord.State())
	}
	if h.coord.Commands().Start().CanExecute() {
		t.Error("start command should not be executable while refueling")
	}
}

func TestCoordinator_StartDefuelingWhileRefueling(t *testing.T) {
	h := newHarness(t)
	h.refueling(t)

	if h.coord.StartDefueling() {
		t.Error("StartDefueling() while refueling should return false")
	}
	if h.coord.State() != Refueling {
		t.Errorf("State() = %s, want REFUELING", h.coord.State())
	}
	if h.boolValue(keys.DefuelRequest) {
		t.Error("defuel request must not be written")
	}
}

func TestCoordinator_StartRefuelingWhileDefueling(t *testing.T) {
	h := newHarness(t)
	if !h.coord.StartDefueling() {
		t.Fatal("StartDefueling() = false")
	}
	if h.coord.StartRefueling() {
		t.Error("StartRefueling() while defueling should return false")
	}
	if !h.coord.StopDefueling() || h.coord.State() != Idle {
		t.Errorf("StopDefueling() left state %s", h.coord.State())
	}
}

func TestHoseMonitor_ConnectedEdgeOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if !h.coord.StartRefueling() {
		t.Fatal("StartRefueling() = false")
	}
	if !h.boolValue(keys.RefuelRequest) {
		t.Error("refuel request not sent to GS")
	}

	h.bus.Set(keys.HoseConnected, varbus.Bool(true))
	for range 5 {
		if err := h.coord.Hose().Poll(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if h.coord.State() != Refueling {
		t.Fatalf("State() = %s, want REFUELING", h.coord.State())
	}
	if n := h.transitionsTo(Refueling); n != 1 {
		t.Errorf("moved to REFUELING %d times, want 1", n)
	}
	if writes := h.bus.Writes(keys.TransferActive); len(writes) != 1 || !writes[0].Bool() {
		t.Errorf("transfer writes = %v, want one start", writes)
	}
}

func TestHoseMonitor_DisconnectWhileRefuelingStaysArmed(t *testing.T) {
	h := newHarness(t)
	h.refueling(t)

	h.bus.Set(keys.HoseConnected, varbus.Bool(false))
	if err := h.coord.Hose().Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if h.coord.State() != Refueling {
		t.Errorf("State() = %s, want REFUELING after a mid-refuel disconnect", h.coord.State())
	}
	if !h.boolValue(keys.TransferActive) {
		t.Error("transfer must stay armed for a tanker swap")
	}
	if h.coord.Hose().Connected() {
		t.Error("Connected() should report the disconnect")
	}
}

func TestHoseMonitor_DisconnectAfterCompleteStopsTransfer(t *testing.T) {
	h := newHarness(t, WithSettings(Settings{LegFuelKg: 5000}))
	h.refueling(t)
	ctx := context.Background()

	h.bus.Set(keys.QuantityKg, varbus.Float(5000))
	h.coord.Tracker().Tick(ctx)
	if h.coord.State() != Complete {
		t.Fatalf("State() = %s, want COMPLETE", h.coord.State())
	}
	if !h.boolValue(keys.TransferActive) {
		t.Error("completion alone must not stop the transfer")
	}

	h.bus.Set(keys.HoseConnected, varbus.Bool(false))
	if err := h.coord.Hose().Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if h.coord.State() != Idle {
		t.Errorf("State() = %s, want IDLE", h.coord.State())
	}
	if h.boolValue(keys.TransferActive) || h.boolValue(keys.RefuelRequest) {
		t.Error("transfer and request should be withdrawn after the hose is removed")
	}
}

func TestHoseMonitor_ReadFailureEntersError(t *testing.T) {
	h := newHarness(t)
	h.coord.StartRefueling()
	h.bus.Fail(keys.HoseConnected, errors.ErrBusUnavailable)

	if err := h.coord.Hose().Poll(context.Background()); err == nil {
		t.Fatal("Poll() should surface the read failure")
	}
	if h.coord.State() != Error {
		t.Errorf("State() = %s, want ERROR", h.coord.State())
	}
	if h.coord.Hose().Connected() {
		t.Error("a failed read must not change the hose state")
	}
}

func TestHoseMonitor_CanceledPollKeepsState(t *testing.T) {
	h := newHarness(t)
	h.coord.StartRefueling()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.coord.Hose().Poll(ctx); err == nil {
		t.Fatal("Poll() should surface the cancellation")
	}
	if h.coord.State() != Requested {
		t.Errorf("State() = %s, want REQUESTED", h.coord.State())
	}
}

func TestProgressTracker_ReadFailureEntersError(t *testing.T) {
	h := newHarness(t)
	h.refueling(t)
	h.bus.Fail(keys.QuantityKg, errors.ErrBusUnavailable)

	h.coord.Tracker().Tick(context.Background())
	if h.coord.State() != Error {
		t.Errorf("State() = %s, want ERROR", h.coord.State())
	}
	if n := len(h.progressEvents()); n != 0 {
		t.Errorf("progress events = %d, want none", n)
	}
}

func TestHoseMonitor_PeriodicPolling(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.coord.StartRefueling()
	h.bus.Set(keys.HoseConnected, varbus.Bool(true))

	if !h.coord.Hose().Start(ctx) {
		t.Fatal("Start() = false")
	}
	defer h.coord.Hose().Stop()

	h.clock.BlockUntil(1)
	h.clock.Advance(DefaultHosePollInterval)

	deadline := time.Now().Add(2 * time.Second)
	for h.coord.State() != Refueling {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %s, want REFUELING after one poll", h.coord.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProgressTracker_EmitsOnlyOnChange(t *testing.T) {
	h := newHarness(t, WithSettings(Settings{LegFuelKg: 1000}))
	h.refueling(t)
	ctx := context.Background()

	for _, kg := range []float64{100, 100, 104, 250, 250, 1000} {
		h.bus.Set(keys.QuantityKg, varbus.Float(kg))
		h.coord.Tracker().Tick(ctx)
	}

	got := h.progressEvents()
	want := []int{10, 25, 100}
	if len(got) != len(want) {
		t.Fatalf("progress events = %d, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Percentage != want[i] {
			t.Errorf("event %d percentage = %d, want %d", i, e.Percentage, want[i])
		}
	}
	if h.coord.Progress() != 100 || h.coord.State() != Complete {
		t.Errorf("Progress() = %d state %s, want 100 COMPLETE", h.coord.Progress(), h.coord.State())
	}
}

func TestProgressTracker_IdleWithoutHose(t *testing.T) {
	h := newHarness(t)
	h.refueling(t)
	h.bus.Set(keys.HoseConnected, varbus.Bool(false))
	h.coord.Hose().Poll(context.Background())

	h.bus.Set(keys.QuantityKg, varbus.Float(3000))
	h.coord.Tracker().Tick(context.Background())
	if len(h.progressEvents()) != 0 {
		t.Error("no progress should be reported while the hose is disconnected")
	}
}

func TestCoordinator_UpdateAmountWhileRefueling(t *testing.T) {
	h := newHarness(t)
	h.refueling(t)
	h.bus.Set(keys.QuantityKg, varbus.Float(2500))

	if !h.coord.UpdatePlannedAmount(8000) {
		t.Fatal("UpdatePlannedAmount() = false")
	}
	if h.coord.PlannedKg() != 8000 {
		t.Errorf("PlannedKg() = %v, want 8000", h.coord.PlannedKg())
	}
	if v, _ := h.bus.Get(keys.PlannedKg); v.Float() != 8000 {
		t.Errorf("GS planned = %v, want 8000", v.Float())
	}
	if writes := h.bus.Writes(keys.QuantityKg); len(writes) != 0 {
		t.Errorf("current quantity written during refuel: %v", writes)
	}
	if h.coord.State() != Refueling {
		t.Errorf("State() = %s, want REFUELING", h.coord.State())
	}

	if h.coord.UpdatePlannedAmount(-5) {
		t.Error("non-positive amount should be rejected")
	}
}

func TestCoordinator_CancellationStopsTransfer(t *testing.T) {
	h := newHarness(t)
	h.refueling(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if h.coord.UpdatePlannedAmountAsync(ctx, 7000) {
		t.Error("canceled operation should return false")
	}
	if h.boolValue(keys.TransferActive) {
		t.Error("transfer should be halted defensively on cancellation")
	}
	if h.coord.State() != Idle {
		t.Errorf("State() = %s, want IDLE after cancellation", h.coord.State())
	}
	if h.coord.State() == Error {
		t.Error("cancellation is not a failure")
	}
}

func TestCoordinator_ExternalFailureEntersError(t *testing.T) {
	h := newHarness(t)
	h.bus.Fail(keys.RefuelRequest, errors.ErrBusUnavailable)

	if h.coord.StartRefueling() {
		t.Fatal("StartRefueling() should fail when GS rejects the request")
	}
	if h.coord.State() != Error {
		t.Fatalf("State() = %s, want ERROR", h.coord.State())
	}

	// DEPARTURE policy clears the error and retries once GS is back
	h.bus.Heal(keys.RefuelRequest)
	if !h.coord.ManageForPhase(context.Background(), flight.Departure) {
		t.Fatal("ManageForPhase(DEPARTURE) = false")
	}
	if h.coord.State() != Requested {
		t.Errorf("State() = %s, want REQUESTED", h.coord.State())
	}
}

func TestCoordinator_PreflightInitialFuelOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for range 5 {
		if !h.coord.ManageForPhase(ctx, flight.Preflight) {
			t.Fatal("ManageForPhase(PREFLIGHT) = false")
		}
	}

	writes := h.bus.Writes(keys.QuantityKg)
	if len(writes) != 1 || writes[0].Float() != DefaultSettings().InitialFuelKg {
		t.Errorf("initial fuel writes = %v, want exactly one of %v", writes, DefaultSettings().InitialFuelKg)
	}

	// A redundant re-entry does not clear the guard
	h.coord.OnPhaseChanged(flight.Preflight, flight.Preflight)
	h.coord.ManageForPhase(ctx, flight.Preflight)
	if len(h.bus.Writes(keys.QuantityKg)) != 1 {
		t.Error("initial fuel set again after a redundant phase re-entry")
	}
}

func TestCoordinator_PreflightAutoRefuelOff(t *testing.T) {
	s := DefaultSettings()
	s.AutoRefuel = false
	h := newHarness(t, WithSettings(s))

	h.coord.ManageForPhase(context.Background(), flight.Preflight)
	if len(h.bus.Writes(keys.QuantityKg)) != 0 {
		t.Error("initial fuel must not be set with auto refuel off")
	}
}

func TestCoordinator_LegCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// DEPARTURE starts refueling once per leg even though it runs every tick
	for range 3 {
		h.coord.ManageForPhase(ctx, flight.Departure)
	}
	if n := h.transitionsTo(Requested); n != 1 {
		t.Fatalf("refuel requested %d times, want 1", n)
	}

	// TAXIOUT forces a stop
	h.coord.OnPhaseChanged(flight.Departure, flight.TaxiOut)
	if !h.coord.ManageForPhase(ctx, flight.TaxiOut) {
		t.Fatal("ManageForPhase(TAXIOUT) = false")
	}
	if h.coord.State() != Idle || h.boolValue(keys.RefuelRequest) {
		t.Errorf("refuel not stopped in TAXIOUT: %s", h.coord.State())
	}

	// Still no restart while the leg is flown
	h.coord.ManageForPhase(ctx, flight.Departure)
	if h.transitionsTo(Requested) != 1 {
		t.Error("refuel restarted within the same leg")
	}

	// TURNAROUND plans the next leg and re-arms DEPARTURE
	h.coord.OnPhaseChanged(flight.Arrival, flight.Turnaround)
	if !h.coord.ManageForPhase(ctx, flight.Turnaround) {
		t.Fatal("ManageForPhase(TURNAROUND) = false")
	}
	if v, _ := h.bus.Get(keys.PlannedKg); v.Float() != DefaultSettings().LegFuelKg {
		t.Errorf("GS planned = %v, want %v", v.Float(), DefaultSettings().LegFuelKg)
	}
	h.coord.OnPhaseChanged(flight.Turnaround, flight.Departure)
	h.coord.ManageForPhase(ctx, flight.Departure)
	if n := h.transitionsTo(Requested); n != 2 {
		t.Errorf("refuel requests after turnaround = %d, want 2", n)
	}
}

func TestCoordinator_SynchronizeQuantities(t *testing.T) {
	h := newHarness(t)
	h.bus.Set(keys.QuantityKg, varbus.Float(3100))
	h.bus.Set(keys.PlannedKg, varbus.Float(1))

	if !h.coord.SynchronizeQuantities(context.Background()) {
		t.Fatal("SynchronizeQuantities() = false")
	}
	if v, _ := h.bus.Get(keys.PlannedKg); v.Float() != h.coord.PlannedKg() {
		t.Errorf("GS planned = %v, want %v", v.Float(), h.coord.PlannedKg())
	}
	if h.coord.Tracker().CurrentKg() != 3100 {
		t.Errorf("CurrentKg() = %v, want 3100", h.coord.Tracker().CurrentKg())
	}

	eta, ok := h.coord.EstimatedTimeRemaining()
	want := time.Duration((h.coord.PlannedKg() - 3100) / DefaultSettings().RefuelRateKgPerSec * float64(time.Second))
	if !ok || eta != want {
		t.Errorf("EstimatedTimeRemaining() = %v, %v; want %v", eta, ok, want)
	}

	h.bus.Fail(keys.QuantityKg, errors.ErrBusUnavailable)
	if h.coord.SynchronizeQuantities(context.Background()) {
		t.Error("SynchronizeQuantities() should report a failed read")
	}
	if h.coord.State() != Error {
		t.Errorf("State() = %s, want ERROR after a failed sync", h.coord.State())
	}
}

func TestCoordinator_SyncFailureClearedNextLeg(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bus.Fail(keys.PlannedKg, errors.ErrBusUnavailable)
	if h.coord.SynchronizeQuantities(ctx) || h.coord.State() != Error {
		t.Fatalf("State() = %s, want ERROR", h.coord.State())
	}

	h.bus.Heal(keys.PlannedKg)
	h.coord.OnPhaseChanged(flight.Preflight, flight.Departure)
	h.coord.ManageForPhase(ctx, flight.Departure)
	if h.coord.State() != Requested {
		t.Errorf("State() = %s, want REQUESTED after the DEPARTURE policy", h.coord.State())
	}
}

func TestTanker_EndToEnd(t *testing.T) {
	h := newHarness(t, WithSettings(Settings{LegFuelKg: 2100, RefuelRateKgPerSec: 50}))
	ctx := context.Background()
	tanker := NewTanker(h.bus, keys, 50, time.Second, h.clock, nil)

	h.bus.Set(keys.QuantityKg, varbus.Float(2000))
	if !h.coord.StartRefueling() {
		t.Fatal("StartRefueling() = false")
	}

	for range 10 {
		tanker.Tick(ctx)
		if err := h.coord.Hose().Poll(ctx); err != nil {
			t.Fatal(err)
		}
		h.coord.Tracker().Tick(ctx)
		if h.coord.State() == Idle {
			break
		}
	}

	if h.coord.State() != Idle {
		t.Fatalf("State() = %s, want IDLE after the tanker left", h.coord.State())
	}
	if v, _ := h.bus.Get(keys.QuantityKg); v.Float() != 2100 {
		t.Errorf("fuel on board = %v, want 2100", v.Float())
	}
	for _, s := range []RefuelingState{Requested, Refueling, Complete} {
		if h.transitionsTo(s) != 1 {
			t.Errorf("%s reached %d times, want 1", s, h.transitionsTo(s))
		}
	}
}

func TestTanker_ReadFailureWritesNothing(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"hose", keys.HoseConnected},
		{"quantity", keys.QuantityKg},
		{"transfer", keys.TransferActive},
		{"planned", keys.PlannedKg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := varbus.NewMemory()
			tanker := NewTanker(bus, keys, 100, time.Second, clockwork.NewFakeClock(), nil)
			bus.Set(keys.RefuelRequest, varbus.Bool(true))
			bus.Set(keys.HoseConnected, varbus.Bool(true))
			bus.Set(keys.TransferActive, varbus.Bool(true))
			bus.Set(keys.QuantityKg, varbus.Float(1500))
			bus.Set(keys.PlannedKg, varbus.Float(3000))
			bus.Fail(tt.key, errors.ErrBusUnavailable)

			tanker.Tick(context.Background())
			if w := bus.Writes(keys.QuantityKg); len(w) != 0 {
				t.Errorf("quantity written after a failed read: %v", w)
			}
			if w := bus.Writes(keys.HoseConnected); len(w) != 0 {
				t.Errorf("hose written after a failed read: %v", w)
			}

			bus.Heal(tt.key)
			tanker.Tick(context.Background())
			if v, _ := bus.Get(keys.QuantityKg); v.Float() != 1600 {
				t.Errorf("fuel on board = %v after recovery, want 1600", v.Float())
			}
		})
	}
}
