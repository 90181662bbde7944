package doors

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

type harness struct {
	bus    *varbus.Memory
	events *event.Bus
	clock  *clockwork.FakeClock
	coord  *Coordinator

	mu      sync.Mutex
	changes []event.DoorStateChangedEvent
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

	sub := event.On(h.events, event.TypeDoorStateChanged, func(e event.DoorStateChangedEvent) {
		h.mu.Lock()
		h.changes = append(h.changes, e)
		h.mu.Unlock()
	})
	t.Cleanup(sub.Close)
	return h
}

func (h *harness) changeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.changes)
}

func (h *harness) value(key string) bool {
	v, _ := h.bus.Get(key)
	return v.Bool()
}

func TestDoorType_String(t *testing.T) {
	for _, d := range AllDoors() {
		parsed, err := ParseDoorType(d.String())
		if err != nil || parsed != d {
			t.Errorf("ParseDoorType(%q) = %v, %v", d.String(), parsed, err)
		}
	}
	if _, err := ParseDoorType("NOSE"); err == nil {
		t.Error("ParseDoorType should reject unknown names")
	}
	if !ForwardRight.IsServiceDoor() || ForwardLeft.IsServiceDoor() {
		t.Error("IsServiceDoor mismatch")
	}
}

func TestCoordinator_OpenWritesBothSides(t *testing.T) {
	h := newHarness(t)

	if !h.coord.OpenDoor(ForwardLeft) {
		t.Fatal("OpenDoor() = false")
	}
	if !h.value("gs/door/fwd_left") || !h.value("fm/door/fwd_left") {
		t.Error("door not written to both GS and FM")
	}
	if !h.coord.IsOpen(ForwardLeft) {
		t.Error("tracked state not updated")
	}
	if h.changeCount() != 1 {
		t.Fatalf("changes = %d, want 1", h.changeCount())
	}
	if got := h.changes[0]; got.Door != "FWD_LEFT" || !got.Open || got.Source != "coordinator" {
		t.Errorf("event = %+v", got)
	}
}

func TestCoordinator_CloseAlreadyClosed(t *testing.T) {
	h := newHarness(t)

	if !h.coord.CloseDoor(AftCargo) {
		t.Error("CloseDoor() on a closed door should succeed")
	}
	if h.changeCount() != 0 {
		t.Errorf("changes = %d, want none for an idempotent close", h.changeCount())
	}
}

func TestCoordinator_GSFailureReturnsFalse(t *testing.T) {
	h := newHarness(t)
	h.bus.Fail("gs/door/fwd_cargo", errors.ErrBusUnavailable)

	if h.coord.OpenDoor(ForwardCargo) {
		t.Error("OpenDoor() should fail when the GS write fails")
	}
	if h.coord.IsOpen(ForwardCargo) || h.changeCount() != 0 {
		t.Error("failed command must leave the prior state intact")
	}
	if _, written := h.bus.Get("fm/door/fwd_cargo"); written {
		t.Error("FM must not be written when GS rejects the command")
	}
}

func TestCoordinator_FMFailureIsNotSurfaced(t *testing.T) {
	h := newHarness(t)
	h.bus.Fail("fm/door/fwd_cargo", errors.ErrBusUnavailable)

	if !h.coord.OpenDoor(ForwardCargo) {
		t.Fatal("OpenDoor() should report the GS result")
	}
	if !h.coord.IsOpen(ForwardCargo) {
		t.Error("door should be tracked open after a successful GS write")
	}

	// The next reconciliation pass repairs FM
	h.bus.Heal("fm/door/fwd_cargo")
	if !h.coord.SynchronizeStates(context.Background()) {
		t.Fatal("SynchronizeStates() = false")
	}
	if !h.value("fm/door/fwd_cargo") {
		t.Error("FM not reconciled after heal")
	}
}

func TestCoordinator_CanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if h.coord.OpenDoorAsync(ctx, ForwardLeft) {
		t.Error("OpenDoorAsync() with a canceled context should return false")
	}
	if h.coord.IsOpen(ForwardLeft) {
		t.Error("canceled command changed state")
	}
}

func TestCoordinator_RateLimit(t *testing.T) {
	h := newHarness(t)

	// 6 requests within 2 seconds that would each flip the door
	results := make([]bool, 6)
	for i := range results {
		if i%2 == 0 {
			results[i] = h.coord.OpenDoor(ForwardCargo)
		} else {
			results[i] = h.coord.CloseDoor(ForwardCargo)
		}
		h.clock.Advance(300 * time.Millisecond)
	}

	for i, ok := range results[:5] {
		if !ok {
			t.Errorf("request %d rejected, want accepted", i+1)
		}
	}
	if results[5] {
		t.Error("6th request should be rejected by the rate limiter")
	}
	if h.changeCount() != 5 {
		t.Errorf("state changes = %d, want 5", h.changeCount())
	}
	if !h.coord.IsOpen(ForwardCargo) {
		t.Error("rejected close must not change the tracked state")
	}

	// Other doors are unaffected
	if !h.coord.OpenDoor(AftCargo) {
		t.Error("rate limit should be per door")
	}
}

func TestCoordinator_CommandsKeepGSAndTrackedStateTogether(t *testing.T) {
	h := newHarness(t)
	gs := "gs/door/fwd_cargo"

	// rejected GS writes do not use up flips
	h.bus.Fail(gs, errors.ErrBusUnavailable)
	for range 5 {
		h.coord.OpenDoor(ForwardCargo)
	}
	h.bus.Heal(gs)

	for i := range 6 {
		var ok bool
		if i%2 == 0 {
			ok = h.coord.OpenDoor(ForwardCargo)
		} else {
			ok = h.coord.CloseDoor(ForwardCargo)
		}
		if want := i < 5; ok != want {
			t.Errorf("command %d = %v, want %v", i+1, ok, want)
		}
		if h.value(gs) != h.coord.IsOpen(ForwardCargo) {
			t.Fatalf("command %d: GS = %v, tracked = %v", i+1, h.value(gs), h.coord.IsOpen(ForwardCargo))
		}
	}
	if h.changeCount() != 5 {
		t.Errorf("state changes = %d, want 5", h.changeCount())
	}

	// flips seen from the simulators share the same budget
	h.clock.Advance(h.coord.flipWindow)
	for i := range 4 {
		h.coord.SetDoorState(ForwardCargo, i%2 == 1, SourceFM)
	}
	if !h.coord.CloseDoor(ForwardCargo) {
		t.Fatal("fifth flip in the window should be accepted")
	}
	if h.coord.OpenDoor(ForwardCargo) {
		t.Error("sixth flip should be rejected")
	}
	if h.value(gs) || h.coord.IsOpen(ForwardCargo) {
		t.Error("a rejected command must not reach GS or the tracked state")
	}
}

func TestCoordinator_SetDoorStateIdempotent(t *testing.T) {
	h := newHarness(t)

	if !h.coord.SetDoorState(AftLeft, true, SourceFM) {
		t.Fatal("first SetDoorState should change")
	}
	for range 3 {
		if h.coord.SetDoorState(AftLeft, true, SourceGS) {
			t.Error("repeated identical SetDoorState reported a change")
		}
	}
	if h.changeCount() != 1 {
		t.Errorf("changes = %d, want 1", h.changeCount())
	}
	if h.changes[0].Source != "fm" {
		t.Errorf("source = %q, want fm", h.changes[0].Source)
	}
}

func TestCoordinator_SynchronizeStates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// GS opened the forward door, cockpit opened the aft one
	h.bus.Set("gs/door/fwd_left", varbus.Bool(true))
	h.bus.Set("fm/door/aft_left", varbus.Bool(true))

	if !h.coord.SynchronizeStates(ctx) {
		t.Fatal("SynchronizeStates() = false")
	}
	if !h.coord.IsOpen(ForwardLeft) || !h.value("fm/door/fwd_left") {
		t.Error("GS-side change not tracked and mirrored to FM")
	}
	if !h.coord.IsOpen(AftLeft) || !h.value("gs/door/aft_left") {
		t.Error("FM-side change not tracked and mirrored to GS")
	}

	// Both sides disagree with the tracked state: GS wins
	h.bus.Set("gs/door/fwd_left", varbus.Bool(false))
	h.bus.Set("fm/door/fwd_left", varbus.Bool(true))
	h.coord.SynchronizeStates(ctx)
	if h.coord.IsOpen(ForwardLeft) || h.value("fm/door/fwd_left") {
		t.Error("GS should win when both sides moved")
	}

	h.bus.Fail("fm/door/aft_cargo", errors.ErrBusUnavailable)
	if h.coord.SynchronizeStates(ctx) {
		t.Error("SynchronizeStates() should report a failed read")
	}
}

func TestCoordinator_ManageForPhase(t *testing.T) {
	ctx := context.Background()

	t.Run("arrival opens passenger and cargo doors", func(t *testing.T) {
		h := newHarness(t)
		if !h.coord.ManageForPhase(ctx, flight.Arrival) {
			t.Fatal("ManageForPhase(ARRIVAL) = false")
		}
		for _, d := range append(PassengerDoors(), CargoDoors()...) {
			if !h.coord.IsOpen(d) {
				t.Errorf("%s closed after ARRIVAL", d)
			}
		}
		for _, d := range ServiceDoors() {
			if h.coord.IsOpen(d) {
				t.Errorf("service door %s opened by ARRIVAL policy", d)
			}
		}
	})

	t.Run("auto open disabled", func(t *testing.T) {
		h := newHarness(t, WithAutoOpenOnArrival(false))
		h.coord.ManageForPhase(ctx, flight.Turnaround)
		if h.changeCount() != 0 {
			t.Error("doors moved with auto open disabled")
		}
	})

	t.Run("flight phases close everything", func(t *testing.T) {
		for _, phase := range []flight.Phase{flight.Preflight, flight.TaxiOut, flight.Flight, flight.TaxiIn} {
			h := newHarness(t)
			for _, d := range AllDoors() {
				h.coord.SetDoorState(d, true, SourceGS)
			}
			h.coord.setServiceActive(ForwardRight, true)
			if !h.coord.ManageForPhase(ctx, phase) {
				t.Fatalf("ManageForPhase(%s) = false", phase)
			}
			for _, d := range AllDoors() {
				if h.coord.IsOpen(d) {
					t.Errorf("%s: %s still open", phase, d)
				}
			}
		}
	})

	t.Run("departure keeps active service doors open", func(t *testing.T) {
		h := newHarness(t)
		for _, d := range AllDoors() {
			h.coord.SetDoorState(d, true, SourceGS)
		}
		h.coord.setServiceActive(AftRight, true)

		h.coord.ManageForPhase(ctx, flight.Departure)

		if !h.coord.IsOpen(AftRight) {
			t.Error("door with active service was force-closed")
		}
		if h.coord.IsOpen(ForwardRight) || h.coord.IsOpen(ForwardCargo) {
			t.Error("idle doors should close in DEPARTURE")
		}
	})
}

func TestCoordinator_ServiceToggleCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// rising edge: open and mark service active
	if !h.coord.HandleServiceToggle(ctx, 0, true) {
		t.Fatal("toggle on failed")
	}
	door, ok := h.coord.ToggleDoor(0)
	if !ok || door != ForwardRight {
		t.Fatalf("toggle 0 bound to %v (%v), want FWD_RIGHT", door, ok)
	}
	if !h.coord.IsOpen(door) || !h.coord.IsServiceActive(door) {
		t.Fatal("door should be open with service active")
	}

	// toggle released while the service runs: nothing happens
	h.coord.HandleServiceToggle(ctx, 0, false)
	if !h.coord.IsOpen(door) || !h.coord.IsServiceActive(door) {
		t.Error("falling edge must not end the service")
	}

	// repeated level without an edge is ignored
	h.coord.HandleServiceToggle(ctx, 0, false)

	// second rising edge: close and end the service
	h.coord.HandleServiceToggle(ctx, 0, true)
	if h.coord.IsOpen(door) || h.coord.IsServiceActive(door) {
		t.Error("second toggle should close the door and end the service")
	}
}

func TestCoordinator_ToggleMappingPrefersIdleDoor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// toggle 1 starts first and takes its preferred aft door
	h.coord.HandleServiceToggle(ctx, 1, true)
	if d, _ := h.coord.ToggleDoor(1); d != AftRight {
		t.Fatalf("toggle 1 bound to %s, want AFT_RIGHT", d)
	}

	// toggle 3 also prefers the aft door but it is busy
	h.coord.HandleServiceToggle(ctx, 3, true)
	if d, _ := h.coord.ToggleDoor(3); d != ForwardRight {
		t.Errorf("toggle 3 bound to %s, want FWD_RIGHT", d)
	}

	h.coord.ResetToggleMapping()
	if _, ok := h.coord.ToggleDoor(1); ok {
		t.Error("mapping should be cleared by ResetToggleMapping")
	}
}

func TestCoordinator_ToggleOpenFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.bus.Fail("gs/door/fwd_right", errors.ErrBusUnavailable)

	if h.coord.HandleServiceToggle(context.Background(), 0, true) {
		t.Error("toggle should report the failed door command")
	}
	if h.coord.IsServiceActive(ForwardRight) {
		t.Error("service flag should roll back when the door did not open")
	}
}

func TestCoordinator_Watch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- h.coord.Watch(ctx) }()

	waitFor(t, func() bool {
		h.bus.Set("gs/door/fwd_cargo", varbus.Bool(true))
		return h.coord.IsOpen(ForwardCargo)
	})
	waitFor(t, func() bool { return h.value("fm/door/fwd_cargo") })

	waitFor(t, func() bool {
		h.bus.Set("gs/service/toggle_1", varbus.Bool(true))
		return h.coord.IsServiceActive(ForwardRight)
	})

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Watch() = %v, want context.Canceled", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
