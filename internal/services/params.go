package services

import (
	"context"
	"sort"

	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// parkingBrakeSetRatio is the brake ratio at or above which the parking
// brake counts as set.
const parkingBrakeSetRatio = 0.5

// ReadParameters builds a fresh AircraftParameters value from the bus.
// Ground equipment counts as connected when any item's GS flag is set.
// All reads are attempted; failures are joined and returned with the
// partially filled value.
func ReadParameters(ctx context.Context, bus varbus.Bus, keys varbus.Keys) (flight.AircraftParameters, error) {
	a := keys.Aircraft
	var errs []error
	readBool := func(key string) bool {
		v, err := varbus.ReadBool(ctx, bus, key)
		errs = append(errs, err)
		return v
	}
	readFloat := func(key string) float64 {
		v, err := varbus.ReadFloat(ctx, bus, key)
		errs = append(errs, err)
		return v
	}

	scale := a.GroundSpeedScale
	if scale <= 0 {
		scale = 1
	}

	p := flight.AircraftParameters{
		OnGround:         readBool(a.OnGround),
		EnginesRunning:   readBool(a.EnginesRunning),
		ParkingBrakeSet:  readFloat(a.ParkingBrake) >= parkingBrakeSetRatio,
		BeaconOn:         readBool(a.Beacon),
		GroundSpeed:      readFloat(a.GroundSpeed) * scale,
		FlightPlanLoaded: readBool(a.FlightPlanLoaded),
	}
	// Optional keys: a profile for an aircraft without them reads zero.
	if a.FlightPlanID != "" {
		if v, err := varbus.ReadFloat(ctx, bus, a.FlightPlanID); err == nil {
			p.FlightPlanID = v
		}
	}
	if a.DeboardingComplete != "" {
		if v, err := varbus.ReadBool(ctx, bus, a.DeboardingComplete); err == nil {
			p.DeboardingComplete = v
		}
	}

	names := make([]string, 0, len(keys.Equipment))
	for name := range keys.Equipment {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if readBool(keys.Equipment[name].GS) {
			p.EquipmentConnected = true
		}
	}

	return p, errors.Wrap(errors.Join(errs...), "read aircraft parameters")
}
