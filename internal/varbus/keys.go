package varbus

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// PairKeys names the ground-service and flight-management side of one signal.
type PairKeys struct {
	GS string `yaml:"gs"`
	FM string `yaml:"fm"`
}

// AircraftKeys name the telemetry read to build aircraft parameters.
type AircraftKeys struct {
	OnGround         string `yaml:"on_ground"`
	EnginesRunning   string `yaml:"engines_running"`
	ParkingBrake     string `yaml:"parking_brake"`
	Beacon           string `yaml:"beacon"`
	GroundSpeed      string `yaml:"ground_speed"`
	FlightPlanLoaded string `yaml:"flight_plan_loaded"`
	// FlightPlanID identifies the loaded plan so a reloaded plan can be
	// told apart from the one just flown. Optional.
	FlightPlanID string `yaml:"flight_plan_id"`
	// DeboardingComplete is raised by GS when the last passenger is off.
	// Optional; cargo unloading finishing also ends deboarding.
	DeboardingComplete string `yaml:"deboarding_complete"`
	// GroundSpeedScale converts the raw ground speed to knots (1 when the
	// key already reports knots, 1.94384 for metres per second).
	GroundSpeedScale float64 `yaml:"ground_speed_scale"`
}

// FuelKeys name the refueling signals.
type FuelKeys struct {
	HoseConnected  string `yaml:"hose_connected"`  // GS, read
	RefuelRequest  string `yaml:"refuel_request"`  // GS, write
	DefuelRequest  string `yaml:"defuel_request"`  // GS, write
	PlannedKg      string `yaml:"planned_kg"`      // GS, write
	QuantityKg     string `yaml:"quantity_kg"`     // FM, read/write
	TransferActive string `yaml:"transfer_active"` // FM, write
}

// CargoKeys name the cargo loading signals.
type CargoKeys struct {
	Loading   string `yaml:"loading"`    // GS
	Unloading string `yaml:"unloading"`  // GS
	PlannedKg string `yaml:"planned_kg"` // GS
	Percent   string `yaml:"percent"`    // FM
}

// MenuKeys name the ground-service menu signals.
type MenuKeys struct {
	Open            string `yaml:"open"`
	Select          string `yaml:"select"`
	OperatorPending string `yaml:"operator_pending"`
}

// Keys is the variable key profile. Doors and equipment are keyed by their
// upper-case names (e.g. "FWD_LEFT", "GPU").
type Keys struct {
	Aircraft       AircraftKeys        `yaml:"aircraft"`
	Doors          map[string]PairKeys `yaml:"doors"`
	ServiceToggles []string            `yaml:"service_toggles"`
	Fuel           FuelKeys            `yaml:"fuel"`
	Cargo          CargoKeys           `yaml:"cargo"`
	Equipment      map[string]PairKeys `yaml:"equipment"`
	Menu           MenuKeys            `yaml:"menu"`
}

// DefaultKeys returns the built-in key profile.
func DefaultKeys() Keys {
	return Keys{
		Aircraft: AircraftKeys{
			OnGround:           "sim/flightmodel/failures/onground_any",
			EnginesRunning:     "sim/flightmodel/engine/ENGN_running[0]",
			ParkingBrake:       "sim/cockpit2/controls/parking_brake_ratio",
			Beacon:             "sim/cockpit/electrical/beacon_lights_on",
			GroundSpeed:        "sim/flightmodel/position/groundspeed",
			FlightPlanLoaded:   "fm/fms/flight_plan_loaded",
			FlightPlanID:       "fm/fms/flight_plan_id",
			DeboardingComplete: "gs/pax/deboarding_complete",
			GroundSpeedScale:   1.94384,
		},
		Doors: map[string]PairKeys{
			"FWD_LEFT":  {GS: "gs/door/fwd_left", FM: "fm/door/fwd_left"},
			"FWD_RIGHT": {GS: "gs/door/fwd_right", FM: "fm/door/fwd_right"},
			"AFT_LEFT":  {GS: "gs/door/aft_left", FM: "fm/door/aft_left"},
			"AFT_RIGHT": {GS: "gs/door/aft_right", FM: "fm/door/aft_right"},
			"FWD_CARGO": {GS: "gs/door/fwd_cargo", FM: "fm/door/fwd_cargo"},
			"AFT_CARGO": {GS: "gs/door/aft_cargo", FM: "fm/door/aft_cargo"},
		},
		ServiceToggles: []string{"gs/service/toggle_1", "gs/service/toggle_2"},
		Fuel: FuelKeys{
			HoseConnected:  "gs/fuel/hose_connected",
			RefuelRequest:  "gs/fuel/refuel_request",
			DefuelRequest:  "gs/fuel/defuel_request",
			PlannedKg:      "gs/fuel/planned_kg",
			QuantityKg:     "fm/fuel/quantity_kg",
			TransferActive: "fm/fuel/transfer_active",
		},
		Cargo: CargoKeys{
			Loading:   "gs/cargo/loading",
			Unloading: "gs/cargo/unloading",
			PlannedKg: "gs/cargo/planned_kg",
			Percent:   "fm/cargo/percent",
		},
		Equipment: map[string]PairKeys{
			"GPU":    {GS: "gs/equipment/gpu", FM: "fm/equipment/gpu"},
			"PCA":    {GS: "gs/equipment/pca", FM: "fm/equipment/pca"},
			"CHOCKS": {GS: "gs/equipment/chocks", FM: "fm/equipment/chocks"},
			"JETWAY": {GS: "gs/equipment/jetway", FM: "fm/equipment/jetway"},
		},
		Menu: MenuKeys{
			Open:            "gs/menu/open",
			Select:          "gs/menu/select",
			OperatorPending: "gs/menu/operator_pending",
		},
	}
}

// LoadKeys reads a yaml key profile from path. Fields the file does not set
// keep their default value; map entries are merged over the defaults.
func LoadKeys(path string) (Keys, error) {
	keys := DefaultKeys()
	if path == "" {
		return keys, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Keys{}, fmt.Errorf("failed to read key profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return Keys{}, fmt.Errorf("failed to unmarshal key profile: %w", err)
	}
	if err := keys.Validate(); err != nil {
		return Keys{}, err
	}
	return keys, nil
}

// Validate reports the first missing key in the profile.
func (k Keys) Validate() error {
	required := map[string]string{
		"aircraft.on_ground":          k.Aircraft.OnGround,
		"aircraft.engines_running":    k.Aircraft.EnginesRunning,
		"aircraft.parking_brake":      k.Aircraft.ParkingBrake,
		"aircraft.beacon":             k.Aircraft.Beacon,
		"aircraft.ground_speed":       k.Aircraft.GroundSpeed,
		"aircraft.flight_plan_loaded": k.Aircraft.FlightPlanLoaded,
		"fuel.hose_connected":         k.Fuel.HoseConnected,
		"fuel.refuel_request":         k.Fuel.RefuelRequest,
		"fuel.defuel_request":         k.Fuel.DefuelRequest,
		"fuel.planned_kg":             k.Fuel.PlannedKg,
		"fuel.quantity_kg":            k.Fuel.QuantityKg,
		"fuel.transfer_active":        k.Fuel.TransferActive,
		"cargo.loading":               k.Cargo.Loading,
		"cargo.unloading":             k.Cargo.Unloading,
		"cargo.planned_kg":            k.Cargo.PlannedKg,
		"cargo.percent":               k.Cargo.Percent,
		"menu.open":                   k.Menu.Open,
		"menu.select":                 k.Menu.Select,
		"menu.operator_pending":       k.Menu.OperatorPending,
	}
	for name, pair := range k.Doors {
		required["doors."+name+".gs"] = pair.GS
		required["doors."+name+".fm"] = pair.FM
	}
	for name, pair := range k.Equipment {
		required["equipment."+name+".gs"] = pair.GS
		required["equipment."+name+".fm"] = pair.FM
	}

	fields := make([]string, 0, len(required))
	for field := range required {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if required[field] == "" {
			return fmt.Errorf("key profile: %s is empty", field)
		}
	}
	if k.Aircraft.GroundSpeedScale <= 0 {
		return fmt.Errorf("key profile: aircraft.ground_speed_scale must be positive")
	}
	return nil
}

// Door returns the keys for the named door.
func (k Keys) Door(name string) (PairKeys, bool) {
	p, ok := k.Doors[name]
	return p, ok
}

// EquipmentItem returns the keys for the named equipment item.
func (k Keys) EquipmentItem(name string) (PairKeys, bool) {
	p, ok := k.Equipment[name]
	return p, ok
}
