package flight

import "time"

// TaxiInSpeedKnots is the ground speed below which a landed aircraft counts
// as taxiing in.
const TaxiInSpeedKnots = 40.0

// AircraftParameters is a telemetry snapshot. It is a value: build a fresh
// one per evaluation and never mutate it.
type AircraftParameters struct {
	OnGround           bool    `json:"on_ground"`
	EnginesRunning     bool    `json:"engines_running"`
	ParkingBrakeSet    bool    `json:"parking_brake_set"`
	BeaconOn           bool    `json:"beacon_on"`
	GroundSpeed        float64 `json:"ground_speed_kt"`
	EquipmentConnected bool    `json:"equipment_connected"`
	FlightPlanLoaded   bool    `json:"flight_plan_loaded"`
	FlightPlanID       float64 `json:"flight_plan_id"`
	// NewFlightPlan is set when the loaded plan is not the one the last
	// departure flew. The bus carries no such signal; the caller derives it.
	NewFlightPlan bool `json:"new_flight_plan"`
	// DeboardingComplete is set once passengers and cargo are off.
	DeboardingComplete bool `json:"deboarding_complete"`
}

// TransitionRecord is one committed phase change.
type TransitionRecord struct {
	From   Phase     `json:"from" msgpack:"from"`
	To     Phase     `json:"to" msgpack:"to"`
	At     time.Time `json:"at" msgpack:"at"`
	Reason string    `json:"reason" msgpack:"reason"`
}

// condition is one telemetry requirement of a transition gate. Weights feed
// PredictNext.
type condition struct {
	name   string
	weight float64
	check  func(AircraftParameters) bool
}

// gates maps a source phase to the conditions of its single outgoing edge.
var gates = map[Phase][]condition{
	Preflight: {
		{"on ground", 0.3, func(p AircraftParameters) bool { return p.OnGround }},
		{"flight plan loaded", 0.7, func(p AircraftParameters) bool { return p.FlightPlanLoaded }},
	},
	Departure: {
		{"on ground", 0.1, func(p AircraftParameters) bool { return p.OnGround }},
		{"engines running", 0.3, func(p AircraftParameters) bool { return p.EnginesRunning }},
		{"parking brake released", 0.2, func(p AircraftParameters) bool { return !p.ParkingBrakeSet }},
		{"beacon on", 0.2, func(p AircraftParameters) bool { return p.BeaconOn }},
		{"ground equipment disconnected", 0.2, func(p AircraftParameters) bool { return !p.EquipmentConnected }},
	},
	TaxiOut: {
		{"airborne", 1.0, func(p AircraftParameters) bool { return !p.OnGround }},
	},
	Flight: {
		{"on ground", 0.6, func(p AircraftParameters) bool { return p.OnGround }},
		{"ground speed below taxi limit", 0.4, func(p AircraftParameters) bool { return p.GroundSpeed < TaxiInSpeedKnots }},
	},
	TaxiIn: {
		{"engines stopped", 0.4, func(p AircraftParameters) bool { return !p.EnginesRunning }},
		{"parking brake set", 0.3, func(p AircraftParameters) bool { return p.ParkingBrakeSet }},
		{"beacon off", 0.3, func(p AircraftParameters) bool { return !p.BeaconOn }},
	},
	Arrival: {
		{"ground equipment connected", 0.3, func(p AircraftParameters) bool { return p.EquipmentConnected }},
		{"engines stopped", 0.2, func(p AircraftParameters) bool { return !p.EnginesRunning }},
		{"deboarding complete", 0.5, func(p AircraftParameters) bool { return p.DeboardingComplete }},
	},
	Turnaround: {
		{"flight plan loaded", 0.3, func(p AircraftParameters) bool { return p.FlightPlanLoaded }},
		{"new flight plan", 0.7, func(p AircraftParameters) bool { return p.FlightPlanLoaded && p.NewFlightPlan }},
	},
}

// checkGate returns the first unmet condition of the edge leaving from.
func checkGate(from Phase, params AircraftParameters) (ok bool, unmet string) {
	for _, c := range gates[from] {
		if !c.check(params) {
			return false, c.name
		}
	}
	return true, ""
}

// gateConfidence sums the weights of satisfied conditions, capped at 1.
// Adding a satisfied condition never lowers the result.
func gateConfidence(from Phase, params AircraftParameters) float64 {
	total := 0.0
	for _, c := range gates[from] {
		if c.check(params) {
			total += c.weight
		}
	}
	if total > 1 {
		total = 1
	}
	return total
}
