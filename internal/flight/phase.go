package flight

import (
	"fmt"
	"strings"
)

// Phase is one of the seven flight lifecycle stages.
type Phase int

const (
	Preflight Phase = iota
	Departure
	TaxiOut
	Flight
	TaxiIn
	Arrival
	Turnaround
)

var phaseNames = [...]string{
	Preflight:  "PREFLIGHT",
	Departure:  "DEPARTURE",
	TaxiOut:    "TAXIOUT",
	Flight:     "FLIGHT",
	TaxiIn:     "TAXIIN",
	Arrival:    "ARRIVAL",
	Turnaround: "TURNAROUND",
}

// String returns the upper-case phase name.
func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Valid reports whether p is a defined phase.
func (p Phase) Valid() bool {
	return p >= Preflight && p <= Turnaround
}

// Next returns the only phase reachable from p. The cycle closes at
// TURNAROUND, which leads back to DEPARTURE; PREFLIGHT is never re-entered.
func (p Phase) Next() Phase {
	if p == Turnaround {
		return Departure
	}
	return p + 1
}

// AllPhases returns every phase in cycle order.
func AllPhases() []Phase {
	return []Phase{Preflight, Departure, TaxiOut, Flight, TaxiIn, Arrival, Turnaround}
}

// ParsePhase converts a phase name (case-insensitive) to a Phase.
func ParsePhase(s string) (Phase, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), nil
		}
	}
	return Preflight, fmt.Errorf("unknown flight phase %q", s)
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid flight phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// IsValidTransition reports whether to is the next-hop phase of from.
// Self-transitions and skips are rejected regardless of telemetry.
func IsValidTransition(from, to Phase) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return from.Next() == to
}
