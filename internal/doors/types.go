package doors

import "fmt"

// DoorType identifies a physical door.
type DoorType int

const (
	ForwardLeft DoorType = iota
	ForwardRight
	AftLeft
	AftRight
	ForwardCargo
	AftCargo
)

var doorNames = [...]string{
	ForwardLeft:  "FWD_LEFT",
	ForwardRight: "FWD_RIGHT",
	AftLeft:      "AFT_LEFT",
	AftRight:     "AFT_RIGHT",
	ForwardCargo: "FWD_CARGO",
	AftCargo:     "AFT_CARGO",
}

// String returns the door's key name, e.g. "FWD_CARGO".
func (d DoorType) String() string {
	if d < ForwardLeft || d > AftCargo {
		return fmt.Sprintf("DoorType(%d)", int(d))
	}
	return doorNames[d]
}

// IsServiceDoor reports whether d carries a service-active flag.
func (d DoorType) IsServiceDoor() bool {
	return d == ForwardRight || d == AftRight
}

// IsCargoDoor reports whether d is a cargo hold door.
func (d DoorType) IsCargoDoor() bool {
	return d == ForwardCargo || d == AftCargo
}

// AllDoors returns every door.
func AllDoors() []DoorType {
	return []DoorType{ForwardLeft, ForwardRight, AftLeft, AftRight, ForwardCargo, AftCargo}
}

// PassengerDoors are the boarding-side doors opened on arrival.
func PassengerDoors() []DoorType {
	return []DoorType{ForwardLeft, AftLeft}
}

// CargoDoors returns both cargo doors.
func CargoDoors() []DoorType {
	return []DoorType{ForwardCargo, AftCargo}
}

// ServiceDoors returns the doors used by catering and other toggled services.
func ServiceDoors() []DoorType {
	return []DoorType{ForwardRight, AftRight}
}

// ParseDoorType converts a key name to a DoorType.
func ParseDoorType(s string) (DoorType, error) {
	for i, n := range doorNames {
		if n == s {
			return DoorType(i), nil
		}
	}
	return ForwardLeft, fmt.Errorf("unknown door %q", s)
}

// Source names who reported a door change.
type Source string

const (
	SourceGS          Source = "gs"
	SourceFM          Source = "fm"
	SourceCoordinator Source = "coordinator"
)

// State is a point-in-time view of one door.
type State struct {
	Open          bool `json:"open"`
	ServiceActive bool `json:"service_active"`
}
