package equipment

import (
	"fmt"
	"strings"
)

// Type identifies one item of ground equipment.
type Type int

const (
	GPU Type = iota
	PCA
	Chocks
	Jetway
)

var typeNames = [...]string{"GPU", "PCA", "CHOCKS", "JETWAY"}

// String returns the upper-case name used in key profiles and events.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// AllTypes returns every equipment type in declaration order.
func AllTypes() []Type {
	return []Type{GPU, PCA, Chocks, Jetway}
}

// ParseType parses an equipment name, case-insensitively.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if strings.EqualFold(s, name) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown equipment type %q", s)
}
