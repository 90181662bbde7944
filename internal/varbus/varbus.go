// Package varbus defines the named-variable bus shared by the ground-service
// simulator (GS) and the flight-management simulator (FM).
//
// The bus is key addressed: every ground-service and aircraft-system signal
// is an opaque string key holding a boolean or a number. Coordinators receive
// a [Bus] at construction; they never reach for a global client.
package varbus

import (
	"context"
	"strconv"
)

// Value is a bus value. Booleans are carried as 0/1 so that transports that
// only know numbers (such as simulator datarefs) round-trip them.
type Value struct {
	Num    float64
	IsBool bool
}

// Bool returns a boolean Value.
func Bool(b bool) Value {
	if b {
		return Value{Num: 1, IsBool: true}
	}
	return Value{Num: 0, IsBool: true}
}

// Float returns a numeric Value.
func Float(f float64) Value {
	return Value{Num: f}
}

// Bool interprets the value as a flag: any non-zero number is true.
func (v Value) Bool() bool {
	return v.Num != 0
}

// Float returns the numeric value.
func (v Value) Float() float64 {
	return v.Num
}

// String formats the value for logs.
func (v Value) String() string {
	if v.IsBool {
		return strconv.FormatBool(v.Bool())
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

// Bus is key-addressed read/write access to named simulator variables.
// Reads are eventually consistent.
type Bus interface {
	// ReadVar returns the current value of key.
	ReadVar(ctx context.Context, key string) (Value, error)
	// WriteVar sets key to v.
	WriteVar(ctx context.Context, key string, v Value) error
	// Subscribe streams value updates for key. The returned function cancels
	// the subscription and closes the channel.
	Subscribe(key string) (<-chan Value, func())
}

// ReadBool reads key as a flag.
func ReadBool(ctx context.Context, bus Bus, key string) (bool, error) {
	v, err := bus.ReadVar(ctx, key)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// ReadFloat reads key as a number.
func ReadFloat(ctx context.Context, bus Bus, key string) (float64, error) {
	v, err := bus.ReadVar(ctx, key)
	if err != nil {
		return 0, err
	}
	return v.Float(), nil
}

// WriteBool writes a flag to key.
func WriteBool(ctx context.Context, bus Bus, key string, b bool) error {
	return bus.WriteVar(ctx, key, Bool(b))
}

// WriteFloat writes a number to key.
func WriteFloat(ctx context.Context, bus Bus, key string, f float64) error {
	return bus.WriteVar(ctx, key, Float(f))
}
