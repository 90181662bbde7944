package doors

import (
	"context"
	"sync"
)

// toggleMapper binds GS service toggle indices to physical service doors.
// A toggle is bound on its first rising edge of the session and keeps that
// door until Reset.
type toggleMapper struct {
	mu      sync.Mutex
	mapping map[int]DoorType
	level   map[int]bool
}

func newToggleMapper() *toggleMapper {
	return &toggleMapper{
		mapping: make(map[int]DoorType),
		level:   make(map[int]bool),
	}
}

// preferredDoor is the door a toggle index controls when nothing else is
// running: even indices the forward service door, odd the aft one.
func preferredDoor(index int) DoorType {
	if index%2 == 0 {
		return ForwardRight
	}
	return AftRight
}

func otherServiceDoor(d DoorType) DoorType {
	if d == ForwardRight {
		return AftRight
	}
	return ForwardRight
}

// resolve returns the door bound to index, binding it first if needed.
// busy reports whether a service door already has an active service.
func (m *toggleMapper) resolve(index int, busy func(DoorType) bool) (DoorType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.mapping[index]; ok {
		return d, false
	}
	d := preferredDoor(index)
	if busy(d) {
		d = otherServiceDoor(d)
	}
	m.mapping[index] = d
	return d, true
}

// edge records level for index and reports whether it is a rising edge.
func (m *toggleMapper) edge(index int, level bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.level[index]
	m.level[index] = level
	return level && !prev
}

func (m *toggleMapper) lookup(index int) (DoorType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.mapping[index]
	return d, ok
}

func (m *toggleMapper) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.mapping)
	clear(m.level)
}

// ToggleDoor returns the door bound to a service toggle index, if bound.
func (c *Coordinator) ToggleDoor(index int) (DoorType, bool) {
	return c.toggles.lookup(index)
}

// ResetToggleMapping starts a new toggle session: every index is rebound on
// its next rising edge.
func (c *Coordinator) ResetToggleMapping() {
	c.toggles.reset()
}

// HandleServiceToggle drives the service micro-cycle of the door bound to
// index. Only a rising edge acts:
//
//	closed, no service  -> open door, service active
//	open, service active -> close door, service inactive
//
// A falling edge while the service runs is a no-op. It reports false only
// when a required door command failed.
func (c *Coordinator) HandleServiceToggle(ctx context.Context, index int, active bool) bool {
	if !c.toggles.edge(index, active) {
		return true
	}

	door, bound := c.toggles.resolve(index, c.IsServiceActive)
	if bound {
		c.logger.Info("service toggle bound to door", "toggle", index, "door", door.String())
	}

	open := c.IsOpen(door)
	service := c.IsServiceActive(door)
	switch {
	case !open && !service:
		c.setServiceActive(door, true)
		if !c.OpenDoorAsync(ctx, door) {
			c.setServiceActive(door, false)
			return false
		}
		c.logger.Info("service started", "door", door.String())
	case open && service:
		if !c.CloseDoorAsync(ctx, door) {
			return false
		}
		c.setServiceActive(door, false)
		c.logger.Info("service finished", "door", door.String())
	case open && !service:
		// door opened by someone else: adopt it as the service door
		c.setServiceActive(door, true)
	}
	return true
}
