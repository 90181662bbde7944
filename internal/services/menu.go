package services

import (
	"context"

	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// Tristate is a yes/no answer that may also be unknown.
type Tristate int

const (
	TristateUnknown Tristate = iota
	TristateFalse
	TristateTrue
)

func (t Tristate) String() string {
	switch t {
	case TristateFalse:
		return "false"
	case TristateTrue:
		return "true"
	default:
		return "unknown"
	}
}

// MenuService drives the ground-service request menu.
type MenuService interface {
	OpenMenu(ctx context.Context) error
	// SelectItem selects the 1-based menu entry index.
	SelectItem(ctx context.Context, index int) error
	// IsOperatorSelectionPending reports whether GS is asking which ground
	// operator to use. Unknown means the answer could not be read.
	IsOperatorSelectionPending(ctx context.Context) Tristate
}

// BusMenu is a MenuService over variable bus keys: a pulse on the open key,
// the entry index on the select key and a pending flag written by GS.
type BusMenu struct {
	bus  varbus.Bus
	keys varbus.MenuKeys
}

// NewBusMenu creates a bus-backed menu.
func NewBusMenu(bus varbus.Bus, keys varbus.MenuKeys) *BusMenu {
	return &BusMenu{bus: bus, keys: keys}
}

// OpenMenu implements MenuService.
func (m *BusMenu) OpenMenu(ctx context.Context) error {
	if err := varbus.WriteBool(ctx, m.bus, m.keys.Open, true); err != nil {
		return errors.Wrap(err, "open menu")
	}
	return nil
}

// SelectItem implements MenuService.
func (m *BusMenu) SelectItem(ctx context.Context, index int) error {
	if index < 1 {
		return errors.Wrapf(errors.ErrOutOfRange, "menu index %d", index)
	}
	if err := varbus.WriteFloat(ctx, m.bus, m.keys.Select, float64(index)); err != nil {
		return errors.Wrapf(err, "select menu item %d", index)
	}
	return nil
}

// IsOperatorSelectionPending implements MenuService.
func (m *BusMenu) IsOperatorSelectionPending(ctx context.Context) Tristate {
	pending, err := varbus.ReadBool(ctx, m.bus, m.keys.OperatorPending)
	switch {
	case err != nil:
		return TristateUnknown
	case pending:
		return TristateTrue
	default:
		return TristateFalse
	}
}
