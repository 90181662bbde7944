package fuel

import (
	"context"

	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// Command is one idempotency-checked refueling operation.
type Command interface {
	Name() string
	// CanExecute reports whether Execute would act in the current state.
	CanExecute() bool
	// Execute runs the command and reports success. A command that cannot
	// execute returns false without side effects.
	Execute(ctx context.Context) bool
}

// CommandFactory builds commands bound to a coordinator.
type CommandFactory struct {
	c *Coordinator
}

// Start returns a command that requests refueling.
func (f *CommandFactory) Start() Command {
	return &startCommand{c: f.c}
}

// Stop returns a command that stops a refuel in progress.
func (f *CommandFactory) Stop() Command {
	return &stopCommand{c: f.c}
}

// UpdateAmount returns a command that changes the planned amount.
func (f *CommandFactory) UpdateAmount(kg float64) Command {
	return &updateAmountCommand{c: f.c, kg: kg}
}

type startCommand struct {
	c *Coordinator
}

func (cmd *startCommand) Name() string { return "start" }

func (cmd *startCommand) CanExecute() bool {
	return cmd.c.manager.State() == Idle
}

func (cmd *startCommand) Execute(ctx context.Context) bool {
	c := cmd.c
	if ctx.Err() != nil {
		c.abortOnCancel(ctx, "start")
		return false
	}
	if state := c.manager.State(); state != Idle {
		cause := errors.ErrAlreadyInState
		if state == Defueling || state == Error {
			cause = errors.ErrResourceConflict
		}
		c.report(errors.NewCoordinatorError("cannot start refueling while "+state.String(), cause).WithOp(cmd.Name()))
		return false
	}
	if !c.manager.Request() {
		return false
	}
	c.tracker.Reset()

	planned := c.PlannedKg()
	if err := varbus.WriteFloat(ctx, c.bus, c.keys.PlannedKg, planned); err != nil {
		return c.failCommand(ctx, cmd.Name(), "write planned amount", err)
	}
	if err := varbus.WriteBool(ctx, c.bus, c.keys.RefuelRequest, true); err != nil {
		return c.failCommand(ctx, cmd.Name(), "request refueling", err)
	}
	c.logger.Info("refueling requested", "planned_kg", planned)
	return true
}

type stopCommand struct {
	c *Coordinator
}

func (cmd *stopCommand) Name() string { return "stop" }

func (cmd *stopCommand) CanExecute() bool {
	s := cmd.c.manager.State()
	return s.IsRefuelActive() || s == Complete
}

func (cmd *stopCommand) Execute(ctx context.Context) bool {
	c := cmd.c
	if !cmd.CanExecute() {
		c.logger.Debug("no refuel to stop", "state", c.manager.State().String())
		return false
	}
	if ctx.Err() != nil {
		c.abortOnCancel(ctx, cmd.Name())
		return false
	}
	if err := c.haltTransfer(ctx); err != nil {
		return c.failCommand(ctx, cmd.Name(), "stop transfer", err)
	}
	return c.manager.Cancel("refueling stopped")
}

// updateAmountCommand changes only the planned target. The current
// quantity belongs to the transfer in progress and is never written here.
type updateAmountCommand struct {
	c  *Coordinator
	kg float64
}

func (cmd *updateAmountCommand) Name() string { return "update_amount" }

func (cmd *updateAmountCommand) CanExecute() bool {
	return cmd.kg > 0 && cmd.c.manager.State() != Defueling
}

func (cmd *updateAmountCommand) Execute(ctx context.Context) bool {
	c := cmd.c
	if !cmd.CanExecute() {
		c.report(errors.NewCoordinatorError("cannot update planned amount", errors.ErrInvalidInput).WithOp(cmd.Name()))
		return false
	}
	if ctx.Err() != nil {
		c.abortOnCancel(ctx, cmd.Name())
		return false
	}
	if err := varbus.WriteFloat(ctx, c.bus, c.keys.PlannedKg, cmd.kg); err != nil {
		if errors.IsCanceled(err) {
			c.abortOnCancel(ctx, cmd.Name())
			return false
		}
		c.report(errors.NewCoordinatorError("push planned amount to GS", err).WithOp(cmd.Name()))
		return false
	}
	c.setPlanned(cmd.kg)
	c.logger.Info("planned fuel updated", "planned_kg", cmd.kg, "state", c.manager.State().String())
	return true
}
