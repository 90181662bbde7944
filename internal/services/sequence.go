package services

import (
	"context"

	"github.com/Iron-Ham/groundsync/internal/flight"
)

// Ground-service menu entries.
const (
	MenuDeboarding = 1
	MenuCatering   = 2
	MenuBoarding   = 4
	MenuCleaning   = 6

	// operatorChoice is the entry picked when GS asks for an operator.
	operatorChoice = 1
)

// Request is one ground-service menu request.
type Request struct {
	Service   string `json:"service"`
	MenuIndex int    `json:"menu_index"`
}

// Sequence is the ordered list of requests issued on entry to a phase.
type Sequence []Request

// DefaultSequences returns the built-in service sequences. Refueling is
// requested by the fuel coordinator and is not part of any sequence.
func DefaultSequences() map[flight.Phase]Sequence {
	return map[flight.Phase]Sequence{
		flight.Departure: {
			{Service: "catering", MenuIndex: MenuCatering},
			{Service: "boarding", MenuIndex: MenuBoarding},
		},
		flight.Arrival: {
			{Service: "deboarding", MenuIndex: MenuDeboarding},
		},
		flight.Turnaround: {
			{Service: "cleaning", MenuIndex: MenuCleaning},
			{Service: "catering", MenuIndex: MenuCatering},
		},
	}
}

// runSequence issues every request of phase's sequence through the menu.
// A failed request is logged and the rest still run. It reports whether
// every request went through.
func (o *Orchestrator) runSequence(ctx context.Context, phase flight.Phase) bool {
	seq := o.sequences[phase]
	if len(seq) == 0 || o.menu == nil {
		return true
	}
	logger := o.logger.WithPhase(phase.String())

	ok := true
	for _, req := range seq {
		if err := ctx.Err(); err != nil {
			logger.Warn("service sequence canceled", "service", req.Service)
			return false
		}
		if err := o.request(ctx, req); err != nil {
			logger.Warn("service request failed", "service", req.Service, "error", err)
			ok = false
			continue
		}
		logger.Info("service requested", "service", req.Service)
	}
	return ok
}

func (o *Orchestrator) request(ctx context.Context, req Request) error {
	if err := o.menu.OpenMenu(ctx); err != nil {
		return err
	}
	if err := o.menu.SelectItem(ctx, req.MenuIndex); err != nil {
		return err
	}
	switch o.menu.IsOperatorSelectionPending(ctx) {
	case TristateTrue:
		return o.menu.SelectItem(ctx, operatorChoice)
	case TristateUnknown:
		o.logger.Debug("operator selection state unknown", "service", req.Service)
	}
	return nil
}
