package services

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/fuel"
)

// Predicted service statuses.
const (
	StatusRequested     = "REQUESTED"
	StatusStarting      = "STARTING"
	StatusCompleting    = "COMPLETING"
	StatusConnecting    = "CONNECTING"
	StatusDisconnecting = "DISCONNECTING"
	StatusOpening       = "OPENING"
)

// ServicePrediction is one service action expected soon. It is regenerated
// every evaluation and never persisted.
type ServicePrediction struct {
	Service         string         `json:"service"`
	PredictedStatus string         `json:"predicted_status"`
	Confidence      float64        `json:"confidence"`
	EstimatedIn     *time.Duration `json:"estimated_in,omitempty"`
}

// PredictionHook observes every published prediction.
type PredictionHook func(ServicePrediction)

// OnPrediction registers hook and returns a function removing it.
func (o *Orchestrator) OnPrediction(hook PredictionHook) func() {
	o.hooksMu.Lock()
	defer o.hooksMu.Unlock()
	id := o.nextHookID
	o.nextHookID++
	o.hooks[id] = hook
	return func() {
		o.hooksMu.Lock()
		delete(o.hooks, id)
		o.hooksMu.Unlock()
	}
}

// Predictions returns the predictions of the last evaluation.
func (o *Orchestrator) Predictions() []ServicePrediction {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]ServicePrediction(nil), o.predictions...)
}

// predict derives service predictions from the predicted next phase and the
// work in progress. confidence is the phase prediction's confidence.
func (o *Orchestrator) predict(next flight.Phase, confidence float64) []ServicePrediction {
	var out []ServicePrediction
	add := func(service, status string, conf float64, in *time.Duration) {
		out = append(out, ServicePrediction{
			Service:         service,
			PredictedStatus: status,
			Confidence:      min(max(conf, 0), 1),
			EstimatedIn:     in,
		})
	}

	for _, req := range o.sequences[next] {
		add(req.Service, StatusRequested, confidence, nil)
	}

	switch next {
	case flight.Departure:
		if o.autoRefuel && o.fuel.State() == fuel.Idle {
			add("refuel", StatusRequested, confidence, nil)
		}
		add("cargo_loading", StatusStarting, confidence, nil)
	case flight.TaxiOut:
		add("ground_equipment", StatusDisconnecting, confidence, nil)
	case flight.Arrival:
		add("ground_equipment", StatusConnecting, confidence, nil)
		add("cargo_unloading", StatusStarting, confidence, nil)
		if o.autoOpenDoors {
			add("doors", StatusOpening, confidence, nil)
		}
	}

	if o.fuel.State() == fuel.Refueling {
		var in *time.Duration
		if eta, ok := o.fuel.EstimatedTimeRemaining(); ok {
			in = &eta
		}
		progress := max(o.fuel.Progress(), 0)
		add("refuel", StatusCompleting, float64(progress)/100, in)
	}
	return out
}

// publishPredictions stores preds, publishes them and runs the hooks.
func (o *Orchestrator) publishPredictions(preds []ServicePrediction) {
	o.mu.Lock()
	o.predictions = preds
	o.mu.Unlock()

	o.hooksMu.RLock()
	hooks := make([]PredictionHook, 0, len(o.hooks))
	for _, h := range o.hooks {
		hooks = append(hooks, h)
	}
	o.hooksMu.RUnlock()

	for _, p := range preds {
		o.events.Publish(event.NewServicePredictedEvent(p.Service, p.PredictedStatus, p.Confidence, p.EstimatedIn))
		for _, h := range hooks {
			o.runHook(h, p)
		}
	}
}

func (o *Orchestrator) runHook(h PredictionHook, p ServicePrediction) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("prediction hook panicked",
				"service", p.Service,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
		}
	}()
	h(p)
}
