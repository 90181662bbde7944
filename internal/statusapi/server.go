// Package statusapi serves a read-only HTTP view of a running orchestrator:
// the flight state, every coordinator's resources, the current service
// predictions and a websocket stream of domain events.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/groundsync/internal/cargo"
	"github.com/Iron-Ham/groundsync/internal/doors"
	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/fuel"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/services"
)

const shutdownTimeout = 5 * time.Second

// Server is the status API. Handlers only read coordinator state.
type Server struct {
	orch     *services.Orchestrator
	logger   *logging.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	streams  sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a status API over orch.
func New(orch *services.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch:   orch,
		logger: logging.NopLogger(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("statusapi")

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/resources", s.handleResources).Methods(http.MethodGet)
	api.HandleFunc("/predictions", s.handlePredictions).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the API's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down and
// closes every event stream. It returns nil on a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return errors.Wrap(err, "status api")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return errors.Wrap(err, "status api shutdown")
	}
	s.logger.Info("status api stopped")
	return nil
}

// Close ends every open event stream and waits for them. Hijacked websocket
// connections are not tracked by http.Server.Shutdown.
func (s *Server) Close() {
	s.doneOnce.Do(func() { close(s.done) })
	s.streams.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Phase       flight.Phase               `json:"phase"`
	EnteredAt   time.Time                  `json:"entered_at"`
	TimeInPhase float64                    `json:"time_in_phase_s"`
	History     []flight.TransitionRecord  `json:"history"`
	Prediction  *flight.Prediction         `json:"prediction,omitempty"`
	Parameters  *flight.AircraftParameters `json:"parameters,omitempty"`
}

// FuelResource is the fuel part of GET /api/resources.
type FuelResource struct {
	State         string   `json:"state"`
	PlannedKg     float64  `json:"planned_kg"`
	Progress      int      `json:"progress"`
	ETASeconds    *float64 `json:"eta_s,omitempty"`
	HoseConnected bool     `json:"hose_connected"`
}

// ResourcesResponse is the body of GET /api/resources.
type ResourcesResponse struct {
	Doors     map[string]doors.State `json:"doors"`
	Fuel      FuelResource           `json:"fuel"`
	Cargo     cargo.State            `json:"cargo"`
	Equipment map[string]bool        `json:"equipment"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	m := s.orch.Machine()
	resp := StateResponse{
		Phase:       m.CurrentPhase(),
		EnteredAt:   m.EnteredAt(),
		TimeInPhase: m.TimeInPhase().Seconds(),
		History:     m.History(),
	}
	if resp.History == nil {
		resp.History = []flight.TransitionRecord{}
	}
	if p, ok := m.LastPrediction(); ok {
		resp.Prediction = &p
	}
	if params, ok := s.orch.LastParameters(); ok {
		resp.Parameters = &params
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleResources(w http.ResponseWriter, _ *http.Request) {
	f := s.orch.Fuel()
	resp := ResourcesResponse{
		Doors: make(map[string]doors.State),
		Fuel: FuelResource{
			State:         f.State().String(),
			PlannedKg:     f.PlannedKg(),
			Progress:      f.Progress(),
			HoseConnected: f.Hose().Connected(),
		},
		Cargo:     s.orch.Cargo().State(),
		Equipment: s.orch.Equipment().States(),
	}
	for d, st := range s.orch.Doors().States() {
		resp.Doors[d.String()] = st
	}
	if f.State() == fuel.Refueling {
		if eta, ok := f.EstimatedTimeRemaining(); ok {
			secs := eta.Seconds()
			resp.Fuel.ETASeconds = &secs
		}
	}
	s.writeJSON(w, resp)
}

func (s *Server) handlePredictions(w http.ResponseWriter, _ *http.Request) {
	preds := s.orch.Predictions()
	if preds == nil {
		preds = []services.ServicePrediction{}
	}
	s.writeJSON(w, preds)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}
