package fuel

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/groundsync/internal/clock"
	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/varbus"
)

// DefaultHosePollInterval is the hose-connection poll period.
const DefaultHosePollInterval = time.Second

// Transfer starts and stops the physical fuel transfer.
type Transfer interface {
	StartTransfer(ctx context.Context) error
	StopTransfer(ctx context.Context) error
}

// HoseMonitor polls the hose-connected signal and drives the refueling
// state on hose edges:
//
//   - connected while Requested: Refueling, transfer started (once)
//   - disconnected after Complete: transfer stopped, Idle
//   - disconnected while Refueling: transfer stays armed for a tanker swap
type HoseMonitor struct {
	bus      varbus.Bus
	key      string
	manager  *StateManager
	transfer Transfer
	logger   *logging.Logger
	task     *clock.Task

	mu        sync.Mutex
	connected bool
}

// NewHoseMonitor creates a stopped monitor polling key every interval.
func NewHoseMonitor(bus varbus.Bus, key string, manager *StateManager, transfer Transfer,
	interval time.Duration, clk clock.Clock, logger *logging.Logger) *HoseMonitor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if interval <= 0 {
		interval = DefaultHosePollInterval
	}
	m := &HoseMonitor{
		bus:      bus,
		key:      key,
		manager:  manager,
		transfer: transfer,
		logger:   logger.WithComponent("hose-monitor"),
	}
	m.task = clock.NewTask("hose-monitor", interval, func(ctx context.Context) {
		_ = m.Poll(ctx)
	}, clock.WithClock(clk), clock.WithLogger(m.logger))
	return m
}

// Start begins polling. It returns false if already running.
func (m *HoseMonitor) Start(ctx context.Context) bool {
	return m.task.Start(ctx)
}

// Stop halts polling and waits for an in-flight poll.
func (m *HoseMonitor) Stop() {
	m.task.Stop()
}

// Running reports whether the poll loop is active.
func (m *HoseMonitor) Running() bool {
	return m.task.Running()
}

// Connected returns the hose state seen by the last successful poll.
func (m *HoseMonitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Poll reads the hose signal once and applies edge handling. A failed read
// leaves the hose state unchanged and moves refueling to Error; a canceled
// one changes nothing.
func (m *HoseMonitor) Poll(ctx context.Context) error {
	connected, err := varbus.ReadBool(ctx, m.bus, m.key)
	if err != nil {
		if errors.IsCanceled(err) {
			m.logger.Warn("hose poll canceled")
		} else {
			m.logger.Error("hose poll failed", "key", m.key, "error", err)
			m.manager.Fail("hose read failed")
		}
		return err
	}

	m.mu.Lock()
	was := m.connected
	m.connected = connected
	m.mu.Unlock()

	if connected != was {
		m.logger.Info("fuel hose edge", "connected", connected)
	}

	switch state := m.manager.State(); {
	case connected && state == Requested:
		if !m.manager.Begin() {
			return nil
		}
		if err := m.transfer.StartTransfer(ctx); err != nil {
			m.logger.Error("fuel transfer start failed", "error", err)
			m.manager.Fail("transfer start failed")
			return err
		}
	case !connected && was && state == Complete:
		if err := m.transfer.StopTransfer(ctx); err != nil {
			m.logger.Error("fuel transfer stop failed", "error", err)
			m.manager.Fail("transfer stop failed")
			return err
		}
		m.manager.Finish()
	case !connected && was && state == Refueling:
		m.logger.Info("fuel hose disconnected before completion, transfer stays armed")
	}
	return nil
}
