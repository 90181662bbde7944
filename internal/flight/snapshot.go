package flight

import (
	"fmt"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/Iron-Ham/groundsync/internal/errors"
)

// Snapshot is the persisted state of a Machine.
type Snapshot struct {
	Phase               Phase              `json:"phase" msgpack:"phase"`
	EnteredAt           time.Time          `json:"entered_at" msgpack:"entered_at"`
	History             []TransitionRecord `json:"history" msgpack:"history"`
	PredictedNext       *Phase             `json:"predicted_next,omitempty" msgpack:"predicted_next,omitempty"`
	PredictedConfidence float64            `json:"predicted_confidence,omitempty" msgpack:"predicted_confidence,omitempty"`
	SavedAt             time.Time          `json:"saved_at" msgpack:"saved_at"`
}

// Validate checks that the snapshot describes a reachable machine state:
// a valid phase and a history whose every record follows the cycle and
// chains onto the previous one, ending in Phase.
func (s Snapshot) Validate() error {
	if !s.Phase.Valid() {
		return fmt.Errorf("%w: invalid phase %d", errors.ErrSnapshotCorrupt, int(s.Phase))
	}
	if s.PredictedNext != nil && !s.PredictedNext.Valid() {
		return fmt.Errorf("%w: invalid predicted phase %d", errors.ErrSnapshotCorrupt, int(*s.PredictedNext))
	}
	if s.PredictedConfidence < 0 || s.PredictedConfidence > 1 {
		return fmt.Errorf("%w: prediction confidence %v outside [0, 1]", errors.ErrSnapshotCorrupt, s.PredictedConfidence)
	}
	for i, rec := range s.History {
		if !IsValidTransition(rec.From, rec.To) {
			return fmt.Errorf("%w: history[%d] %s -> %s is not a valid transition",
				errors.ErrSnapshotCorrupt, i, rec.From, rec.To)
		}
		if i > 0 && s.History[i-1].To != rec.From {
			return fmt.Errorf("%w: history[%d] starts at %s, previous ended at %s",
				errors.ErrSnapshotCorrupt, i, rec.From, s.History[i-1].To)
		}
	}
	if n := len(s.History); n > 0 && s.History[n-1].To != s.Phase {
		return fmt.Errorf("%w: history ends at %s but phase is %s",
			errors.ErrSnapshotCorrupt, s.History[n-1].To, s.Phase)
	}
	return nil
}

// Snapshot captures the machine state. The returned value shares nothing
// with the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		Phase:     m.current,
		EnteredAt: m.enteredAt,
		SavedAt:   m.clock.Now(),
	}
	if len(m.history) > 0 {
		s.History = deepcopy.Copy(m.history).([]TransitionRecord)
	}
	if m.predicted != nil {
		next := m.predicted.Phase
		s.PredictedNext = &next
		s.PredictedConfidence = m.predicted.Confidence
	}
	return s
}

// Restore replaces the machine state with s. Hooks do not run and no event
// is published. An invalid snapshot leaves the machine untouched.
func (m *Machine) Restore(s Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = s.Phase
	m.enteredAt = s.EnteredAt
	if m.enteredAt.IsZero() {
		m.enteredAt = m.clock.Now()
	}
	m.history = nil
	if len(s.History) > 0 {
		m.history = deepcopy.Copy(s.History).([]TransitionRecord)
	}
	m.predicted = nil
	if s.PredictedNext != nil {
		m.predicted = &Prediction{Phase: *s.PredictedNext, Confidence: s.PredictedConfidence}
	}

	m.logger.Info("state restored",
		"phase", s.Phase.String(),
		"history", len(s.History),
		"saved_at", s.SavedAt)
	return nil
}
