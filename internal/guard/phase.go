package guard

import (
	"sync"

	"github.com/Iron-Ham/groundsync/internal/flight"
)

// PhaseGuard tracks phases whose one-shot actions have run. The set is
// cleared only by a genuine phase change; exempt phases are never skipped.
type PhaseGuard struct {
	mu        sync.Mutex
	processed map[flight.Phase]bool
	exempt    map[flight.Phase]bool
}

// NewPhaseGuard creates a guard. Phases listed in exempt always report
// ShouldProcess true.
func NewPhaseGuard(exempt ...flight.Phase) *PhaseGuard {
	g := &PhaseGuard{
		processed: make(map[flight.Phase]bool),
		exempt:    make(map[flight.Phase]bool, len(exempt)),
	}
	for _, p := range exempt {
		g.exempt[p] = true
	}
	return g
}

// ShouldProcess reports whether the phase handler should act for phase.
func (g *PhaseGuard) ShouldProcess(phase flight.Phase) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exempt[phase] || !g.processed[phase]
}

// MarkProcessed records that phase has been handled.
func (g *PhaseGuard) MarkProcessed(phase flight.Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processed[phase] = true
}

// TryProcess is ShouldProcess followed by MarkProcessed, atomically.
func (g *PhaseGuard) TryProcess(phase flight.Phase) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.exempt[phase] && g.processed[phase] {
		return false
	}
	g.processed[phase] = true
	return true
}

// Processed reports whether phase has been marked, ignoring exemptions.
func (g *PhaseGuard) Processed(phase flight.Phase) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.processed[phase]
}

// OnPhaseChange clears the processed set iff previous != next and reports
// whether it did.
func (g *PhaseGuard) OnPhaseChange(previous, next flight.Phase) bool {
	if previous == next {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.processed)
	return true
}
