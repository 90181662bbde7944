package services

import "sync"

// planTracker tells the flight plan of the next leg apart from the one the
// last departure flew. A plan counts as new when its id differs from the
// departed one or when the plan was unloaded and loaded again since.
type planTracker struct {
	mu           sync.Mutex
	departedID   float64
	haveDeparted bool
	sawUnloaded  bool
	// adopt the first observed plan as the departed one
	pendingArm bool
}

// departed records the plan in use as DEPARTURE is entered.
func (p *planTracker) departed(id float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.departedID = id
	p.haveDeparted = true
	p.sawUnloaded = false
	p.pendingArm = false
}

// resume is used when a restored leg is already past PREFLIGHT and the
// departed plan is unknown.
func (p *planTracker) resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingArm = true
}

// observe reports whether the loaded plan is a new one.
func (p *planTracker) observe(loaded bool, id float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !loaded {
		p.sawUnloaded = true
		p.pendingArm = false
		return false
	}
	if p.pendingArm {
		p.departedID = id
		p.haveDeparted = true
		p.sawUnloaded = false
		p.pendingArm = false
		return false
	}
	if !p.haveDeparted {
		return true
	}
	return id != p.departedID || p.sawUnloaded
}
