package varbus

import (
	"context"
	"sync"

	"github.com/Iron-Ham/groundsync/internal/errors"
)

// Memory is an in-process Bus. It backs the "memory" transport, where GS and
// FM run against the same process, and doubles as the bus in tests.
// Unknown keys read as zero unless the bus is strict.
type Memory struct {
	mu       sync.RWMutex
	values   map[string]Value
	writes   map[string][]Value
	failures map[string]error
	subs     map[string]map[int]chan Value
	nextSub  int
	strict   bool
}

// MemoryOption configures a Memory bus.
type MemoryOption func(*Memory)

// WithStrictKeys makes reads of never-written keys fail with ErrBusKeyUnknown.
func WithStrictKeys() MemoryOption {
	return func(m *Memory) {
		m.strict = true
	}
}

// NewMemory creates an empty in-memory bus.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		values:   make(map[string]Value),
		writes:   make(map[string][]Value),
		failures: make(map[string]error),
		subs:     make(map[string]map[int]chan Value),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReadVar implements Bus.
func (m *Memory) ReadVar(ctx context.Context, key string) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, ok := m.failures[key]; ok {
		return Value{}, errors.NewBusError("read failed", err).WithKey(key).WithOp("read")
	}
	v, ok := m.values[key]
	if !ok && m.strict {
		return Value{}, errors.NewBusError("read failed", errors.ErrBusKeyUnknown).WithKey(key).WithOp("read")
	}
	return v, nil
}

// WriteVar implements Bus. Subscribers of key receive the new value.
func (m *Memory) WriteVar(ctx context.Context, key string, v Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if err, ok := m.failures[key]; ok {
		m.mu.Unlock()
		return errors.NewBusError("write failed", err).WithKey(key).WithOp("write")
	}
	m.values[key] = v
	m.writes[key] = append(m.writes[key], v)
	m.notifyLocked(key, v)
	m.mu.Unlock()
	return nil
}

// Subscribe implements Bus. Slow subscribers only see the latest value.
func (m *Memory) Subscribe(key string) (<-chan Value, func()) {
	ch := make(chan Value, 1)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]chan Value)
	}
	m.subs[key][id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[key], id)
			if len(m.subs[key]) == 0 {
				delete(m.subs, key)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (m *Memory) notifyLocked(key string, v Value) {
	for _, ch := range m.subs[key] {
		select {
		case ch <- v:
		default:
			// drop the stale value and keep the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Set stores a value as if the other simulator had written it. It does not
// count as a write in Writes.
func (m *Memory) Set(key string, v Value) {
	m.mu.Lock()
	m.values[key] = v
	m.notifyLocked(key, v)
	m.mu.Unlock()
}

// Get returns the stored value and whether the key was ever set.
func (m *Memory) Get(key string) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Writes returns every value written to key through WriteVar, oldest first.
func (m *Memory) Writes(key string) []Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Value, len(m.writes[key]))
	copy(out, m.writes[key])
	return out
}

// Fail makes every read and write of key fail with cause until Heal is called.
func (m *Memory) Fail(key string, cause error) {
	m.mu.Lock()
	m.failures[key] = cause
	m.mu.Unlock()
}

// Heal removes an injected failure.
func (m *Memory) Heal(key string) {
	m.mu.Lock()
	delete(m.failures, key)
	m.mu.Unlock()
}
