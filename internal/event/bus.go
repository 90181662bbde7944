package event

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/groundsync/internal/clock"
	"github.com/Iron-Ham/groundsync/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// wildcard is the event type key used by SubscribeAll.
const wildcard = "*"

// Subscription is the handle returned by Subscribe. The holder must Close it
// when it no longer wants events. A subscription bound to a context is dead
// once that context ends, even if Close is never called; dead entries are
// skipped by Publish and removed by Sweep.
type Subscription struct {
	id        uint64
	eventType string
	handler   Handler
	ctx       context.Context
	closed    atomic.Bool
	bus       *Bus
}

// ID returns the bus-unique subscription id.
func (s *Subscription) ID() uint64 {
	return s.id
}

// EventType returns the event type this subscription listens to ("*" for all).
func (s *Subscription) EventType() string {
	return s.eventType
}

// Alive reports whether the subscription still receives events.
func (s *Subscription) Alive() bool {
	if s == nil || s.closed.Load() {
		return false
	}
	return s.ctx == nil || s.ctx.Err() == nil
}

// Close unsubscribes the handler. It is idempotent and safe on a nil handle.
func (s *Subscription) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.bus.remove(s)
}

// CloseAll closes every handle in subs.
func CloseAll(subs ...*Subscription) {
	for _, s := range subs {
		s.Close()
	}
}

// Bus is a synchronous pub-sub event bus.
// It allows components to communicate without direct dependencies.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*Subscription // eventType -> subscriptions
	nextID        atomic.Uint64
	logger        *logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics and sweeps.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscriptions: make(map[string][]*Subscription),
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType string, handler Handler) *Subscription {
	return b.subscribe(nil, eventType, handler)
}

// SubscribeContext registers a handler that stays alive only while ctx is
// not done. Closing the handle early is still allowed.
func (b *Bus) SubscribeContext(ctx context.Context, eventType string, handler Handler) *Subscription {
	return b.subscribe(ctx, eventType, handler)
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	return b.subscribe(nil, wildcard, handler)
}

// SubscribeAllContext is SubscribeAll bound to ctx like SubscribeContext.
func (b *Bus) SubscribeAllContext(ctx context.Context, handler Handler) *Subscription {
	return b.subscribe(ctx, wildcard, handler)
}

func (b *Bus) subscribe(ctx context.Context, eventType string, handler Handler) *Subscription {
	sub := &Subscription{
		id:        b.nextID.Add(1),
		eventType: eventType,
		handler:   handler,
		ctx:       ctx,
		bus:       b,
	}

	b.mu.Lock()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], sub)
	b.mu.Unlock()

	return sub
}

// On subscribes a handler typed to the concrete event payload. Events of
// eventType that are not a T are ignored.
func On[T Event](b *Bus, eventType string, handler func(T)) *Subscription {
	return b.Subscribe(eventType, func(e Event) {
		if typed, ok := e.(T); ok {
			handler(typed)
		}
	})
}

// remove deletes one subscription entry.
func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[target.eventType]
	for i, sub := range subs {
		if sub == target {
			b.subscriptions[target.eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[target.eventType]) == 0 {
		delete(b.subscriptions, target.eventType)
	}
}

// Publish dispatches an event to all live handlers.
// Specific handlers (subscribed to this event type) are called first,
// followed by wildcard handlers (subscribed via SubscribeAll).
// Within each group, handlers are called in registration order.
// If a handler panics, the panic is logged, recovered, and publishing
// continues to remaining handlers.
func (b *Bus) Publish(event Event) {
	eventType := event.EventType()

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subscriptions[eventType])+len(b.subscriptions[wildcard]))
	targets = append(targets, b.subscriptions[eventType]...)
	targets = append(targets, b.subscriptions[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.Alive() {
			continue
		}
		b.safeCall(sub.handler, event)
	}
}

// safeCall invokes a handler and recovers from any panics.
// Panics are logged with stack traces so one misbehaving handler cannot block
// event delivery to other handlers.
func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", event.EventType(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
		}
	}()
	handler(event)
}

// Sweep removes dead subscriptions and returns how many were removed.
func (b *Bus) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for eventType, subs := range b.subscriptions {
		live := subs[:0:0]
		for _, sub := range subs {
			if sub.Alive() {
				live = append(live, sub)
			} else {
				removed++
			}
		}
		if len(live) == 0 {
			delete(b.subscriptions, eventType)
			continue
		}
		b.subscriptions[eventType] = live
	}
	return removed
}

// RunCleanup sweeps dead subscriptions every interval until ctx is done.
func (b *Bus) RunCleanup(ctx context.Context, clk clock.Clock, interval time.Duration) error {
	return clock.Run(ctx, clk, interval, b.logger, func(context.Context) {
		if n := b.Sweep(); n > 0 {
			b.logger.Debug("removed dead event subscriptions", "count", n)
		}
	})
}

// Clear removes all subscriptions. Outstanding handles become dead.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.closed.Store(true)
		}
	}
	b.subscriptions = make(map[string][]*Subscription)
}

// SubscriptionCount returns the number of registered subscriptions,
// including dead ones that have not been swept yet.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
