package timer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/observability"
)

// Handler consumes one event. A returned error is logged by the Bus and
// never reaches the publisher.
type Handler func(Event) error

// Subscription identifies a registered handler for Unsubscribe.
type Subscription struct {
	kind EventKind
	id   uint64
}

// Kind returns the event kind the subscription listens to.
func (s Subscription) Kind() EventKind { return s.kind }

type subscriber struct {
	id uint64
	fn Handler
}

// Bus is a typed publish/subscribe surface. Handlers for a kind run
// synchronously, in subscription order, on the publisher's goroutine.
//
// Subscribe and Unsubscribe are safe for concurrent use with Publish.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[EventKind][]subscriber
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewBus creates an empty Bus.
//
// Precondition: logger must be non-nil; metrics may be nil.
func NewBus(logger *zap.Logger, metrics *observability.Metrics) *Bus {
	return &Bus{
		handlers: make(map[EventKind][]subscriber),
		logger:   logger,
		metrics:  metrics,
	}
}

// Subscribe registers fn for events of kind.
//
// Precondition: fn must not be nil.
// Postcondition: fn is invoked for every subsequent Publish of kind until
// Unsubscribe is called with the returned Subscription.
func (b *Bus) Subscribe(kind EventKind, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], subscriber{id: b.nextID, fn: fn})
	return Subscription{kind: kind, id: b.nextID}
}

// SubscribeAll registers fn for every event kind.
func (b *Bus) SubscribeAll(fn Handler) []Subscription {
	subs := make([]Subscription, 0, len(AllKinds))
	for _, kind := range AllKinds {
		subs = append(subs, b.Subscribe(kind, fn))
	}
	return subs
}

// Unsubscribe removes a handler. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[sub.kind]
	for i, s := range list {
		if s.id == sub.id {
			next := make([]subscriber, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.handlers[sub.kind] = next
			return
		}
	}
}

// Len returns the number of handlers registered for kind.
func (b *Bus) Len(kind EventKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[kind])
}

// Publish delivers ev to every handler registered for its kind.
// A failing or panicking handler is logged and skipped; the remaining
// handlers still run.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	list := b.handlers[ev.Kind()]
	b.mu.Unlock()

	for _, s := range list {
		if err := b.call(s.fn, ev); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("kind", string(ev.Kind())),
				zap.Uint64("subscription", s.id),
				zap.Error(err),
			)
			b.metrics.HandlerError(string(ev.Kind()))
		}
	}
}

func (b *Bus) call(fn Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ev)
}

// On subscribes a handler typed to a single event payload.
//
// Example: timer.On(bus, func(e timer.PhaseChanged) error { ... })
func On[E Event](b *Bus, fn func(E) error) Subscription {
	var zero E
	return b.Subscribe(zero.Kind(), func(ev Event) error {
		typed, ok := ev.(E)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", ev, zero.Kind())
		}
		return fn(typed)
	})
}
