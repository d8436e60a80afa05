package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/orchestra/internal/telemetry"
)

// Handler processes one published Event. A handler that panics is isolated -
// it is recovered, logged, and counted, and never reaches the publisher or
// any other subscriber.
type Handler func(event Event)

// EventBus is a topic-keyed publish/subscribe bus. Publish dispatches to
// every handler subscribed to the event's type as an independent goroutine:
// delivery is best-effort and at-most-once, with no replay and no ordering
// guarantee across different subscribers. Every handler call is a fresh
// goroutine, so there is no ordering guarantee within one subscriber either:
// two events of the same type may reach a handler in either order, and its
// calls may run concurrently.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures an EventBus at construction time.
type Option func(*EventBus)

// WithLogger overrides the bus's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *EventBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics wires Prometheus counters for published events and handler panics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(b *EventBus) {
		b.metrics = metrics
	}
}

// NewEventBus creates an empty event bus.
func NewEventBus(opts ...Option) *EventBus {
	b := &EventBus{
		handlers: make(map[string][]Handler),
		logger:   slog.Default().With("component", "event_bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler to run on every future Publish of eventType.
// It returns an Unsubscribe function that removes the handler; calling it
// more than once is a no-op.
func (b *EventBus) Subscribe(eventType string, handler Handler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	index := len(b.handlers[eventType]) - 1
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			handlers := b.handlers[eventType]
			if index < len(handlers) {
				handlers[index] = nil
			}
		})
	}
}

// Publish dispatches event to every handler subscribed to event.Type, each
// running in its own goroutine. Publish itself never blocks on a handler and
// never returns an error: a handler panic is recovered, logged, and counted
// against EventBusHandlerPanics rather than propagated.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[string(event.Type)]...)
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.EventBusPublished.WithLabelValues(string(event.Type)).Inc()
	}

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		go b.dispatch(handler, event)
	}
}

func (b *EventBus) dispatch(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.EventBusHandlerPanics.Inc()
			}
			b.logger.Error("event bus handler panicked",
				"event_type", event.Type, "panic", fmt.Sprint(r))
		}
	}()
	handler(event)
}
