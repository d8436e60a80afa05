package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/orchestra/internal/telemetry"
)

func TestEventBus_PublishDispatchesToAllSubscribers(t *testing.T) {
	b := NewEventBus()

	var wg sync.WaitGroup
	wg.Add(2)
	var mu sync.Mutex
	var got []string

	b.Subscribe("ping", func(e Event) {
		defer wg.Done()
		mu.Lock()
		got = append(got, "a:"+string(e.Type))
		mu.Unlock()
	})
	b.Subscribe("ping", func(e Event) {
		defer wg.Done()
		mu.Lock()
		got = append(got, "b:"+string(e.Type))
		mu.Unlock()
	})

	b.Publish(NewEvent("ping", nil))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers were not both invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}
}

func TestEventBus_SubscriberToDifferentTopicNotCalled(t *testing.T) {
	b := NewEventBus()

	called := make(chan struct{}, 1)
	b.Subscribe("other", func(e Event) { called <- struct{}{} })

	b.Publish(NewEvent("ping", nil))

	select {
	case <-called:
		t.Fatal("handler for unrelated topic was invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_HandlerPanicIsolated(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	b := NewEventBus(WithMetrics(metrics))

	survived := make(chan struct{}, 1)
	b.Subscribe("boom", func(e Event) { panic("kaboom") })
	b.Subscribe("boom", func(e Event) { survived <- struct{}{} })

	b.Publish(NewEvent("boom", nil))

	select {
	case <-survived:
	case <-time.After(time.Second):
		t.Fatal("second handler should still run after first panics")
	}
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewEventBus()

	calls := make(chan struct{}, 4)
	unsubscribe := b.Subscribe("x", func(e Event) { calls <- struct{}{} })

	b.Publish(NewEvent("x", nil))
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected delivery before unsubscribe")
	}

	unsubscribe()
	unsubscribe() // idempotent
	b.Publish(NewEvent("x", nil))

	select {
	case <-calls:
		t.Fatal("handler fired after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_PublishWithNoSubscribersIsNoop(t *testing.T) {
	b := NewEventBus()
	b.Publish(NewEvent("nobody-listening", nil))
}
